package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGetOrCreateReturnsEmptyRecord(t *testing.T) {
	s := New()
	rec := s.GetOrCreate("never-seen")

	assert.Equal(t, "never-seen", rec.EntityID)
	assert.Empty(t, rec.Conversation)
	assert.Empty(t, rec.Tasks)
	assert.Empty(t, rec.Knowledge)
	assert.NotNil(t, rec.Cache)
	assert.Nil(t, rec.LastTaskCheckAt)
	assert.True(t, s.Has("never-seen"))
}

func TestAppendConversationKeepsLastHundred(t *testing.T) {
	s := New()
	for i := 0; i < 130; i++ {
		s.AppendConversation("kid", ConversationEntry{Role: "user", Content: fmt.Sprintf("msg-%d", i)})
	}

	log := s.Conversation("kid", 0)
	require.Len(t, log, 100)
	for i, e := range log {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+30), e.Content)
		require.NotNil(t, e.Timestamp)
	}
}

func TestConversationSinceWindowKeepsUnstamped(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))

	s.Update("kid", func(rec *Record) {
		rec.Conversation = append(rec.Conversation, ConversationEntry{Role: "user", Content: "legacy"})
	})
	s.AppendConversation("kid", ConversationEntry{Role: "user", Content: "old"})
	clock.Advance(2 * time.Hour)
	s.AppendConversation("kid", ConversationEntry{Role: "assistant", Content: "new"})

	recent := s.Conversation("kid", 30*time.Minute)
	require.Len(t, recent, 2)
	assert.Equal(t, "legacy", recent[0].Content)
	assert.Equal(t, "new", recent[1].Content)

	assert.Len(t, s.Conversation("kid", 0), 3)
}

func TestRecentReturnsNewest(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.AppendConversation("kid", ConversationEntry{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	got := s.Recent("kid", 3)
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].Content)
	assert.Equal(t, "m4", got[2].Content)
}

func TestMergeProgressOnlyTouchesGivenFields(t *testing.T) {
	s := New()
	s.MergeProgress("kid", ProgressUpdate{
		PracticeCount: Ptr(2),
		LastScenario:  Ptr("practice"),
		Extra:         map[string]any{"favorite": "dinosaurs"},
	})
	got := s.MergeProgress("kid", ProgressUpdate{
		PracticeCount: Ptr(3),
		Extra:         map[string]any{"streak": 4},
	})

	assert.Equal(t, 3, got.PracticeCount)
	assert.Equal(t, "practice", got.LastScenario)
	assert.Equal(t, "dinosaurs", got.Extra["favorite"])
	assert.Equal(t, 4, got.Extra["streak"])
}

func TestReturnedRecordIsACopy(t *testing.T) {
	s := New()
	s.AppendConversation("kid", ConversationEntry{Role: "user", Content: "hello"})
	rec := s.GetOrCreate("kid")
	rec.Conversation[0].Content = "mutated"

	assert.Equal(t, "hello", s.Conversation("kid", 0)[0].Content)
}

func TestClearRemovesEntity(t *testing.T) {
	s := New()
	s.AppendConversation("kid", ConversationEntry{Role: "user", Content: "hello"})

	assert.True(t, s.Clear("kid"))
	assert.False(t, s.Has("kid"))
	assert.False(t, s.Clear("kid"))
	assert.Empty(t, s.GetOrCreate("kid").Conversation)
}

func TestConcurrentAppendsNeverLoseTruncation(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.AppendConversation("kid", ConversationEntry{Role: "user", Content: fmt.Sprintf("%d-%d", w, i)})
				_ = s.Conversation("kid", time.Minute)
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, s.Conversation("kid", 0), DefaultMaxConversation)
}

func TestConcurrentRecordPracticeCountsEveryTurn(t *testing.T) {
	s := New()
	at := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.RecordPractice("kid", at)
				s.MergeProgress("kid", ProgressUpdate{PracticeStage: Ptr("followup")})
			}
		}()
	}
	wg.Wait()

	got := s.Progress("kid")
	assert.Equal(t, 400, got.PracticeCount)
	require.NotNil(t, got.LastPracticeAt)
	assert.True(t, got.LastPracticeAt.Equal(at))
	assert.Equal(t, "followup", got.PracticeStage)
}

func TestSnapshotRoundTripToleratesLegacyTimestamps(t *testing.T) {
	s := New()
	legacy := []byte(`{
		"entity_id": "kid",
		"conversation": [
			{"role": "user", "content": "no stamp"},
			{"role": "user", "content": "bad stamp", "timestamp": "yesterday-ish"},
			{"role": "assistant", "content": "python stamp", "timestamp": "2026-03-14T08:30:00.123456"}
		],
		"tasks": [
			{"id": "task_1_0", "subject": "math", "deadline": "not-a-date", "created_at": "2026-03-13 08:00:00"}
		],
		"knowledge": [
			{"id": "k1", "type": "word", "content": "Dinosaur", "mastery_level": 9, "next_review_at": "garbage"}
		]
	}`)
	require.NoError(t, s.Restore("kid", legacy))

	rec := s.GetOrCreate("kid")
	require.Len(t, rec.Conversation, 3)
	assert.Nil(t, rec.Conversation[0].Timestamp)
	assert.Nil(t, rec.Conversation[1].Timestamp)
	require.NotNil(t, rec.Conversation[2].Timestamp)
	assert.Equal(t, 8, rec.Conversation[2].Timestamp.Hour())

	require.Len(t, rec.Tasks, 1)
	assert.Nil(t, rec.Tasks[0].Deadline)
	assert.Equal(t, 13, rec.Tasks[0].CreatedAt.Day())

	require.Len(t, rec.Knowledge, 1)
	assert.Equal(t, 5, rec.Knowledge[0].MasteryLevel)
	assert.Nil(t, rec.Knowledge[0].NextReviewAt)

	out, err := s.Snapshot("kid")
	require.NoError(t, err)
	other := New()
	require.NoError(t, other.Restore("kid", out))
	assert.Len(t, other.Conversation("kid", 0), 3)
}

func TestRestoreRejectsEmptyAndInvalid(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Restore("kid", nil), ErrEmptySnapshot)
	assert.Error(t, s.Restore("kid", []byte("{not json")))
}
