package knowledge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/buddy/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestScheduler(jitter float64) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	store := session.New(session.WithClock(clock.Now))
	return NewScheduler(store, WithJitter(func() float64 { return jitter })), clock
}

func TestAddDeduplicatesCaseInsensitively(t *testing.T) {
	s, clock := newTestScheduler(1)

	id, created := s.Add("kid", session.KindWord, "Apple", "fruit talk")
	require.True(t, created)

	again, created := s.Add("kid", session.KindWord, "  apple ", "")
	assert.False(t, created)
	assert.Equal(t, id, again)
	require.Len(t, s.All("kid"), 1)

	item := s.All("kid")[0]
	assert.Equal(t, 0, item.MasteryLevel)
	require.NotNil(t, item.NextReviewAt)
	assert.Equal(t, clock.Now().Add(10*time.Minute), *item.NextReviewAt)
}

func TestRecordReviewLadder(t *testing.T) {
	s, clock := newTestScheduler(1)
	id, _ := s.Add("kid", session.KindWord, "apple", "")

	wants := []struct {
		mastery  int
		interval time.Duration
	}{
		{1, time.Hour},
		{2, 24 * time.Hour},
		{3, 72 * time.Hour},
		{4, 168 * time.Hour},
		{5, 336 * time.Hour},
		{5, 336 * time.Hour},
	}
	for i, want := range wants {
		item, ok := s.RecordReview("kid", id, true)
		require.True(t, ok)
		assert.Equal(t, want.mastery, item.MasteryLevel, "review %d", i)
		assert.Equal(t, clock.Now().Add(want.interval), *item.NextReviewAt, "review %d", i)
	}

	item, _ := s.Get("kid", id)
	assert.Equal(t, 6, item.ReviewCount)
	assert.Equal(t, 6, item.CorrectCount)
}

func TestFailedReviewFloorsAtOne(t *testing.T) {
	s, clock := newTestScheduler(1)
	id, _ := s.Add("kid", session.KindConcept, "photosynthesis", "")

	item, ok := s.RecordReview("kid", id, false)
	require.True(t, ok)
	assert.Equal(t, 1, item.MasteryLevel)
	assert.Equal(t, 1, item.ReviewCount)
	assert.Equal(t, 0, item.CorrectCount)
	assert.Equal(t, clock.Now().Add(time.Hour), *item.NextReviewAt)

	item, _ = s.RecordReview("kid", id, false)
	assert.Equal(t, 1, item.MasteryLevel)
}

func TestJitterStaysInBounds(t *testing.T) {
	s, clock := newTestScheduler(3)
	id, _ := s.Add("kid", session.KindWord, "apple", "")

	item, _ := s.RecordReview("kid", id, true)
	assert.Equal(t, clock.Now().Add(72*time.Minute), *item.NextReviewAt)

	low, clock2 := newTestScheduler(0)
	id, _ = low.Add("kid", session.KindWord, "apple", "")
	item, _ = low.RecordReview("kid", id, true)
	assert.Equal(t, clock2.Now().Add(48*time.Minute), *item.NextReviewAt)
}

func TestDueOrderingAndLimit(t *testing.T) {
	s, clock := newTestScheduler(1)
	first, _ := s.Add("kid", session.KindWord, "apple", "")
	clock.Advance(time.Minute)
	second, _ := s.Add("kid", session.KindWord, "banana", "")
	s.store.Update("kid", func(rec *session.Record) {
		rec.Knowledge = append(rec.Knowledge, session.KnowledgeItem{ID: "legacy", Content: "cherry"})
	})

	assert.Empty(t, s.Due("kid", 0))

	clock.Advance(time.Hour)
	due := s.Due("kid", 0)
	require.Len(t, due, 2)
	assert.Equal(t, first, due[0].ID)
	assert.Equal(t, second, due[1].ID)

	limited := s.Due("kid", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, first, limited[0].ID)
}

func TestRecordReviewUnknownID(t *testing.T) {
	s, _ := newTestScheduler(1)
	_, ok := s.RecordReview("kid", "missing", true)
	assert.False(t, ok)
}

func TestFindByContent(t *testing.T) {
	s, _ := newTestScheduler(1)
	id, _ := s.Add("kid", session.KindWord, "Volcano", "")

	item, ok := s.FindByContent("kid", "VOLCANO")
	require.True(t, ok)
	assert.Equal(t, id, item.ID)

	_, ok = s.FindByContent("kid", "glacier")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	s, clock := newTestScheduler(1)
	a, _ := s.Add("kid", session.KindWord, "apple", "")
	b, _ := s.Add("kid", session.KindWord, "banana", "")
	s.Add("kid", session.KindWord, "cherry", "")

	for i := 0; i < 4; i++ {
		s.RecordReview("kid", a, true)
	}
	s.RecordReview("kid", b, true)
	s.RecordReview("kid", b, true)
	clock.Advance(15 * time.Minute)

	st := s.Stats("kid")
	assert.Equal(t, Stats{Total: 3, Mastered: 1, Learning: 1, NeedReview: 1}, st)
}
