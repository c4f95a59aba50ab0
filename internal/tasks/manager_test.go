package tasks

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ent0n29/buddy/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	store := session.New(session.WithClock(clock.Now))
	return NewManager(store, 5*time.Minute), clock
}

func TestAddAssignsDeadlineAndID(t *testing.T) {
	m, clock := newTestManager()

	task := m.Add("kid", "math", "page 12", 2)

	assert.Equal(t, "task_20260314090000.000000_0", task.ID)
	require.NotNil(t, task.Deadline)
	assert.Equal(t, clock.Now().Add(48*time.Hour), *task.Deadline)
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)
}

func TestAddSameInstantKeepsIDsUnique(t *testing.T) {
	m, _ := newTestManager()

	a := m.Add("kid", "math", "", 1)
	b := m.Add("kid", "english", "", 1)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, m.All("kid"), 2)
}

func TestConcurrentAddNeverDuplicatesIDs(t *testing.T) {
	m, _ := newTestManager()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.Add("kid", "math", "", 1)
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, task := range m.All("kid") {
		assert.False(t, seen[task.ID], "duplicate id %s", task.ID)
		seen[task.ID] = true
	}
	assert.Len(t, seen, 100)
}

func TestValidExcludesExpiredAndCompleted(t *testing.T) {
	m, _ := newTestManager()

	expired := m.Add("kid", "history", "", -8)
	done := m.Add("kid", "science", "", 3)
	open := m.Add("kid", "math", "", 1)
	m.store.Update("kid", func(rec *session.Record) {
		rec.Tasks = append(rec.Tasks, session.Task{ID: "legacy", Subject: "art"})
	})

	_, ok := m.Complete("kid", done.ID)
	require.True(t, ok)

	valid := m.Valid("kid")
	require.Len(t, valid, 2)
	assert.Equal(t, open.ID, valid[0].ID)
	assert.Equal(t, "legacy", valid[1].ID)
	assert.Len(t, m.All("kid"), 4)
	for _, task := range valid {
		assert.NotEqual(t, expired.ID, task.ID)
	}
}

func TestCompleteIsOneShot(t *testing.T) {
	m, clock := newTestManager()
	task := m.Add("kid", "math", "", 1)

	first, ok := m.Complete("kid", task.ID)
	require.True(t, ok)
	require.NotNil(t, first.CompletedAt)
	stamped := *first.CompletedAt

	clock.Advance(time.Hour)
	second, ok := m.Complete("kid", task.ID)
	assert.False(t, ok)
	require.NotNil(t, second.CompletedAt)
	assert.Equal(t, stamped, *second.CompletedAt)

	_, ok = m.Complete("kid", "task_missing")
	assert.False(t, ok)
}

func TestReminderMessage(t *testing.T) {
	m, clock := newTestManager()

	none := m.Reminder("kid")
	assert.Equal(t, ReminderNone, none.Status)
	assert.False(t, none.NeedsReminder)

	m.Add("kid", "math", "", 1)
	m.Add("kid", "english", "", 3)
	clock.Advance(19 * time.Hour)

	r := m.Reminder("kid")
	assert.Equal(t, ReminderPending, r.Status)
	assert.True(t, r.NeedsReminder)
	assert.Contains(t, r.Message, "2 tasks")
	assert.Contains(t, r.Message, "math (5 hours left)")
	assert.Contains(t, r.Message, "english (2 days left)")
	assert.True(t, m.NeedsReminder("kid"))
}

func TestCompleteBySubject(t *testing.T) {
	m, _ := newTestManager()
	m.Add("kid", "Math worksheet", "", 1)

	task, ok := m.CompleteBySubject("kid", "math")
	require.True(t, ok)
	assert.True(t, task.Completed)

	_, ok = m.CompleteBySubject("kid", "math")
	assert.False(t, ok)
}

func TestCompleteMentioned(t *testing.T) {
	m, _ := newTestManager()
	m.Add("kid", "math", "", 1)
	m.Add("kid", "english", "", 1)

	done := m.CompleteMentioned("kid", "I finished my Math already!")
	require.Len(t, done, 1)
	assert.Equal(t, "math", done[0].Subject)
	require.Len(t, m.Valid("kid"), 1)
	assert.Equal(t, "english", m.Valid("kid")[0].Subject)
}

func TestShouldCheckCompletionThrottles(t *testing.T) {
	m, clock := newTestManager()

	assert.False(t, m.ShouldCheckCompletion("kid", "I'm done"), "no tasks yet")

	m.Add("kid", "math", "", 1)
	assert.False(t, m.ShouldCheckCompletion("kid", "what is a volcano"))
	assert.True(t, m.ShouldCheckCompletion("kid", "I'm done with math"))
	assert.False(t, m.ShouldCheckCompletion("kid", "I'm done with math"))

	clock.Advance(4 * time.Minute)
	assert.False(t, m.ShouldCheckCompletion("kid", "finished"))
	clock.Advance(2 * time.Minute)
	assert.True(t, m.ShouldCheckCompletion("kid", "FINISHED"))

	rec := m.store.GetOrCreate("kid")
	require.NotNil(t, rec.LastTaskCheckAt)
	assert.True(t, strings.HasPrefix(rec.LastTaskCheckAt.Format(time.RFC3339), "2026-03-14T09:06"))
}
