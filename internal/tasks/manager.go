package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/buddy/internal/session"
)

type Task = session.Task

const (
	DefaultDeadlineDays  = 1
	DefaultCheckInterval = 5 * time.Minute
)

var defaultCompletionKeywords = []string{
	"finished", "done", "completed", "handed in", "turned in", "all set", "wrapped up",
}

// Manager owns the homework lifecycle inside each entity record. Tasks are
// never deleted individually; "what the user should see" is the derived view
// returned by Valid.
type Manager struct {
	store              *session.Store
	checkInterval      time.Duration
	completionKeywords []string
}

func NewManager(store *session.Store, checkInterval time.Duration) *Manager {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Manager{
		store:              store,
		checkInterval:      checkInterval,
		completionKeywords: defaultCompletionKeywords,
	}
}

// Add creates a task due deadlineDays from now. Negative values create an
// already-expired task.
func (m *Manager) Add(entityID, subject, description string, deadlineDays int) Task {
	now := m.store.Now()
	deadline := now.Add(time.Duration(deadlineDays) * 24 * time.Hour)
	task := Task{
		Subject:      strings.TrimSpace(subject),
		Description:  strings.TrimSpace(description),
		CreatedAt:    now,
		Deadline:     &deadline,
		DeadlineDays: deadlineDays,
	}
	m.store.Update(entityID, func(rec *session.Record) {
		// The count suffix keeps ids unique when two tasks share a timestamp.
		task.ID = fmt.Sprintf("task_%s_%d", now.Format("20060102150405.000000"), len(rec.Tasks))
		rec.Tasks = append(rec.Tasks, task)
	})
	return task.Clone()
}

// All returns every task in creation order, including completed and expired.
func (m *Manager) All(entityID string) []Task {
	var out []Task
	m.store.View(entityID, func(rec *session.Record) {
		out = make([]Task, 0, len(rec.Tasks))
		for _, t := range rec.Tasks {
			out = append(out, t.Clone())
		}
	})
	return out
}

// Valid returns the tasks that are neither completed nor past their deadline.
func (m *Manager) Valid(entityID string) []Task {
	now := m.store.Now()
	var out []Task
	m.store.View(entityID, func(rec *session.Record) {
		out = visible(rec.Tasks, now)
	})
	return out
}

func (m *Manager) NeedsReminder(entityID string) bool {
	return len(m.Valid(entityID)) > 0
}

// Complete marks the task done. It returns true only for the first
// transition; unknown ids and already-completed tasks return false.
func (m *Manager) Complete(entityID, taskID string) (Task, bool) {
	taskID = strings.TrimSpace(taskID)
	now := m.store.Now()
	var (
		out Task
		ok  bool
	)
	m.store.Update(entityID, func(rec *session.Record) {
		for i := range rec.Tasks {
			if rec.Tasks[i].ID != taskID {
				continue
			}
			if !rec.Tasks[i].Completed {
				rec.Tasks[i].Completed = true
				rec.Tasks[i].CompletedAt = session.Ptr(now)
				ok = true
			}
			out = rec.Tasks[i].Clone()
			return
		}
	})
	return out, ok
}

// CompleteBySubject completes the first visible task whose subject contains
// subject, case-insensitively.
func (m *Manager) CompleteBySubject(entityID, subject string) (Task, bool) {
	needle := strings.ToLower(strings.TrimSpace(subject))
	if needle == "" {
		return Task{}, false
	}
	for _, t := range m.Valid(entityID) {
		if strings.Contains(strings.ToLower(t.Subject), needle) {
			return m.Complete(entityID, t.ID)
		}
	}
	return Task{}, false
}

// CompleteMentioned completes every visible task whose subject appears in text.
func (m *Manager) CompleteMentioned(entityID, text string) []Task {
	lower := strings.ToLower(text)
	var done []Task
	for _, t := range m.Valid(entityID) {
		subject := strings.ToLower(strings.TrimSpace(t.Subject))
		if subject == "" || !strings.Contains(lower, subject) {
			continue
		}
		if completed, ok := m.Complete(entityID, t.ID); ok {
			done = append(done, completed)
		}
	}
	return done
}

// ShouldCheckCompletion gates the completion check: there must be visible
// tasks, text must contain a completion keyword, and the previous check must be
// older than the throttle interval. A true result stamps LastTaskCheckAt.
func (m *Manager) ShouldCheckCompletion(entityID, text string) bool {
	if !m.mentionsCompletion(text) {
		return false
	}
	now := m.store.Now()
	var ok bool
	m.store.Update(entityID, func(rec *session.Record) {
		if len(visible(rec.Tasks, now)) == 0 {
			return
		}
		if rec.LastTaskCheckAt != nil && now.Sub(*rec.LastTaskCheckAt) < m.checkInterval {
			return
		}
		rec.LastTaskCheckAt = session.Ptr(now)
		ok = true
	})
	return ok
}

func (m *Manager) mentionsCompletion(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range m.completionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func visible(all []Task, now time.Time) []Task {
	out := make([]Task, 0, len(all))
	for _, t := range all {
		if t.Completed {
			continue
		}
		if t.Deadline != nil && t.Deadline.Before(now) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}
