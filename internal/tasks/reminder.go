package tasks

import (
	"fmt"
	"strings"
	"time"
)

type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderNone    ReminderStatus = "none"
)

type Reminder struct {
	Status        ReminderStatus `json:"status"`
	NeedsReminder bool           `json:"needs_reminder"`
	Message       string         `json:"message"`
	Tasks         []Task         `json:"tasks"`
}

const noHomeworkMessage = "No homework left to do today, great job! Time to play."

// Reminder builds the spoken homework reminder from the visible tasks.
func (m *Manager) Reminder(entityID string) Reminder {
	valid := m.Valid(entityID)
	if len(valid) == 0 {
		return Reminder{Status: ReminderNone, Message: noHomeworkMessage, Tasks: []Task{}}
	}

	now := m.store.Now()
	parts := make([]string, 0, len(valid))
	for _, t := range valid {
		parts = append(parts, describeTask(t, now))
	}
	msg := fmt.Sprintf("You still have %s to finish: %s. Shall we get started?",
		plural(len(valid), "task"), strings.Join(parts, ", "))
	return Reminder{
		Status:        ReminderPending,
		NeedsReminder: true,
		Message:       msg,
		Tasks:         valid,
	}
}

func describeTask(t Task, now time.Time) string {
	subject := t.Subject
	if subject == "" {
		subject = "homework"
	}
	if t.Deadline == nil {
		return subject
	}
	hours := t.Deadline.Sub(now).Hours()
	if hours < 24 {
		return fmt.Sprintf("%s (%s left)", subject, plural(int(hours), "hour"))
	}
	return fmt.Sprintf("%s (%s left)", subject, plural(int(hours/24), "day"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
