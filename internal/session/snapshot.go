package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrEmptySnapshot = errors.New("empty snapshot")

// Wire types keep timestamps as strings so that records written by older
// clients (missing or malformed timestamps) still load. Anything that does not
// parse becomes nil.
type snapshotEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Type      string `json:"type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type snapshotTask struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Description  string `json:"description"`
	Completed    bool   `json:"completed"`
	CreatedAt    string `json:"created_at"`
	Deadline     string `json:"deadline,omitempty"`
	DeadlineDays int    `json:"deadline_days"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

type snapshotKnowledge struct {
	ID           string        `json:"id"`
	Type         KnowledgeKind `json:"type"`
	Content      string        `json:"content"`
	Context      string        `json:"context,omitempty"`
	MasteryLevel int           `json:"mastery_level"`
	LearnedAt    string        `json:"learned_at"`
	NextReviewAt string        `json:"next_review_at,omitempty"`
	ReviewCount  int           `json:"review_count"`
	CorrectCount int           `json:"correct_count"`
}

type snapshot struct {
	EntityID        string              `json:"entity_id"`
	Conversation    []snapshotEntry     `json:"conversation"`
	Progress        LearningProgress    `json:"learning_progress"`
	Tasks           []snapshotTask      `json:"tasks"`
	Knowledge       []snapshotKnowledge `json:"knowledge"`
	LastTaskCheckAt string              `json:"last_task_check_at,omitempty"`
}

// Snapshot exports the entity as JSON. The response cache is not exported.
func (s *Store) Snapshot(entityID string) ([]byte, error) {
	rec := s.GetOrCreate(entityID)
	snap := snapshot{
		EntityID:        rec.EntityID,
		Conversation:    make([]snapshotEntry, 0, len(rec.Conversation)),
		Progress:        rec.Progress,
		Tasks:           make([]snapshotTask, 0, len(rec.Tasks)),
		Knowledge:       make([]snapshotKnowledge, 0, len(rec.Knowledge)),
		LastTaskCheckAt: formatTime(rec.LastTaskCheckAt),
	}
	for _, e := range rec.Conversation {
		snap.Conversation = append(snap.Conversation, snapshotEntry{
			Role:      e.Role,
			Content:   e.Content,
			Type:      e.Type,
			Timestamp: formatTime(e.Timestamp),
		})
	}
	for _, t := range rec.Tasks {
		snap.Tasks = append(snap.Tasks, snapshotTask{
			ID:           t.ID,
			Subject:      t.Subject,
			Description:  t.Description,
			Completed:    t.Completed,
			CreatedAt:    formatTime(&t.CreatedAt),
			Deadline:     formatTime(t.Deadline),
			DeadlineDays: t.DeadlineDays,
			CompletedAt:  formatTime(t.CompletedAt),
		})
	}
	for _, k := range rec.Knowledge {
		snap.Knowledge = append(snap.Knowledge, snapshotKnowledge{
			ID:           k.ID,
			Type:         k.Type,
			Content:      k.Content,
			Context:      k.Context,
			MasteryLevel: k.MasteryLevel,
			LearnedAt:    formatTime(&k.LearnedAt),
			NextReviewAt: formatTime(k.NextReviewAt),
			ReviewCount:  k.ReviewCount,
			CorrectCount: k.CorrectCount,
		})
	}
	out, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return out, nil
}

// Restore replaces the entity's record with the decoded snapshot. The cache
// starts empty. The conversation is trimmed to the configured bound.
func (s *Store) Restore(entityID string, data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return ErrEmptySnapshot
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	rec := newRecord(entityID)
	rec.Progress = snap.Progress.clone()
	rec.LastTaskCheckAt = ParseTime(snap.LastTaskCheckAt)
	for _, e := range snap.Conversation {
		rec.Conversation = append(rec.Conversation, ConversationEntry{
			Role:      e.Role,
			Content:   e.Content,
			Type:      e.Type,
			Timestamp: ParseTime(e.Timestamp),
		})
	}
	if over := len(rec.Conversation) - s.maxConversation; over > 0 {
		rec.Conversation = append([]ConversationEntry(nil), rec.Conversation[over:]...)
	}
	for _, t := range snap.Tasks {
		task := Task{
			ID:           t.ID,
			Subject:      t.Subject,
			Description:  t.Description,
			Completed:    t.Completed,
			Deadline:     ParseTime(t.Deadline),
			DeadlineDays: t.DeadlineDays,
			CompletedAt:  ParseTime(t.CompletedAt),
		}
		if created := ParseTime(t.CreatedAt); created != nil {
			task.CreatedAt = *created
		}
		rec.Tasks = append(rec.Tasks, task)
	}
	for _, k := range snap.Knowledge {
		item := KnowledgeItem{
			ID:           k.ID,
			Type:         k.Type,
			Content:      k.Content,
			Context:      k.Context,
			MasteryLevel: clampMastery(k.MasteryLevel),
			NextReviewAt: ParseTime(k.NextReviewAt),
			ReviewCount:  k.ReviewCount,
			CorrectCount: k.CorrectCount,
		}
		if learned := ParseTime(k.LearnedAt); learned != nil {
			item.LearnedAt = *learned
		}
		rec.Knowledge = append(rec.Knowledge, item)
	}

	s.Update(entityID, func(cur *Record) {
		*cur = *rec
	})
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime accepts RFC3339 and the naive ISO layouts older records used.
// Local-less layouts are read as UTC. Unparseable input yields nil.
func ParseTime(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func clampMastery(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 5:
		return 5
	default:
		return level
	}
}
