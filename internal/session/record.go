package session

import (
	"maps"
	"time"
)

// ConversationEntry is one line of the conversation log. Timestamp is nil for
// legacy entries that were recorded without one.
type ConversationEntry struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Type      string     `json:"type,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// LearningProgress holds the per-entity counters and resumption hints written
// by the practice and conversation branches. LastScenario follows every turn,
// while the Practice* fields are only written by the practice machine.
// Extra carries open-ended keys.
type LearningProgress struct {
	PracticeCount     int            `json:"practice_count"`
	LastPracticeAt    *time.Time     `json:"last_practice_at,omitempty"`
	LastScenario      string         `json:"last_scenario,omitempty"`
	PracticeScenario  string         `json:"practice_scenario,omitempty"`
	PracticeTopic     string         `json:"practice_topic,omitempty"`
	PracticeStage     string         `json:"practice_stage,omitempty"`
	PracticeTurnCount int            `json:"practice_turn_count"`
	PendingReviewID   string         `json:"pending_review_id,omitempty"`
	LastNewKnowledge  []string       `json:"last_new_knowledge,omitempty"`
	LastKnowledgeAt   *time.Time     `json:"last_knowledge_at,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ProgressUpdate is a partial LearningProgress. Nil fields are left untouched.
type ProgressUpdate struct {
	PracticeCount     *int           `json:"practice_count,omitempty"`
	LastPracticeAt    *time.Time     `json:"last_practice_at,omitempty"`
	LastScenario      *string        `json:"last_scenario,omitempty"`
	PracticeScenario  *string        `json:"practice_scenario,omitempty"`
	PracticeTopic     *string        `json:"practice_topic,omitempty"`
	PracticeStage     *string        `json:"practice_stage,omitempty"`
	PracticeTurnCount *int           `json:"practice_turn_count,omitempty"`
	PendingReviewID   *string        `json:"pending_review_id,omitempty"`
	LastNewKnowledge  []string       `json:"last_new_knowledge,omitempty"`
	LastKnowledgeAt   *time.Time     `json:"last_knowledge_at,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Merge applies u on top of p. Keys are added or overwritten, never removed.
func (p *LearningProgress) Merge(u ProgressUpdate) {
	if u.PracticeCount != nil {
		p.PracticeCount = *u.PracticeCount
	}
	if u.LastPracticeAt != nil {
		p.LastPracticeAt = Ptr(*u.LastPracticeAt)
	}
	if u.LastScenario != nil {
		p.LastScenario = *u.LastScenario
	}
	if u.PracticeScenario != nil {
		p.PracticeScenario = *u.PracticeScenario
	}
	if u.PracticeTopic != nil {
		p.PracticeTopic = *u.PracticeTopic
	}
	if u.PracticeStage != nil {
		p.PracticeStage = *u.PracticeStage
	}
	if u.PracticeTurnCount != nil {
		p.PracticeTurnCount = *u.PracticeTurnCount
	}
	if u.PendingReviewID != nil {
		p.PendingReviewID = *u.PendingReviewID
	}
	if u.LastNewKnowledge != nil {
		p.LastNewKnowledge = append([]string(nil), u.LastNewKnowledge...)
	}
	if u.LastKnowledgeAt != nil {
		p.LastKnowledgeAt = Ptr(*u.LastKnowledgeAt)
	}
	if len(u.Extra) > 0 {
		if p.Extra == nil {
			p.Extra = make(map[string]any, len(u.Extra))
		}
		maps.Copy(p.Extra, u.Extra)
	}
}

func (p LearningProgress) clone() LearningProgress {
	out := p
	out.LastPracticeAt = copyTime(p.LastPracticeAt)
	out.LastKnowledgeAt = copyTime(p.LastKnowledgeAt)
	if p.LastNewKnowledge != nil {
		out.LastNewKnowledge = append([]string(nil), p.LastNewKnowledge...)
	}
	if p.Extra != nil {
		out.Extra = maps.Clone(p.Extra)
	}
	return out
}

// Task is a homework item. A nil Deadline never expires.
type Task struct {
	ID           string     `json:"id"`
	Subject      string     `json:"subject"`
	Description  string     `json:"description"`
	Completed    bool       `json:"completed"`
	CreatedAt    time.Time  `json:"created_at"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	DeadlineDays int        `json:"deadline_days"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (t Task) Clone() Task {
	out := t
	out.Deadline = copyTime(t.Deadline)
	out.CompletedAt = copyTime(t.CompletedAt)
	return out
}

type KnowledgeKind string

const (
	KindWord    KnowledgeKind = "word"
	KindConcept KnowledgeKind = "concept"
)

// KnowledgeItem is a fact or word the entity has been taught. A nil
// NextReviewAt keeps the item out of the due list.
type KnowledgeItem struct {
	ID           string        `json:"id"`
	Type         KnowledgeKind `json:"type"`
	Content      string        `json:"content"`
	Context      string        `json:"context,omitempty"`
	MasteryLevel int           `json:"mastery_level"`
	LearnedAt    time.Time     `json:"learned_at"`
	NextReviewAt *time.Time    `json:"next_review_at,omitempty"`
	ReviewCount  int           `json:"review_count"`
	CorrectCount int           `json:"correct_count"`
}

func (k KnowledgeItem) Clone() KnowledgeItem {
	out := k
	out.NextReviewAt = copyTime(k.NextReviewAt)
	return out
}

// CacheEntry is a cached generated response.
type CacheEntry struct {
	Response string    `json:"response"`
	CachedAt time.Time `json:"cached_at"`
	Scenario string    `json:"scenario"`
	Query    string    `json:"query"`
}

// Record is everything tracked for one entity.
type Record struct {
	EntityID        string                `json:"entity_id"`
	Conversation    []ConversationEntry   `json:"conversation"`
	Progress        LearningProgress      `json:"learning_progress"`
	Tasks           []Task                `json:"tasks"`
	Knowledge       []KnowledgeItem       `json:"knowledge"`
	Cache           map[string]CacheEntry `json:"-"`
	LastTaskCheckAt *time.Time            `json:"last_task_check_at,omitempty"`
}

func newRecord(entityID string) *Record {
	return &Record{
		EntityID:     entityID,
		Conversation: []ConversationEntry{},
		Tasks:        []Task{},
		Knowledge:    []KnowledgeItem{},
		Cache:        make(map[string]CacheEntry),
	}
}

// Clone returns a deep copy safe to hand out after the entity lock is released.
func (r *Record) Clone() Record {
	out := Record{
		EntityID:        r.EntityID,
		Conversation:    make([]ConversationEntry, len(r.Conversation)),
		Progress:        r.Progress.clone(),
		Tasks:           make([]Task, len(r.Tasks)),
		Knowledge:       make([]KnowledgeItem, len(r.Knowledge)),
		Cache:           maps.Clone(r.Cache),
		LastTaskCheckAt: copyTime(r.LastTaskCheckAt),
	}
	for i, e := range r.Conversation {
		e.Timestamp = copyTime(e.Timestamp)
		out.Conversation[i] = e
	}
	for i, t := range r.Tasks {
		out.Tasks[i] = t.Clone()
	}
	for i, k := range r.Knowledge {
		out.Knowledge[i] = k.Clone()
	}
	if out.Cache == nil {
		out.Cache = make(map[string]CacheEntry)
	}
	return out
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
