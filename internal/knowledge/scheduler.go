package knowledge

import (
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/buddy/internal/session"
)

type Item = session.KnowledgeItem

const (
	MinMastery = 0
	MaxMastery = 5

	// MasteredLevel and above count as mastered in Stats.
	MasteredLevel = 4

	firstReviewDelay = 10 * time.Minute
	fallbackInterval = 24 * time.Hour
)

var reviewIntervals = map[int]time.Duration{
	0: 10 * time.Minute,
	1: time.Hour,
	2: 24 * time.Hour,
	3: 72 * time.Hour,
	4: 168 * time.Hour,
	5: 336 * time.Hour,
}

// Interval returns the base review interval for a mastery level.
func Interval(mastery int) time.Duration {
	if d, ok := reviewIntervals[mastery]; ok {
		return d
	}
	return fallbackInterval
}

type Stats struct {
	Total      int `json:"total"`
	Mastered   int `json:"mastered"`
	Learning   int `json:"learning"`
	NeedReview int `json:"need_review"`
}

type Option func(*Scheduler)

// WithJitter replaces the random interval multiplier. The returned value is
// clamped to [0.8, 1.2].
func WithJitter(fn func() float64) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.jitter = fn
		}
	}
}

// Scheduler keeps per-entity knowledge items on a spaced-repetition schedule.
type Scheduler struct {
	store  *session.Store
	jitter func() float64
}

func NewScheduler(store *session.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		jitter: func() float64 { return 0.8 + rand.Float64()*0.4 },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add records a new item unless one with the same content already exists.
// It returns the id of the stored item and whether it was created.
func (s *Scheduler) Add(entityID string, kind session.KnowledgeKind, content, context string) (string, bool) {
	content = strings.TrimSpace(content)
	key := normalize(content)
	now := s.store.Now()

	var (
		id      string
		created bool
	)
	s.store.Update(entityID, func(rec *session.Record) {
		for _, existing := range rec.Knowledge {
			if normalize(existing.Content) == key {
				id = existing.ID
				return
			}
		}
		if kind == "" {
			kind = session.KindWord
		}
		item := Item{
			ID:           uuid.NewString(),
			Type:         kind,
			Content:      content,
			Context:      strings.TrimSpace(context),
			MasteryLevel: MinMastery,
			LearnedAt:    now,
			NextReviewAt: session.Ptr(now.Add(firstReviewDelay)),
		}
		rec.Knowledge = append(rec.Knowledge, item)
		id, created = item.ID, true
	})
	return id, created
}

// RecordReview applies a review outcome and reschedules the item. A failed
// review never drops mastery below 1.
func (s *Scheduler) RecordReview(entityID, id string, correct bool) (Item, bool) {
	now := s.store.Now()
	var (
		out Item
		ok  bool
	)
	s.store.Update(entityID, func(rec *session.Record) {
		for i := range rec.Knowledge {
			item := &rec.Knowledge[i]
			if item.ID != id {
				continue
			}
			item.ReviewCount++
			if correct {
				item.CorrectCount++
				item.MasteryLevel = min(item.MasteryLevel+1, MaxMastery)
			} else {
				item.MasteryLevel = max(item.MasteryLevel-1, 1)
			}
			next := now.Add(s.scaled(Interval(item.MasteryLevel)))
			item.NextReviewAt = &next
			out, ok = item.Clone(), true
			return
		}
	})
	return out, ok
}

// Due lists items whose review time has passed, soonest first. Items with no
// review time are skipped. limit <= 0 returns all of them.
func (s *Scheduler) Due(entityID string, limit int) []Item {
	now := s.store.Now()
	due := []Item{}
	s.store.View(entityID, func(rec *session.Record) {
		for _, item := range rec.Knowledge {
			if item.NextReviewAt != nil && !item.NextReviewAt.After(now) {
				due = append(due, item.Clone())
			}
		}
	})
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextReviewAt.Before(*due[j].NextReviewAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}

func (s *Scheduler) FindByContent(entityID, content string) (Item, bool) {
	key := normalize(content)
	var (
		out Item
		ok  bool
	)
	s.store.View(entityID, func(rec *session.Record) {
		for _, item := range rec.Knowledge {
			if normalize(item.Content) == key {
				out, ok = item.Clone(), true
				return
			}
		}
	})
	return out, ok
}

func (s *Scheduler) Get(entityID, id string) (Item, bool) {
	var (
		out Item
		ok  bool
	)
	s.store.View(entityID, func(rec *session.Record) {
		for _, item := range rec.Knowledge {
			if item.ID == id {
				out, ok = item.Clone(), true
				return
			}
		}
	})
	return out, ok
}

func (s *Scheduler) All(entityID string) []Item {
	var out []Item
	s.store.View(entityID, func(rec *session.Record) {
		out = make([]Item, 0, len(rec.Knowledge))
		for _, item := range rec.Knowledge {
			out = append(out, item.Clone())
		}
	})
	return out
}

func (s *Scheduler) Stats(entityID string) Stats {
	now := s.store.Now()
	var st Stats
	s.store.View(entityID, func(rec *session.Record) {
		st.Total = len(rec.Knowledge)
		for _, item := range rec.Knowledge {
			switch {
			case item.MasteryLevel >= MasteredLevel:
				st.Mastered++
			case item.MasteryLevel >= 2:
				st.Learning++
			}
			if item.NextReviewAt != nil && !item.NextReviewAt.After(now) {
				st.NeedReview++
			}
		}
	})
	return st
}

func (s *Scheduler) scaled(base time.Duration) time.Duration {
	f := s.jitter()
	if f < 0.8 {
		f = 0.8
	}
	if f > 1.2 {
		f = 1.2
	}
	return time.Duration(float64(base) * f)
}

func normalize(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}
