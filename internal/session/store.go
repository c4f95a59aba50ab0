package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const DefaultMaxConversation = 100

type entity struct {
	mu  sync.RWMutex
	rec *Record
}

// Store owns every entity record. Mutations on one entity are serialized by
// that entity's lock; the outer lock only guards the map itself.
type Store struct {
	mu              sync.RWMutex
	entities        map[string]*entity
	now             func() time.Time
	maxConversation int
}

type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMaxConversation(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxConversation = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		entities:        make(map[string]*entity),
		now:             func() time.Time { return time.Now().UTC() },
		maxConversation: DefaultMaxConversation,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the store clock. Every manager built on the store reads time here so
// a single clock drives expiry, scheduling and cache TTLs.
func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) lookup(entityID string) *entity {
	s.mu.RLock()
	e, ok := s.entities[entityID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[entityID]; ok {
		return e
	}
	e = &entity{rec: newRecord(entityID)}
	s.entities[entityID] = e
	return e
}

// Update runs fn under the entity's write lock, creating the record if needed.
// fn must not retain rec after returning.
func (s *Store) Update(entityID string, fn func(rec *Record)) {
	e := s.lookup(entityID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.rec)
}

// View runs fn under the entity's read lock. fn must not mutate or retain rec.
func (s *Store) View(entityID string, fn func(rec *Record)) {
	e := s.lookup(entityID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.rec)
}

// GetOrCreate returns a copy of the entity record, creating an empty one on
// first access.
func (s *Store) GetOrCreate(entityID string) Record {
	var out Record
	s.View(entityID, func(rec *Record) {
		out = rec.Clone()
	})
	return out
}

func (s *Store) Has(entityID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[entityID]
	return ok
}

// AppendConversation stamps entry with the current time, appends it and keeps
// only the newest entries up to the configured bound.
func (s *Store) AppendConversation(entityID string, entry ConversationEntry) ConversationEntry {
	now := s.now()
	entry.Timestamp = &now
	entry.Role = strings.TrimSpace(entry.Role)
	s.Update(entityID, func(rec *Record) {
		rec.Conversation = append(rec.Conversation, entry)
		if over := len(rec.Conversation) - s.maxConversation; over > 0 {
			kept := make([]ConversationEntry, s.maxConversation)
			copy(kept, rec.Conversation[over:])
			rec.Conversation = kept
		}
	})
	entry.Timestamp = copyTime(&now)
	return entry
}

// Conversation returns the log in chronological order. A positive since keeps
// only entries stamped within that window; unstamped entries are always kept.
func (s *Store) Conversation(entityID string, since time.Duration) []ConversationEntry {
	now := s.now()
	var out []ConversationEntry
	s.View(entityID, func(rec *Record) {
		out = make([]ConversationEntry, 0, len(rec.Conversation))
		for _, e := range rec.Conversation {
			if since > 0 && e.Timestamp != nil && now.Sub(*e.Timestamp) > since {
				continue
			}
			e.Timestamp = copyTime(e.Timestamp)
			out = append(out, e)
		}
	})
	return out
}

// Recent returns at most n of the newest entries.
func (s *Store) Recent(entityID string, n int) []ConversationEntry {
	all := s.Conversation(entityID, 0)
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

func (s *Store) MergeProgress(entityID string, update ProgressUpdate) LearningProgress {
	var out LearningProgress
	s.Update(entityID, func(rec *Record) {
		rec.Progress.Merge(update)
		out = rec.Progress.clone()
	})
	return out
}

// RecordPractice counts one practice turn at the given time. The read and the
// increment happen under the entity lock, so concurrent turns never collapse.
func (s *Store) RecordPractice(entityID string, at time.Time) LearningProgress {
	var out LearningProgress
	s.Update(entityID, func(rec *Record) {
		rec.Progress.PracticeCount++
		rec.Progress.LastPracticeAt = Ptr(at)
		out = rec.Progress.clone()
	})
	return out
}

func (s *Store) Progress(entityID string) LearningProgress {
	var out LearningProgress
	s.View(entityID, func(rec *Record) {
		out = rec.Progress.clone()
	})
	return out
}

// Clear drops the entity entirely. It reports whether the entity existed.
func (s *Store) Clear(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[entityID]
	delete(s.entities, entityID)
	return ok
}

func (s *Store) Entities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entities))
	for id := range s.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
