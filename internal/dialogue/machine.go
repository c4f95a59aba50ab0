package dialogue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/ent0n29/buddy/internal/knowledge"
	"github.com/ent0n29/buddy/internal/session"
	"github.com/ent0n29/buddy/internal/voice"
)

type Stage string

const (
	StageInitiate  Stage = "initiate"
	StageQuestion  Stage = "question"
	StageFollowup  Stage = "followup"
	StageSummarize Stage = "summarize"
)

type Mode string

const (
	ModeNewTopic Mode = "new_topic"
	ModeReview   Mode = "review"
)

var ErrUnknownStage = errors.New("unknown practice stage")

// MaxFollowupTurns is the turn count at which followup moves to summarize.
const MaxFollowupTurns = 3

const (
	DefaultFallbackText = "Sorry, I didn't hear that clearly. Can you say it again?"
	ClosingLine         = "We already finished this practice. Great talking with you! Want to start a new one?"
)

// State is the request-scoped position of one practice session. Interests
// are hints used only when a new topic is chosen.
type State struct {
	Stage     Stage    `json:"stage"`
	Scenario  Scenario `json:"scenario,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Mode      Mode     `json:"mode,omitempty"`
	TurnCount int      `json:"turn_count"`
	ReviewID  string   `json:"review_id,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// Step is the outcome of one Advance call.
type Step struct {
	State    State  `json:"state"`
	Response string `json:"response"`
	Terminal bool   `json:"terminal"`
	// Fallback is set when generation failed and Response is the fixed line.
	Fallback bool `json:"fallback,omitempty"`
	// Reviewed is set when the answer was scored against the review item.
	Reviewed *knowledge.Item `json:"reviewed,omitempty"`
}

type Option func(*Machine)

// WithPicker replaces the random topic index picker. pick(n) must return a
// value in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(m *Machine) {
		if pick != nil {
			m.pick = pick
		}
	}
}

func WithFallbackText(text string) Option {
	return func(m *Machine) {
		if strings.TrimSpace(text) != "" {
			m.fallback = text
		}
	}
}

// Machine drives the guided speaking practice:
// initiate -> question -> followup (repeats) -> summarize.
type Machine struct {
	store     *session.Store
	scheduler *knowledge.Scheduler
	generator voice.Generator
	pick      func(n int) int
	fallback  string
}

func NewMachine(store *session.Store, scheduler *knowledge.Scheduler, generator voice.Generator, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		scheduler: scheduler,
		generator: generator,
		pick:      rand.IntN,
		fallback:  DefaultFallbackText,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Advance performs exactly one transition from st and generates its line.
// Summarize has no outgoing edge: the state comes back unchanged with the
// closing line and the generator is not called.
func (m *Machine) Advance(ctx context.Context, entityID string, st State, input string) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}
	if st.Stage == "" {
		st.Stage = StageInitiate
	}
	input = strings.TrimSpace(input)

	var (
		next     = st
		prompt   voice.Prompt
		reviewed *knowledge.Item
	)
	switch st.Stage {
	case StageSummarize:
		return Step{State: st, Response: ClosingLine, Terminal: true}, nil

	case StageInitiate:
		next = m.initiate(entityID, st, input)
		next.Stage = StageQuestion
		prompt = m.openingPrompt(entityID, next)

	case StageQuestion:
		if next.Mode == ModeReview && next.ReviewID != "" && input != "" {
			if item, ok := m.scoreReview(entityID, next.ReviewID, input); ok {
				reviewed = &item
			}
			next.ReviewID = ""
		}
		next.Stage = StageFollowup
		prompt = followupPrompt(next, input)

	case StageFollowup:
		if st.TurnCount >= MaxFollowupTurns {
			next.Stage = StageSummarize
			prompt = summaryPrompt(next, input)
		} else {
			prompt = followupPrompt(next, input)
		}

	default:
		return Step{}, fmt.Errorf("%w %q", ErrUnknownStage, st.Stage)
	}
	next.TurnCount = st.TurnCount + 1

	text, err := m.generator.Generate(ctx, prompt)
	text = strings.TrimSpace(text)
	fallback := err != nil || text == ""
	if fallback {
		text = m.fallback
	}

	m.store.MergeProgress(entityID, session.ProgressUpdate{
		PracticeStage:     session.Ptr(string(next.Stage)),
		PracticeTurnCount: session.Ptr(next.TurnCount),
		LastScenario:      session.Ptr(string(next.Scenario)),
		PracticeScenario:  session.Ptr(string(next.Scenario)),
		PracticeTopic:     session.Ptr(next.Topic),
		PendingReviewID:   session.Ptr(next.ReviewID),
	})

	return Step{
		State:    next,
		Response: text,
		Terminal: next.Stage == StageSummarize,
		Fallback: fallback,
		Reviewed: reviewed,
	}, nil
}

// initiate picks review mode when an item is due and the child has not
// already said something, otherwise a new topic.
func (m *Machine) initiate(entityID string, st State, input string) State {
	if input == "" {
		if due := m.scheduler.Due(entityID, 1); len(due) > 0 {
			st.Mode = ModeReview
			st.Scenario = ScenarioReview
			st.ReviewID = due[0].ID
			st.Topic = due[0].Content
			return st
		}
	}
	st.Mode = ModeNewTopic
	st.ReviewID = ""
	if st.Scenario == "" || st.Scenario == ScenarioReview {
		st.Scenario = pickScenario(st.Interests)
	}
	if st.Topic == "" {
		topics := topicTable[st.Scenario]
		st.Topic = topics[m.pick(len(topics))]
	}
	return st
}

// scoreReview counts the answer correct when it uses the reviewed content.
func (m *Machine) scoreReview(entityID, reviewID, answer string) (knowledge.Item, bool) {
	item, ok := m.scheduler.Get(entityID, reviewID)
	if !ok {
		return knowledge.Item{}, false
	}
	correct := strings.Contains(strings.ToLower(answer), strings.ToLower(item.Content))
	return m.scheduler.RecordReview(entityID, reviewID, correct)
}

func (m *Machine) openingPrompt(entityID string, st State) voice.Prompt {
	p := voice.Prompt{System: practiceSystemPrompt}
	if st.Mode == ModeReview {
		hint := ""
		if item, ok := m.scheduler.Get(entityID, st.ReviewID); ok {
			hint = item.Context
		}
		p.User = fmt.Sprintf("Start a short review. Ask one simple question that gets the child to use %q.", st.Topic)
		p.Context = hint
		return p
	}
	p.User = fmt.Sprintf("Start a short speaking practice about %s. Ask one simple, open question.", st.Topic)
	return p
}

func followupPrompt(st State, answer string) voice.Prompt {
	return voice.Prompt{
		System: practiceSystemPrompt,
		User: fmt.Sprintf("We are practicing speaking about %s. The child answered: %q. "+
			"Praise one thing they said, gently fix one mistake if there is one, then ask one follow-up question.", st.Topic, answer),
	}
}

func summaryPrompt(st State, answer string) voice.Prompt {
	return voice.Prompt{
		System: practiceSystemPrompt,
		User: fmt.Sprintf("Wrap up the speaking practice about %s. The child's last answer was %q. "+
			"Summarize what they did well in two short sentences and say goodbye warmly.", st.Topic, answer),
	}
}

const practiceSystemPrompt = "You are a patient, cheerful speaking partner for a young child. " +
	"Use short sentences and simple words. Never ask more than one question at a time."
