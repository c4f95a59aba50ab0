package companion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/buddy/internal/archive"
	"github.com/ent0n29/buddy/internal/cache"
	"github.com/ent0n29/buddy/internal/classify"
	"github.com/ent0n29/buddy/internal/dialogue"
	"github.com/ent0n29/buddy/internal/knowledge"
	"github.com/ent0n29/buddy/internal/logging"
	"github.com/ent0n29/buddy/internal/observability"
	"github.com/ent0n29/buddy/internal/router"
	"github.com/ent0n29/buddy/internal/session"
	"github.com/ent0n29/buddy/internal/tasks"
	"github.com/ent0n29/buddy/internal/voice"
)

var ErrMissingEntity = errors.New("entity id is required")

const (
	DefaultCacheTTL     = 60 * time.Second
	DefaultHistoryTurns = 3
	DefaultChildVoice   = "child"
	DefaultAdultVoice   = "default"

	archiveSaveTimeout = 3 * time.Second
)

type Config struct {
	CacheTTL     time.Duration
	HistoryTurns int
	ChildVoice   string
	DefaultVoice string
	FallbackText string
}

func (c *Config) withDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = DefaultHistoryTurns
	}
	if strings.TrimSpace(c.ChildVoice) == "" {
		c.ChildVoice = DefaultChildVoice
	}
	if strings.TrimSpace(c.DefaultVoice) == "" {
		c.DefaultVoice = DefaultAdultVoice
	}
	if strings.TrimSpace(c.FallbackText) == "" {
		c.FallbackText = dialogue.DefaultFallbackText
	}
}

// Deps are the components the engine sequences. Archive, Metrics and Logger
// may be nil.
type Deps struct {
	Store      *session.Store
	Tasks      *tasks.Manager
	Knowledge  *knowledge.Scheduler
	Cache      *cache.Cache
	Classifier *classify.Classifier
	Dialogue   *dialogue.Machine

	Transcriber voice.Transcriber
	Generator   voice.Generator
	Synthesizer voice.Synthesizer
	Searcher    voice.Searcher

	Archive archive.Store
	Metrics *observability.Metrics
	Logger  *logging.Logger
}

type TurnRequest struct {
	EntityID  string          `json:"entity_id"`
	Name      string          `json:"name,omitempty"`
	Age       int             `json:"age,omitempty"`
	Interests []string        `json:"interests,omitempty"`
	Trigger   router.Trigger  `json:"trigger"`
	Text      string          `json:"text,omitempty"`
	AudioRef  string          `json:"audio_ref,omitempty"`
	Practice  *dialogue.State `json:"practice,omitempty"`
}

type TurnResult struct {
	TurnID        string          `json:"turn_id"`
	Branch        router.Branch   `json:"branch"`
	Label         classify.Label  `json:"label"`
	Confidence    float64         `json:"confidence"`
	UserText      string          `json:"user_text"`
	Response      string          `json:"response"`
	Audio         string          `json:"audio,omitempty"`
	Voice         string          `json:"voice"`
	CacheHit      bool            `json:"cache_hit"`
	Fallback      bool            `json:"fallback"`
	Practice      *dialogue.State `json:"practice,omitempty"`
	Terminal      bool            `json:"terminal,omitempty"`
	Reminder      *tasks.Reminder `json:"reminder,omitempty"`
	Completed     []tasks.Task    `json:"completed,omitempty"`
	NewKnowledge  string          `json:"new_knowledge,omitempty"`
	ExecutionPath []string        `json:"execution_path"`
}

// Engine runs one turn: load state, classify, route, run the branch,
// synthesize, persist. Collaborator failures degrade the turn instead of
// failing it.
type Engine struct {
	cfg  Config
	deps Deps
	log  *logging.Logger
}

func NewEngine(cfg Config, deps Deps) *Engine {
	cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, log: log}
}

type turn struct {
	req     TurnRequest
	res     TurnResult
	profile profile
	started time.Time
}

func (t *turn) step(name string) {
	t.res.ExecutionPath = append(t.res.ExecutionPath, name)
}

func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	req.EntityID = strings.TrimSpace(req.EntityID)
	if req.EntityID == "" {
		return TurnResult{}, ErrMissingEntity
	}
	t := &turn{
		req:     req,
		started: time.Now(),
		profile: profile{name: strings.TrimSpace(req.Name), age: req.Age, interests: req.Interests},
		res:     TurnResult{TurnID: uuid.NewString(), ExecutionPath: []string{}},
	}
	log := e.log.With("entity_id", req.EntityID, "turn_id", t.res.TurnID)

	e.deps.Store.GetOrCreate(req.EntityID)
	t.step("load_memory")

	text := strings.TrimSpace(req.Text)
	if text == "" && strings.TrimSpace(req.AudioRef) != "" {
		text = e.transcribe(ctx, log, req.AudioRef)
		t.step("transcribe")
	}
	t.res.UserText = text

	classified := e.deps.Classifier.Classify(text)
	t.res.Label, t.res.Confidence = classified.Label, classified.Confidence
	e.observeLabel(classified.Label)
	t.step("classify")

	needsReminder := e.deps.Tasks.NeedsReminder(req.EntityID)
	t.res.Branch = router.Route(req.Trigger, needsReminder)
	t.step("route:" + string(t.res.Branch))

	switch t.res.Branch {
	case router.BranchActiveCare:
		e.activeCare(ctx, log, t)
	case router.BranchHomeworkReminder:
		e.homeworkReminder(t)
	case router.BranchSpeakingPractice:
		if err := e.speakingPractice(ctx, t); err != nil {
			return TurnResult{}, err
		}
	case router.BranchRealtimeCall:
		e.realtimeCall(ctx, log, t)
	default:
		e.realtimeConversation(ctx, log, t)
	}

	t.res.Voice = voice.VoiceForAge(req.Age, e.cfg.ChildVoice, e.cfg.DefaultVoice)
	t.res.Audio = e.synthesize(ctx, log, t.res.Response, t.res.Voice)
	t.step("synthesize")

	e.persist(ctx, log, t)
	t.step("persist")

	if m := e.deps.Metrics; m != nil {
		m.ObserveTurn(string(t.res.Branch), time.Since(t.started))
		m.ActiveEntities.Set(float64(e.deps.Store.Len()))
	}
	log.Debug("turn handled", "branch", t.res.Branch, "label", t.res.Label, "cache_hit", t.res.CacheHit, "fallback", t.res.Fallback)
	return t.res, nil
}

func (e *Engine) activeCare(ctx context.Context, log *logging.Logger, t *turn) {
	history := e.deps.Store.Recent(t.req.EntityID, e.cfg.HistoryTurns)
	user := t.res.UserText
	if user == "" {
		user = "Check in on how the child is feeling today."
	}
	t.res.Response, t.res.Fallback = e.generate(ctx, log, voice.Prompt{
		System:  careSystemPrompt,
		User:    user,
		Context: t.profile.describe(),
		History: historyTurns(history),
	})
	t.step("generate")
}

func (e *Engine) homeworkReminder(t *turn) {
	r := e.deps.Tasks.Reminder(t.req.EntityID)
	t.res.Reminder = &r
	t.res.Response = r.Message
	t.step("homework_check")
}

func (e *Engine) speakingPractice(ctx context.Context, t *turn) error {
	st := e.resumePractice(t.req)
	st.Interests = t.req.Interests

	step, err := e.deps.Dialogue.Advance(ctx, t.req.EntityID, st, t.res.UserText)
	if err != nil {
		return err
	}
	t.res.Response = step.Response
	t.res.Fallback = step.Fallback
	t.res.Terminal = step.Terminal
	t.res.Practice = &step.State
	if step.Fallback {
		e.observeCollaboratorError("generator")
	}
	t.step("practice:" + string(step.State.Stage))

	if st.Stage != dialogue.StageSummarize {
		e.deps.Store.RecordPractice(t.req.EntityID, e.deps.Store.Now())
	}
	return nil
}

// resumePractice continues an unfinished practice from the progress hints
// when the caller sends no explicit state.
func (e *Engine) resumePractice(req TurnRequest) dialogue.State {
	if req.Practice != nil {
		return *req.Practice
	}
	p := e.deps.Store.Progress(req.EntityID)
	stage := dialogue.Stage(p.PracticeStage)
	if stage == "" || stage == dialogue.StageSummarize || stage == dialogue.StageInitiate {
		return dialogue.State{Stage: dialogue.StageInitiate}
	}
	st := dialogue.State{
		Stage:     stage,
		Scenario:  dialogue.Scenario(p.PracticeScenario),
		Topic:     p.PracticeTopic,
		TurnCount: p.PracticeTurnCount,
		ReviewID:  p.PendingReviewID,
		Mode:      dialogue.ModeNewTopic,
	}
	if st.ReviewID != "" {
		st.Mode = dialogue.ModeReview
	}
	return st
}

func (e *Engine) realtimeCall(ctx context.Context, log *logging.Logger, t *turn) {
	t.res.Response, t.res.Fallback = e.generate(ctx, log, voice.Prompt{
		System:  callSystemPrompt,
		User:    t.res.UserText,
		Context: t.profile.describe(),
	})
	t.step("generate")
}

func (e *Engine) realtimeConversation(ctx context.Context, log *logging.Logger, t *turn) {
	entityID, text, label := t.req.EntityID, t.res.UserText, t.res.Label

	if e.deps.Tasks.ShouldCheckCompletion(entityID, text) {
		t.res.Completed = e.deps.Tasks.CompleteMentioned(entityID, text)
		t.step("homework_completion_check")
	}

	if label == classify.LabelFactQuery {
		if concept := extractConcept(text); concept != "" {
			if _, created := e.deps.Knowledge.Add(entityID, session.KindConcept, concept, text); created {
				now := e.deps.Store.Now()
				e.deps.Store.MergeProgress(entityID, session.ProgressUpdate{
					LastNewKnowledge: []string{concept},
					LastKnowledgeAt:  &now,
				})
				t.res.NewKnowledge = concept
				t.step("knowledge_capture")
			}
		}
	}

	cacheable := label != classify.LabelCareNeeded && text != "" && len(t.res.Completed) == 0
	if cacheable {
		cached, hit := e.deps.Cache.Get(entityID, string(label), text, e.cfg.CacheTTL)
		if m := e.deps.Metrics; m != nil {
			m.ObserveCacheLookup(hit)
		}
		if hit {
			t.res.Response, t.res.CacheHit = cached, true
			t.step("cache_hit")
			return
		}
	}

	summary := ""
	if label == classify.LabelSearch && e.deps.Searcher != nil {
		summary = e.search(ctx, log, text)
		t.step("search")
	}

	history := e.deps.Store.Recent(entityID, e.cfg.HistoryTurns)
	t.res.Response, t.res.Fallback = e.generate(ctx, log, voice.Prompt{
		System:  systemPromptFor(label),
		User:    text,
		Context: buildContext(t.profile, e.deps.Tasks.Valid(entityID), t.res.Completed, summary),
		History: historyTurns(history),
	})
	t.step("generate")

	if cacheable && !t.res.Fallback {
		evicted := e.deps.Cache.Put(entityID, string(label), text, t.res.Response)
		if m := e.deps.Metrics; m != nil && evicted > 0 {
			m.CacheEvictions.Add(float64(evicted))
		}
	}
}

func (e *Engine) persist(ctx context.Context, log *logging.Logger, t *turn) {
	entityID := t.req.EntityID
	kind := string(t.res.Branch)
	if t.res.UserText != "" {
		e.deps.Store.AppendConversation(entityID, session.ConversationEntry{Role: "user", Content: t.res.UserText, Type: kind})
	}
	if t.res.Response != "" {
		e.deps.Store.AppendConversation(entityID, session.ConversationEntry{Role: "assistant", Content: t.res.Response, Type: kind})
	}
	if t.res.Branch != router.BranchSpeakingPractice {
		e.deps.Store.MergeProgress(entityID, session.ProgressUpdate{LastScenario: session.Ptr(string(t.res.Label))})
	}

	if e.deps.Archive == nil {
		return
	}
	// The turn is already answered; a caller hanging up must not lose it.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveSaveTimeout)
	defer cancel()
	for _, entry := range []archive.Entry{
		{Role: "user", Content: t.res.UserText},
		{Role: "assistant", Content: t.res.Response},
	} {
		if entry.Content == "" {
			continue
		}
		entry.EntityID = entityID
		entry.TurnID = t.res.TurnID
		entry.Branch = kind
		entry.Label = string(t.res.Label)
		if err := e.deps.Archive.SaveTurn(saveCtx, entry); err != nil {
			log.Warn("archive save failed", "error", err)
			e.observeCollaboratorError("archive")
		}
	}
}

func (e *Engine) transcribe(ctx context.Context, log *logging.Logger, audioRef string) string {
	if e.deps.Transcriber == nil {
		return ""
	}
	start := time.Now()
	text, err := e.deps.Transcriber.Transcribe(ctx, audioRef)
	e.observeStep("transcribe", start)
	if err != nil {
		log.Warn("transcription failed", "error", err)
		e.observeCollaboratorError("transcriber")
		return ""
	}
	return strings.TrimSpace(text)
}

func (e *Engine) generate(ctx context.Context, log *logging.Logger, prompt voice.Prompt) (string, bool) {
	start := time.Now()
	text, err := e.deps.Generator.Generate(ctx, prompt)
	e.observeStep("generate", start)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		if err != nil {
			log.Warn("generation failed", "error", err)
		}
		e.observeCollaboratorError("generator")
		return e.cfg.FallbackText, true
	}
	return text, false
}

func (e *Engine) synthesize(ctx context.Context, log *logging.Logger, text, voiceID string) string {
	if e.deps.Synthesizer == nil || strings.TrimSpace(text) == "" {
		return ""
	}
	start := time.Now()
	audio, err := e.deps.Synthesizer.Synthesize(ctx, voice.SanitizeSpeechText(text), voiceID)
	e.observeStep("synthesize", start)
	if err != nil {
		log.Warn("synthesis failed", "error", err)
		e.observeCollaboratorError("synthesizer")
		return ""
	}
	return audio
}

func (e *Engine) search(ctx context.Context, log *logging.Logger, query string) string {
	start := time.Now()
	summary, err := e.deps.Searcher.Search(ctx, query)
	e.observeStep("search", start)
	if err != nil {
		log.Warn("search failed", "error", err)
		e.observeCollaboratorError("searcher")
		return ""
	}
	return strings.TrimSpace(summary)
}

func (e *Engine) observeLabel(label classify.Label) {
	if m := e.deps.Metrics; m != nil {
		m.ClassifiedTotal.WithLabelValues(string(label)).Inc()
	}
}

func (e *Engine) observeStep(step string, start time.Time) {
	if m := e.deps.Metrics; m != nil {
		m.Steps.ObserveDuration(step, time.Since(start))
	}
}

func (e *Engine) observeCollaboratorError(collaborator string) {
	if m := e.deps.Metrics; m != nil {
		m.ObserveCollaboratorError(collaborator)
	}
}
