package companion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ent0n29/buddy/internal/archive"
	"github.com/ent0n29/buddy/internal/cache"
	"github.com/ent0n29/buddy/internal/classify"
	"github.com/ent0n29/buddy/internal/dialogue"
	"github.com/ent0n29/buddy/internal/knowledge"
	"github.com/ent0n29/buddy/internal/observability"
	"github.com/ent0n29/buddy/internal/router"
	"github.com/ent0n29/buddy/internal/session"
	"github.com/ent0n29/buddy/internal/tasks"
	"github.com/ent0n29/buddy/internal/voice"
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

type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []voice.Prompt
	err     error
}

func (g *scriptedGenerator) Generate(_ context.Context, p voice.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if g.err != nil {
		return "", g.err
	}
	return "reply to: " + p.User, nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *scriptedGenerator) last() voice.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, string, string) (string, error) {
	return "", errors.New("tts down")
}

type stubSearcher struct{ summary string }

func (s stubSearcher) Search(context.Context, string) (string, error) { return s.summary, nil }

type fixture struct {
	clock   *fakeClock
	store   *session.Store
	tasks   *tasks.Manager
	sched   *knowledge.Scheduler
	gen     *scriptedGenerator
	archive *archive.InMemoryStore
	deps    Deps
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)}
	store := session.New(session.WithClock(clock.Now))
	sched := knowledge.NewScheduler(store, knowledge.WithJitter(func() float64 { return 1 }))
	gen := &scriptedGenerator{}
	mock := voice.NewMockProvider()
	arch := archive.NewInMemoryStore(0)

	deps := Deps{
		Store:       store,
		Tasks:       tasks.NewManager(store, 5*time.Minute),
		Knowledge:   sched,
		Cache:       cache.New(store, 100),
		Classifier:  classify.NewDefault(),
		Dialogue:    dialogue.NewMachine(store, sched, gen, dialogue.WithPicker(func(int) int { return 0 })),
		Transcriber: mock,
		Generator:   gen,
		Synthesizer: mock,
		Searcher:    stubSearcher{summary: "Sunny and warm"},
		Archive:     arch,
		Metrics:     observability.NewMetrics("engine_test"),
	}
	return &fixture{
		clock:   clock,
		store:   store,
		tasks:   deps.Tasks,
		sched:   sched,
		gen:     gen,
		archive: arch,
		deps:    deps,
		engine:  NewEngine(Config{ChildVoice: "kid-voice", DefaultVoice: "adult-voice"}, deps),
	}
}

func TestHandleTurnRequiresEntity(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.HandleTurn(context.Background(), TurnRequest{EntityID: "  "})
	assert.ErrorIs(t, err, ErrMissingEntity)
}

func TestConversationTurnPersistsAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := TurnRequest{EntityID: "kid", Name: "Mia", Age: 8, Trigger: router.TriggerConversation, Text: "tell me a story about a fox"}

	first, err := f.engine.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, router.BranchRealtimeConversation, first.Branch)
	assert.Equal(t, classify.LabelChat, first.Label)
	assert.False(t, first.CacheHit)
	assert.Equal(t, "reply to: tell me a story about a fox", first.Response)
	assert.Equal(t, "kid-voice", first.Voice)
	assert.True(t, strings.HasPrefix(first.Audio, "mock://kid-voice/"))
	assert.Contains(t, first.ExecutionPath, "generate")

	second, err := f.engine.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, f.gen.calls())

	f.clock.Advance(61 * time.Second)
	third, err := f.engine.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit, "cache entry expired")
	assert.Equal(t, 2, f.gen.calls())

	log := f.store.Conversation("kid", 0)
	require.Len(t, log, 6)
	assert.Equal(t, "user", log[0].Role)
	assert.Equal(t, "assistant", log[1].Role)
	assert.Equal(t, string(router.BranchRealtimeConversation), log[0].Type)
	assert.Equal(t, string(classify.LabelChat), f.store.Progress("kid").LastScenario)

	archived, err := f.archive.Recent(ctx, "kid", 0)
	require.NoError(t, err)
	assert.Len(t, archived, 6)
	assert.Equal(t, first.TurnID, archived[0].TurnID)
}

func TestConversationContextIncludesHomeworkAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tasks.Add("kid", "math", "page 4", 1)
	f.store.AppendConversation("kid", session.ConversationEntry{Role: "user", Content: "good morning"})

	_, err := f.engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: router.TriggerConversation, Text: "hello buddy"})
	require.NoError(t, err)
	_, err = f.engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: router.TriggerConversation, Text: "i like dinosaurs a lot"})
	require.NoError(t, err)

	p := f.gen.last()
	assert.Contains(t, p.Context, "Homework still to do: math.")
	require.Len(t, p.History, 3, "only the newest three entries")
	assert.Equal(t, "assistant", p.History[2].Role)
}

func TestConversationCompletesMentionedHomework(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tasks.Add("kid", "math", "", 1)
	f.tasks.Add("kid", "english", "", 1)

	res, err := f.engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: "conversation", Text: "I finished my math!"})
	require.NoError(t, err)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, "math", res.Completed[0].Subject)
	assert.Contains(t, res.ExecutionPath, "homework_completion_check")
	assert.Contains(t, f.gen.last().Context, "The child just finished: math.")
	require.Len(t, f.tasks.Valid("kid"), 1)

	res, err = f.engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: "conversation", Text: "I finished english too"})
	require.NoError(t, err)
	assert.Empty(t, res.Completed, "second check inside the throttle window is skipped")
}

func TestSearchAugmentsContext(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.HandleTurn(context.Background(), TurnRequest{EntityID: "kid", Text: "can you look up the weather"})
	require.NoError(t, err)
	assert.Equal(t, classify.LabelSearch, res.Label)
	assert.Contains(t, res.ExecutionPath, "search")
	assert.Contains(t, f.gen.last().Context, "Search results: Sunny and warm")
}

func TestFactQueryCapturesKnowledge(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.HandleTurn(context.Background(), TurnRequest{EntityID: "kid", Text: "What is a volcano?"})
	require.NoError(t, err)
	assert.Equal(t, "volcano", res.NewKnowledge)

	item, ok := f.sched.FindByContent("kid", "Volcano")
	require.True(t, ok)
	assert.Equal(t, session.KindConcept, item.Type)
	assert.Equal(t, []string{"volcano"}, f.store.Progress("kid").LastNewKnowledge)
}

func TestCrisisTextSkipsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := TurnRequest{EntityID: "kid", Text: "I want to die, my homework is too hard"}

	res, err := f.engine.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, classify.LabelCareNeeded, res.Label)
	assert.Equal(t, careSystemPrompt, f.gen.last().System)

	res, err = f.engine.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 2, f.gen.calls())
}

func TestHomeworkReminderBranch(t *testing.T) {
	f := newFixture(t)
	f.tasks.Add("kid", "science", "", 2)

	res, err := f.engine.HandleTurn(context.Background(), TurnRequest{EntityID: "kid", Trigger: router.TriggerRemind})
	require.NoError(t, err)
	assert.Equal(t, router.BranchHomeworkReminder, res.Branch)
	require.NotNil(t, res.Reminder)
	assert.Equal(t, tasks.ReminderPending, res.Reminder.Status)
	assert.Contains(t, res.Response, "science (2 days left)")
	assert.Zero(t, f.gen.calls())
}

func TestPracticeBranchResumesFromProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := TurnRequest{EntityID: "kid", Trigger: router.TriggerPractice, Interests: []string{"music"}}

	var stages []dialogue.Stage
	for i := 0; i < 4; i++ {
		res, err := f.engine.HandleTurn(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, res.Practice)
		stages = append(stages, res.Practice.Stage)
		req.Text = "I play the piano"
	}
	assert.Equal(t, []dialogue.Stage{dialogue.StageQuestion, dialogue.StageFollowup, dialogue.StageFollowup, dialogue.StageSummarize}, stages)

	progress := f.store.Progress("kid")
	assert.Equal(t, 4, progress.PracticeCount)
	require.NotNil(t, progress.LastPracticeAt)
	assert.Equal(t, string(dialogue.ScenarioInterests), progress.LastScenario)

	res, err := f.engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: router.TriggerPractice})
	require.NoError(t, err)
	assert.Equal(t, dialogue.StageQuestion, res.Practice.Stage, "finished practice starts over")
}

func TestPracticeResumesScenarioAndTopicAfterConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: router.TriggerPractice, Interests: []string{"music"}})
	require.NoError(t, err)
	require.NotNil(t, first.Practice)
	require.NotEmpty(t, first.Practice.Topic)
	assert.Equal(t, dialogue.ScenarioInterests, first.Practice.Scenario)

	_, err = f.engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: router.TriggerConversation, Text: "tell me a story about a fox"})
	require.NoError(t, err)
	progress := f.store.Progress("kid")
	assert.Equal(t, string(classify.LabelChat), progress.LastScenario)
	assert.Equal(t, string(dialogue.ScenarioInterests), progress.PracticeScenario)
	assert.Equal(t, first.Practice.Topic, progress.PracticeTopic)

	resumed, err := f.engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: router.TriggerPractice, Text: "I sing every day"})
	require.NoError(t, err)
	require.NotNil(t, resumed.Practice)
	assert.Equal(t, dialogue.StageFollowup, resumed.Practice.Stage)
	assert.Equal(t, dialogue.ScenarioInterests, resumed.Practice.Scenario)
	assert.Equal(t, first.Practice.Topic, resumed.Practice.Topic)
	assert.Contains(t, f.gen.last().User, first.Practice.Topic)
}

func TestConcurrentPracticeTurnsCountEveryTurn(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.HandleTurn(context.Background(), TurnRequest{
				EntityID: "kid",
				Trigger:  router.TriggerPractice,
				Text:     "I like drums",
				Practice: &dialogue.State{Stage: dialogue.StageFollowup, Scenario: dialogue.ScenarioInterests, Topic: "music", TurnCount: 1},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, f.store.Progress("kid").PracticeCount)
}

func TestPracticeExplicitSummarizeIsTerminal(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.HandleTurn(context.Background(), TurnRequest{
		EntityID: "kid",
		Trigger:  router.TriggerPractice,
		Practice: &dialogue.State{Stage: dialogue.StageSummarize, TurnCount: 4},
	})
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Equal(t, dialogue.ClosingLine, res.Response)
	assert.Zero(t, f.gen.calls())
	assert.Zero(t, f.store.Progress("kid").PracticeCount)
}

func TestCollaboratorFailuresDegrade(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("llm timeout")
	f.deps.Synthesizer = failingSynth{}
	engine := NewEngine(Config{FallbackText: "Say that again?"}, f.deps)

	res, err := engine.HandleTurn(context.Background(), TurnRequest{EntityID: "kid", Age: 14, AudioRef: "text: hello there", Trigger: router.TriggerRealtimeCall})
	require.NoError(t, err)
	assert.Equal(t, router.BranchRealtimeCall, res.Branch)
	assert.Equal(t, "hello there", res.UserText)
	assert.True(t, res.Fallback)
	assert.Equal(t, "Say that again?", res.Response)
	assert.Empty(t, res.Audio)
	assert.Equal(t, DefaultAdultVoice, res.Voice)
}

type cancelingGenerator struct{ cancel context.CancelFunc }

func (g cancelingGenerator) Generate(_ context.Context, p voice.Prompt) (string, error) {
	g.cancel()
	return "reply to: " + p.User, nil
}

type ctxRecordingArchive struct {
	*archive.InMemoryStore
	mu          sync.Mutex
	errs        []error
	hasDeadline bool
}

func (a *ctxRecordingArchive) SaveTurn(ctx context.Context, entry archive.Entry) error {
	a.mu.Lock()
	a.errs = append(a.errs, ctx.Err())
	_, a.hasDeadline = ctx.Deadline()
	a.mu.Unlock()
	return a.InMemoryStore.SaveTurn(ctx, entry)
}

func TestArchiveSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arch := &ctxRecordingArchive{InMemoryStore: archive.NewInMemoryStore(0)}
	deps := f.deps
	deps.Generator = cancelingGenerator{cancel: cancel}
	deps.Archive = arch
	engine := NewEngine(Config{}, deps)

	res, err := engine.HandleTurn(ctx, TurnRequest{EntityID: "kid", Trigger: router.TriggerConversation, Text: "tell me a story about a fox"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	arch.mu.Lock()
	assert.Equal(t, []error{nil, nil}, arch.errs)
	assert.True(t, arch.hasDeadline)
	arch.mu.Unlock()

	saved, err := arch.Recent(context.Background(), "kid", 0)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, res.TurnID, saved[1].TurnID)
}

func TestActiveCareUsesHistory(t *testing.T) {
	f := newFixture(t)
	f.store.AppendConversation("kid", session.ConversationEntry{Role: "user", Content: "my dog is sick"})

	res, err := f.engine.HandleTurn(context.Background(), TurnRequest{EntityID: "kid", Trigger: router.TriggerCare})
	require.NoError(t, err)
	assert.Equal(t, router.BranchActiveCare, res.Branch)
	p := f.gen.last()
	assert.Equal(t, careSystemPrompt, p.System)
	require.Len(t, p.History, 1)
	assert.Equal(t, "my dog is sick", p.History[0].Content)
}

func TestExtractConcept(t *testing.T) {
	cases := map[string]string{
		"What is a volcano?":                 "volcano",
		"what's an octopus":                  "octopus",
		"hey what are black holes?":          "black holes",
		"what is the thing you said earlier": "",
		"how are you":                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, extractConcept(in), in)
	}
}
