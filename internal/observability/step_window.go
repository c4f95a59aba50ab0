package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

type StepStats struct {
	Step        string  `json:"step"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StepSnapshot struct {
	GeneratedAt time.Time   `json:"generated_at"`
	WindowSize  int         `json:"window_size"`
	Steps       []StepStats `json:"steps"`
	Indicators  []Indicator `json:"indicators,omitempty"`
}

// stepTargets are p95 budgets in milliseconds. Core steps are in-process;
// collaborator steps include a network round trip.
var stepTargets = map[string]float64{
	"classify":   5,
	"route":      5,
	"cache":      5,
	"transcribe": 800,
	"generate":   1500,
	"synthesize": 700,
	"turn_total": 3000,
}

// StepWindow keeps the most recent latencies per turn step and plain counters
// for named indicators such as cache hits.
type StepWindow struct {
	mu         sync.RWMutex
	limit      int
	series     map[string]*series
	indicators map[string]int
}

// series holds samples oldest first with their running sum.
type series struct {
	samples []float64
	sum     float64
}

func (s *series) push(v float64, limit int) {
	if len(s.samples) >= limit {
		s.sum -= s.samples[0]
		s.samples = append(s.samples[:0], s.samples[1:]...)
	}
	s.samples = append(s.samples, v)
	s.sum += v
}

func (s *series) stats(step string) StepStats {
	n := len(s.samples)
	sorted := slices.Sorted(slices.Values(s.samples))
	return StepStats{
		Step:        step,
		Samples:     n,
		LastMS:      round2(s.samples[n-1]),
		AvgMS:       round2(s.sum / float64(n)),
		P50MS:       round2(nearestRank(sorted, 50)),
		P95MS:       round2(nearestRank(sorted, 95)),
		TargetP95MS: stepTargets[step],
	}
}

func NewStepWindow(limit int) *StepWindow {
	if limit <= 0 {
		limit = 256
	}
	return &StepWindow{
		limit:      limit,
		series:     make(map[string]*series),
		indicators: make(map[string]int),
	}
}

func (w *StepWindow) Observe(step string, ms float64) {
	if w == nil || step == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.series[step]
	if s == nil {
		s = &series{samples: make([]float64, 0, w.limit)}
		w.series[step] = s
	}
	s.push(ms, w.limit)
}

func (w *StepWindow) ObserveDuration(step string, d time.Duration) {
	w.Observe(step, float64(d.Microseconds())/1000)
}

func (w *StepWindow) ObserveIndicator(name string) {
	if name = strings.TrimSpace(name); w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

// Snapshot reports steps and indicators sorted by name.
func (w *StepWindow) Snapshot() StepSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StepSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.limit,
		Steps:       make([]StepStats, 0, len(w.series)),
	}
	for _, step := range slices.Sorted(maps.Keys(w.series)) {
		if s := w.series[step]; len(s.samples) > 0 {
			snap.Steps = append(snap.Steps, s.stats(step))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func (w *StepWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.series)
	clear(w.indicators)
}

// nearestRank returns the smallest sample with at least pct percent of the
// samples at or below it.
func nearestRank(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (pct*len(sorted) + 99) / 100
	return sorted[max(rank, 1)-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
