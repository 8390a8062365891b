package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// StageStats summarizes recent latency samples for one stage of a chat turn.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms"`
	OverTarget  bool    `json:"over_target"`
}

type StageIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []StageStats     `json:"stages"`
	Indicators  []StageIndicator `json:"indicators,omitempty"`
}

// chatStages are the stages of a turn in the order they happen, each with
// the p95 it should stay under.
var chatStages = []struct {
	name        string
	targetP95MS float64
}{
	{StageHistoryLoaded, 5},
	{StageModelCall, 4000},
	{StageToolCall, 20},
	{StageTurnTotal, 12000},
}

// latencySeries holds the most recent samples of one stage.
type latencySeries struct {
	samples []float64
	pos     int
	count   int
	last    float64
}

func (s *latencySeries) add(ms float64) {
	s.samples[s.pos] = ms
	s.pos = (s.pos + 1) % len(s.samples)
	if s.count < len(s.samples) {
		s.count++
	}
	s.last = ms
}

func (s *latencySeries) stats(stage string, target float64) StageStats {
	sorted := append([]float64(nil), s.samples[:s.count]...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	p95 := nearestRank(sorted, 0.95)
	return StageStats{
		Stage:       stage,
		Samples:     s.count,
		LastMS:      round2(s.last),
		AvgMS:       round2(sum / float64(s.count)),
		P50MS:       round2(nearestRank(sorted, 0.50)),
		P95MS:       round2(p95),
		TargetP95MS: target,
		OverTarget:  p95 > target,
	}
}

// stageWindow keeps the last size samples of every chat stage. Samples for
// stages outside chatStages are dropped.
type stageWindow struct {
	mu     sync.Mutex
	size   int
	series map[string]*latencySeries
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	series := make(map[string]*latencySeries, len(chatStages))
	for _, st := range chatStages {
		series[st.name] = &latencySeries{samples: make([]float64, size)}
	}
	return &stageWindow{size: size, series: series}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.series[stage]; ok {
		s.add(ms)
	}
}

// Stages reports every stage with at least one sample, in turn order.
func (w *stageWindow) Stages() []StageStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]StageStats, 0, len(chatStages))
	for _, st := range chatStages {
		s := w.series[st.name]
		if s.count == 0 {
			continue
		}
		out = append(out, s.stats(st.name, st.targetP95MS))
	}
	return out
}

func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
