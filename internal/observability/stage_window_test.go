package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowReportsStagesInTurnOrder(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageTurnTotal, 100)
	w.Observe(StageToolCall, 3)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		w.Observe(StageModelCall, v)
	}

	stages := w.Stages()
	if len(stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(stages))
	}
	order := []string{stages[0].Stage, stages[1].Stage, stages[2].Stage}
	want := []string{StageModelCall, StageToolCall, StageTurnTotal}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("stage order = %v, want %v", order, want)
		}
	}

	model := stages[0]
	if model.Samples != 5 || model.P50MS != 30 || model.P95MS != 50 || model.AvgMS != 30 || model.LastMS != 50 {
		t.Fatalf("unexpected model_call stats: %+v", model)
	}
	if model.TargetP95MS != 4000 || model.OverTarget {
		t.Fatalf("model_call target = %v over = %v, want 4000 false", model.TargetP95MS, model.OverTarget)
	}
	if tool := stages[1]; tool.OverTarget {
		t.Fatalf("tool_call 3ms reported over its 20ms target")
	}
}

func TestStageWindowFlagsStagesOverTarget(t *testing.T) {
	w := newStageWindow(4)
	w.Observe(StageToolCall, 45)
	if got := w.Stages()[0]; !got.OverTarget {
		t.Fatalf("tool_call at 45ms not flagged over target: %+v", got)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := newStageWindow(3)
	for _, v := range []float64{100, 100, 100, 1, 2, 3} {
		w.Observe(StageTurnTotal, v)
	}
	stages := w.Stages()
	if len(stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(stages))
	}
	if got := stages[0]; got.Samples != 3 || got.P95MS != 3 || got.LastMS != 3 {
		t.Fatalf("old samples were not evicted: %+v", got)
	}
}

func TestStageWindowIgnoresInvalidSamples(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("", 5)
	w.Observe("checkout", 5)
	w.Observe(StageToolCall, -1)
	if stages := w.Stages(); len(stages) != 0 {
		t.Fatalf("expected no stages, got %+v", stages)
	}
}

func TestMetricsSnapshotCountsIndicators(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("observability_test_%d", time.Now().UnixNano()))
	m.ObserveIndicator("tool_round_cap_hit")
	m.ObserveIndicator("model_degraded")
	m.ObserveIndicator("tool_round_cap_hit")
	m.ObserveIndicator("  ")
	m.ObserveStage(StageModelCall, 12*time.Millisecond)

	snap := m.SnapshotStages()
	if snap.WindowSize != 256 {
		t.Fatalf("WindowSize = %d, want 256", snap.WindowSize)
	}
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StageModelCall {
		t.Fatalf("unexpected stages: %+v", snap.Stages)
	}
	want := []StageIndicator{{Name: "model_degraded", Count: 1}, {Name: "tool_round_cap_hit", Count: 2}}
	if len(snap.Indicators) != len(want) {
		t.Fatalf("indicators = %+v, want %+v", snap.Indicators, want)
	}
	for i := range want {
		if snap.Indicators[i] != want[i] {
			t.Fatalf("indicators = %+v, want %+v", snap.Indicators, want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ConversationEvent("created")
	m.ObserveToolCall("get_cart", "ok")
	m.ObserveTurn("ok", 1, 0)
	m.ObserveIndicator("model_degraded")
	if snap := m.SnapshotStages(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot has stages: %+v", snap.Stages)
	}
}
