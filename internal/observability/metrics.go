package observability

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat turn stages recorded in the rolling latency window.
const (
	StageHistoryLoaded = "history_loaded"
	StageModelCall     = "model_call"
	StageToolCall      = "tool_call"
	StageTurnTotal     = "turn_total"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveConversations prometheus.Gauge
	ConversationEvents  *prometheus.CounterVec
	ChatTurns           *prometheus.CounterVec
	ToolCalls           *prometheus.CounterVec
	ModelErrors         *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	ToolRounds          prometheus.Histogram
	TurnLatency         prometheus.Histogram
	TurnIndicators      *prometheus.CounterVec

	stages *stageWindow

	// indicatorCounts mirrors TurnIndicators for the latency snapshot.
	indicatorMu     sync.Mutex
	indicatorCounts map[string]int
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of conversations currently held in the session store.",
		}),
		ConversationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation lifecycle events by type.",
		}, []string{"event"}),
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Model-requested tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ModelErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Chat model errors by provider and code.",
		}, []string{"provider", "code"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ToolRounds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_rounds",
			Help:      "Tool-call rounds needed to produce a reply.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
		}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Latency of a full chat turn in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		TurnIndicators: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_indicators_total",
			Help:      "Notable chat turn conditions such as degraded replies or hitting the tool round cap.",
		}, []string{"indicator"}),
		stages:          newStageWindow(256),
		indicatorCounts: make(map[string]int),
	}
}

func (m *Metrics) ConversationEvent(event string) {
	if m == nil {
		return
	}
	m.ConversationEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveConversations(n int) {
	if m == nil {
		return
	}
	m.ActiveConversations.Set(float64(n))
}

func (m *Metrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) ObserveModelError(provider, code string) {
	if m == nil {
		return
	}
	m.ModelErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// ObserveTurn records the outcome, tool rounds and total latency of a turn.
func (m *Metrics) ObserveTurn(outcome string, rounds int, d time.Duration) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(outcome).Inc()
	m.ToolRounds.Observe(float64(rounds))
	m.TurnLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageTurnTotal, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if m == nil || name == "" {
		return
	}
	m.TurnIndicators.WithLabelValues(name).Inc()
	m.indicatorMu.Lock()
	m.indicatorCounts[name]++
	m.indicatorMu.Unlock()
}

// SnapshotStages reports recent per-stage latency and indicator counts.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}

	m.indicatorMu.Lock()
	indicators := make([]StageIndicator, 0, len(m.indicatorCounts))
	for name, count := range m.indicatorCounts {
		indicators = append(indicators, StageIndicator{Name: name, Count: count})
	}
	m.indicatorMu.Unlock()
	sort.Slice(indicators, func(i, j int) bool { return indicators[i].Name < indicators[j].Name })

	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  m.stages.size,
		Stages:      m.stages.Stages(),
		Indicators:  indicators,
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
