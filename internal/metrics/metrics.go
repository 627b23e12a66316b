// Package metrics exposes Prometheus instrumentation for the assistant core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jarvis"

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_captured_total",
		Help:      "Frames emitted by the capture scheduler.",
	}, []string{"mode"})
	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames discarded before analysis.",
	}, []string{"reason"})
	analysisCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analysis_calls_total",
		Help:      "Collaborator calls issued by the analysis dispatcher.",
	}, []string{"branch", "outcome"})
	analysisInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "analysis_in_flight",
		Help:      "1 while an analysis request holds the single-flight guard.",
	})
	listening = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "voice_listening",
		Help:      "1 while a speech recognition session is listening.",
	})
	staleResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_results_total",
		Help:      "Analysis results discarded because the mode changed while in flight.",
	})
	modeSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mode_switches_total",
		Help:      "Mode transitions by target mode.",
	}, []string{"mode"})
	flowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flow_runs_total",
		Help:      "Workflow runs by flow and terminal status.",
	}, []string{"flow", "status"})
	logEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_entries_total",
		Help:      "Entries appended to the log stream.",
	}, []string{"sender"})
	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_stream_clients",
		Help:      "Connected WebSocket log stream clients.",
	})
)

// Frame drop reasons.
const (
	DropInFlight      = "in_flight"
	DropInboxOverride = "inbox_overwrite"
)

func RecordFrameCaptured(mode string) { framesCaptured.WithLabelValues(mode).Inc() }

func RecordFrameDropped(reason string) { framesDropped.WithLabelValues(reason).Inc() }

// RecordAnalysisCall counts one collaborator call; outcome is "ok", "empty" or "error".
func RecordAnalysisCall(branch, outcome string) {
	analysisCalls.WithLabelValues(branch, outcome).Inc()
}

func SetAnalysisInFlight(busy bool) {
	if busy {
		analysisInFlight.Set(1)
		return
	}
	analysisInFlight.Set(0)
}

func SetListening(active bool) {
	if active {
		listening.Set(1)
		return
	}
	listening.Set(0)
}

func RecordStaleResult() { staleResults.Inc() }

func RecordModeSwitch(mode string) { modeSwitches.WithLabelValues(mode).Inc() }

func RecordFlowRun(flow, status string) { flowRuns.WithLabelValues(flow, status).Inc() }

func RecordLogEntry(sender string) { logEntries.WithLabelValues(sender).Inc() }

func StreamClientConnected()    { streamClients.Inc() }
func StreamClientDisconnected() { streamClients.Dec() }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
