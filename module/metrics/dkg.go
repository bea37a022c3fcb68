package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quorumnet/llmq/model/llmq"
)

// DKGCollector instruments the per-quorum-type DKG session handlers.
type DKGCollector struct {
	pendingMessages *prometheus.GaugeVec
	droppedMessages *prometheus.CounterVec
	roundsStarted   *prometheus.CounterVec
	phasesEntered   *prometheus.CounterVec
}

// NewDKGCollector creates and registers the DKG metrics.
func NewDKGCollector(registerer prometheus.Registerer) *DKGCollector {
	pendingMessages := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespaceDKG,
		Name:      "pending_messages",
		Help:      "number of buffered DKG messages awaiting processing",
	}, []string{LabelLLMQType, LabelMessageKind})
	droppedMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceDKG,
		Name:      "dropped_messages_total",
		Help:      "number of inbound DKG messages dropped as duplicate, over quota, or undecodable",
	}, []string{LabelLLMQType, LabelMessageKind})
	roundsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceDKG,
		Name:      "rounds_started_total",
		Help:      "number of DKG rounds started",
	}, []string{LabelLLMQType})
	phasesEntered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceDKG,
		Name:      "phases_entered_total",
		Help:      "number of entries into each DKG phase",
	}, []string{LabelLLMQType, LabelPhase})
	registerer.MustRegister(pendingMessages, droppedMessages, roundsStarted, phasesEntered)

	return &DKGCollector{
		pendingMessages: pendingMessages,
		droppedMessages: droppedMessages,
		roundsStarted:   roundsStarted,
		phasesEntered:   phasesEntered,
	}
}

// PendingMessages reports the current length of one pending message queue.
func (dc *DKGCollector) PendingMessages(llmqType llmq.Type, kind string, length uint) {
	dc.pendingMessages.WithLabelValues(llmqType.String(), kind).Set(float64(length))
}

// MessageDropped counts a rejected inbound DKG message.
func (dc *DKGCollector) MessageDropped(llmqType llmq.Type, kind string) {
	dc.droppedMessages.WithLabelValues(llmqType.String(), kind).Inc()
}

// RoundStarted counts the start of a new DKG round.
func (dc *DKGCollector) RoundStarted(llmqType llmq.Type) {
	dc.roundsStarted.WithLabelValues(llmqType.String()).Inc()
}

// PhaseAdvanced counts entry into a DKG phase.
func (dc *DKGCollector) PhaseAdvanced(llmqType llmq.Type, phase llmq.Phase) {
	dc.phasesEntered.WithLabelValues(llmqType.String(), phase.String()).Inc()
}
