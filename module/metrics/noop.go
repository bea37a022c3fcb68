package metrics

import (
	"github.com/quorumnet/llmq/model/llmq"
)

// NoopCollector satisfies all metrics interfaces while doing nothing. Used
// in tests and in tools that do not expose metrics.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (nc *NoopCollector) PendingMessages(llmqType llmq.Type, kind string, length uint) {}
func (nc *NoopCollector) MessageDropped(llmqType llmq.Type, kind string)               {}
func (nc *NoopCollector) RoundStarted(llmqType llmq.Type)                              {}
func (nc *NoopCollector) PhaseAdvanced(llmqType llmq.Type, phase llmq.Phase)           {}
func (nc *NoopCollector) LockAccepted(height int32)                                    {}
func (nc *NoopCollector) LockConflict()                                                {}
func (nc *NoopCollector) SignRequested()                                               {}
func (nc *NoopCollector) LockEnforced()                                                {}
