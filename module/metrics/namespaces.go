package metrics

// Prometheus metric namespaces.
const (
	namespaceDKG       = "dkg"
	namespaceChainLock = "chainlock"
)

// Metric label names.
const (
	LabelLLMQType    = "llmq_type"
	LabelMessageKind = "kind"
	LabelPhase       = "phase"
)
