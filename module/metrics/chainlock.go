package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ChainLockCollector instruments the chain-lock coordinator.
type ChainLockCollector struct {
	bestLockHeight prometheus.Gauge
	locksAccepted  prometheus.Counter
	lockConflicts  prometheus.Counter
	signRequests   prometheus.Counter
	locksEnforced  prometheus.Counter
}

// NewChainLockCollector creates and registers the chain-lock metrics.
func NewChainLockCollector(registerer prometheus.Registerer) *ChainLockCollector {
	bestLockHeight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespaceChainLock,
		Name:      "best_lock_height",
		Help:      "height of the best known chain lock",
	})
	locksAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceChainLock,
		Name:      "locks_accepted_total",
		Help:      "number of chain locks accepted as the new best",
	})
	lockConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceChainLock,
		Name:      "lock_conflicts_total",
		Help:      "number of conflicting chain locks detected",
	})
	signRequests := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceChainLock,
		Name:      "sign_requests_total",
		Help:      "number of chain-lock signing requests initiated",
	})
	locksEnforced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceChainLock,
		Name:      "locks_enforced_total",
		Help:      "number of reorganizations triggered to enforce a chain lock",
	})
	registerer.MustRegister(bestLockHeight, locksAccepted, lockConflicts, signRequests, locksEnforced)

	return &ChainLockCollector{
		bestLockHeight: bestLockHeight,
		locksAccepted:  locksAccepted,
		lockConflicts:  lockConflicts,
		signRequests:   signRequests,
		locksEnforced:  locksEnforced,
	}
}

// LockAccepted counts an accepted chain lock and records its height.
func (cc *ChainLockCollector) LockAccepted(height int32) {
	cc.locksAccepted.Inc()
	cc.bestLockHeight.Set(float64(height))
}

// LockConflict counts a detected conflicting chain lock.
func (cc *ChainLockCollector) LockConflict() {
	cc.lockConflicts.Inc()
}

// SignRequested counts an initiated signing request.
func (cc *ChainLockCollector) SignRequested() {
	cc.signRequests.Inc()
}

// LockEnforced counts a reorganization triggered by chain-lock enforcement.
func (cc *ChainLockCollector) LockEnforced() {
	cc.locksEnforced.Inc()
}
