package chainlock

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/module"
	"github.com/quorumnet/llmq/module/component"
	"github.com/quorumnet/llmq/module/counters"
	"github.com/quorumnet/llmq/module/irrecoverable"
)

const (
	// DefaultCleanupInterval is how often the scheduler runs: expired store
	// entries are dropped and the signing decision is re-evaluated. Cleanup
	// runs on a timer, not on every event, to bound its cost.
	DefaultCleanupInterval = 30 * time.Second

	// DefaultWaitForFastFinality bounds how long we wait for all of a
	// block's transactions to be individually fast-finalized before signing
	// the block anyway.
	DefaultWaitForFastFinality = 10 * time.Minute

	// signRetryBase is the initial backoff between signing request retries.
	signRetryBase = time.Second

	// signRetryMax is the maximum number of signing request retries.
	signRetryMax = 8

	// recentLockCacheSize bounds the cache of recently accepted locks served
	// to peers requesting them by hash.
	recentLockCacheSize = 256
)

// chainLockRequestPrefix namespaces chain-lock signing request ids within
// the threshold-signing collaborator.
const chainLockRequestPrefix = "clsig"

// ChainLockRequestID derives the signing request id for the given height.
func ChainLockRequestID(height int32) llmq.Identifier {
	buf := make([]byte, len(chainLockRequestPrefix)+4)
	copy(buf, chainLockRequestPrefix)
	binary.LittleEndian.PutUint32(buf[len(chainLockRequestPrefix):], uint32(height))
	return llmq.HashToID(buf)
}

// Config holds the timing parameters of a Coordinator.
type Config struct {
	CleanupInterval     time.Duration
	WaitForFastFinality time.Duration
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:     DefaultCleanupInterval,
		WaitForFastFinality: DefaultWaitForFastFinality,
	}
}

// Coordinator reacts to chain-tip and mempool events, decides when to
// request a chain-lock signature for the tip, enforces the best known chain
// lock against local chain state, and answers mining- and relay-safety
// queries. One instance exists for the process lifetime.
//
// The Coordinator implements module.RecoveredSigListener and expects to be
// subscribed to the signing collaborator's recovered-signature notifications.
type Coordinator struct {
	log     zerolog.Logger
	metrics module.ChainLockMetrics
	config  Config

	store        *Store
	chain        module.BlockInfoProvider
	signer       module.ChainLockSigner
	verifier     module.ChainLockVerifier
	reorg        module.Reorganizer
	fastFinality module.FastFinalityOracle
	conflicts    module.ConflictReporter

	// recently accepted locks by announcement hash, for serving peer
	// requests after a newer best has replaced them
	recentLocks *lru.Cache

	mu                  sync.Mutex
	enabled             bool
	tip                 llmq.BlockContext
	lastSignedRequestID llmq.Identifier
	lastSignedMsgHash   llmq.Identifier

	// lastSignedHeight only ever increases: each height is requested for
	// signing at most once
	lastSignedHeight counters.StrictMonotonicCounter

	eventNotifier module.Notifier

	cm *component.ComponentManager
	component.Component
}

var _ module.RecoveredSigListener = (*Coordinator)(nil)

// NewCoordinator wires a Coordinator to its collaborators. The enabled flag
// gates all signing and enforcement activity (chain locks activate via
// spork); queries remain answerable while disabled.
func NewCoordinator(
	log zerolog.Logger,
	metrics module.ChainLockMetrics,
	config Config,
	store *Store,
	chain module.BlockInfoProvider,
	signer module.ChainLockSigner,
	verifier module.ChainLockVerifier,
	reorg module.Reorganizer,
	fastFinality module.FastFinalityOracle,
	conflicts module.ConflictReporter,
	enabled bool,
) (*Coordinator, error) {

	recentLocks, err := lru.New(recentLockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create recent lock cache: %w", err)
	}

	c := &Coordinator{
		log:              log.With().Str("component", "chainlock_coordinator").Logger(),
		metrics:          metrics,
		config:           config,
		store:            store,
		chain:            chain,
		signer:           signer,
		verifier:         verifier,
		reorg:            reorg,
		fastFinality:     fastFinality,
		conflicts:        conflicts,
		recentLocks:      recentLocks,
		enabled:          enabled,
		tip:              llmq.BlockContext{Height: -1},
		lastSignedHeight: counters.NewMonotonicCounter(-1),
		eventNotifier:    module.NewNotifier(),
	}

	c.cm = component.NewComponentManagerBuilder().
		AddWorker(c.processEventsLoop).
		AddWorker(c.schedulerLoop).
		Build()
	c.Component = c.cm

	return c, nil
}

// SetEnabled toggles chain-lock signing and enforcement at runtime.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	c.eventNotifier.Notify()
}

func (c *Coordinator) isEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

/* ~~~~~~~~~~~~~~~~~~~~~~~~ chain & mempool hooks ~~~~~~~~~~~~~~~~~~~~~~~~ */

// OnNewTip informs the coordinator that the active chain tip changed. The
// signing decision and lock enforcement are re-evaluated asynchronously on
// the coordinator's own routine.
func (c *Coordinator) OnNewTip(tip llmq.BlockContext) {
	c.mu.Lock()
	c.tip = tip
	c.mu.Unlock()
	c.eventNotifier.Notify()
}

// OnBlockConnected records the transaction set of a connected block for
// mining-safety queries.
func (c *Coordinator) OnBlockConnected(block llmq.BlockContext, txids []llmq.Identifier) {
	firstSeen := block.SeenAt
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	c.store.TrackBlock(block.Hash, txids, firstSeen)
	c.eventNotifier.Notify()
}

// OnBlockDisconnected forgets the transaction set of a disconnected block.
func (c *Coordinator) OnBlockDisconnected(block llmq.BlockContext) {
	c.store.UntrackBlock(block.Hash)
}

// OnTxAddedToMempool records when a transaction was first seen.
func (c *Coordinator) OnTxAddedToMempool(txid llmq.Identifier, seenAt time.Time) {
	c.store.AddMempoolTx(txid, seenAt)
}

// OnHeaderAccepted checks whether the new header is the block locked by the
// current best chain lock; if so, the lock becomes enforceable.
func (c *Coordinator) OnHeaderAccepted(block llmq.BlockContext) {
	if c.store.MarkBlockKnown(block.Hash) {
		c.log.Info().
			Int32("height", block.Height).
			Hex("block_hash", block.Hash[:]).
			Msg("block of best chain lock became known")
		c.eventNotifier.Notify()
	}
}

// OnRecoveredSig receives recovered threshold signatures from the signing
// collaborator. Signatures for our outstanding chain-lock request are turned
// into a chain lock and processed like a received announcement.
func (c *Coordinator) OnRecoveredSig(requestID llmq.Identifier, msgHash llmq.Identifier, signature []byte) {
	c.mu.Lock()
	ours := requestID == c.lastSignedRequestID && msgHash == c.lastSignedMsgHash
	height := int32(c.lastSignedHeight.Value())
	c.mu.Unlock()

	if !ours {
		return
	}

	clsig := llmq.ChainLockSig{
		Height:    height,
		BlockHash: msgHash,
		Signature: signature,
	}
	err := c.ProcessNewChainLock(llmq.ZeroID, clsig)
	if err != nil {
		c.log.Warn().Err(err).Msg("could not process own recovered chain lock")
	}
}

/* ~~~~~~~~~~~~~~~~~~~~~~~~~~ chain lock intake ~~~~~~~~~~~~~~~~~~~~~~~~~~ */

// ProcessNewChainLock validates a chain-lock announcement and records it.
// Duplicate and stale announcements are dropped silently. A verification
// failure is returned to the caller, which may penalize the sending peer.
// A conflicting lock is reported for operator visibility and not enforced.
func (c *Coordinator) ProcessNewChainLock(from llmq.Identifier, clsig llmq.ChainLockSig) error {
	if clsig.IsNull() || clsig.Height < 0 {
		return fmt.Errorf("malformed chain lock: %s", clsig)
	}

	id := clsig.ID()
	if !c.store.MarkSeenLock(id, time.Now()) {
		return nil
	}

	if clsig.Height < c.store.Best().Height {
		c.log.Debug().Str("clsig", clsig.String()).Msg("ignoring stale chain lock")
		return nil
	}

	// verify before taking any state lock: signature checks are slow and
	// must not stall block-connect notifications
	err := c.verifier.VerifyChainLock(clsig)
	if err != nil {
		return fmt.Errorf("invalid chain lock signature from %s: %w", from, err)
	}

	blockHeight, blockKnown := c.chain.BlockHeight(clsig.BlockHash)
	if blockKnown && blockHeight != clsig.Height {
		return fmt.Errorf("chain lock height %d does not match block height %d", clsig.Height, blockHeight)
	}

	outcome := c.store.RecordCandidate(clsig, blockKnown)
	switch outcome {
	case OutcomeAccepted:
		c.recentLocks.Add(id, clsig)
		c.metrics.LockAccepted(clsig.Height)
		c.log.Info().Str("clsig", clsig.String()).Bool("block_known", blockKnown).Msg("accepted new chain lock")
		c.eventNotifier.Notify()
	case OutcomeConflict:
		c.metrics.LockConflict()
		best := c.store.Best()
		c.conflicts.ReportConflict(best, clsig)
		c.log.Warn().
			Str("existing", best.String()).
			Str("conflicting", clsig.String()).
			Hex("from", from[:]).
			Msg("detected conflicting chain lock")
	case OutcomeStale:
		c.log.Debug().Str("clsig", clsig.String()).Msg("ignoring stale chain lock")
	}
	return nil
}

/* ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~ queries ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~ */

// AlreadyHave answers inventory queries: whether the chain lock with the
// given announcement hash has been seen.
func (c *Coordinator) AlreadyHave(id llmq.Identifier) bool {
	return c.store.HasSeenLock(id) || c.recentLocks.Contains(id)
}

// GetChainLockByHash returns the chain lock with the given announcement
// hash, if it is the current best or still cached.
func (c *Coordinator) GetChainLockByHash(id llmq.Identifier) (llmq.ChainLockSig, bool) {
	best := c.store.Best()
	if !best.IsNull() && best.ID() == id {
		return best, true
	}
	cached, ok := c.recentLocks.Get(id)
	if !ok {
		return llmq.NullChainLockSig(), false
	}
	return cached.(llmq.ChainLockSig), true
}

// GetBestChainLock returns the best known chain lock, or the null sentinel.
func (c *Coordinator) GetBestChainLock() llmq.ChainLockSig {
	return c.store.Best()
}

// HasChainLock returns true if the enforceable chain lock covers the given
// block.
func (c *Coordinator) HasChainLock(height int32, blockHash llmq.Identifier) bool {
	return c.store.HasChainLock(height, blockHash)
}

// HasConflictingChainLock returns true if a known chain lock exists at the
// given height for a different block.
func (c *Coordinator) HasConflictingChainLock(height int32, blockHash llmq.Identifier) bool {
	return c.store.HasConflictingChainLock(height, blockHash)
}

// IsTxSafeForMining returns false for a transaction that belongs to a recent
// block which is neither chain-locked nor past its fast-finality window.
// Mining such a transaction's conflicts could double-spend it if the chain
// lock eventually lands on a competing chain.
func (c *Coordinator) IsTxSafeForMining(txid llmq.Identifier) bool {
	if !c.isEnabled() {
		return true
	}

	blockHash, tracked := c.store.TrackedBlockForTx(txid)
	if !tracked {
		return true
	}

	height, known := c.chain.BlockHeight(blockHash)
	if known && c.store.HasChainLock(height, blockHash) {
		return true
	}
	if c.fastFinality.IsLocked(txid) {
		return true
	}

	firstSeen, ok := c.store.TxFirstSeen(txid)
	if !ok {
		return true
	}
	return time.Since(firstSeen) >= c.config.WaitForFastFinality
}

/* ~~~~~~~~~~~~~~~~~~~~~~~~ signing & enforcement ~~~~~~~~~~~~~~~~~~~~~~~~ */

// TrySignChainTip requests a chain-lock signature for the current tip if it
// is eligible: chain locks enabled, the tip above the last height we
// requested, no lock or conflict covering it, and either all of its
// transactions fast-finalized or the bounded wait elapsed. Each height is
// requested at most once.
func (c *Coordinator) TrySignChainTip(ctx context.Context) {
	c.mu.Lock()
	enabled := c.enabled
	tip := c.tip
	c.mu.Unlock()

	if !enabled || !tip.IsSet() {
		return
	}
	if int64(tip.Height) <= c.lastSignedHeight.Value() {
		return
	}
	if c.store.HasChainLock(tip.Height, tip.Hash) {
		return
	}
	if c.store.HasConflictingChainLock(tip.Height, tip.Hash) {
		c.log.Warn().
			Int32("height", tip.Height).
			Hex("block_hash", tip.Hash[:]).
			Msg("tip conflicts with an existing chain lock, not signing")
		return
	}
	if !c.blockReadyToSign(tip) {
		return
	}

	// commit to the request; Set fails if another routine won the race
	if !c.lastSignedHeight.Set(int64(tip.Height)) {
		return
	}
	requestID := ChainLockRequestID(tip.Height)
	c.mu.Lock()
	c.lastSignedRequestID = requestID
	c.lastSignedMsgHash = tip.Hash
	c.mu.Unlock()

	c.metrics.SignRequested()
	c.log.Info().
		Int32("height", tip.Height).
		Hex("block_hash", tip.Hash[:]).
		Msg("requesting chain lock signature for tip")

	backoff := retry.NewExponential(signRetryBase)
	err := retry.Do(ctx, retry.WithMaxRetries(signRetryMax, backoff), func(ctx context.Context) error {
		err := c.signer.RequestSig(ctx, requestID, tip.Hash)
		if err != nil {
			c.log.Warn().Err(err).Msg("chain lock signing request failed, retrying")
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		// no further retry for this height; the next tip supersedes it
		c.log.Error().Err(err).Int32("height", tip.Height).Msg("giving up on chain lock signing request")
	}
}

// blockReadyToSign returns true once every transaction of the tip block has
// reached fast finality, or the bounded wait has elapsed for all remaining
// ones. Blocks without a tracked transaction set (e.g. empty blocks) are
// ready immediately.
func (c *Coordinator) blockReadyToSign(tip llmq.BlockContext) bool {
	txids := c.store.BlockTxs(tip.Hash)
	now := time.Now()
	for _, txid := range txids {
		if c.fastFinality.IsLocked(txid) {
			continue
		}
		firstSeen, ok := c.store.TxFirstSeen(txid)
		if !ok {
			firstSeen = tip.SeenAt
		}
		if now.Sub(firstSeen) < c.config.WaitForFastFinality {
			return false
		}
	}
	return true
}

// EnforceBestChainLock triggers a reorganization towards the locked chain if
// the enforceable chain lock's block is not on the active chain. This is the
// mechanism by which chain locks override longest-chain selection.
func (c *Coordinator) EnforceBestChainLock(ctx context.Context) {
	if !c.isEnabled() {
		return
	}

	best := c.store.BestWithKnownBlock()
	if best.IsNull() {
		return
	}
	if c.chain.IsInActiveChain(best.BlockHash) {
		return
	}

	c.log.Info().Str("clsig", best.String()).Msg("active chain does not contain best chain lock, reorganizing")
	err := c.reorg.ActivateLockedChain(ctx, best)
	if err != nil {
		c.log.Error().Err(err).Str("clsig", best.String()).Msg("could not activate chain-locked chain")
		return
	}
	c.metrics.LockEnforced()
}

/* ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~ workers ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~ */

// processEventsLoop serializes all signing and enforcement reactions to
// chain, mempool, and lock events on one routine.
func (c *Coordinator) processEventsLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	done := ctx.Done()
	events := c.eventNotifier.Channel()
	for {
		select {
		case <-done:
			return
		case <-events:
			c.EnforceBestChainLock(ctx)
			c.TrySignChainTip(ctx)
		}
	}
}

// schedulerLoop periodically drops expired store entries and re-evaluates
// enforcement and the signing decision. The periodic re-evaluation is what
// lets the bounded fast-finality wait expire a tip into signing when the
// chain has stalled and no further events arrive to trigger it.
func (c *Coordinator) schedulerLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.store.Cleanup(time.Now())
			c.EnforceBestChainLock(ctx)
			c.TrySignChainTip(ctx)
		}
	}
}
