package chainlock

import (
	"sync"
	"time"

	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/module"
)

const (
	// SeenLockTTL is how long a chain-lock announcement hash is remembered
	// for deduplication.
	SeenLockTTL = 24 * time.Hour

	// BlockTxTTL is how long the transaction set of a connected block is
	// retained for mining-safety queries.
	BlockTxTTL = 24 * time.Hour
)

// Outcome is the result of recording a candidate chain lock.
type Outcome uint8

const (
	// OutcomeAccepted means the candidate became (or already was) the best
	// chain lock.
	OutcomeAccepted Outcome = iota

	// OutcomeConflict means a chain lock for the same height but a different
	// block already exists. Conflicts are reported, never overwritten.
	OutcomeConflict

	// OutcomeStale means the candidate is below the best chain lock height.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeConflict:
		return "conflict"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// trackedBlock is the transaction set of one recently connected block.
type trackedBlock struct {
	txids     map[llmq.Identifier]struct{}
	firstSeen time.Time
}

// Store tracks the best known chain lock and the transaction sets of recent
// blocks. It lives in memory for the process lifetime; after a restart the
// best lock is re-derived from announced locks.
//
// All state is guarded by one mutex. The lock is never held across calls
// into the chain-state collaborator or cryptographic verification.
type Store struct {
	mu    sync.Mutex
	chain module.BlockInfoProvider

	// best is the highest validated chain lock, regardless of whether its
	// block is known locally. bestKnownBlock is the highest lock whose block
	// is present in local chain state; only this one is enforced.
	best           llmq.ChainLockSig
	bestKnownBlock llmq.ChainLockSig

	seenLocks   map[llmq.Identifier]time.Time
	blockTxs    map[llmq.Identifier]*trackedBlock
	txFirstSeen map[llmq.Identifier]time.Time
}

// NewStore creates an empty store reading block metadata from the given
// chain-state view.
func NewStore(chain module.BlockInfoProvider) *Store {
	return &Store{
		chain:          chain,
		best:           llmq.NullChainLockSig(),
		bestKnownBlock: llmq.NullChainLockSig(),
		seenLocks:      make(map[llmq.Identifier]time.Time),
		blockTxs:       make(map[llmq.Identifier]*trackedBlock),
		txFirstSeen:    make(map[llmq.Identifier]time.Time),
	}
}

// RecordCandidate applies an already-verified chain lock to the store.
// The best height is monotonically non-decreasing: a candidate above the
// current best is accepted, an identical re-submission is accepted
// idempotently, a same-height candidate for a different block is a conflict,
// and anything below the best height is stale.
//
// blockKnown indicates whether the lock's block is present in local chain
// state; only then does the lock become eligible for enforcement.
func (s *Store) RecordCandidate(clsig llmq.ChainLockSig, blockKnown bool) Outcome {
	if clsig.Height < 0 {
		return OutcomeStale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if clsig.Height < s.best.Height {
		return OutcomeStale
	}
	if clsig.Height == s.best.Height && !s.best.IsNull() {
		if clsig.BlockHash != s.best.BlockHash {
			return OutcomeConflict
		}
		// idempotent re-acceptance; the block may have become known since
		if blockKnown {
			s.bestKnownBlock = s.best
		}
		return OutcomeAccepted
	}

	s.best = clsig
	if blockKnown {
		s.bestKnownBlock = clsig
	}
	return OutcomeAccepted
}

// MarkBlockKnown promotes the best chain lock to enforceable if the given
// block is the one it locks. Returns true if the promotion happened.
func (s *Store) MarkBlockKnown(blockHash llmq.Identifier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.best.IsNull() || s.best.BlockHash != blockHash {
		return false
	}
	if s.bestKnownBlock.Height == s.best.Height {
		return false
	}
	s.bestKnownBlock = s.best
	return true
}

// Best returns the best known chain lock, or the null sentinel.
func (s *Store) Best() llmq.ChainLockSig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.best
}

// BestWithKnownBlock returns the best chain lock whose block is known
// locally, or the null sentinel. This is the lock enforced against the
// active chain.
func (s *Store) BestWithKnownBlock() llmq.ChainLockSig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestKnownBlock
}

// HasChainLock returns true if the enforceable chain lock covers the given
// block: either it locks that exact block, or the block is the locked
// chain's ancestor at the given height.
func (s *Store) HasChainLock(height int32, blockHash llmq.Identifier) bool {
	s.mu.Lock()
	best := s.bestKnownBlock
	s.mu.Unlock()

	if best.IsNull() || height > best.Height {
		return false
	}
	if height == best.Height {
		return blockHash == best.BlockHash
	}
	ancestor, ok := s.chain.AncestorAt(best.BlockHash, height)
	return ok && ancestor == blockHash
}

// HasConflictingChainLock returns true if a known chain lock exists at the
// given height for a different block than the one queried.
func (s *Store) HasConflictingChainLock(height int32, blockHash llmq.Identifier) bool {
	s.mu.Lock()
	best := s.bestKnownBlock
	s.mu.Unlock()

	if best.IsNull() || height > best.Height {
		return false
	}
	if height == best.Height {
		return blockHash != best.BlockHash
	}
	ancestor, ok := s.chain.AncestorAt(best.BlockHash, height)
	return ok && ancestor != blockHash
}

// MarkSeenLock records the first sighting of a chain-lock announcement.
// Returns true if this was the first time the hash was seen.
func (s *Store) MarkSeenLock(id llmq.Identifier, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seenLocks[id]; ok {
		return false
	}
	s.seenLocks[id] = now
	return true
}

// HasSeenLock returns true if the chain-lock announcement hash was seen and
// has not yet been cleaned up.
func (s *Store) HasSeenLock(id llmq.Identifier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.seenLocks[id]
	return ok
}

// TrackBlock records the transaction set of a newly connected block.
// Transactions keep the first-seen time recorded when they entered the
// mempool; transactions seen for the first time in the block get the block's
// time.
func (s *Store) TrackBlock(blockHash llmq.Identifier, txids []llmq.Identifier, firstSeen time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked := &trackedBlock{
		txids:     make(map[llmq.Identifier]struct{}, len(txids)),
		firstSeen: firstSeen,
	}
	for _, txid := range txids {
		tracked.txids[txid] = struct{}{}
		if _, ok := s.txFirstSeen[txid]; !ok {
			s.txFirstSeen[txid] = firstSeen
		}
	}
	s.blockTxs[blockHash] = tracked
}

// UntrackBlock forgets a disconnected block's transaction set.
func (s *Store) UntrackBlock(blockHash llmq.Identifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blockTxs, blockHash)
}

// AddMempoolTx records when a transaction was first seen in the mempool.
func (s *Store) AddMempoolTx(txid llmq.Identifier, seenAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txFirstSeen[txid]; !ok {
		s.txFirstSeen[txid] = seenAt
	}
}

// BlockTxs returns a copy of the transaction ids tracked for the given
// block, or nil if the block is not tracked.
func (s *Store) BlockTxs(blockHash llmq.Identifier) []llmq.Identifier {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, ok := s.blockTxs[blockHash]
	if !ok {
		return nil
	}
	txids := make([]llmq.Identifier, 0, len(tracked.txids))
	for txid := range tracked.txids {
		txids = append(txids, txid)
	}
	return txids
}

// TrackedBlockForTx returns the tracked block containing the given
// transaction, if any.
func (s *Store) TrackedBlockForTx(txid llmq.Identifier) (llmq.Identifier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for blockHash, tracked := range s.blockTxs {
		if _, ok := tracked.txids[txid]; ok {
			return blockHash, true
		}
	}
	return llmq.ZeroID, false
}

// TxFirstSeen returns when the given transaction was first observed, in the
// mempool or in a block.
func (s *Store) TxFirstSeen(txid llmq.Identifier) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seenAt, ok := s.txFirstSeen[txid]
	return seenAt, ok
}

// Cleanup drops seen-lock entries, tracked blocks, and transaction
// timestamps that are older than their TTLs. It is idempotent and leaves
// unexpired entries untouched, so call frequency does not affect the result.
func (s *Store) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seenAt := range s.seenLocks {
		if now.Sub(seenAt) >= SeenLockTTL {
			delete(s.seenLocks, id)
		}
	}

	for blockHash, tracked := range s.blockTxs {
		if now.Sub(tracked.firstSeen) >= BlockTxTTL {
			for txid := range tracked.txids {
				delete(s.txFirstSeen, txid)
			}
			delete(s.blockTxs, blockHash)
		}
	}

	for txid, seenAt := range s.txFirstSeen {
		if now.Sub(seenAt) >= BlockTxTTL {
			delete(s.txFirstSeen, txid)
		}
	}
}
