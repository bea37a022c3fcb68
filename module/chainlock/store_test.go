package chainlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/utils/unittest"
)

// fakeChain is a BlockInfoProvider over a single linear chain of blocks.
type fakeChain struct {
	mu      sync.Mutex
	heights map[llmq.Identifier]int32
	chain   []llmq.Identifier // chain[height] = block hash of active chain
}

func newFakeChain() *fakeChain {
	return &fakeChain{heights: make(map[llmq.Identifier]int32)}
}

func (f *fakeChain) addBlock(height int32, hash llmq.Identifier, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heights[hash] = height
	if active {
		for int32(len(f.chain)) <= height {
			f.chain = append(f.chain, llmq.ZeroID)
		}
		f.chain[height] = hash
	}
}

func (f *fakeChain) BlockHeight(hash llmq.Identifier) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	height, ok := f.heights[hash]
	return height, ok
}

func (f *fakeChain) AncestorAt(hash llmq.Identifier, height int32) (llmq.Identifier, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// ancestors are resolved along the active chain only
	tip, ok := f.heights[hash]
	if !ok || height > tip || height < 0 || int32(len(f.chain)) <= height {
		return llmq.ZeroID, false
	}
	ancestor := f.chain[height]
	return ancestor, !ancestor.IsZero()
}

func (f *fakeChain) IsInActiveChain(hash llmq.Identifier) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	height, ok := f.heights[hash]
	if !ok || int32(len(f.chain)) <= height {
		return false
	}
	return f.chain[height] == hash
}

func TestStore_RecordCandidate(t *testing.T) {
	store := NewStore(newFakeChain())

	lockA := unittest.ChainLockSigFixture(100)
	require.Equal(t, OutcomeAccepted, store.RecordCandidate(lockA, true))
	assert.Equal(t, lockA, store.Best())
	assert.Equal(t, lockA, store.BestWithKnownBlock())

	// a different block at the locked height conflicts, never overwrites
	lockB := unittest.ChainLockSigFixture(100)
	assert.Equal(t, OutcomeConflict, store.RecordCandidate(lockB, true))
	assert.Equal(t, lockA, store.Best())

	// a higher lock supersedes
	lockC := unittest.ChainLockSigFixture(105)
	assert.Equal(t, OutcomeAccepted, store.RecordCandidate(lockC, true))
	assert.Equal(t, lockC, store.Best())

	// anything below the best height is stale
	assert.Equal(t, OutcomeStale, store.RecordCandidate(unittest.ChainLockSigFixture(99), true))
	assert.Equal(t, OutcomeStale, store.RecordCandidate(llmq.ChainLockSig{Height: -5}, true))
	assert.Equal(t, lockC, store.Best())
}

func TestStore_RecordCandidate_Idempotent(t *testing.T) {
	store := NewStore(newFakeChain())
	lock := unittest.ChainLockSigFixture(100)

	require.Equal(t, OutcomeAccepted, store.RecordCandidate(lock, false))
	assert.True(t, store.BestWithKnownBlock().IsNull())

	// re-accepting the same lock is not a conflict, and the block becoming
	// known promotes it to enforceable
	assert.Equal(t, OutcomeAccepted, store.RecordCandidate(lock, true))
	assert.Equal(t, lock, store.BestWithKnownBlock())
}

func TestStore_MarkBlockKnown(t *testing.T) {
	store := NewStore(newFakeChain())
	lock := unittest.ChainLockSigFixture(100)

	assert.False(t, store.MarkBlockKnown(lock.BlockHash))

	require.Equal(t, OutcomeAccepted, store.RecordCandidate(lock, false))
	assert.False(t, store.MarkBlockKnown(unittest.IdentifierFixture()))
	assert.True(t, store.MarkBlockKnown(lock.BlockHash))
	assert.Equal(t, lock, store.BestWithKnownBlock())

	// second sighting is a no-op
	assert.False(t, store.MarkBlockKnown(lock.BlockHash))
}

func TestStore_HasChainLock(t *testing.T) {
	chain := newFakeChain()
	store := NewStore(chain)

	genesis := unittest.IdentifierFixture()
	middle := unittest.IdentifierFixture()
	locked := unittest.IdentifierFixture()
	fork := unittest.IdentifierFixture()
	chain.addBlock(0, genesis, true)
	chain.addBlock(1, middle, true)
	chain.addBlock(2, locked, true)
	chain.addBlock(2, fork, false)

	lock := llmq.ChainLockSig{Height: 2, BlockHash: locked, Signature: unittest.SignatureFixture()}
	require.Equal(t, OutcomeAccepted, store.RecordCandidate(lock, true))

	assert.True(t, store.HasChainLock(2, locked))
	assert.False(t, store.HasChainLock(2, fork))
	assert.True(t, store.HasConflictingChainLock(2, fork))
	assert.False(t, store.HasConflictingChainLock(2, locked))

	// ancestors of the locked block are covered transitively
	assert.True(t, store.HasChainLock(1, middle))
	assert.True(t, store.HasConflictingChainLock(1, unittest.IdentifierFixture()))

	// heights above the lock are not covered
	assert.False(t, store.HasChainLock(3, unittest.IdentifierFixture()))
	assert.False(t, store.HasConflictingChainLock(3, unittest.IdentifierFixture()))
}

func TestStore_SeenLocks(t *testing.T) {
	store := NewStore(newFakeChain())
	id := unittest.IdentifierFixture()
	now := time.Now()

	assert.False(t, store.HasSeenLock(id))
	assert.True(t, store.MarkSeenLock(id, now))
	assert.False(t, store.MarkSeenLock(id, now))
	assert.True(t, store.HasSeenLock(id))
}

func TestStore_TrackBlocks(t *testing.T) {
	store := NewStore(newFakeChain())
	block := unittest.IdentifierFixture()
	txids := unittest.IdentifierListFixture(3)
	blockTime := time.Now()

	// a transaction seen in the mempool keeps its earlier timestamp
	mempoolTime := blockTime.Add(-time.Minute)
	store.AddMempoolTx(txids[0], mempoolTime)

	store.TrackBlock(block, txids, blockTime)

	assert.ElementsMatch(t, txids, store.BlockTxs(block))
	gotBlock, ok := store.TrackedBlockForTx(txids[1])
	require.True(t, ok)
	assert.Equal(t, block, gotBlock)

	seenAt, ok := store.TxFirstSeen(txids[0])
	require.True(t, ok)
	assert.Equal(t, mempoolTime, seenAt)
	seenAt, ok = store.TxFirstSeen(txids[1])
	require.True(t, ok)
	assert.Equal(t, blockTime, seenAt)

	store.UntrackBlock(block)
	assert.Nil(t, store.BlockTxs(block))
	_, ok = store.TrackedBlockForTx(txids[1])
	assert.False(t, ok)
}

func TestStore_Cleanup(t *testing.T) {
	store := NewStore(newFakeChain())
	start := time.Now()

	oldLock := unittest.IdentifierFixture()
	freshLock := unittest.IdentifierFixture()
	store.MarkSeenLock(oldLock, start)
	store.MarkSeenLock(freshLock, start.Add(time.Hour))

	oldBlock := unittest.IdentifierFixture()
	oldTxs := unittest.IdentifierListFixture(2)
	store.TrackBlock(oldBlock, oldTxs, start)
	freshBlock := unittest.IdentifierFixture()
	freshTxs := unittest.IdentifierListFixture(2)
	store.TrackBlock(freshBlock, freshTxs, start.Add(time.Hour))

	// exactly at the TTL boundary, entries expire
	store.Cleanup(start.Add(SeenLockTTL))

	assert.False(t, store.HasSeenLock(oldLock))
	assert.True(t, store.HasSeenLock(freshLock))
	assert.Nil(t, store.BlockTxs(oldBlock))
	assert.ElementsMatch(t, freshTxs, store.BlockTxs(freshBlock))
	_, ok := store.TxFirstSeen(oldTxs[0])
	assert.False(t, ok)
	_, ok = store.TxFirstSeen(freshTxs[0])
	assert.True(t, ok)
}
