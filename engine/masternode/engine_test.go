package masternode

import (
	"context"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/model/messages"
	"github.com/quorumnet/llmq/module"
	"github.com/quorumnet/llmq/module/chainlock"
	"github.com/quorumnet/llmq/module/dkg"
	"github.com/quorumnet/llmq/module/irrecoverable"
	"github.com/quorumnet/llmq/module/metrics"
	"github.com/quorumnet/llmq/utils/unittest"
)

// nullChain is a BlockInfoProvider that knows no blocks.
type nullChain struct{}

func (nullChain) BlockHeight(llmq.Identifier) (int32, bool) { return 0, false }

func (nullChain) AncestorAt(llmq.Identifier, int32) (llmq.Identifier, bool) {
	return llmq.ZeroID, false
}

func (nullChain) IsInActiveChain(llmq.Identifier) bool { return true }

type nopSigner struct{}

func (nopSigner) RequestSig(context.Context, llmq.Identifier, llmq.Identifier) error { return nil }

type okVerifier struct{}

func (okVerifier) VerifyChainLock(llmq.ChainLockSig) error { return nil }

type nopReorganizer struct{}

func (nopReorganizer) ActivateLockedChain(context.Context, llmq.ChainLockSig) error { return nil }

type nopFastFinality struct{}

func (nopFastFinality) IsLocked(llmq.Identifier) bool { return true }

type nopConflictReporter struct{}

func (nopConflictReporter) ReportConflict(llmq.ChainLockSig, llmq.ChainLockSig) {}

// idleSessionFactory refuses every round, keeping the handlers idle.
type idleSessionFactory struct{}

func (idleSessionFactory) Create(llmq.Params, llmq.Identifier, int32) (module.DKGSession, error) {
	return nil, context.Canceled
}

func testHandlerParams() llmq.Params {
	return llmq.Params{
		Type:           llmq.Type50_60,
		Size:           3,
		MinSize:        2,
		Threshold:      2,
		DKGInterval:    24,
		DKGPhaseBlocks: 2,
	}
}

func newTestEngine(t *testing.T) (*Engine, *dkg.SessionHandler, *chainlock.Coordinator) {
	noop := metrics.NewNoopCollector()

	handler, err := dkg.NewSessionHandler(
		unittest.Logger(),
		noop,
		dkg.DefaultConfig(),
		testHandlerParams(),
		idleSessionFactory{},
	)
	require.NoError(t, err)

	coordinator, err := chainlock.NewCoordinator(
		unittest.Logger(),
		noop,
		chainlock.DefaultConfig(),
		chainlock.NewStore(nullChain{}),
		nullChain{},
		nopSigner{},
		okVerifier{},
		nopReorganizer{},
		nopFastFinality{},
		nopConflictReporter{},
		true,
	)
	require.NoError(t, err)

	engine, err := NewEngine(
		unittest.Logger(),
		map[llmq.Type]*dkg.SessionHandler{llmq.Type50_60: handler},
		coordinator,
	)
	require.NoError(t, err)

	return engine, handler, coordinator
}

func startEngine(t *testing.T, engine *Engine) context.CancelFunc {
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	engine.Start(ctx)
	unittest.RequireCloseBefore(t, engine.Ready(), time.Second, "engine did not start")
	return func() {
		cancel()
		unittest.RequireCloseBefore(t, engine.Done(), time.Second, "engine did not stop")
	}
}

func TestEngine_RoutesDKGEnvelopes(t *testing.T) {
	engine, handler, _ := newTestEngine(t)
	stop := startEngine(t, engine)
	defer stop()

	sender := unittest.IdentifierFixture()
	payload, err := cbor.Marshal(messages.Contribution{ProTxHash: sender})
	require.NoError(t, err)

	err = engine.Process(sender, &messages.DKGEnvelope{
		LLMQType: llmq.Type50_60,
		Kind:     messages.KindContribution,
		Payload:  payload,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		seen, err := handler.HasSeen(messages.KindContribution, llmq.HashToID(payload))
		require.NoError(t, err)
		return seen
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_DropsUnconfiguredQuorumType(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	stop := startEngine(t, engine)
	defer stop()

	// envelopes for quorum types we do not run are dropped, not errors
	err := engine.Process(unittest.IdentifierFixture(), &messages.DKGEnvelope{
		LLMQType: llmq.Type400_85,
		Kind:     messages.KindContribution,
		Payload:  []byte("payload"),
	})
	assert.NoError(t, err)
}

func TestEngine_RoutesChainLockAnnouncements(t *testing.T) {
	engine, _, coordinator := newTestEngine(t)
	stop := startEngine(t, engine)
	defer stop()

	lock := unittest.ChainLockSigFixture(100)
	err := engine.Process(unittest.IdentifierFixture(), &messages.ChainLockAnnouncement{ChainLock: lock})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		best := coordinator.GetBestChainLock()
		return best.Height == lock.Height && best.BlockHash == lock.BlockHash
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_UnknownMessageType(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	stop := startEngine(t, engine)
	defer stop()

	err := engine.Process(unittest.IdentifierFixture(), "not a protocol message")
	assert.Error(t, err)
}
