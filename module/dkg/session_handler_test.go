package dkg

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/model/messages"
	"github.com/quorumnet/llmq/module"
	"github.com/quorumnet/llmq/module/irrecoverable"
	"github.com/quorumnet/llmq/module/metrics"
	"github.com/quorumnet/llmq/utils/unittest"
)

// fakeSession records the order of phase calls and the messages it was fed.
type fakeSession struct {
	mu            sync.Mutex
	phaseCalls    []string
	contributions []llmq.Identifier
	commitments   []llmq.Identifier
}

func (s *fakeSession) recordPhase(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phaseCalls = append(s.phaseCalls, name)
	return nil
}

func (s *fakeSession) SendContributions(context.Context) error {
	return s.recordPhase("contribute")
}
func (s *fakeSession) VerifyAndComplain(context.Context) error {
	return s.recordPhase("complain")
}
func (s *fakeSession) SendJustifications(context.Context) error {
	return s.recordPhase("justify")
}
func (s *fakeSession) SendCommitment(context.Context) error {
	return s.recordPhase("commit")
}
func (s *fakeSession) Finalize(context.Context) error {
	return s.recordPhase("finalize")
}

func (s *fakeSession) ProcessContribution(sender llmq.Identifier, _ *messages.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contributions = append(s.contributions, sender)
	return nil
}

func (s *fakeSession) ProcessComplaint(llmq.Identifier, *messages.Complaint) error {
	return nil
}

func (s *fakeSession) ProcessJustification(llmq.Identifier, *messages.Justification) error {
	return nil
}

func (s *fakeSession) ProcessCommitment(sender llmq.Identifier, _ *messages.PrematureCommitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitments = append(s.commitments, sender)
	return nil
}

func (s *fakeSession) phases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.phaseCalls...)
}

func (s *fakeSession) contributionSenders() []llmq.Identifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llmq.Identifier(nil), s.contributions...)
}

// fakeFactory hands out sessions, or refuses when err is set.
type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (f *fakeFactory) Create(llmq.Params, llmq.Identifier, int32) (module.DKGSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	session := &fakeSession{}
	f.sessions = append(f.sessions, session)
	return session, nil
}

func (f *fakeFactory) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func testParams() llmq.Params {
	return llmq.Params{
		Type:           llmq.Type50_60,
		Size:           3,
		MinSize:        2,
		Threshold:      2,
		DKGInterval:    24,
		DKGPhaseBlocks: 2,
	}
}

func testConfig() Config {
	return Config{
		PhaseTimeout: 500 * time.Millisecond,
		TickInterval: 2 * time.Millisecond,
		JitterFactor: 0,
		BatchSize:    8,
	}
}

func newTestHandler(t *testing.T, factory module.DKGSessionFactory) *SessionHandler {
	handler, err := NewSessionHandler(
		unittest.Logger(),
		metrics.NewNoopCollector(),
		testConfig(),
		testParams(),
		factory,
	)
	require.NoError(t, err)
	return handler
}

func startHandler(t *testing.T, handler *SessionHandler) context.CancelFunc {
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	handler.Start(ctx)
	unittest.RequireCloseBefore(t, handler.Ready(), time.Second, "handler did not start")
	return func() {
		cancel()
		unittest.RequireCloseBefore(t, handler.Done(), time.Second, "handler did not stop")
	}
}

func TestNewSessionHandler_InvalidParams(t *testing.T) {
	params := testParams()
	params.Type = llmq.TypeNone
	_, err := NewSessionHandler(unittest.Logger(), metrics.NewNoopCollector(), testConfig(), params, &fakeFactory{})
	require.Error(t, err)
}

func TestSessionHandler_UnknownMessageKind(t *testing.T) {
	handler := newTestHandler(t, &fakeFactory{})

	err := handler.ProcessMessage(unittest.IdentifierFixture(), messages.KindUnknown, []byte("payload"))
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = handler.HasSeen(messages.KindUnknown, unittest.IdentifierFixture())
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestSessionHandler_RoundLifecycle(t *testing.T) {
	factory := &fakeFactory{}
	handler := newTestHandler(t, factory)
	stop := startHandler(t, handler)
	defer stop()

	// a tip at a DKG interval boundary starts a round
	quorumBlock := unittest.BlockContextFixture(24)
	handler.OnNewTip(quorumBlock)

	require.Eventually(t, func() bool {
		phase, _ := handler.PhaseAndQuorumHash()
		return phase == llmq.PhaseInitialized && factory.sessionCount() == 1
	}, time.Second, 5*time.Millisecond)

	// feed a contribution while the round is in progress
	sender := unittest.IdentifierFixture()
	payload, err := cbor.Marshal(messages.Contribution{QuorumHash: quorumBlock.Hash, ProTxHash: sender})
	require.NoError(t, err)
	require.NoError(t, handler.ProcessMessage(sender, messages.KindContribution, payload))

	seen, err := handler.HasSeen(messages.KindContribution, llmq.HashToID(payload))
	require.NoError(t, err)
	assert.True(t, seen)

	// advancing the chain past the last phase window completes the round
	handler.OnNewTip(unittest.BlockContextFixture(36))

	require.Eventually(t, func() bool {
		phase, _ := handler.PhaseAndQuorumHash()
		return phase == llmq.PhaseIdle
	}, 2*time.Second, 5*time.Millisecond)

	session := factory.session(0)
	assert.Equal(t, []string{"contribute", "complain", "justify", "commit", "finalize"}, session.phases())
	assert.Equal(t, []llmq.Identifier{sender}, session.contributionSenders())

	// the round's dedup scope ended, the payload is no longer marked seen
	seen, err = handler.HasSeen(messages.KindContribution, llmq.HashToID(payload))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSessionHandler_ReorgAbandonsRound(t *testing.T) {
	factory := &fakeFactory{}
	handler := newTestHandler(t, factory)
	stop := startHandler(t, handler)
	defer stop()

	handler.OnNewTip(unittest.BlockContextFixture(24))
	require.Eventually(t, func() bool {
		phase, _ := handler.PhaseAndQuorumHash()
		return phase != llmq.PhaseIdle
	}, time.Second, 5*time.Millisecond)

	// the chain reorged below the quorum's defining block
	handler.OnNewTip(unittest.BlockContextFixture(10))

	require.Eventually(t, func() bool {
		phase, _ := handler.PhaseAndQuorumHash()
		return phase == llmq.PhaseIdle
	}, time.Second, 5*time.Millisecond)

	// the round never reached finalization
	assert.NotContains(t, factory.session(0).phases(), "finalize")

	// a later interval boundary starts a fresh round
	handler.OnNewTip(unittest.BlockContextFixture(48))
	require.Eventually(t, func() bool {
		return factory.sessionCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSessionHandler_SkipsRoundWithoutSession(t *testing.T) {
	factory := &fakeFactory{err: errors.New("not a member of this quorum")}
	handler := newTestHandler(t, factory)
	stop := startHandler(t, handler)
	defer stop()

	handler.OnNewTip(unittest.BlockContextFixture(24))

	// no round starts; the handler stays idle without failing
	time.Sleep(50 * time.Millisecond)
	phase, quorumHash := handler.PhaseAndQuorumHash()
	assert.Equal(t, llmq.PhaseIdle, phase)
	assert.True(t, quorumHash.IsZero())
}

func TestSessionHandler_SameQuorumNotRestarted(t *testing.T) {
	factory := &fakeFactory{}
	handler := newTestHandler(t, factory)

	quorumBlock := unittest.BlockContextFixture(24)
	handler.OnNewTip(quorumBlock)
	require.True(t, handler.InitNewQuorum(quorumBlock))

	// the same defining block must not start a second round after the first
	// one finished
	handler.finishRound()
	assert.False(t, handler.InitNewQuorum(quorumBlock))
}
