package dkg

import (
	"sync"

	"github.com/ef-ds/deque"
	"github.com/fxamacker/cbor/v2"

	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/model/messages"
)

// PendingMessage is one buffered DKG payload together with the peer it came
// from. The content hash is computed once at push time and cached.
type PendingMessage struct {
	SenderID llmq.Identifier
	Payload  []byte

	hash llmq.Identifier
}

// Hash returns the cached content hash of the payload.
func (m PendingMessage) Hash() llmq.Identifier {
	return m.hash
}

// PendingMessages buffers raw payloads of one DKG message kind for the
// current quorum round. Deserialization of DKG messages is too slow to run on
// the network-receive path, so payloads are pushed here raw and popped plus
// decoded later from the phase-handler routine.
//
// The queue deduplicates by content hash (for the whole round, to block
// replay) and caps the number of undrained entries per sender. The cap is set
// to twice the quorum size so that double messages from bad actors are still
// observable without letting the queue grow unboundedly.
//
// Safe for concurrent use: producers are the per-peer network routines,
// the consumer is the phase-handler routine.
type PendingMessages struct {
	mu             sync.Mutex
	kind           messages.Kind
	maxPerSender   int
	pending        deque.Deque
	perSender      map[llmq.Identifier]int
	seen           map[llmq.Identifier]struct{}
	lengthObserver func(int)
}

// PendingOption configures a PendingMessages instance.
type PendingOption func(*PendingMessages)

// WithPendingLengthObserver registers a non-blocking callback invoked with
// the queue length whenever it changes.
func WithPendingLengthObserver(callback func(int)) PendingOption {
	return func(p *PendingMessages) {
		p.lengthObserver = callback
	}
}

// NewPendingMessages creates an empty queue for the given message kind, with
// the given per-sender cap on undrained entries.
func NewPendingMessages(kind messages.Kind, maxPerSender int, opts ...PendingOption) *PendingMessages {
	p := &PendingMessages{
		kind:           kind,
		maxPerSender:   maxPerSender,
		perSender:      make(map[llmq.Identifier]int),
		seen:           make(map[llmq.Identifier]struct{}),
		lengthObserver: func(int) { /* noop */ },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kind returns the message kind this queue buffers.
func (p *PendingMessages) Kind() messages.Kind {
	return p.kind
}

// Push appends a payload to the tail of the queue. It returns false if the
// payload's content hash was already seen this round, or if the sender is at
// its cap of undrained entries. Rejection is silent by design: duplicates and
// over-quota traffic are expected from misbehaving peers and must not surface
// as protocol errors.
func (p *PendingMessages) Push(sender llmq.Identifier, payload []byte) bool {
	hash := llmq.HashToID(payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seen[hash]; ok {
		return false
	}
	if p.perSender[sender] >= p.maxPerSender {
		return false
	}

	p.seen[hash] = struct{}{}
	p.perSender[sender]++
	p.pending.PushBack(PendingMessage{
		SenderID: sender,
		Payload:  payload,
		hash:     hash,
	})
	p.lengthObserver(p.pending.Len())
	return true
}

// PopUpTo removes and returns up to maxCount of the oldest entries, in FIFO
// order, and releases the senders' quota for the returned entries. Seen
// hashes are retained so replays of popped messages keep being rejected until
// Clear is called at the end of the round.
func (p *PendingMessages) PopUpTo(maxCount int) []PendingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var popped []PendingMessage
	for len(popped) < maxCount {
		element, ok := p.pending.PopFront()
		if !ok {
			break
		}
		msg := element.(PendingMessage)
		p.perSender[msg.SenderID]--
		if p.perSender[msg.SenderID] <= 0 {
			delete(p.perSender, msg.SenderID)
		}
		popped = append(popped, msg)
	}
	if len(popped) > 0 {
		p.lengthObserver(p.pending.Len())
	}
	return popped
}

// HasSeen returns true if a payload with the given content hash was pushed at
// some point during the current round. Used to answer inventory queries from
// peers.
func (p *PendingMessages) HasSeen(hash llmq.Identifier) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.seen[hash]
	return ok
}

// Len returns the number of undrained entries.
func (p *PendingMessages) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pending.Len()
}

// Clear drops all pending entries, sender quotas, and seen hashes. Called
// when a round ends.
func (p *PendingMessages) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = deque.Deque{}
	p.perSender = make(map[llmq.Identifier]int)
	p.seen = make(map[llmq.Identifier]struct{})
	p.lengthObserver(0)
}

// DecodedMessage pairs a sender with the decoding result of its payload.
// Message is nil if the payload could not be decoded.
type DecodedMessage[T any] struct {
	SenderID llmq.Identifier
	Message  *T
}

// PopAndDecode pops up to maxCount entries and decodes each payload as T.
// A payload that fails to decode yields a nil Message for that entry rather
// than aborting the batch: a malformed message from one peer must not stall
// processing of honest peers' messages popped alongside it.
func PopAndDecode[T any](p *PendingMessages, maxCount int) []DecodedMessage[T] {
	raw := p.PopUpTo(maxCount)
	if len(raw) == 0 {
		return nil
	}

	decoded := make([]DecodedMessage[T], 0, len(raw))
	for _, msg := range raw {
		var payload T
		result := &payload
		if err := cbor.Unmarshal(msg.Payload, result); err != nil {
			result = nil
		}
		decoded = append(decoded, DecodedMessage[T]{
			SenderID: msg.SenderID,
			Message:  result,
		})
	}
	return decoded
}
