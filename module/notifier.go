package module

// Notifier is a concurrency primitive for informing a worker routine about
// the arrival of new work units. It behaves like a channel in that it can be
// passed by value while still updating shared internal state.
//
// Notifications are idempotent while unconsumed: notifying an already-notified
// Notifier is a no-op, and a single pending notification lets exactly one
// receive through. The notification is retained until consumed, so a worker
// that is busy when Notify is called will still observe it on its next wait.
type Notifier struct {
	notifier chan struct{} // buffered channel with capacity 1
}

// NewNotifier instantiates a Notifier.
func NewNotifier() Notifier {
	return Notifier{make(chan struct{}, 1)}
}

// Notify sends a notification. It never blocks: if a notification is already
// pending, the call is dropped.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns a channel for receiving notifications.
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
