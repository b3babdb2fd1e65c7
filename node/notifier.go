package node

// Notifier wakes the event dispatcher. Senders never block: the channel is
// buffered and a wake-up while one is already pending is coalesced. Closing
// the notifier is the dispatcher's clean-shutdown signal.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier builds a notifier with a small coalescing buffer.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 2)}
}

// Wake signals that new pending events may exist. Safe to call from any
// goroutine; never blocks.
func (n *Notifier) Wake() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// C exposes the wait channel for the dispatcher.
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}

// Close permanently shuts the notifier. Only the orchestrator calls this,
// once, at teardown.
func (n *Notifier) Close() {
	close(n.ch)
}
