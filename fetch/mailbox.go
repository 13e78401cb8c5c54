package fetch

import "sync"

// mailbox is the unbounded inbox of a coordinator loop. Posting never
// blocks, so helper goroutines can always hand back their completions.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// post enqueues fn. It returns false once the mailbox is closed.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// take removes and returns the queued functions.
func (m *mailbox) take() []func() {
	m.mu.Lock()
	q := m.queue
	m.queue = nil
	m.mu.Unlock()
	return q
}

// close refuses further posts and returns what is still queued.
func (m *mailbox) close() []func() {
	m.mu.Lock()
	m.closed = true
	q := m.queue
	m.queue = nil
	m.mu.Unlock()
	return q
}
