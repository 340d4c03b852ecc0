package session

import "sync"

// fallbackRing keeps a bounded per-session message window in process
// memory. It backs context assembly when both tiers are down and holds
// messages whose durable append failed until they can be re-flushed.
type fallbackRing struct {
	mu       sync.Mutex
	capacity int
	sessions map[string][]Message
	pending  map[string][]Message
}

func newFallbackRing(capacity int) *fallbackRing {
	if capacity <= 0 {
		capacity = 20
	}
	return &fallbackRing{
		capacity: capacity,
		sessions: make(map[string][]Message),
		pending:  make(map[string][]Message),
	}
}

func (r *fallbackRing) append(sessionID string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := append(r.sessions[sessionID], msg)
	if len(window) > r.capacity {
		window = window[len(window)-r.capacity:]
	}
	r.sessions[sessionID] = window
}

func (r *fallbackRing) messages(sessionID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := r.sessions[sessionID]
	out := make([]Message, len(window))
	copy(out, window)
	return out
}

// bufferPending queues a message whose durable append failed. The
// oldest entries are dropped once the per-session cap is reached.
func (r *fallbackRing) bufferPending(sessionID string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := append(r.pending[sessionID], msg)
	if len(queue) > r.capacity {
		queue = queue[len(queue)-r.capacity:]
	}
	r.pending[sessionID] = queue
}

func (r *fallbackRing) peekPending(sessionID string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.pending[sessionID]
	if len(queue) == 0 {
		return Message{}, false
	}
	return queue[0], true
}

func (r *fallbackRing) popPending(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.pending[sessionID]
	if len(queue) <= 1 {
		delete(r.pending, sessionID)
		return
	}
	r.pending[sessionID] = queue[1:]
}

func (r *fallbackRing) pendingCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[sessionID])
}

func (r *fallbackRing) drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	delete(r.pending, sessionID)
}
