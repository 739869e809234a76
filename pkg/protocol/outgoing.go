package protocol

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/skylightd/skylight/pkg/packet"
)

// outgoingItem is one queued send with its delivery callbacks.
type outgoingItem struct {
	pkt        *packet.Packet
	moreComing bool
	noCompress bool
	onStarted  func()
	onSent     func(error)
}

func (it *outgoingItem) notify(err error) {
	if it.onSent != nil {
		it.onSent(err)
	}
}

// SendOption adjusts how one packet is queued and written.
type SendOption func(*outgoingItem)

// WithMoreComing hints that further sends follow immediately; the
// writer may coalesce this packet with the next ones into a single
// write. Pure throughput hint, never changes ordering.
func WithMoreComing() SendOption {
	return func(it *outgoingItem) { it.moreComing = true }
}

// WithNoCompress sends this packet uncompressed even when a compressor
// was negotiated, for payloads the sender knows are incompressible.
func WithNoCompress() SendOption {
	return func(it *outgoingItem) { it.noCompress = true }
}

// WithOnStarted runs fn on the writer goroutine just before the packet
// is serialized.
func WithOnStarted(fn func()) SendOption {
	return func(it *outgoingItem) { it.onStarted = fn }
}

// WithOnSent runs fn on the writer goroutine after the packet was
// written, or with the close error if the connection died first.
func WithOnSent(fn func(error)) SendOption {
	return func(it *outgoingItem) { it.onSent = fn }
}

// sendQueue is the unbounded FIFO between Send callers and the writer
// goroutine. A ring buffer holds the items; wake is a one-slot signal
// channel so the writer can block without polling.
type sendQueue struct {
	mu     sync.Mutex
	ring   *queue.Queue
	wake   chan struct{}
	closed bool
}

func newSendQueue() *sendQueue {
	return &sendQueue{ring: queue.New(), wake: make(chan struct{}, 1)}
}

// push appends an item. It reports false once the queue is closed.
func (s *sendQueue) push(it *outgoingItem) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.ring.Add(it)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *sendQueue) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// popIf removes and returns the head when ok(head) is true. The head
// stays queued otherwise, preserving FIFO order for parked items.
func (s *sendQueue) popIf(ok func(*outgoingItem) bool) (*outgoingItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ring.Length() == 0 {
		return nil, false
	}
	head := s.ring.Peek().(*outgoingItem)
	if !ok(head) {
		return nil, false
	}
	s.ring.Remove()
	return head, true
}

func (s *sendQueue) length() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Length()
}

func (s *sendQueue) wakeCh() <-chan struct{} { return s.wake }

// close rejects further pushes and returns the undelivered items so the
// owner can notify their callbacks.
func (s *sendQueue) close() []*outgoingItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var rest []*outgoingItem
	for s.ring.Length() > 0 {
		rest = append(rest, s.ring.Remove().(*outgoingItem))
	}
	return rest
}
