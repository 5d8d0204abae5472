package accumulate

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrMailboxClosed is returned by Take once the mailbox is closed and drained.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is a single-slot box holding the latest undelivered frame. Producers never block: a new
// frame replaces one that has not been taken yet.
type Mailbox struct {
	mu      sync.Mutex
	frame   *Frame
	closed  bool
	ready   chan struct{}
	dropped uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put stores frame, replacing any frame not yet taken. It reports whether a frame was replaced.
// Frames put after Close are dropped.
func (m *Mailbox) Put(frame *Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.dropped++
		return false
	}
	replaced := m.frame != nil
	if replaced {
		m.dropped++
	}
	m.frame = frame
	select {
	case m.ready <- struct{}{}:
	default:
	}
	return replaced
}

// Take blocks until a frame is available, the mailbox is closed, or ctx is done.
func (m *Mailbox) Take(ctx context.Context) (*Frame, error) {
	for {
		m.mu.Lock()
		if frame := m.frame; frame != nil {
			m.frame = nil
			m.mu.Unlock()
			return frame, nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, ErrMailboxClosed
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ready:
		}
	}
}

// Close wakes any waiting Take. A frame still in the box can be taken after Close.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ready)
}

// Dropped is the number of frames that were replaced before being taken or put after Close.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
