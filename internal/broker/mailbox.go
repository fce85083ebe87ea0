package broker

import (
	"errors"
	"sync"
)

var (
	// ErrMailboxClosed is returned by Push after Close.
	ErrMailboxClosed = errors.New("mailbox is closed")
	// ErrMailboxFull is returned by Push when the buffer holds no free slot.
	ErrMailboxFull = errors.New("mailbox buffer full")
)

// Outbound is the delivery handle the Broker pushes relayed text to.
// The transport layer owns the handle; the Broker only references it.
type Outbound interface {
	// Push enqueues text without blocking.
	Push(text string) error
}

// Mailbox is a buffered Outbound that a session handler drains onto its transport.
type Mailbox struct {
	events chan string
	mu     sync.Mutex
	closed bool
}

// NewMailbox creates a Mailbox holding up to bufferSize undelivered messages.
//
// Postcondition: Returns a Mailbox with an open events channel.
func NewMailbox(bufferSize int) *Mailbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Mailbox{
		events: make(chan string, bufferSize),
	}
}

// Push enqueues text.
//
// Postcondition: text is enqueued, or an error is returned if the mailbox is closed or full.
func (m *Mailbox) Push(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMailboxClosed
	}
	select {
	case m.events <- text:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Events returns the read-only events channel. It is closed by Close.
func (m *Mailbox) Events() <-chan string {
	return m.events
}

// Close marks the mailbox closed and closes the events channel.
// Calling Close more than once is a no-op.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.events)
	}
}

// IsClosed reports whether the mailbox has been closed.
func (m *Mailbox) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
