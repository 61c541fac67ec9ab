package comm

import (
	"context"
	"sync"
)

const mailboxDepth = 64

type mailKey struct {
	source int
	tag    Tag
}

// mailbox queues incoming payloads per (source, tag) so a receiver can wait
// for one particular stream while others keep arriving.
type mailbox struct {
	mu     sync.Mutex
	queues map[mailKey]chan []byte
	done   chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		queues: make(map[mailKey]chan []byte),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) queue(source int, tag Tag) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := mailKey{source: source, tag: tag}
	q, ok := m.queues[k]
	if !ok {
		q = make(chan []byte, mailboxDepth)
		m.queues[k] = q
	}
	return q
}

func (m *mailbox) deliver(ctx context.Context, source int, tag Tag, payload []byte) error {
	select {
	case m.queue(source, tag) <- payload:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// take prefers queued payloads over the closed state so data that arrived
// before a peer hung up is still handed out.
func (m *mailbox) take(ctx context.Context, source int, tag Tag) ([]byte, error) {
	q := m.queue(source, tag)
	select {
	case p := <-q:
		return p, nil
	default:
	}
	select {
	case p := <-q:
		return p, nil
	case <-m.done:
		select {
		case p := <-q:
			return p, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
