package bus

import (
	"context"
	"sync"
)

const memoryBuffer = 256

// MemoryHub is an in-process shared channel. Every transport connected to
// the hub receives every payload, like a pub/sub channel with no history.
type MemoryHub struct {
	mu    sync.Mutex
	conns map[*MemoryTransport]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{conns: make(map[*MemoryTransport]struct{})}
}

// Connect attaches a new subscriber. It only sees payloads published after
// this call.
func (h *MemoryHub) Connect() *MemoryTransport {
	t := &MemoryTransport{
		hub:  h,
		ch:   make(chan []byte, memoryBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[t] = struct{}{}
	h.mu.Unlock()
	return t
}

// Deliver hands raw bytes to every connected transport, bypassing any
// publisher. Useful for replaying a payload.
func (h *MemoryHub) Deliver(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t := range h.conns {
		cp := append([]byte(nil), payload...)
		select {
		case t.ch <- cp:
		default: // slow subscriber, drop
		}
	}
}

func (h *MemoryHub) remove(t *MemoryTransport) {
	h.mu.Lock()
	delete(h.conns, t)
	h.mu.Unlock()
}

// MemoryTransport is one connection to a MemoryHub.
type MemoryTransport struct {
	hub  *MemoryHub
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (t *MemoryTransport) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	t.hub.Deliver(payload)
	return nil
}

func (t *MemoryTransport) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClosed
	case b := <-t.ch:
		return b, nil
	}
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		t.hub.remove(t)
		close(t.done)
	})
	return nil
}
