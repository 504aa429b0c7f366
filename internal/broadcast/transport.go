package broadcast

import (
	"context"
	"sync"
)

// Transport carries raw message payloads between runtimes. Start blocks
// delivering received payloads to receive until ctx is cancelled.
// Transports deliver to every connected runtime including the sender;
// the bus filters self-delivery by sender id.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	Start(ctx context.Context, receive func(payload []byte)) error
	Close() error
}

// NoopTransport is the degraded single-runtime transport for unsupported
// environments. Every operation succeeds and delivers nothing.
type NoopTransport struct{}

func (NoopTransport) Publish(context.Context, []byte) error { return nil }

func (NoopTransport) Start(ctx context.Context, _ func([]byte)) error {
	<-ctx.Done()
	return nil
}

func (NoopTransport) Close() error { return nil }

// MemoryHub fans payloads out between in-process transports. It serves
// embedded multi-runtime setups and tests, where "tabs" are runtimes in
// one process.
type MemoryHub struct {
	mu      sync.RWMutex
	members map[*memoryTransport]struct{}
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: make(map[*memoryTransport]struct{})}
}

// Transport returns a new transport attached to the hub.
func (h *MemoryHub) Transport() Transport {
	t := &memoryTransport{
		hub: h,
		ch:  make(chan []byte, 64), // buffered so one slow runtime cannot block the hub
	}
	h.mu.Lock()
	h.members[t] = struct{}{}
	h.mu.Unlock()
	return t
}

func (h *MemoryHub) publish(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for t := range h.members {
		select {
		case t.ch <- payload:
		default:
			// Member buffer full — drop the payload for them.
		}
	}
}

func (h *MemoryHub) detach(t *memoryTransport) {
	h.mu.Lock()
	delete(h.members, t)
	h.mu.Unlock()
}

type memoryTransport struct {
	hub *MemoryHub
	ch  chan []byte

	closeOnce sync.Once
}

func (t *memoryTransport) Publish(_ context.Context, payload []byte) error {
	t.hub.publish(payload)
	return nil
}

func (t *memoryTransport) Start(ctx context.Context, receive func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-t.ch:
			receive(payload)
		}
	}
}

func (t *memoryTransport) Close() error {
	t.closeOnce.Do(func() { t.hub.detach(t) })
	return nil
}
