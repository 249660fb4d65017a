package transport

import "context"

// Memory is an in-process Socket backed by a channel. It implements the
// same Send/Recv/Close contract as the MQTT sockets and is used by tests
// (and by the "custom" datasocket kind, where nothing actually touches a
// broker) to exercise ingress/dispatcher/control logic without a live
// broker.
type Memory struct {
	ch   chan []byte
	done chan struct{}
}

// NewMemory creates a Memory socket with the given buffer size.
func NewMemory(buffer int) *Memory {
	return &Memory{
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (m *Memory) Send(ctx context.Context, payload []byte) error {
	select {
	case m.ch <- payload:
		return nil
	case <-m.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Recv(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-m.ch:
		if !ok {
			return nil, errClosed
		}
		return payload, nil
	case <-m.done:
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RecvChan exposes the underlying channel for tests that need to select
// across multiple Memory sockets at once (Recv alone cannot express that).
func (m *Memory) RecvChan() <-chan []byte { return m.ch }

func (m *Memory) Close() error {
	select {
	case <-m.done:
		return nil
	default:
	}
	close(m.done)
	return nil
}
