// Package transport is the thin wrapper around the message-oriented
// transport the rest of the supervisor consumes only through its
// connect/bind/send/recv semantics (spec.md §4.1). The concrete transport is
// an MQTT broker via github.com/eclipse/paho.mqtt.golang, the same client
// the teacher's internal/emitter and internal/control packages use for
// their own command/telemetry plane.
package transport

import (
	"context"
	"fmt"
)

// Kind is a manager result socket's wiring mode named in spec.md §4.1.
// "custom" is a valid datasocket_type for the supervisor's ingress socket
// (skip ingress-socket creation entirely) but is not a result socket kind,
// so it has no Kind value and ParseKind rejects it.
type Kind int

const (
	// PushPull: ingress binds and pulls, results connect and push.
	PushPull Kind = iota
	// PubSub: ingress connects and subscribes, results bind and publish.
	PubSub
)

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "pushpull":
		return PushPull, nil
	case "pubsub":
		return PubSub, nil
	default:
		return 0, fmt.Errorf("transport: unknown socket kind %q", s)
	}
}

// NoneEndpoint is the sentinel meaning "this class has no output sink".
const NoneEndpoint = "none"

// Socket is a typed bidirectional endpoint. A given Socket is used
// exclusively for sending or exclusively for receiving in practice (ingress
// sockets only Recv, result/monitoring sockets only Send, the command
// socket only Recv) but the interface stays symmetric so tests can fake it
// with a single in-memory implementation.
type Socket interface {
	// Send transmits a single frame. Implementations must not block past
	// the transport's own high-water-mark blocking point (spec.md §5).
	Send(ctx context.Context, payload []byte) error
	// Recv blocks until a frame is available or ctx is cancelled.
	Recv(ctx context.Context) ([]byte, error)
	// Close releases the underlying subscription/connection resources.
	Close() error
}
