package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Broker is a connected MQTT client shared by every Socket a supervisor
// opens. Grounded on internal/emitter/mqtt.go's Connect: auto-reconnect
// enabled, connect-retry enabled, bounded wait on the connect token.
type Broker struct {
	client mqtt.Client
	addr   string
}

// Dial connects to the broker at addr (e.g. "tcp://localhost:1883") using
// clientID as the MQTT client identifier.
func Dial(ctx context.Context, addr, clientID string) (*Broker, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"broker", addr, "error", err)
	}

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("transport: connect to %s timed out", addr)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("transport: connect to %s: %w", addr, err)
	}

	return &Broker{client: client, addr: addr}, nil
}

// Disconnect closes the broker connection with a short grace period.
func (b *Broker) Disconnect() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

var errClosed = errors.New("transport: socket closed")

// subSocket is a Recv-only Socket backed by an MQTT subscription. Incoming
// messages are buffered onto a channel from the paho callback so that Recv
// can honour ctx cancellation instead of blocking forever on the broker.
type subSocket struct {
	client mqtt.Client
	topic  string
	ch     chan []byte
	done   chan struct{}
}

// NewSub subscribes to topic and returns a Socket whose Recv drains
// messages in arrival order. Grounded on internal/control/handler.go's
// Subscribe-then-channel pattern.
func NewSub(b *Broker, topic string, qos byte, buffer int) (Socket, error) {
	s := &subSocket{
		client: b.client,
		topic:  topic,
		ch:     make(chan []byte, buffer),
		done:   make(chan struct{}),
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case s.ch <- msg.Payload():
		case <-s.done:
		default:
			slog.Warn("transport: receive buffer full, dropping frame", "topic", topic)
		}
	}

	token := b.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("transport: subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("transport: subscribe to %s: %w", topic, err)
	}

	return s, nil
}

func (s *subSocket) Send(ctx context.Context, payload []byte) error {
	return fmt.Errorf("transport: socket for topic %s is receive-only", s.topic)
}

func (s *subSocket) Recv(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-s.ch:
		if !ok {
			return nil, errClosed
		}
		return payload, nil
	case <-s.done:
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subSocket) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	if s.client != nil && s.client.IsConnected() {
		token := s.client.Unsubscribe(s.topic)
		token.Wait()
	}
	return nil
}

// pubSocket is a Send-only Socket backed by an MQTT publish. Grounded on
// internal/emitter/mqtt.go's Publish (bounded wait on the publish token,
// errors returned to the caller, never retried).
type pubSocket struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewPub returns a Socket whose Send publishes to topic.
func NewPub(b *Broker, topic string, qos byte) Socket {
	return &pubSocket{client: b.client, topic: topic, qos: qos}
}

func (s *pubSocket) Send(ctx context.Context, payload []byte) error {
	token := s.client.Publish(s.topic, s.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("transport: publish to %s timed out", s.topic)
	}
	return token.Error()
}

func (s *pubSocket) Recv(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("transport: socket for topic %s is send-only", s.topic)
}

func (s *pubSocket) Close() error {
	return nil
}
