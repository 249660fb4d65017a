package supervisor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/care/supervisor/internal/config"
	"github.com/care/supervisor/internal/transport"
)

// defaultQoS is used for every MQTT subscription/publish this binary
// opens. spec.md's configuration schema does not carry a per-topic QoS
// knob the way the teacher's MQTTConfig.QoS map does, so one default
// applies everywhere.
const defaultQoS = 1

// MQTTDialer implements Dialer over a shared pool of MQTT broker
// connections, one per distinct broker address, reusing each connection
// across every socket dialed against it (grounded on the teacher's single
// shared mqtt.Client in emitter.MQTTEmitter/control.Handler).
type MQTTDialer struct {
	clientID string

	mu      sync.Mutex
	brokers map[string]*transport.Broker
}

// NewMQTTDialer constructs a dialer whose connections identify as
// clientID plus a per-broker suffix.
func NewMQTTDialer(clientID string) *MQTTDialer {
	return &MQTTDialer{clientID: clientID, brokers: make(map[string]*transport.Broker)}
}

// splitEndpoint splits a configured socket URI of the form
// "tcp://host:port/topic/path" into its broker address and topic.
func splitEndpoint(uri string) (broker, topic string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid socket endpoint %q: %w", uri, err)
	}
	broker = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	topic = strings.TrimPrefix(u.Path, "/")
	if topic == "" {
		return "", "", fmt.Errorf("socket endpoint %q has no topic path", uri)
	}
	return broker, topic, nil
}

func (d *MQTTDialer) brokerFor(ctx context.Context, addr string) (*transport.Broker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.brokers[addr]; ok {
		return b, nil
	}
	b, err := transport.Dial(ctx, addr, fmt.Sprintf("%s-%d", d.clientID, len(d.brokers)))
	if err != nil {
		return nil, err
	}
	d.brokers[addr] = b
	return b, nil
}

func (d *MQTTDialer) sub(ctx context.Context, uri string) (transport.Socket, error) {
	addr, topic, err := splitEndpoint(uri)
	if err != nil {
		return nil, err
	}
	b, err := d.brokerFor(ctx, addr)
	if err != nil {
		return nil, err
	}
	return transport.NewSub(b, topic, defaultQoS, 64)
}

func (d *MQTTDialer) pub(ctx context.Context, uri string) (transport.Socket, error) {
	addr, topic, err := splitEndpoint(uri)
	if err != nil {
		return nil, err
	}
	b, err := d.brokerFor(ctx, addr)
	if err != nil {
		return nil, err
	}
	return transport.NewPub(b, topic, defaultQoS), nil
}

func (d *MQTTDialer) IngressLP(ctx context.Context, cfg *config.Config) (transport.Socket, error) {
	return d.sub(ctx, cfg.DataLPSocket)
}

func (d *MQTTDialer) IngressHP(ctx context.Context, cfg *config.Config) (transport.Socket, error) {
	return d.sub(ctx, cfg.DataHPSocket)
}

func (d *MQTTDialer) Command(ctx context.Context, cfg *config.Config) (transport.Socket, error) {
	return d.sub(ctx, cfg.CommandSocket)
}

func (d *MQTTDialer) Monitoring(ctx context.Context, cfg *config.Config) (transport.Socket, error) {
	return d.pub(ctx, cfg.MonitoringSocket)
}

func (d *MQTTDialer) ResultLP(ctx context.Context, _ int, m config.ManagerConfig) (transport.Socket, error) {
	return d.pub(ctx, m.ResultLPSocket)
}

func (d *MQTTDialer) ResultHP(ctx context.Context, _ int, m config.ManagerConfig) (transport.Socket, error) {
	return d.pub(ctx, m.ResultHPSocket)
}

// Close disconnects every broker connection this dialer opened.
func (d *MQTTDialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.brokers {
		b.Disconnect()
	}
}

// MemoryDialer implements Dialer over in-process transport.Memory sockets,
// for tests and for the "custom" datasocket_type where nothing should
// touch a live broker. Each role's socket is dialed once and cached so
// tests can retrieve the same instance a running supervisor reads from or
// writes to.
type MemoryDialer struct {
	Buffer int

	mu         sync.Mutex
	ingressLP  *transport.Memory
	ingressHP  *transport.Memory
	command    *transport.Memory
	monitoring *transport.Memory
	resultLP   map[int]*transport.Memory
	resultHP   map[int]*transport.Memory
}

func (d *MemoryDialer) buffer() int {
	if d.Buffer <= 0 {
		return 16
	}
	return d.Buffer
}

func (d *MemoryDialer) IngressLP(context.Context, *config.Config) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ingressLP == nil {
		d.ingressLP = transport.NewMemory(d.buffer())
	}
	return d.ingressLP, nil
}

func (d *MemoryDialer) IngressHP(context.Context, *config.Config) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ingressHP == nil {
		d.ingressHP = transport.NewMemory(d.buffer())
	}
	return d.ingressHP, nil
}

func (d *MemoryDialer) Command(context.Context, *config.Config) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.command == nil {
		d.command = transport.NewMemory(d.buffer())
	}
	return d.command, nil
}

func (d *MemoryDialer) Monitoring(context.Context, *config.Config) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.monitoring == nil {
		d.monitoring = transport.NewMemory(d.buffer())
	}
	return d.monitoring, nil
}

func (d *MemoryDialer) ResultLP(_ context.Context, index int, _ config.ManagerConfig) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resultLP == nil {
		d.resultLP = make(map[int]*transport.Memory)
	}
	sock, ok := d.resultLP[index]
	if !ok {
		sock = transport.NewMemory(d.buffer())
		d.resultLP[index] = sock
	}
	return sock, nil
}

func (d *MemoryDialer) ResultHP(_ context.Context, index int, _ config.ManagerConfig) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resultHP == nil {
		d.resultHP = make(map[int]*transport.Memory)
	}
	sock, ok := d.resultHP[index]
	if !ok {
		sock = transport.NewMemory(d.buffer())
		d.resultHP[index] = sock
	}
	return sock, nil
}

// IngressLPSocket returns the cached ingress-LP socket, for tests that
// need to push items directly.
func (d *MemoryDialer) IngressLPSocket() *transport.Memory {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ingressLP
}

// CommandSocket returns the cached command socket.
func (d *MemoryDialer) CommandSocket() *transport.Memory {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command
}

// ResultLPSocket returns the result-LP socket dialed for the manager at
// index, for tests that need to read back what a worker produced.
func (d *MemoryDialer) ResultLPSocket(index int) *transport.Memory {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resultLP[index]
}

// ResultHPSocket returns the result-HP socket dialed for the manager at
// index.
func (d *MemoryDialer) ResultHPSocket(index int) *transport.Memory {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resultHP[index]
}

// IngressHPSocket returns the cached ingress-HP socket.
func (d *MemoryDialer) IngressHPSocket() *transport.Memory {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ingressHP
}

// MonitoringSocket returns the cached monitoring socket.
func (d *MemoryDialer) MonitoringSocket() *transport.Memory {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitoring
}
