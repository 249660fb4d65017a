package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/care/supervisor/internal/config"
	"github.com/care/supervisor/internal/transport"
	"github.com/care/supervisor/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
		DataflowType:   "string",
		DatasocketType: "pushpull",
		DataLPSocket:   "mem://ingress-lp",
		DataHPSocket:   "mem://ingress-hp",
		CommandSocket:  "mem://command",
		Managers: []config.ManagerConfig{
			{
				ResultSocketType:   "pushpull",
				ResultDataflowType: "string",
				ResultLPSocket:     "mem://result-lp",
				ResultHPSocket:     "mem://result-hp",
				NumWorkers:         2,
				WorkerVariant:      "echo",
				ManagerNames:       []string{"primary"},
			},
		},
	}
}

func startSupervisor(t *testing.T, cfg *config.Config) (*Supervisor, *MemoryDialer, context.CancelFunc) {
	t.Helper()
	dialer := &MemoryDialer{Buffer: 32}
	ctx, cancel := context.WithCancel(context.Background())

	sup, err := New(ctx, "test", cfg, dialer)
	if err != nil {
		cancel()
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sup.Run(ctx, dialer)
		close(done)
	}()

	waitForState(t, sup, Waiting)
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("supervisor did not shut down after cancel")
		}
	})
	return sup, dialer, cancel
}

func waitForState(t *testing.T, sup *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sup.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, sup.State())
}

func sendCommand(t *testing.T, sock *transport.Memory, subtype, target string) {
	t.Helper()
	env := types.Envelope{Type: types.EnvelopeCommand, Subtype: subtype, PidTarget: target}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal command envelope: %v", err)
	}
	if err := sock.Send(context.Background(), payload); err != nil {
		t.Fatalf("send command: %v", err)
	}
}

func recvWithTimeout(t *testing.T, sock *transport.Memory, timeout time.Duration) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	payload, err := sock.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return payload
}

// TestStartupProcessesOneMessage covers spec.md §8 scenario 1: a supervisor
// starts, receives "start", ingests one item and a result comes back out.
func TestStartupProcessesOneMessage(t *testing.T) {
	sup, dialer, _ := startSupervisor(t, testConfig())

	sendCommand(t, dialer.CommandSocket(), "start", "test")
	waitForState(t, sup, Processing)

	if err := dialer.IngressLPSocket().Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("ingress send: %v", err)
	}

	payload := recvWithTimeout(t, dialer.ResultLPSocket(0), time.Second)

	if string(payload) != "hello" {
		t.Fatalf("expected echoed text %q, got %q", "hello", payload)
	}
}

// TestCleanedShutdownDrainsBeforeStopping covers scenario 3: cleanedshutdown
// must drain everything already buffered before the process exits.
func TestCleanedShutdownDrainsBeforeStopping(t *testing.T) {
	sup, dialer, cancel := startSupervisor(t, testConfig())
	defer cancel()

	sendCommand(t, dialer.CommandSocket(), "start", "test")
	waitForState(t, sup, Processing)

	for i := 0; i < 5; i++ {
		if err := dialer.IngressLPSocket().Send(context.Background(), []byte("item")); err != nil {
			t.Fatalf("ingress send: %v", err)
		}
	}

	sendCommand(t, dialer.CommandSocket(), "cleanedshutdown", "test")

	for i := 0; i < 5; i++ {
		recvWithTimeout(t, dialer.ResultLPSocket(0), 2*time.Second)
	}

	waitForState(t, sup, Shutdown)
}

// TestResetReturnsToWaitingAndClearsQueues covers scenario 4.
func TestResetReturnsToWaitingAndClearsQueues(t *testing.T) {
	sup, dialer, cancel := startSupervisor(t, testConfig())
	defer cancel()

	sendCommand(t, dialer.CommandSocket(), "start", "test")
	waitForState(t, sup, Processing)

	sendCommand(t, dialer.CommandSocket(), "reset", "test")
	waitForState(t, sup, Waiting)

	if sup.AcceptsData() {
		t.Fatal("expected stopdata to be set after reset")
	}
	for _, m := range sup.managers {
		hb := m.Heartbeat()
		if hb.InputLP != 0 || hb.InputHP != 0 || hb.ResultLP != 0 || hb.ResultHP != 0 {
			t.Fatalf("expected all queues empty after reset, got %+v", hb)
		}
	}
}

// TestUnknownCommandIsIgnoredEndToEnd covers scenario 6: an unrecognised
// command must not disturb the current state.
func TestUnknownCommandIsIgnoredEndToEnd(t *testing.T) {
	sup, dialer, cancel := startSupervisor(t, testConfig())
	defer cancel()

	sendCommand(t, dialer.CommandSocket(), "not-a-real-command", "test")

	time.Sleep(50 * time.Millisecond)
	if sup.State() != Waiting {
		t.Fatalf("expected state to remain Waiting, got %s", sup.State())
	}
}

// TestCommandAddressedToOtherTargetIsIgnored exercises pidtarget filtering
// at the supervisor level.
func TestCommandAddressedToOtherTargetIsIgnored(t *testing.T) {
	sup, dialer, cancel := startSupervisor(t, testConfig())
	defer cancel()

	sendCommand(t, dialer.CommandSocket(), "start", "someone-else")

	time.Sleep(50 * time.Millisecond)
	if sup.State() != Waiting {
		t.Fatalf("expected state to remain Waiting for a command addressed elsewhere, got %s", sup.State())
	}
}
