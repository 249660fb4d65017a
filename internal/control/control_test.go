package control

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/care/supervisor/internal/transport"
	"github.com/care/supervisor/internal/types"
)

func send(t *testing.T, sock *transport.Memory, env types.Envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sock.Send(ctx, raw); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func commandEnvelope(subtype, target string) types.Envelope {
	return types.Envelope{Type: types.EnvelopeCommand, Subtype: subtype, PidTarget: target, PidSource: "tester"}
}

func TestDispatchStartInvokesProcessingAndData(t *testing.T) {
	sock := transport.NewMemory(4)
	started := make(chan struct{}, 2)

	cb := Callbacks{
		StartProcessing: func() { started <- struct{}{} },
		StartData:       func() { started <- struct{}{} },
	}
	h := New("super1", sock, nil, cb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	send(t, sock, commandEnvelope("start", "super1"))

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for start callbacks")
		}
	}
}

func TestDispatchIgnoresWrongTarget(t *testing.T) {
	sock := transport.NewMemory(4)
	called := make(chan struct{}, 1)
	cb := Callbacks{Shutdown: func() { called <- struct{}{} }}
	h := New("super1", sock, nil, cb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	send(t, sock, commandEnvelope("shutdown", "someone-else"))

	select {
	case <-called:
		t.Fatal("expected shutdown not to fire for a command targeted at another supervisor")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	sock := transport.NewMemory(4)
	called := make(chan struct{}, 1)
	cb := Callbacks{Reset: func() { called <- struct{}{} }}
	h := New("super1", sock, nil, cb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	send(t, sock, commandEnvelope("nonsense", "super1"))

	select {
	case <-called:
		t.Fatal("expected an unrecognised command not to trigger any callback")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestGetStatusPassesThroughPidSource(t *testing.T) {
	sock := transport.NewMemory(4)
	gotSource := make(chan string, 1)
	cb := Callbacks{GetStatus: func(pidsource string) { gotSource <- pidsource }}
	h := New("super1", sock, nil, cb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	send(t, sock, commandEnvelope("getstatus", "*"))

	select {
	case source := <-gotSource:
		if source != "tester" {
			t.Fatalf("expected pidsource %q, got %q", "tester", source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for getstatus callback")
	}
}

func TestConfigEnvelopeForwardsToConfigureRegardlessOfTarget(t *testing.T) {
	sock := transport.NewMemory(4)
	gotBody := make(chan string, 1)
	cb := Callbacks{Configure: func(raw json.RawMessage) { gotBody <- string(raw) }}
	h := New("super1", sock, nil, cb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	env := types.Envelope{Type: types.EnvelopeConfig, Body: json.RawMessage(`{"k":"v"}`)}
	send(t, sock, env)

	select {
	case body := <-gotBody:
		if body != `{"k":"v"}` {
			t.Fatalf("expected config body passed through, got %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for configure callback")
	}
}
