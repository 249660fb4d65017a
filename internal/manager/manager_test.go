package manager

import (
	"context"
	"testing"
	"time"

	"github.com/care/supervisor/internal/transport"
	"github.com/care/supervisor/internal/types"
	"github.com/care/supervisor/internal/worker"
)

func newTestManager(t *testing.T) (*Manager, *transport.Memory, *transport.Memory) {
	t.Helper()
	lp := transport.NewMemory(64)
	hp := transport.NewMemory(64)
	m := New(Config{Name: "test", NumWorkers: 1}, nil, lp, hp)
	return m, lp, hp
}

func drainN(t *testing.T, sock *transport.Memory, n int, timeout time.Duration) [][]byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		payload, err := sock.Recv(ctx)
		if err != nil {
			t.Fatalf("recv %d/%d: %v", i+1, n, err)
		}
		out = append(out, payload)
	}
	return out
}

func TestHighPriorityPreemptsLowPriority(t *testing.T) {
	m, lpSock, hpSock := newTestManager(t)

	ctx := context.Background()
	m.SetProcessData(false) // park the worker while the backlog builds up

	for i := 0; i < 50; i++ {
		item := types.NewItem(types.FormString, types.Low)
		item.Text = "lp"
		m.PushInput(item)
	}
	hpItem := types.NewItem(types.FormString, types.High)
	hpItem.Text = "hp"
	m.PushInput(hpItem)

	m.StartWorkers(ctx, func() worker.Worker { return &worker.EchoWorker{} }, 1)
	go m.DispatchResults(ctx)
	m.SetProcessData(true)

	recvCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	select {
	case payload := <-hpSock.RecvChan():
		if string(payload) != "hp" {
			t.Fatalf("expected the HP item dispatched first, got %q", payload)
		}
	case payload := <-lpSock.RecvChan():
		t.Fatalf("expected the HP item before any LP item, but got LP result %q", payload)
	case <-recvCtx.Done():
		t.Fatal("timed out waiting for the HP result")
	}

	m.Stop(true)
}

func TestFIFOWithinPriorityClass(t *testing.T) {
	m, lpSock, _ := newTestManager(t)

	ctx := context.Background()
	m.StartWorkers(ctx, func() worker.Worker { return &worker.EchoWorker{} }, 1)
	go m.DispatchResults(ctx)

	for i := 0; i < 5; i++ {
		item := types.NewItem(types.FormString, types.Low)
		item.Text = string(rune('a' + i))
		m.PushInput(item)
	}

	results := drainN(t, lpSock, 5, 2*time.Second)
	for i, r := range results {
		want := string(rune('a' + i))
		if string(r) != want {
			t.Fatalf("result %d: expected %q, got %q", i, want, r)
		}
	}

	m.Stop(true)
}

func TestSetProcessDataParksWorkers(t *testing.T) {
	m, lpSock, _ := newTestManager(t)

	ctx := context.Background()
	m.StartWorkers(ctx, func() worker.Worker { return &worker.EchoWorker{} }, 1)
	go m.DispatchResults(ctx)

	m.SetProcessData(false)

	item := types.NewItem(types.FormString, types.Low)
	item.Text = "parked"
	m.PushInput(item)

	recvCtx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := lpSock.Recv(recvCtx); err == nil {
		t.Fatal("expected no result while processdata is false")
	}

	m.SetProcessData(true)
	results := drainN(t, lpSock, 1, 2*time.Second)
	if string(results[0]) != "parked" {
		t.Fatalf("expected the parked item once resumed, got %q", results[0])
	}

	m.Stop(true)
}

func TestCleanQueueDiscardsBuffered(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.SetProcessData(false)
	for i := 0; i < 3; i++ {
		m.PushInput(types.NewItem(types.FormString, types.Low))
	}
	if got := m.inputLP.Size(); got != 3 {
		t.Fatalf("expected 3 buffered items, got %d", got)
	}

	m.CleanQueue()
	if got := m.inputLP.Size(); got != 0 {
		t.Fatalf("expected queue cleared, got %d items", got)
	}
}

func TestStopGracefulDrainsBufferedItems(t *testing.T) {
	m, lpSock, _ := newTestManager(t)

	ctx := context.Background()
	m.StartWorkers(ctx, func() worker.Worker { return &worker.EchoWorker{} }, 1)
	go m.DispatchResults(ctx)

	for i := 0; i < 3; i++ {
		item := types.NewItem(types.FormString, types.Low)
		item.Text = "buffered"
		m.PushInput(item)
	}

	m.Stop(false)

	if !m.inputLP.Closed() {
		t.Fatal("expected input queue closed after graceful stop")
	}

	results := drainN(t, lpSock, 3, 2*time.Second)
	for i, r := range results {
		if string(r) != "buffered" {
			t.Fatalf("result %d: expected %q, got %q", i, "buffered", r)
		}
	}
}

// TestNoneResultSocketDiscardsResults covers the "none" endpoint property
// from spec.md §8: a manager with no result socket still drains produced
// results off its queue, it just never sends them anywhere, and drainOne
// must not error or block on a nil socket.
func TestNoneResultSocketDiscardsResults(t *testing.T) {
	m := New(Config{Name: "test", NumWorkers: 1}, nil, nil, nil)

	ctx := context.Background()
	m.StartWorkers(ctx, func() worker.Worker { return &worker.EchoWorker{} }, 1)
	go m.DispatchResults(ctx)

	item := types.NewItem(types.FormString, types.Low)
	item.Text = "discarded"
	m.PushInput(item)

	deadline := time.Now().Add(2 * time.Second)
	for m.resultLP.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the result queue to drain, size=%d", m.resultLP.Size())
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.Stop(true)
}

func TestHeartbeatReflectsGateState(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetStopData(true)

	hb := m.Heartbeat()
	if !hb.StopData {
		t.Fatal("expected heartbeat to report stopdata=true")
	}
	if hb.GlobalName != "Manager-test" {
		t.Fatalf("expected globalname Manager-test, got %q", hb.GlobalName)
	}
}
