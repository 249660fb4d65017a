// Package manager implements the WorkerManager (spec.md §4.4): one
// priority-aware item/result queue pair per manager, a pool of worker
// goroutines draining them HP-first, and the processdata/stopdata gates a
// command handler flips without tearing the pool down.
//
// The priority-pop logic mirrors consumer.go's consumeFrames: try the
// high-priority source first, fall through to low-priority, and block with
// a bounded wait rather than busy-polling when both are empty. Because
// Queue[T] cannot itself wake a select across two independent instances, a
// per-manager notify channel stands in for the cross-queue condition
// variable spec.md §5 allows.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/supervisor/internal/monitor"
	"github.com/care/supervisor/internal/queue"
	"github.com/care/supervisor/internal/transport"
	"github.com/care/supervisor/internal/types"
	"github.com/care/supervisor/internal/worker"
)

// pollFallback bounds how long popInput waits on notify before re-checking
// both queues anyway. Belt-and-suspenders against a missed signal; spec.md
// §5 requires any condition-variable wait used here be bounded.
const pollFallback = 200 * time.Millisecond

// Config describes one manager's static shape, the Go-native form of a
// single entry in the managers list of spec.md §6.
type Config struct {
	Index int
	Name  string

	NumWorkers    int
	WorkerVariant string

	ResultSocketKind transport.Kind
	ResultDataflow   types.ItemForm
	ResultLPEndpoint string
	ResultHPEndpoint string
}

// GlobalName is the manager's identity in monitoring envelopes and logs.
func (c Config) GlobalName() string {
	if c.Name != "" {
		return fmt.Sprintf("Manager-%s", c.Name)
	}
	return fmt.Sprintf("Manager-%d", c.Index)
}

// Manager owns one pair of priority item queues, one pair of priority
// result queues, and the worker pool draining them.
type Manager struct {
	cfg        Config
	globalName string
	mon        *monitor.Emitter

	inputLP *queue.Queue[types.Item]
	inputHP *queue.Queue[types.Item]

	resultLP *queue.Queue[types.Result]
	resultHP *queue.Queue[types.Result]
	resultLPSocket transport.Socket
	resultHPSocket transport.Socket

	notify chan struct{}

	processdata atomic.Bool
	stopdata    atomic.Bool

	workersMu sync.Mutex
	workers   []worker.Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager. resultLPSocket/resultHPSocket may be nil,
// matching a "none" endpoint (spec.md §4.4): results are still queued and
// dequeued for observability, just never sent anywhere.
func New(cfg Config, mon *monitor.Emitter, resultLPSocket, resultHPSocket transport.Socket) *Manager {
	m := &Manager{
		cfg:            cfg,
		globalName:     cfg.GlobalName(),
		mon:            mon,
		inputLP:        queue.New[types.Item](),
		inputHP:        queue.New[types.Item](),
		resultLP:       queue.New[types.Result](),
		resultHP:       queue.New[types.Result](),
		resultLPSocket: resultLPSocket,
		resultHPSocket: resultHPSocket,
		notify:         make(chan struct{}, 1),
	}
	// A manager is created already able to accept data; processdata gates
	// whether workers act on it (spec.md §4.4's startprocessing/
	// stopprocessing), independent from stopdata gating ingress.
	m.processdata.Store(true)
	return m
}

func (m *Manager) GlobalName() string { return m.globalName }

// PushInput enqueues item on the queue matching its priority and wakes one
// blocked popper.
func (m *Manager) PushInput(item types.Item) {
	switch item.Priority {
	case types.High:
		m.inputHP.Push(item)
	default:
		m.inputLP.Push(item)
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// popInput returns the next item to process, strictly preferring the
// high-priority queue, or false once both queues are closed and drained.
// While processdata is false it pops nothing and keeps waiting.
func (m *Manager) popInput(ctx context.Context) (types.Item, bool) {
	for {
		if m.processdata.Load() {
			if item, ok := m.inputHP.TryPop(); ok {
				return item, true
			}
			if item, ok := m.inputLP.TryPop(); ok {
				return item, true
			}
		}
		if m.inputHP.Closed() && m.inputLP.Closed() {
			return types.Item{}, false
		}
		select {
		case <-ctx.Done():
			return types.Item{}, false
		case <-m.notify:
		case <-time.After(pollFallback):
		}
	}
}

// StartWorkers launches n workers built from factory, each reading from the
// shared input queues under a context derived from parent. Safe to call
// once per manager lifetime; call Stop before calling it again.
func (m *Manager) StartWorkers(parent context.Context, factory worker.Factory, n int) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	m.workersMu.Lock()
	m.workers = make([]worker.Worker, 0, n)
	m.workersMu.Unlock()

	for i := 0; i < n; i++ {
		w := factory()
		m.workersMu.Lock()
		m.workers = append(m.workers, w)
		m.workersMu.Unlock()

		m.wg.Add(1)
		go m.runWorker(ctx, w)
	}
}

func (m *Manager) runWorker(ctx context.Context, w worker.Worker) {
	defer m.wg.Done()

	for {
		if !m.processdata.Load() {
			if m.inputHP.Closed() && m.inputLP.Closed() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		item, ok := m.popInput(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			// Both queues closed and empty: nothing left to drain.
			return
		}

		result, err := w.Process(ctx, item)
		if err != nil {
			slog.Error("manager: worker process failed", "manager", m.globalName, "item", item.ID, "error", err)
			m.mon.Alarm(ctx, 500, fmt.Sprintf("%s: item %s dropped: %v", m.globalName, item.ID, err))
			continue
		}

		switch item.Priority {
		case types.High:
			m.resultHP.Push(result)
		default:
			m.resultLP.Push(result)
		}
	}
}

// Configure forwards a type=3 envelope body to every worker in the pool.
func (m *Manager) Configure(raw json.RawMessage) error {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()

	for _, w := range m.workers {
		if err := w.Configure(raw); err != nil {
			return fmt.Errorf("manager %s: configure worker: %w", m.globalName, err)
		}
	}
	return nil
}

// SetProcessData flips the processdata gate: false parks every worker
// between pops without tearing the pool down (spec.md §4.4
// startprocessing/stopprocessing).
func (m *Manager) SetProcessData(v bool) { m.processdata.Store(v) }

// SetStopData flips the stopdata gate consulted by ingress before pushing
// into this manager (spec.md §4.4 startdata/stopdata).
func (m *Manager) SetStopData(v bool) { m.stopdata.Store(v) }

// AcceptsData reports whether ingress should push items into this manager.
func (m *Manager) AcceptsData() bool { return !m.stopdata.Load() }

// Stop halts the worker pool. fast=true cancels the derived context
// immediately, abandoning any buffered-but-unprocessed items (mirroring
// worker_slot.go's immediate-abandon-on-close semantics). fast=false
// instead closes both input queues so popInput drains what is already
// buffered before workers exit; because Worker.Process is not itself
// interruptible (spec.md §5 gives it no per-call timeout), a graceful stop
// cannot preempt an item already in flight — it can only stop feeding new
// ones once the buffered backlog is exhausted. If processdata is false,
// workers exit on the closed queues without processing the backlog.
func (m *Manager) Stop(fast bool) {
	if fast {
		if m.cancel != nil {
			m.cancel()
		}
	} else {
		m.inputHP.Close()
		m.inputLP.Close()
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
	m.wg.Wait()
}

// CleanQueue atomically discards everything buffered in all four queues
// (spec.md §4.4 cleanqueue, invoked by the supervisor's reset).
func (m *Manager) CleanQueue() {
	m.inputLP.Clear()
	m.inputHP.Clear()
	m.resultLP.Clear()
	m.resultHP.Clear()
}

// DispatchResults drains both result queues HP-first into their configured
// sockets until ctx is cancelled. It is started once per manager alongside
// the dispatcher and runs for the manager's lifetime.
func (m *Manager) DispatchResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if m.drainOne(ctx, m.resultHP, m.resultHPSocket) {
			continue
		}
		if m.drainOne(ctx, m.resultLP, m.resultLPSocket) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollFallback):
		}
	}
}

func (m *Manager) drainOne(ctx context.Context, q *queue.Queue[types.Result], sock transport.Socket) bool {
	result, ok := q.TryPop()
	if !ok {
		return false
	}
	if sock == nil {
		// "none" endpoint: the result is produced and observable via
		// queue size metrics, but nothing receives it over the wire.
		return true
	}

	payload := result.Payload
	if result.Form == types.FormString || result.Form == types.FormFilename {
		payload = []byte(result.Text)
	}
	if err := sock.Send(ctx, payload); err != nil {
		slog.Error("manager: result send failed", "manager", m.globalName, "item", result.Item.ID, "error", err)
		m.mon.Alarm(ctx, 501, fmt.Sprintf("%s: result %s send failed: %v", m.globalName, result.Item.ID, err))
	}
	return true
}

// Heartbeat builds the status snapshot for this manager.
func (m *Manager) Heartbeat() types.HeartbeatBody {
	m.workersMu.Lock()
	n := len(m.workers)
	m.workersMu.Unlock()

	return types.HeartbeatBody{
		GlobalName:  m.globalName,
		InputLP:     m.inputLP.Size(),
		InputHP:     m.inputHP.Size(),
		ResultLP:    m.resultLP.Size(),
		ResultHP:    m.resultHP.Size(),
		ProcessData: m.processdata.Load(),
		StopData:    m.stopdata.Load(),
		NumWorkers:  n,
	}
}
