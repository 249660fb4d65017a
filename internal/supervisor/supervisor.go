// Package supervisor implements the top-level orchestrator (spec.md §4.9):
// it wires transport sockets, managers, ingress listeners, the result
// dispatcher and the command handler together, owns the
// {Initialised,Waiting,Processing,EndingProcessing,Shutdown} state machine,
// and exposes a process-wide singleton so a signal handler can dispatch
// into it.
//
// Grounded on core.Orion's Run/Shutdown sequencing (mu sync.RWMutex guarding
// isRunning/isPaused, an ordered shutdown sequence, wg.Wait before
// disconnecting transport) and cmd/oriond/main.go's signal-driven main loop.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/supervisor/internal/config"
	"github.com/care/supervisor/internal/control"
	"github.com/care/supervisor/internal/dispatcher"
	"github.com/care/supervisor/internal/ingress"
	"github.com/care/supervisor/internal/manager"
	"github.com/care/supervisor/internal/monitor"
	"github.com/care/supervisor/internal/transport"
	"github.com/care/supervisor/internal/types"
	"github.com/care/supervisor/internal/worker"
)

// State is the supervisor's top-level lifecycle state (spec.md §4.7's state
// diagram).
type State int

const (
	Initialised State = iota
	Waiting
	Processing
	EndingProcessing
	Shutdown
)

func (s State) String() string {
	switch s {
	case Initialised:
		return "Initialised"
	case Waiting:
		return "Waiting"
	case Processing:
		return "Processing"
	case EndingProcessing:
		return "EndingProcessing"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// cleanedShutdownPoll bounds the queue-empty poll cleanedshutdown uses to
// decide when every manager has drained (spec.md §9: a design choice, not
// a contract; a bounded wait is required).
const cleanedShutdownPoll = 200 * time.Millisecond

// instance is the process-wide singleton a signal handler dispatches
// through, set at construction and cleared on shutdown (spec.md §5's
// Singleton requirement, §9's design note).
var instance atomic.Pointer[Supervisor]

// Instance returns the current supervisor singleton, or nil if none has
// been constructed (or it has already shut down).
func Instance() *Supervisor { return instance.Load() }

// Supervisor is the top-level orchestrator.
type Supervisor struct {
	name       string
	globalName string
	pid        int
	cfg        *config.Config

	mon *monitor.Emitter

	commandSocket transport.Socket
	monitorSocket transport.Socket

	managers   []*manager.Manager
	dispatcher *dispatcher.Dispatcher
	control    *control.Handler

	mu          sync.RWMutex
	state       State
	continueall atomic.Bool
	stopdata    atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	cleanedShutdownOnce sync.Once
}

// Dialer opens the transport sockets a supervisor needs, injected so tests
// can substitute in-memory sockets instead of a live broker.
type Dialer interface {
	IngressLP(ctx context.Context, cfg *config.Config) (transport.Socket, error)
	IngressHP(ctx context.Context, cfg *config.Config) (transport.Socket, error)
	Command(ctx context.Context, cfg *config.Config) (transport.Socket, error)
	Monitoring(ctx context.Context, cfg *config.Config) (transport.Socket, error)
	ResultLP(ctx context.Context, index int, m config.ManagerConfig) (transport.Socket, error)
	ResultHP(ctx context.Context, index int, m config.ManagerConfig) (transport.Socket, error)
}

// New constructs a Supervisor named name from cfg, dialing its sockets
// through dialer and opening its worker pools. It does not yet start any
// loop; call Run for that.
func New(ctx context.Context, name string, cfg *config.Config, dialer Dialer) (*Supervisor, error) {
	s := &Supervisor{
		name:       name,
		globalName: "Supervisor-" + name,
		pid:        os.Getpid(),
		cfg:        cfg,
		state:      Initialised,
	}
	s.continueall.Store(true)

	monitorSocket, err := dialer.Monitoring(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial monitoring socket: %w", err)
	}
	s.monitorSocket = monitorSocket
	s.mon = monitor.New(monitorSocket, s.globalName)

	commandSocket, err := dialer.Command(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial command socket: %w", err)
	}
	s.commandSocket = commandSocket

	if err := s.buildManagers(ctx, cfg, dialer); err != nil {
		return nil, err
	}

	s.control = control.New(name, commandSocket, s.mon, control.Callbacks{
		Shutdown:        s.Shutdown,
		CleanedShutdown: s.CleanedShutdown,
		StartProcessing: s.StartProcessing,
		StopProcessing:  s.StopProcessing,
		StartData:       s.StartData,
		StopData:        s.StopData,
		Reset:           s.Reset,
		GetStatus:       s.GetStatus,
		Configure:       s.Configure,
	})

	instance.Store(s)
	return s, nil
}

func (s *Supervisor) buildManagers(ctx context.Context, cfg *config.Config, dialer Dialer) error {
	s.managers = make([]*manager.Manager, 0, len(cfg.Managers))
	for i, mc := range cfg.Managers {
		var lpSock, hpSock transport.Socket

		if mc.ResultLPSocket != config.NoneEndpoint {
			sock, err := dialer.ResultLP(ctx, i, mc)
			if err != nil {
				return fmt.Errorf("failed to dial manager %d result-lp socket: %w", i, err)
			}
			lpSock = sock
		}
		if mc.ResultHPSocket != config.NoneEndpoint {
			sock, err := dialer.ResultHP(ctx, i, mc)
			if err != nil {
				return fmt.Errorf("failed to dial manager %d result-hp socket: %w", i, err)
			}
			hpSock = sock
		}

		kind, err := transport.ParseKind(mc.ResultSocketType)
		if err != nil {
			return fmt.Errorf("manager %d: %w", i, err)
		}
		dataflow, ok := types.ParseItemForm(mc.ResultDataflowType)
		if !ok {
			return fmt.Errorf("manager %d: invalid result_dataflow_type %q", i, mc.ResultDataflowType)
		}

		name := fmt.Sprintf("%d", i)
		if len(mc.ManagerNames) > 0 {
			name = mc.ManagerNames[0]
		}

		m := manager.New(manager.Config{
			Index:            i,
			Name:             name,
			NumWorkers:       mc.NumWorkers,
			WorkerVariant:    mc.WorkerVariant,
			ResultSocketKind: kind,
			ResultDataflow:   dataflow,
			ResultLPEndpoint: mc.ResultLPSocket,
			ResultHPEndpoint: mc.ResultHPSocket,
		}, s.mon, lpSock, hpSock)

		s.managers = append(s.managers, m)
	}
	return nil
}

// Run executes the startup sequence (spec.md §4.9) and blocks until the
// supervisor reaches Shutdown.
func (s *Supervisor) Run(ctx context.Context, dialer Dialer) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.startWorkerPools(ctx)

	s.dispatcher = dispatcher.New(s.managers)
	s.dispatcher.Start(ctx)

	if err := s.startIngress(ctx, dialer); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.control.Run(ctx)
	}()

	s.setState(Waiting)
	s.mon.Info(ctx, 100, fmt.Sprintf("%s ready", s.globalName))
	slog.Info("supervisor ready", "name", s.name, "state", s.State())

	s.idleWatchdog(ctx)

	s.wg.Wait()
	s.dispatcher.Wait()
	return nil
}

func (s *Supervisor) startWorkerPools(ctx context.Context) {
	for i, mc := range s.cfg.Managers {
		n := mc.NumWorkers
		if n <= 0 {
			n = 1
		}
		variant := mc.WorkerVariant
		factory := func() worker.Worker {
			w, ok := worker.New(variant)
			if !ok {
				slog.Warn("unknown worker_variant, falling back to echo", "variant", variant)
				w, _ = worker.New("echo")
			}
			return w
		}
		s.managers[i].StartWorkers(ctx, factory, n)
	}
}

func (s *Supervisor) startIngress(ctx context.Context, dialer Dialer) error {
	form, ok := types.ParseItemForm(s.cfg.DataflowType)
	if !ok {
		return fmt.Errorf("invalid dataflow_type %q", s.cfg.DataflowType)
	}

	if s.cfg.DatasocketType == "custom" {
		// Operator injects items directly; no ingress socket to dial.
		return nil
	}

	lpSock, err := dialer.IngressLP(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("failed to dial ingress-lp socket: %w", err)
	}
	hpSock, err := dialer.IngressHP(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("failed to dial ingress-hp socket: %w", err)
	}

	lpListener := ingress.New(ingress.Source{Socket: lpSock, Priority: types.Low, Form: form}, s.managers, s.mon)
	hpListener := ingress.New(ingress.Source{Socket: hpSock, Priority: types.High, Form: form}, s.managers, s.mon)

	s.wg.Add(2)
	go func() { defer s.wg.Done(); lpListener.Run(ctx) }()
	go func() { defer s.wg.Done(); hpListener.Run(ctx) }()
	return nil
}

// idleWatchdog blocks until the supervisor reaches Shutdown, waking every
// second purely to avoid a busy-wait (spec.md §4.9 step 8).
func (s *Supervisor) idleWatchdog(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() == Shutdown {
				return
			}
		}
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// StartProcessing transitions to Processing and enables every manager's
// processdata gate.
func (s *Supervisor) StartProcessing() {
	s.setState(Processing)
	for _, m := range s.managers {
		m.SetProcessData(true)
	}
}

// StopProcessing transitions to Waiting and disables every manager's
// processdata gate.
func (s *Supervisor) StopProcessing() {
	s.setState(Waiting)
	for _, m := range s.managers {
		m.SetProcessData(false)
	}
}

// StartData clears stopdata on the supervisor and every manager.
func (s *Supervisor) StartData() {
	s.stopdata.Store(false)
	for _, m := range s.managers {
		m.SetStopData(false)
	}
}

// StopData sets stopdata on the supervisor and every manager.
func (s *Supervisor) StopData() {
	s.stopdata.Store(true)
	for _, m := range s.managers {
		m.SetStopData(true)
	}
}

// AcceptsData reports whether ingress should currently receive.
func (s *Supervisor) AcceptsData() bool { return !s.stopdata.Load() }

// Reset is valid from Processing or Waiting; it stops processing, clears
// every manager's queues, and returns to Waiting. Invoked from any other
// state (notably EndingProcessing) it is a no-op, logged as a warning —
// resolving spec.md §9's open question on reset-during-EndingProcessing.
func (s *Supervisor) Reset() {
	switch s.State() {
	case Processing, Waiting:
	default:
		slog.Warn("supervisor: reset ignored outside Processing/Waiting", "state", s.State())
		return
	}

	s.StopData()
	s.StopProcessing()
	for _, m := range s.managers {
		m.CleanQueue()
	}
	s.setState(Waiting)
	s.mon.Info(context.Background(), 101, fmt.Sprintf("%s reset", s.globalName))
}

// GetStatus emits a heartbeat from every manager addressed to pidsource
// (spec.md §4.7's getstatus).
func (s *Supervisor) GetStatus(pidsource string) {
	ctx := context.Background()
	for _, m := range s.managers {
		s.mon.Heartbeat(ctx, pidsource, m.Heartbeat())
	}
}

// Configure forwards a type=3 envelope body to every manager's workers.
func (s *Supervisor) Configure(raw json.RawMessage) {
	for _, m := range s.managers {
		if err := m.Configure(raw); err != nil {
			slog.Error("supervisor: configure failed", "error", err)
			s.mon.Alarm(context.Background(), 402, "configure failed: "+err.Error())
		}
	}
}

// Shutdown transitions to Shutdown and stops every manager with
// stop(fast=false) per spec.md's shutdown command: while processing is on,
// buffered items are still drained before the workers exit; only new
// ingress is refused.
func (s *Supervisor) Shutdown() {
	s.setState(Shutdown)
	s.continueall.Store(false)
	for _, m := range s.managers {
		m.Stop(false)
	}
	if s.cancel != nil {
		s.cancel()
	}
	instance.Store(nil)
}

// CleanedShutdown implements spec.md §4.7's cleanedshutdown: valid only
// from Processing. It stops ingress, transitions to EndingProcessing, polls
// until every manager's four queues are empty, then shuts down.
func (s *Supervisor) CleanedShutdown() {
	s.cleanedShutdownOnce.Do(func() {
		if s.State() != Processing {
			slog.Warn("supervisor: cleanedshutdown requested outside Processing, forcing shutdown", "state", s.State())
			s.Shutdown()
			return
		}

		s.setState(EndingProcessing)
		s.StopData()

		ticker := time.NewTicker(cleanedShutdownPoll)
		defer ticker.Stop()
		for range ticker.C {
			if s.allQueuesEmpty() {
				break
			}
		}

		s.Shutdown()
	})
}

func (s *Supervisor) allQueuesEmpty() bool {
	for _, m := range s.managers {
		hb := m.Heartbeat()
		if hb.InputLP != 0 || hb.InputHP != 0 || hb.ResultLP != 0 || hb.ResultHP != 0 {
			return false
		}
	}
	return true
}

// Name returns the supervisor's configured name.
func (s *Supervisor) Name() string { return s.name }

// GlobalName returns "Supervisor-"+name.
func (s *Supervisor) GlobalName() string { return s.globalName }

// PID returns the OS process id.
func (s *Supervisor) PID() int { return s.pid }
