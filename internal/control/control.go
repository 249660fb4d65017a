// Package control implements the command handler (spec.md §4.7): it
// receives envelopes on the command socket, filters by pidtarget, and
// dispatches by (type, subtype) to callbacks supplied by the supervisor.
//
// Grounded directly on handler.go's Subscribe→channel→processCommands
// pipeline: a buffered command channel fed by a receive loop and a single
// consumer goroutine running the switch dispatch. No acknowledgement is
// sent back for a command.
package control

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/care/supervisor/internal/transport"
	"github.com/care/supervisor/internal/types"
)

// Callbacks is the set of state-machine actions the supervisor exposes to
// the command handler, mirroring handler.go's CommandCallbacks.
type Callbacks struct {
	Shutdown        func()
	CleanedShutdown func()
	StartProcessing func()
	StopProcessing  func()
	StartData       func()
	StopData        func()
	Reset           func()
	GetStatus       func(pidsource string)
	Configure       func(raw json.RawMessage)
}

// Handler receives command envelopes and drives Callbacks.
type Handler struct {
	selfName string
	socket   transport.Socket
	mon      monitorAlarm

	callbacks Callbacks
	commands  chan types.Envelope
}

// monitorAlarm is the minimal surface control needs from the monitoring
// emitter, kept narrow to avoid importing the monitor package's full API.
type monitorAlarm interface {
	Alarm(ctx context.Context, code int, message string)
}

// New constructs a Handler. selfName is the supervisor's name, matched
// against pidtarget per spec.md §4.7.
func New(selfName string, socket transport.Socket, mon monitorAlarm, callbacks Callbacks) *Handler {
	return &Handler{
		selfName:  selfName,
		socket:    socket,
		mon:       mon,
		callbacks: callbacks,
		commands:  make(chan types.Envelope, 32),
	}
}

// Run starts the receive loop and the command-processing loop. It blocks
// until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	go h.receiveLoop(ctx)
	h.processCommands(ctx)
}

func (h *Handler) receiveLoop(ctx context.Context) {
	if h.socket == nil {
		return
	}
	for {
		payload, err := h.socket.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				close(h.commands)
				return
			}
			slog.Error("control: recv failed", "error", err)
			if h.mon != nil {
				h.mon.Alarm(ctx, 402, "control recv failed: "+err.Error())
			}
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			slog.Error("control: failed to parse command envelope", "error", err)
			continue
		}

		slog.Info("control command received", "type", env.Type, "subtype", env.Subtype, "pidtarget", env.PidTarget)

		select {
		case h.commands <- env:
		default:
			slog.Warn("control: command queue full, dropping", "subtype", env.Subtype)
		}
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(ctx, env)
		}
	}
}

// targetsSelf reports whether env.PidTarget addresses this supervisor,
// per spec.md §4.7's pidtarget ∈ {self.name, "all", "*"}. An empty
// pidtarget is also treated as addressing this supervisor.
func (h *Handler) targetsSelf(env types.Envelope) bool {
	switch env.PidTarget {
	case h.selfName, "all", "*", "":
		return true
	default:
		return false
	}
}

func (h *Handler) handleCommand(ctx context.Context, env types.Envelope) {
	switch env.Type {
	case types.EnvelopeConfig:
		if h.callbacks.Configure != nil {
			h.callbacks.Configure(env.Body)
		}
		return

	case types.EnvelopeCommand:
		if !h.targetsSelf(env) {
			return
		}

		h.dispatch(env.Subtype, env.PidSource)

	default:
		// Unknown envelope types are ignored silently (spec.md §4.7).
	}
}

func (h *Handler) dispatch(command, pidsource string) {
	switch command {
	case "start":
		h.invoke(h.callbacks.StartProcessing)
		h.invoke(h.callbacks.StartData)
	case "stop":
		h.invoke(h.callbacks.StopData)
		h.invoke(h.callbacks.StopProcessing)
	case "startprocessing":
		h.invoke(h.callbacks.StartProcessing)
	case "stopprocessing":
		h.invoke(h.callbacks.StopProcessing)
	case "startdata":
		h.invoke(h.callbacks.StartData)
	case "stopdata":
		h.invoke(h.callbacks.StopData)
	case "shutdown":
		h.invoke(h.callbacks.Shutdown)
	case "cleanedshutdown":
		h.invoke(h.callbacks.CleanedShutdown)
	case "reset":
		h.invoke(h.callbacks.Reset)
	case "getstatus":
		if h.callbacks.GetStatus != nil {
			h.callbacks.GetStatus(pidsource)
		}
	default:
		// Unknown subtypes are ignored (spec.md §4.7): only a local warning
		// is logged, no alarm is emitted, matching the "unknown command"
		// end-to-end scenario.
		slog.Warn("control: unknown command", "command", command)
	}
}

func (h *Handler) invoke(fn func()) {
	if fn != nil {
		fn()
	}
}
