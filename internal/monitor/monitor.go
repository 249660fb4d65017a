// Package monitor implements the monitoring emission contract (spec.md
// §4.8): info/alarm/log envelopes and the per-manager heartbeat snapshot,
// all published on the monitoring socket. Grounded on
// internal/emitter/mqtt.go's Publish (bounded-wait send, errors logged and
// swallowed, a running Stats counter).
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/care/supervisor/internal/transport"
	"github.com/care/supervisor/internal/types"
)

// Emitter publishes monitoring envelopes. A nil socket is valid and makes
// every emission a no-op, for supervisors started without a
// monitoring_socket configured.
type Emitter struct {
	socket    transport.Socket
	pidSource string

	published atomic.Uint64
	errors    atomic.Uint64
}

// New creates an Emitter that publishes as pidSource (the supervisor's PID
// or globalname).
func New(socket transport.Socket, pidSource string) *Emitter {
	return &Emitter{socket: socket, pidSource: pidSource}
}

func (e *Emitter) emit(ctx context.Context, envType int, subtype string, priority types.Priority, body any) {
	if e == nil || e.socket == nil {
		return
	}

	raw, err := json.Marshal(body)
	if err != nil {
		slog.Error("monitor: failed to marshal body", "subtype", subtype, "error", err)
		return
	}

	env := types.Envelope{
		Type:      envType,
		Subtype:   subtype,
		Time:      types.NowSeconds(),
		PidSource: e.pidSource,
		PidTarget: "*",
		Priority:  priority.String(),
		Body:      raw,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("monitor: failed to marshal envelope", "subtype", subtype, "error", err)
		return
	}

	// Best-effort: a monitoring send failure is logged and dropped, never
	// propagated back into the pipeline (spec.md §4.8).
	if err := e.socket.Send(ctx, payload); err != nil {
		e.errors.Add(1)
		slog.Error("monitor: send failed", "subtype", subtype, "error", err)
		return
	}
	e.published.Add(1)
}

// Info emits a type=5 info envelope.
func (e *Emitter) Info(ctx context.Context, code int, message string) {
	e.emit(ctx, types.EnvelopeInfo, "info", types.Low, types.MonitoringBody{Level: 1, Code: code, Message: message})
}

// Alarm emits a type=2 alarm envelope.
func (e *Emitter) Alarm(ctx context.Context, code int, message string) {
	e.emit(ctx, types.EnvelopeAlarm, "alarm", types.High, types.MonitoringBody{Level: 3, Code: code, Message: message})
}

// Log emits a type=4 log envelope.
func (e *Emitter) Log(ctx context.Context, level, code int, message string) {
	e.emit(ctx, types.EnvelopeLog, "log", types.Low, types.MonitoringBody{Level: level, Code: code, Message: message})
}

// Heartbeat emits a per-manager status snapshot addressed to target
// (normally the pidsource of the getstatus command that triggered it).
func (e *Emitter) Heartbeat(ctx context.Context, target string, snapshot types.HeartbeatBody) {
	if e == nil || e.socket == nil {
		return
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("monitor: failed to marshal heartbeat", "error", err)
		return
	}

	env := types.Envelope{
		Type:      types.EnvelopeInfo,
		Subtype:   "heartbeat",
		Time:      types.NowSeconds(),
		PidSource: e.pidSource,
		PidTarget: target,
		Body:      raw,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("monitor: failed to marshal heartbeat envelope", "error", err)
		return
	}

	if err := e.socket.Send(ctx, payload); err != nil {
		e.errors.Add(1)
		slog.Error("monitor: heartbeat send failed", "error", err)
		return
	}
	e.published.Add(1)
}

// Stats reports best-effort emission counters.
type Stats struct {
	Published uint64
	Errors    uint64
}

func (e *Emitter) Stats() Stats {
	return Stats{Published: e.published.Load(), Errors: e.errors.Load()}
}
