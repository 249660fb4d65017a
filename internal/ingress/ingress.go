// Package ingress implements the three form-specific listeners (binary,
// string, filename) that read from the configured datasockets and fan out
// each item to every manager willing to accept it (spec.md §4.5).
//
// Grounded on consumeFrames in
// References/orion-prototipe/internal/core/consumer.go: a select loop over
// ctx.Done()/the source channel, periodic stats logging, and a pause gate
// consulted before each distribute. stopdata plays the role of isPausedCheck
// here, per manager rather than global.
package ingress

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/care/supervisor/internal/manager"
	"github.com/care/supervisor/internal/monitor"
	"github.com/care/supervisor/internal/transport"
	"github.com/care/supervisor/internal/types"
)

// Source reads one listener's worth of configuration: the socket to Recv
// from, the priority stamped on every item it produces, and the item form
// it decodes.
type Source struct {
	Socket   transport.Socket
	Priority types.Priority
	Form     types.ItemForm
}

// Listener drains one Source and fans each decoded item out to every
// manager that accepts it.
type Listener struct {
	source   Source
	managers []*manager.Manager
	mon      *monitor.Emitter

	logInterval time.Duration
}

// New constructs a Listener fanning out to managers.
func New(source Source, managers []*manager.Manager, mon *monitor.Emitter) *Listener {
	return &Listener{source: source, managers: managers, mon: mon, logInterval: 5 * time.Second}
}

// Run drains the source until ctx is cancelled or the socket is closed.
func (l *Listener) Run(ctx context.Context) {
	if l.source.Socket == nil {
		return
	}

	slog.Info("ingress listener started", "form", l.source.Form, "priority", l.source.Priority)

	var count uint64
	lastLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingress listener stopping", "form", l.source.Form, "total", count)
			return
		default:
		}

		payload, err := l.source.Socket.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("ingress recv failed", "form", l.source.Form, "error", err)
			l.mon.Alarm(ctx, 400, "ingress recv failed: "+err.Error())
			continue
		}

		items, err := l.decode(payload)
		if err != nil {
			slog.Error("ingress decode failed", "form", l.source.Form, "error", err)
			l.mon.Alarm(ctx, 401, "ingress decode failed: "+err.Error())
			continue
		}
		count += uint64(len(items))

		for _, item := range items {
			l.distribute(item)
		}

		if time.Since(lastLog) >= l.logInterval {
			slog.Debug("ingress stats", "form", l.source.Form, "items_consumed", count)
			lastLog = time.Now()
		}
	}
}

// decode builds the items carried by one raw payload according to the
// listener's form. Binary and string forms always produce exactly one item.
// Filename-form treats the payload as a path, reads the file eagerly, and
// fans out one item per non-empty line (in file order), matching
// Supervisor::open_file/listen_for_lp_file in
// _examples/original_source/src/Supervisor.cpp:395-461 — file fan-out
// happens at ingress, not at the worker.
func (l *Listener) decode(payload []byte) ([]types.Item, error) {
	if l.source.Form == types.FormFilename {
		path := string(payload)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var items []types.Item
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			item := types.NewItem(l.source.Form, l.source.Priority)
			item.SourcePath = path
			item.Text = line
			items = append(items, item)
		}
		return items, nil
	}

	item := types.NewItem(l.source.Form, l.source.Priority)
	switch l.source.Form {
	case types.FormString:
		item.Text = string(payload)
	default:
		item.Payload = payload
	}
	return []types.Item{item}, nil
}

// distribute pushes item into every manager still accepting data. A
// manager with stopdata=true silently drops items meant for it rather than
// buffering them, per spec.md §4.4.
func (l *Listener) distribute(item types.Item) {
	for _, m := range l.managers {
		if !m.AcceptsData() {
			continue
		}
		m.PushInput(item)
	}
}
