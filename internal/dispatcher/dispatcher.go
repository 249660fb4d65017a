// Package dispatcher starts each manager's result drain loop and waits for
// all of them to finish on shutdown (spec.md §4.6). The per-manager
// HP-first drain logic lives on manager.Manager itself, since the result
// sockets are already wired in at construction; this package only owns the
// fan-out/fan-in across managers.
//
// Grounded on consumeInferences in
// References/orion-prototipe/internal/core/consumer.go: one goroutine per
// source, a local WaitGroup, block on ctx.Done() then wait for every
// goroutine to drain before returning.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/care/supervisor/internal/manager"
)

// Dispatcher runs one DispatchResults loop per manager concurrently.
type Dispatcher struct {
	managers []*manager.Manager
	wg       sync.WaitGroup
}

// New constructs a Dispatcher over managers.
func New(managers []*manager.Manager) *Dispatcher {
	return &Dispatcher{managers: managers}
}

// Start launches one drain goroutine per manager. It returns immediately;
// call Wait to block until ctx is cancelled and every drain loop has
// returned.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("dispatcher started", "managers", len(d.managers))
	for _, m := range d.managers {
		d.wg.Add(1)
		go func(m *manager.Manager) {
			defer d.wg.Done()
			m.DispatchResults(ctx)
		}(m)
	}
}

// Wait blocks until every drain goroutine has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
	slog.Info("dispatcher stopped")
}
