// Package worker defines the Worker contract (spec.md §4.3). The concrete
// per-item business logic is an external collaborator out of scope for this
// runtime; only the process(item, priority) -> result capability is
// consumed, the way internal/types.InferenceWorker is consumed by
// internal/core without the core package knowing how a detector works.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/care/supervisor/internal/types"
)

// Worker is the polymorphic capability set a variant must supply. Configure
// is called with the raw body of a type=3 envelope; a conforming
// implementation replaces its configuration on each call rather than
// accumulating it (spec.md §9 open question, resolved in SPEC_FULL.md).
type Worker interface {
	// Configure applies a configuration envelope. Called from the command
	// handler's type=3 dispatch, forwarded unchanged from every manager.
	Configure(raw json.RawMessage) error
	// Process transforms one item into a result. A returned error means
	// the item is dropped, not retried (spec.md §7); the caller is
	// responsible for reporting the failure via the monitoring emitter.
	Process(ctx context.Context, item types.Item) (types.Result, error)
}

// Factory builds one instance of a Worker variant, the seam through which
// an external collaborator supplies the concrete per-item logic. Factories
// are registered under a name, which worker_variant in the per-manager
// configuration selects (spec.md §6).
type Factory func() Worker

// registry is the set of variants this binary was built with. Real
// deployments register their decoders here (schema decoding, etc.); the
// supervisor itself only ever calls through the Worker interface.
var registry = map[string]Factory{
	"echo": func() Worker { return &EchoWorker{} },
}

// Register adds a worker variant under name, for use by worker_variant in
// the per-manager configuration. Panics on a duplicate name, since that
// indicates two variants compiled into the same binary under one name.
func Register(name string, f Factory) {
	if _, exists := registry[name]; exists {
		panic("worker: variant already registered: " + name)
	}
	registry[name] = f
}

// New constructs a Worker for the given variant name.
func New(variant string) (Worker, bool) {
	f, ok := registry[variant]
	if !ok {
		return nil, false
	}
	return f(), true
}

// EchoWorker is the reference Worker used by tests and as the default
// variant: it passes the item through unchanged, copying Form, Payload and
// Text as they are without converting between representations. It never
// fails.
type EchoWorker struct{}

func (w *EchoWorker) Configure(json.RawMessage) error { return nil }

func (w *EchoWorker) Process(_ context.Context, item types.Item) (types.Result, error) {
	return types.Result{
		Item:       item,
		Form:       item.Form,
		Payload:    item.Payload,
		Text:       item.Text,
		ProducedAt: time.Now(),
	}, nil
}
