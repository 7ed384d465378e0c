// Package instrument is the producing side of the pipeline: it gathers
// countable operations while a unit of work runs and reports them as one
// results_collected event.
package instrument

import (
	"context"
	"sync"

	"github.com/tinytelemetry/perfbudget/internal/model"
	"github.com/tinytelemetry/perfbudget/internal/signal"
)

// Tally collects result items for one sender.
type Tally struct {
	sender model.Sender

	mu      sync.Mutex
	items   model.Results
	context model.Context
}

func NewTally(sender model.Sender, ctx model.Context) *Tally {
	if ctx == nil {
		ctx = model.Context{}
	}
	return &Tally{sender: sender, context: ctx}
}

func (t *Tally) Sender() model.Sender { return t.sender }

// Observe records one operation.
func (t *Tally) Observe(item model.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, item)
}

// Len returns the number of operations observed since the last Flush.
func (t *Tally) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Flush emits the collected items on sig and resets the tally. The
// error is whatever the signal's handlers returned.
func (t *Tally) Flush(sig *signal.Signal) error {
	t.mu.Lock()
	items := t.items
	ctx := t.context.Clone()
	t.items = nil
	t.mu.Unlock()

	if items == nil {
		items = model.Results{}
	}
	return sig.Send(t.sender, items, ctx)
}

type tallyKey struct{}

// WithTally attaches t to ctx so instrumented code can find it.
func WithTally(ctx context.Context, t *Tally) context.Context {
	return context.WithValue(ctx, tallyKey{}, t)
}

// FromContext returns the active tally, or nil.
func FromContext(ctx context.Context) *Tally {
	t, _ := ctx.Value(tallyKey{}).(*Tally)
	return t
}

// Observe records item on the tally in ctx, if any. Code under test calls
// this around every expensive operation.
func Observe(ctx context.Context, item model.Value) {
	if t := FromContext(ctx); t != nil {
		t.Observe(item)
	}
}

// Query is Observe for a SQL statement with its call stack.
func Query(ctx context.Context, statement string, callStack ...string) {
	Observe(ctx, model.Map(map[string]model.Value{
		"statement":  model.String(statement),
		"call_stack": model.Strings(callStack...),
	}))
}
