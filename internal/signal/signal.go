// Package signal is the in-process, synchronous publish/subscribe bus that
// carries sample events between instrumented code, collectors, the log
// writer and replay consumers.
//
// Handlers run on the caller's stack, in registration order, before Send
// returns. There is no queue and no goroutine anywhere in the dispatch
// path.
package signal

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tinytelemetry/perfbudget/internal/model"
)

// Wire names consumers rely on.
const (
	NameResultsCollected = "results_collected"
	NameResultsRead      = "results_read"
)

var (
	// ResultsCollected carries raw per-sender samples from instrumented
	// code to collectors and writers.
	ResultsCollected = New(NameResultsCollected)
	// ResultsRead carries samples replayed from the log file.
	ResultsRead = New(NameResultsRead)

	table = map[string]*Signal{
		NameResultsCollected: ResultsCollected,
		NameResultsRead:      ResultsRead,
	}
)

// Lookup resolves one of the process-scoped signals by wire name.
func Lookup(name string) (*Signal, bool) {
	s, ok := table[name]
	return s, ok
}

// Handler receives one event. A non-nil error is surfaced to the Send
// caller.
type Handler func(sender model.Sender, results model.Results, ctx model.Context) error

// Connection identifies one registration. Func values are not comparable,
// so disconnecting goes through this token.
type Connection struct {
	signal *Signal
	id     uint64
}

// Disconnect is shorthand for c's signal Disconnect.
func (c Connection) Disconnect() bool {
	if c.signal == nil {
		return false
	}
	return c.signal.Disconnect(c)
}

type receiver struct {
	id      uint64
	handler Handler
}

// Signal is one named channel with an ordered handler list.
type Signal struct {
	name string

	mu        sync.Mutex
	nextID    uint64
	receivers []receiver
}

// New creates a standalone signal. Most code uses the process-scoped
// ResultsCollected and ResultsRead.
func New(name string) *Signal {
	return &Signal{name: name}
}

func (s *Signal) Name() string { return s.name }

// Connect registers h for every subsequent Send until disconnected.
func (s *Signal) Connect(h Handler) Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.receivers = append(s.receivers, receiver{id: s.nextID, handler: h})
	return Connection{signal: s, id: s.nextID}
}

// Disconnect removes the registration. It reports whether the connection
// was still registered.
func (s *Signal) Disconnect(c Connection) bool {
	if c.signal != s {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.receivers {
		if r.id == c.id {
			// Copy so snapshots held by an in-flight Send stay intact.
			next := make([]receiver, 0, len(s.receivers)-1)
			next = append(next, s.receivers[:i]...)
			next = append(next, s.receivers[i+1:]...)
			s.receivers = next
			return true
		}
	}
	return false
}

// Receivers returns the number of connected handlers.
func (s *Signal) Receivers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receivers)
}

// Reset drops every handler. Tests use it as teardown.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers = nil
}

// Send dispatches the event to the handlers connected at call time. Every
// handler runs even if an earlier one fails. A single failure is returned
// unchanged, several are combined into a *multierror.Error.
func (s *Signal) Send(sender model.Sender, results model.Results, ctx model.Context) error {
	s.mu.Lock()
	snapshot := s.receivers
	s.mu.Unlock()

	var errs []error
	for _, r := range snapshot {
		if err := r.handler(sender, results, ctx); err != nil {
			errs = append(errs, err)
		}
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return multierror.Append(nil, errs...)
	}
}
