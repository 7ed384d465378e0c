// Package collector turns per-sender sample counts into pass/fail
// decisions against configured ceilings.
package collector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tinytelemetry/perfbudget/internal/model"
	"github.com/tinytelemetry/perfbudget/internal/signal"
)

const defaultMetric = "queries"

// State of a Scope.
type State int

const (
	StateIdle State = iota
	StateCounting
	StatePassed
	StateRaised
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCounting:
		return "counting"
	case StatePassed:
		return "passed"
	case StateRaised:
		return "raised"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config for a Collector.
type Config struct {
	Limits Limits
	// Metric names what is counted in violation messages ("queries",
	// "templates"). Defaults to "queries".
	Metric string
	// MaxExamples caps the examples kept per call-site label. Zero keeps
	// all of them.
	MaxExamples int
	// Classify assigns items to extra buckets. Nil counts total only.
	Classify Classifier
}

// Collector checks sender activity against Limits.
type Collector struct {
	cfg Config
}

func New(cfg Config) *Collector {
	if cfg.Metric == "" {
		cfg.Metric = defaultMetric
	}
	if cfg.MaxExamples < 0 {
		cfg.MaxExamples = 0
	}
	return &Collector{cfg: cfg}
}

// Begin opens a counting scope for sender. A sender type without limits
// gets a scope that records nothing and always passes.
func (c *Collector) Begin(sender model.Sender) *Scope {
	ceilings, ok := c.cfg.Limits.For(sender.Type)
	if !ok {
		return &Scope{sender: sender, state: StatePassed}
	}
	return &Scope{
		c:        c,
		sender:   sender,
		ceilings: ceilings,
		state:    StateCounting,
		counts:   map[string]int{},
		examples: map[string][]model.Value{},
	}
}

// Connect subscribes the collector to sig. Each event is checked as a
// scope of its own, so a violation comes back out of the Send call that
// reported it.
func (c *Collector) Connect(sig *signal.Signal) signal.Connection {
	return sig.Connect(c.Check)
}

// Check runs one event through a fresh scope.
func (c *Collector) Check(sender model.Sender, results model.Results, ctx model.Context) error {
	s := c.Begin(sender)
	s.Observe(sender, results, ctx)
	return s.End()
}

// Scope accumulates counts for one sender between Begin and End.
type Scope struct {
	c        *Collector
	sender   model.Sender
	ceilings map[string]int

	mu       sync.Mutex
	state    State
	counts   map[string]int
	examples map[string][]model.Value
	err      error
}

func (s *Scope) Sender() model.Sender { return s.sender }

func (s *Scope) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Count returns the running total of bucket.
func (s *Scope) Count(bucket string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[bucket]
}

// Observe adds an event to the scope. Events from other senders, and
// events after End, are ignored.
func (s *Scope) Observe(sender model.Sender, results model.Results, ctx model.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCounting || sender != s.sender {
		return
	}

	s.counts[BucketTotal] += len(results)
	if s.c.cfg.Classify != nil {
		for _, item := range results {
			for _, bucket := range s.c.cfg.Classify(item) {
				if bucket != BucketTotal {
					s.counts[bucket]++
				}
			}
		}
	}

	for _, label := range model.SortedKeys(ctx) {
		s.addExamples(label, ctx[label])
	}
}

func (s *Scope) addExamples(label string, v model.Value) {
	existing := s.examples[label]
	items := []model.Value{v}
	if v.Kind() == model.KindList {
		items = v.Items()
	}
	for _, item := range items {
		if n := s.c.cfg.MaxExamples; n > 0 && len(existing) >= n {
			break
		}
		existing = append(existing, item.Clone())
	}
	s.examples[label] = existing
}

// Handler adapts the scope to a signal handler so it can be connected
// for the duration of a test.
func (s *Scope) Handler() signal.Handler {
	return func(sender model.Sender, results model.Results, ctx model.Context) error {
		s.Observe(sender, results, ctx)
		return nil
	}
}

// End compares every configured bucket with its ceiling, total first and
// the rest by name. The first bucket over its ceiling produces a
// *LimitExceededError. Repeated calls return the same outcome.
func (s *Scope) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCounting {
		return s.err
	}

	for _, bucket := range orderedBuckets(s.ceilings) {
		limit := s.ceilings[bucket]
		count := s.counts[bucket]
		if count <= limit {
			continue
		}
		examples := make(map[string][]model.Value, len(s.examples))
		for k, v := range s.examples {
			examples[k] = v
		}
		s.err = &LimitExceededError{
			Sender:   s.sender,
			Bucket:   bucket,
			Metric:   s.c.cfg.Metric,
			Count:    count,
			Limit:    limit,
			Examples: examples,
		}
		s.state = StateRaised
		break
	}
	if s.state == StateCounting {
		s.state = StatePassed
	}
	s.counts = nil
	s.examples = nil
	return s.err
}

func orderedBuckets(ceilings map[string]int) []string {
	buckets := make([]string, 0, len(ceilings))
	for b := range ceilings {
		if b != BucketTotal {
			buckets = append(buckets, b)
		}
	}
	sort.Strings(buckets)
	if _, ok := ceilings[BucketTotal]; ok {
		buckets = append([]string{BucketTotal}, buckets...)
	}
	return buckets
}
