package collector

import (
	"fmt"

	"github.com/tinytelemetry/perfbudget/internal/model"
)

// LimitExceededError is the threshold violation. Its message shape is
// relied on by test assertions:
//
//	Too many (5) queries (limit: 4) {'Client.request': ['GET /url']}
type LimitExceededError struct {
	Sender model.Sender
	Bucket string
	Metric string
	Count  int
	Limit  int
	// Examples maps call-site labels to the call descriptions seen in the
	// scope, in arrival order.
	Examples map[string][]model.Value
}

func (e *LimitExceededError) Error() string {
	what := e.Metric
	if e.Bucket != "" && e.Bucket != BucketTotal {
		what = e.Bucket + " " + what
	}
	return fmt.Sprintf("Too many (%d) %s (limit: %d) %s", e.Count, what, e.Limit, e.examplesRepr())
}

func (e *LimitExceededError) examplesRepr() string {
	m := make(map[string]model.Value, len(e.Examples))
	for label, items := range e.Examples {
		m[label] = model.List(items...)
	}
	return model.Map(m).Repr()
}
