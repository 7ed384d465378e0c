package collector

import (
	"regexp"
	"strings"

	"github.com/tinytelemetry/perfbudget/internal/model"
)

// BucketTotal is the aggregate bucket every counted item falls into.
const BucketTotal = "total"

// Limits maps a fully-qualified sender type to metric ceilings, for
// example {"perfbudget/instrument.Client": {"total": 4, "write": 0}}.
type Limits map[string]map[string]int

// For returns the ceilings configured for a sender type.
func (l Limits) For(senderType string) (map[string]int, bool) {
	c, ok := l[senderType]
	if !ok || len(c) == 0 {
		return nil, false
	}
	return c, true
}

// Classifier returns the buckets an item counts toward besides total.
type Classifier func(item model.Value) []string

var sqlVerb = regexp.MustCompile(`^\s*(?:/\*.*?\*/\s*)*([A-Za-z]+)`)

// SQLClassifier sorts query records into read, write and other buckets
// by the leading SQL verb. The statement is taken from a string item or
// from the "sql"/"statement" field of a map item.
func SQLClassifier(item model.Value) []string {
	stmt := statementOf(item)
	if stmt == "" {
		return []string{"other"}
	}
	m := sqlVerb.FindStringSubmatch(stmt)
	if m == nil {
		return []string{"other"}
	}
	switch strings.ToUpper(m[1]) {
	case "SELECT", "WITH":
		return []string{"read"}
	case "INSERT", "UPDATE", "DELETE", "REPLACE", "MERGE":
		return []string{"write"}
	}
	return []string{"other"}
}

func statementOf(item model.Value) string {
	switch item.Kind() {
	case model.KindString:
		return item.AsString()
	case model.KindMap:
		for _, key := range []string{"sql", "statement"} {
			if v, ok := item.Get(key); ok && v.Kind() == model.KindString {
				return v.AsString()
			}
		}
	}
	return ""
}
