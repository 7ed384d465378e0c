package model

import "fmt"

// Sender identifies the originator of a batch of countable operations.
// Identity is structural: two Senders built independently from the same
// ID and Type are equal, which is what lets a sender reconstructed from
// the log file match the live one.
type Sender struct {
	ID   string `json:"id"`
	Type string `json:"type"` // fully-qualified sender type, the limits key
}

func (s Sender) String() string {
	return fmt.Sprintf("%s(%s)", s.Type, s.ID)
}

// Results is the ordered list of operation records in one event.
type Results []Value

// Context describes where in the test lifecycle an event occurred.
type Context map[string]Value

// Sample is one results_collected event: who, what, and where.
type Sample struct {
	Sender  Sender  `json:"sender"`
	Results Results `json:"results"`
	Context Context `json:"context"`
}

// Equal compares samples by sender identity, exact result order and
// context contents.
func (s Sample) Equal(o Sample) bool {
	return s.Sender == o.Sender && s.Results.Equal(o.Results) && s.Context.Equal(o.Context)
}

func (r Results) Equal(o Results) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (c Context) Equal(o Context) bool {
	return Map(c).Equal(Map(o))
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return List(items...)
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Clone()
		}
		return Map(m)
	}
	return v
}

// Repr renders c as a Python dict literal with sorted keys.
func (c Context) Repr() string {
	return Map(c).Repr()
}
