package model

import (
	"encoding/json"
	"testing"
)

func TestValueJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   Value
		want string
	}{
		{name: "null", in: Null(), want: `null`},
		{name: "bool", in: Bool(true), want: `true`},
		{name: "int", in: Int(42), want: `42`},
		{name: "integral float", in: Float(2), want: `2.0`},
		{name: "float", in: Float(0.25), want: `0.25`},
		{name: "string", in: String("GET /x"), want: `"GET /x"`},
		{name: "list", in: List(Int(1), String("a")), want: `[1,"a"]`},
		{name: "empty list", in: List(), want: `[]`},
		{
			name: "nested map",
			in: Map(map[string]Value{
				"statement":  String("SELECT 1"),
				"call_stack": Strings("a.py:1", "b.py:2"),
				"meta":       Map(map[string]Value{"n": Int(3)}),
			}),
			want: `{"call_stack":["a.py:1","b.py:2"],"meta":{"n":3},"statement":"SELECT 1"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(data) != tc.want {
				t.Fatalf("Marshal=%s, want %s", data, tc.want)
			}
			var out Value
			if err := json.Unmarshal(data, &out); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !out.Equal(tc.in) {
				t.Fatalf("round trip=%s, want %s", out.Repr(), tc.in.Repr())
			}
			if out.Kind() != tc.in.Kind() {
				t.Fatalf("kind=%s, want %s", out.Kind(), tc.in.Kind())
			}
		})
	}
}

func TestValueRepr(t *testing.T) {
	v := Map(map[string]Value{
		"Client.request": Strings("GET /nr_of_queries/5/"),
		"a":              List(Int(1), Float(1.5), Bool(false), Null()),
		"q":              String("it's"),
	})
	want := `{'Client.request': ['GET /nr_of_queries/5/'], 'a': [1, 1.5, False, None], 'q': "it's"}`
	if got := v.Repr(); got != want {
		t.Fatalf("Repr=%s, want %s", got, want)
	}
}

func TestOfConvertsGoValues(t *testing.T) {
	got, err := Of(map[string]any{
		"list":  []string{"x", "y"},
		"n":     uint8(7),
		"f":     float32(0.5),
		"inner": map[string]int{"k": 1},
		"nil":   nil,
	})
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	want := Map(map[string]Value{
		"list":  Strings("x", "y"),
		"n":     Int(7),
		"f":     Float(0.5),
		"inner": Map(map[string]Value{"k": Int(1)}),
		"nil":   Null(),
	})
	if !got.Equal(want) {
		t.Fatalf("Of=%s, want %s", got.Repr(), want.Repr())
	}

	if _, err := Of(map[int]string{1: "x"}); err == nil {
		t.Fatal("Of(map[int]string) error=nil, want error")
	}
	if _, err := Of(struct{}{}); err == nil {
		t.Fatal("Of(struct) error=nil, want error")
	}
}

func TestSampleEqualUsesSenderIdentity(t *testing.T) {
	a := Sample{
		Sender:  Sender{ID: "client-1", Type: "perfbudget/instrument.Client"},
		Results: Results{Int(2)},
		Context: Context{"after": String("start")},
	}
	b := Sample{
		Sender:  Sender{ID: "client-1", Type: "perfbudget/instrument.Client"},
		Results: Results{Int(2)},
		Context: Context{"after": String("start")},
	}
	if !a.Equal(b) {
		t.Fatal("independently built samples are not equal")
	}
	b.Sender.Type = "other"
	if a.Equal(b) {
		t.Fatal("samples with different sender type compare equal")
	}
}

func TestContextCloneIsDeep(t *testing.T) {
	items := []Value{String("x")}
	c := Context{"k": List(items...)}
	clone := c.Clone()
	items[0] = String("mutated")
	if got := clone["k"].Items()[0].AsString(); got != "x" {
		t.Fatalf("clone item=%q, want x", got)
	}
}
