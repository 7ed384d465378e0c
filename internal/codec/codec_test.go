package codec

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinytelemetry/perfbudget/internal/model"
)

func sampleQueries() model.Results {
	return model.Results{
		model.Map(map[string]model.Value{
			"statement":  model.String("SELECT * FROM auth_user WHERE id = %s"),
			"call_stack": model.Strings("views.py:12 in detail", "models.py:40 in get"),
		}),
		model.Map(map[string]model.Value{
			"statement":  model.String("UPDATE auth_user SET last_login = %s"),
			"call_stack": model.List(),
			"duration":   model.Float(0.0021),
			"rows":       model.Int(1),
			"cached":     model.Bool(false),
			"extra":      model.Null(),
		}),
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		sample model.Sample
	}{
		{
			name: "plain ints",
			sample: model.Sample{
				Sender:  model.Sender{ID: "after start", Type: "testapp.WithId"},
				Results: model.Results{model.Int(2)},
				Context: model.Context{"after": model.String("start")},
			},
		},
		{
			name: "query records",
			sample: model.Sample{
				Sender:  model.Sender{ID: "sender_id_1", Type: "sender_type_1"},
				Results: sampleQueries(),
				Context: model.Context{
					"setUp method": model.Strings("setUp (some.module.TestCase"),
				},
			},
		},
		{
			name: "nested context",
			sample: model.Sample{
				Sender:  model.Sender{ID: "sender_id_2", Type: "sender_type_2"},
				Results: model.Results{model.String("render base.html"), model.String("render row.html")},
				Context: model.Context{
					"test name": model.Strings("test_list (app.tests.ListTests)"),
					"phase":     model.Map(map[string]model.Value{"fixture": model.Strings("db", "client")}),
				},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line, err := Encode(tc.sample)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if bytes.Count(line, []byte("\n")) != 1 || line[len(line)-1] != '\n' {
				t.Fatalf("Encode=%q, want one newline-terminated line", line)
			}
			got, err := Decode(line)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tc.sample, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeNormalizesNilCollections(t *testing.T) {
	line, err := Encode(model.Sample{Sender: model.Sender{ID: "x", Type: "y"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"sender":{"id":"x","type":"y"},"results":[],"context":{}}` + "\n"
	if string(line) != want {
		t.Fatalf("Encode=%s, want %s", line, want)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`{"sender":{"id":"x"},"results":[],"context":{}}`,
		`{"results":[1],"context":{}}`,
		`{"sender":{"id":"x","type":"y"},"results":{},"context":{}}`,
		`   `,
	} {
		if _, err := Decode([]byte(line)); err == nil {
			t.Errorf("Decode(%q) error=nil, want error", line)
		}
	}
}

func TestDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	want := []model.Sample{
		{Sender: model.Sender{ID: "a", Type: "t"}, Results: model.Results{model.Int(1)}, Context: model.Context{}},
		{Sender: model.Sender{ID: "b", Type: "t"}, Results: model.Results{model.Int(2), model.Int(3)}, Context: model.Context{}},
	}
	for _, s := range want {
		if err := enc.Encode(s); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	buf.WriteString("\n")
	buf.WriteString(`{"sender":{"id":"c"`)

	dec := NewDecoder(&buf)
	var got []model.Sample
	for {
		s, err := dec.Next()
		if errors.Is(err, ErrTornRecord) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, s)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stream mismatch (-want +got):\n%s", diff)
	}
	if dec.Line() != 4 {
		t.Fatalf("Line=%d, want 4", dec.Line())
	}
}

func TestDecoderEOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next on empty=%v, want io.EOF", err)
	}
}

func TestDecoderSkipsSealedFragment(t *testing.T) {
	input := `{"sender":{"id":"a","type":"t"},"results":[1],"context":{}}` + "\n" +
		`{"sender":{"id":"torn","type":"t"},"resu` + "\n" +
		`{"sender":{"id":"b","type":"t"},"results":[2],"context":{}}` + "\n" +
		`{"sender":{"id":"c"}}}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	if s, err := dec.Next(); err != nil || s.Sender.ID != "a" {
		t.Fatalf("Next #1=%v, %v, want a", s.Sender, err)
	}
	if _, err := dec.Next(); !errors.Is(err, ErrTornRecord) {
		t.Fatalf("Next #2 err=%v, want ErrTornRecord", err)
	}
	if dec.Line() != 2 {
		t.Fatalf("Line=%d, want 2", dec.Line())
	}
	if s, err := dec.Next(); err != nil || s.Sender.ID != "b" {
		t.Fatalf("Next #3=%v, %v, want b", s.Sender, err)
	}
	if _, err := dec.Next(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Next #4 err=%v, want ErrMalformed", err)
	}
}
