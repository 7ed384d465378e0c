// Package codec is the wire format of one sample record: a single JSON
// object terminated by a newline.
//
//	{"sender":{"id":"...","type":"..."},"results":[...],"context":{...}}
//
// Records are self-describing. Results items and context values may be
// any nesting of maps, lists, strings, numbers, booleans and null.
package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tinytelemetry/perfbudget/internal/model"
)

// ErrTornRecord is returned by Decoder.Next for a record cut short by an
// interrupted write: an unterminated final line, or a line holding only
// the start of a record.
var ErrTornRecord = errors.New("codec: torn trailing record")

// ErrMalformed wraps every decode failure of a complete record.
var ErrMalformed = errors.New("codec: malformed record")

type wireRecord struct {
	Sender  wireSender    `json:"sender"`
	Results model.Results `json:"results"`
	Context model.Context `json:"context"`
}

type wireSender struct {
	ID   *string `json:"id"`
	Type *string `json:"type"`
}

// Encode renders s as one newline-terminated record.
func Encode(s model.Sample) ([]byte, error) {
	rec := wireRecord{
		Sender:  wireSender{ID: &s.Sender.ID, Type: &s.Sender.Type},
		Results: s.Results,
		Context: s.Context,
	}
	if rec.Results == nil {
		rec.Results = model.Results{}
	}
	if rec.Context == nil {
		rec.Context = model.Context{}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal record: %w", err)
	}
	return append(line, '\n'), nil
}

// Decode parses one record. A trailing newline is optional.
func Decode(line []byte) (model.Sample, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		return model.Sample{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	var rec wireRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return model.Sample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.Sender.ID == nil || rec.Sender.Type == nil {
		return model.Sample{}, fmt.Errorf("%w: no sender identity", ErrMalformed)
	}
	if rec.Results == nil {
		rec.Results = model.Results{}
	}
	if rec.Context == nil {
		rec.Context = model.Context{}
	}
	return model.Sample{
		Sender:  model.Sender{ID: *rec.Sender.ID, Type: *rec.Sender.Type},
		Results: rec.Results,
		Context: rec.Context,
	}, nil
}

// Encoder writes records to an underlying writer.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes s in a single Write call.
func (e *Encoder) Encode(s model.Sample) error {
	line, err := Encode(s)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("codec: write record: %w", err)
	}
	return nil
}

// Decoder reads records line by line.
type Decoder struct {
	r    *bufio.Reader
	line int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Line is the 1-based line number of the record last returned by Next.
func (d *Decoder) Line() int { return d.line }

// Next returns the next record. It returns io.EOF at a clean end of input
// and ErrTornRecord for an unterminated final line. Blank lines are
// skipped.
func (d *Decoder) Next() (model.Sample, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return model.Sample{}, fmt.Errorf("codec: read record: %w", err)
		}
		if len(line) == 0 {
			return model.Sample{}, io.EOF
		}
		d.line++
		if line[len(line)-1] != '\n' {
			return model.Sample{}, ErrTornRecord
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		s, err := Decode(line)
		if err != nil && truncated(line) {
			return model.Sample{}, ErrTornRecord
		}
		return s, err
	}
}

// truncated reports whether line is a prefix of a JSON value that ends
// before the value does.
func truncated(line []byte) bool {
	line = bytes.TrimSpace(line)
	var raw json.RawMessage
	err := json.Unmarshal(line, &raw)
	var se *json.SyntaxError
	return errors.As(err, &se) && se.Offset == int64(len(line)) && se.Error() == "unexpected end of JSON input"
}
