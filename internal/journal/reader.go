package journal

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tinytelemetry/perfbudget/internal/codec"
	"github.com/tinytelemetry/perfbudget/internal/model"
	"github.com/tinytelemetry/perfbudget/internal/signal"
)

// MalformedRecordError reports a complete line that could not be decoded.
type MalformedRecordError struct {
	Path string
	Line int
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("journal: malformed record at %s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Reader replays the log file. It keeps no cursor: every ReadAll is a
// fresh scan from the start of the file.
type Reader struct {
	path string
	opts options
}

func NewReader(path string, opts ...Option) *Reader {
	return &Reader{
		path: path,
		opts: buildOptions(signal.ResultsRead, opts),
	}
}

func (r *Reader) Path() string { return r.path }

// ReadAll decodes every record in file order, sends each one on the
// reader's signal, and returns them all in the same order. A missing
// file reads as empty. An unterminated final line is treated as a torn
// write and dropped.
func (r *Reader) ReadAll() ([]model.Sample, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.Sample{}, nil
		}
		return nil, fmt.Errorf("journal: open for read: %w", err)
	}
	defer f.Close()

	samples, err := r.decodeAll(f)
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		if err := r.opts.signal.Send(s.Sender, s.Results, s.Context); err != nil {
			return nil, fmt.Errorf("journal: %s handler: %w", r.opts.signal.Name(), err)
		}
	}
	return samples, nil
}

// decodeAll decodes the whole file before anything is published, so a
// malformed record fails the read without emitting a partial replay.
func (r *Reader) decodeAll(f io.Reader) ([]model.Sample, error) {
	samples := []model.Sample{}
	dec := codec.NewDecoder(f)
	for {
		s, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if errors.Is(err, codec.ErrTornRecord) {
			log.Printf("journal: ignoring partial record at %s:%d", r.path, dec.Line())
			continue
		}
		if err != nil && !errors.Is(err, codec.ErrMalformed) {
			return nil, fmt.Errorf("journal: read: %w", err)
		}
		if err != nil {
			merr := &MalformedRecordError{Path: r.path, Line: dec.Line(), Err: err}
			if !r.opts.skipMalformed {
				return nil, merr
			}
			log.Printf("%v (skipped)", merr)
			continue
		}
		samples = append(samples, s)
	}
}
