// Package journal persists sample events to an append-only log file and
// replays them. A Writer records the results_collected events fired
// inside its start/end window; a Reader does a full scan of the file and
// republishes each record on results_read.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tinytelemetry/perfbudget/internal/codec"
	"github.com/tinytelemetry/perfbudget/internal/model"
	"github.com/tinytelemetry/perfbudget/internal/signal"
)

const (
	defaultFileMode   = 0644
	defaultDirMode    = 0755
	defaultBufferSize = 64 * 1024
)

// ErrAlreadyStarted is returned by Start on a writer that is recording.
var ErrAlreadyStarted = errors.New("journal: writer already started")

// Writers in one process that share a path take turns per flush, so each
// record lands whole.
var pathLocks sync.Map // cleaned path -> *sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(filepath.Clean(path), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Option configures a Writer or Reader.
type Option func(*options)

type options struct {
	signal        *signal.Signal
	bufferSize    int
	skipMalformed bool
}

// WithSignal overrides the signal a Writer listens on or a Reader emits
// on.
func WithSignal(s *signal.Signal) Option {
	return func(o *options) {
		o.signal = s
	}
}

// WithBufferSize sets the writer's in-memory buffer. Records that overflow
// it are flushed early.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithSkipMalformed makes a Reader log and skip records it cannot decode
// instead of failing the read.
func WithSkipMalformed() Option {
	return func(o *options) { o.skipMalformed = true }
}

func buildOptions(def *signal.Signal, opts []Option) options {
	o := options{signal: def, bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.signal == nil {
		o.signal = def
	}
	return o
}

// Writer records events into the log file between Start and End.
type Writer struct {
	path string
	opts options

	mu      sync.Mutex
	conn    signal.Connection
	active  bool
	file    *os.File
	buf     *bufio.Writer
	pending int
	err     error
}

// NewWriter returns an idle writer for path. Nothing touches the
// filesystem until the first record arrives.
func NewWriter(path string, opts ...Option) *Writer {
	return &Writer{
		path: path,
		opts: buildOptions(signal.ResultsCollected, opts),
	}
}

func (w *Writer) Path() string { return w.path }

// Active reports whether the writer is inside a recording window.
func (w *Writer) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Start opens a recording window by connecting to the signal. Starting
// an active writer fails and leaves the existing subscription alone.
func (w *Writer) Start() error {
	if strings.TrimSpace(w.path) == "" {
		return errors.New("journal: path is empty")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active {
		return ErrAlreadyStarted
	}
	w.active = true
	w.pending = 0
	w.err = nil
	w.conn = w.opts.signal.Connect(w.record)
	return nil
}

// record is the signal handler. It encodes the sample and appends it to
// the buffered file.
func (w *Writer) record(sender model.Sender, results model.Results, ctx model.Context) error {
	line, err := codec.Encode(model.Sample{Sender: sender, Results: results, Context: ctx})
	if err != nil {
		return fmt.Errorf("journal: encode record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active {
		return nil
	}
	if w.err != nil {
		return w.err
	}
	if err := w.ensureOpen(); err != nil {
		w.err = err
		return err
	}

	// Flush ahead of a record that would not fit, so an early flush never
	// splits a line.
	if w.buf.Buffered() > 0 && len(line) > w.buf.Available() {
		if err := w.flushLocked(); err != nil {
			w.err = err
			return err
		}
	}
	if len(line) > w.buf.Available() {
		err = w.writeLocked(line)
	} else {
		_, err = w.buf.Write(line)
	}
	if err != nil {
		w.err = fmt.Errorf("journal: write record: %w", err)
		return w.err
	}
	w.pending++
	return nil
}

func (w *Writer) ensureOpen() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), defaultDirMode); err != nil {
		return fmt.Errorf("journal: mkdir: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	if err := sealTornTail(f, w.path); err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, w.opts.bufferSize)
	return nil
}

// sealTornTail terminates a partial final line left by an interrupted
// write, so the next record starts on a line of its own.
func sealTornTail(f *os.File, path string) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("journal: read tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("journal: seal torn tail: %w", err)
	}
	log.Printf("journal: sealed partial trailing record in %s", path)
	return nil
}

// writeLocked appends p to the file in one write under the path lock.
func (w *Writer) writeLocked(p []byte) error {
	mu := lockFor(w.path)
	mu.Lock()
	defer mu.Unlock()
	_, err := w.file.Write(p)
	return err
}

func (w *Writer) flushLocked() error {
	if w.buf == nil || w.buf.Buffered() == 0 {
		return nil
	}
	mu := lockFor(w.path)
	mu.Lock()
	defer mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	return nil
}

// End closes the recording window: it disconnects from the signal, then
// flushes and fsyncs everything recorded since Start. End on an idle
// writer is a no-op.
func (w *Writer) End() error {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return nil
	}
	conn := w.conn
	w.active = false
	w.conn = signal.Connection{}
	w.mu.Unlock()

	conn.Disconnect()

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.err
	if w.file != nil {
		if ferr := w.flushLocked(); ferr != nil && err == nil {
			err = ferr
		}
		if serr := w.file.Sync(); serr != nil && err == nil {
			err = fmt.Errorf("journal: sync: %w", serr)
		}
		if cerr := w.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("journal: close: %w", cerr)
		}
		w.file = nil
		w.buf = nil
	}
	if err == nil && w.pending > 0 {
		log.Printf("journal: flushed %d records to %s", w.pending, w.path)
	}
	w.pending = 0
	w.err = nil
	return err
}
