package instrument

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/tinytelemetry/perfbudget/internal/model"
	"github.com/tinytelemetry/perfbudget/internal/signal"
)

// ClientSenderType is the limits key for Client.
const ClientSenderType = "perfbudget/instrument.Client"

// ContextRequestKey labels the call site in events emitted by Client.
const ContextRequestKey = "Client.request"

// Client drives an http.Handler in-process, the way a framework test
// client does, and reports the operations the handler observed during
// each request.
type Client struct {
	id      string
	handler http.Handler
	signal  *signal.Signal
}

// NewClient returns a client with sender identity {id, ClientSenderType}
// that emits on signal.ResultsCollected.
func NewClient(id string, h http.Handler) *Client {
	return &Client{id: id, handler: h, signal: signal.ResultsCollected}
}

// WithSignal returns a copy of c that emits on sig.
func (c *Client) WithSignal(sig *signal.Signal) *Client {
	out := *c
	out.signal = sig
	return &out
}

func (c *Client) Sender() model.Sender {
	return model.Sender{ID: c.id, Type: ClientSenderType}
}

func (c *Client) Get(url string) (*http.Response, error) {
	return c.Request(http.MethodGet, url, nil)
}

func (c *Client) Post(url, contentType, body string) (*http.Response, error) {
	return c.request(http.MethodPost, url, strings.NewReader(body), contentType)
}

// Request serves one request. The response is always returned; the
// error is non-nil when a results_collected handler rejected the
// request's operations, e.g. because a limit was exceeded.
func (c *Client) Request(method, url string, body io.Reader) (*http.Response, error) {
	return c.request(method, url, body, "")
}

func (c *Client) request(method, url string, body io.Reader, contentType string) (*http.Response, error) {
	tally := NewTally(c.Sender(), model.Context{
		ContextRequestKey: model.Strings(method + " " + url),
	})

	req := httptest.NewRequest(method, url, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req = req.WithContext(WithTally(req.Context(), tally))

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	resp := rec.Result()

	if err := tally.Flush(c.signal); err != nil {
		return resp, err
	}
	return resp, nil
}
