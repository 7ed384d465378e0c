package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/perfbudget/internal/duckdb"
	"github.com/tinytelemetry/perfbudget/internal/model"
)

// QueryStore is the narrow store contract required by the HTTP API.
type QueryStore interface {
	TotalSamples(senderType string) (int64, error)
	Samples(senderType string) ([]model.Sample, error)
	SenderCounts() ([]duckdb.SenderCount, error)
}

// Server provides an HTTP API over replayed samples.
type Server struct {
	addr      string
	store     QueryStore
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store QueryStore) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/samples", s.handleSamples)
	r.GET("/api/counts", s.handleCounts)
	return r
}

// Listen binds the API address. Call Serve afterwards.
func (s *Server) Listen() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()
	log.Printf("httpserver: listening on %s", listener.Addr())
	return nil
}

// Serve handles requests on the bound listener until Stop. It returns nil
// after a graceful shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("httpserver: serve before listen")
	}
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpserver: serve: %w", err)
	}
	return nil
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	go func() {
		if err := s.Serve(); err != nil {
			log.Printf("%v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Listen has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	n, err := s.store.TotalSamples("")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"sample_count": n,
	})
}

func (s *Server) handleSamples(c *gin.Context) {
	samples, err := s.store.Samples(c.Query("sender_type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read samples"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"samples": samples,
		"count":   len(samples),
	})
}

func (s *Server) handleCounts(c *gin.Context) {
	counts, err := s.store.SenderCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sender counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"senders": counts})
}
