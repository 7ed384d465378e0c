package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/perfbudget/internal/config"
	"github.com/tinytelemetry/perfbudget/internal/duckdb"
	"github.com/tinytelemetry/perfbudget/internal/httpserver"
	"github.com/tinytelemetry/perfbudget/internal/signal"
)

// loadStore rebuilds the DuckDB store from the log. Rows left by an
// earlier run are cleared first.
func loadStore(cfg config.Config) (*duckdb.Store, int, error) {
	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	if err := store.Reset(); err != nil {
		store.Close()
		return nil, 0, err
	}

	sig := signal.New(signal.NameResultsRead)
	conn := store.Connect(sig)
	defer conn.Disconnect()

	samples, err := readerFor(cfg, sig).ReadAll()
	if err != nil {
		store.Close()
		return nil, 0, fmt.Errorf("failed to load %s: %w", cfg.DatafilePath, err)
	}
	return store, len(samples), nil
}

// runServe loads the log into DuckDB and serves the HTTP API until
// SIGINT or SIGTERM.
func runServe(cfg config.Config) error {
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return serve(ctx, cfg, nil)
}

// serve runs until ctx is cancelled. ready, when non-nil, receives the
// bound API address once the server is listening.
func serve(ctx context.Context, cfg config.Config, ready chan<- string) error {
	store, n, err := loadStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("server: loaded %d samples from %s", n, cfg.DatafilePath)

	apiServer := httpserver.NewServer(cfg.APIAddr, store)
	if err := apiServer.Listen(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	if ready != nil {
		ready <- apiServer.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiServer.Serve)
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("server: shutting down")
		return apiServer.Stop()
	})
	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
		return err
	}
	return nil
}
