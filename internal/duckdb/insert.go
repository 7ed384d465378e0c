package duckdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tinytelemetry/perfbudget/internal/collector"
	"github.com/tinytelemetry/perfbudget/internal/model"
	"github.com/tinytelemetry/perfbudget/internal/signal"
)

// Connect subscribes the store to sig (normally results_read) so every
// replayed sample is inserted as it is read.
func (s *Store) Connect(sig *signal.Signal) signal.Connection {
	return sig.Connect(func(sender model.Sender, results model.Results, ctx model.Context) error {
		return s.InsertSamples([]model.Sample{{Sender: sender, Results: results, Context: ctx}})
	})
}

// InsertSamples appends samples in a single transaction.
func (s *Store) InsertSamples(samples []model.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.insertTx(ctx, samples)
	if err != nil {
		return fmt.Errorf("duckdb: insert samples: %w", err)
	}
	s.nextSeq = seq
	return nil
}

// Reset deletes every stored sample in one transaction and restarts the
// sequence.
func (s *Store) Reset() error {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("duckdb: reset: %w", err)
	}
	for _, table := range []string{"sample_buckets", "samples"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			tx.Rollback()
			return fmt.Errorf("duckdb: reset %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("duckdb: reset: %w", err)
	}
	s.nextSeq = 1
	return nil
}

// insertTx returns the next free sequence number on success.
func (s *Store) insertTx(ctx context.Context, samples []model.Sample) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	sampleStmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (seq, sender_id, sender_type, result_count, results, context) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer sampleStmt.Close()

	bucketStmt, err := tx.PrepareContext(ctx, `INSERT INTO sample_buckets (sample_seq, bucket, count) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer bucketStmt.Close()

	seq := s.nextSeq
	for _, sample := range samples {
		results := sample.Results
		if results == nil {
			results = model.Results{}
		}
		resultsJSON, err := json.Marshal(results)
		if err != nil {
			return 0, fmt.Errorf("marshal results: %w", err)
		}
		sampleCtx := sample.Context
		if sampleCtx == nil {
			sampleCtx = model.Context{}
		}
		contextJSON, err := json.Marshal(sampleCtx)
		if err != nil {
			return 0, fmt.Errorf("marshal context: %w", err)
		}

		if _, err := sampleStmt.ExecContext(ctx, seq, sample.Sender.ID, sample.Sender.Type, len(results), string(resultsJSON), string(contextJSON)); err != nil {
			return 0, err
		}
		for bucket, n := range s.buckets(results) {
			if _, err := bucketStmt.ExecContext(ctx, seq, bucket, n); err != nil {
				return 0, err
			}
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return seq, nil
}

func (s *Store) buckets(results model.Results) map[string]int {
	out := map[string]int{collector.BucketTotal: len(results)}
	if s.classify == nil {
		return out
	}
	for _, item := range results {
		for _, b := range s.classify(item) {
			if b != collector.BucketTotal {
				out[b]++
			}
		}
	}
	return out
}
