package duckdb

import (
	"encoding/json"
	"fmt"

	"github.com/tinytelemetry/perfbudget/internal/collector"
	"github.com/tinytelemetry/perfbudget/internal/model"
)

// SenderCount aggregates the samples of one sender type.
type SenderCount struct {
	SenderType string           `json:"sender_type"`
	Samples    int64            `json:"samples"`
	Buckets    map[string]int64 `json:"buckets"`
}

// TotalSamples returns the number of stored samples, optionally limited
// to one sender type.
func (s *Store) TotalSamples(senderType string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	query := "SELECT COUNT(*) FROM samples"
	var args []any
	if senderType != "" {
		query += " WHERE sender_type = ?"
		args = append(args, senderType)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("duckdb: count samples: %w", err)
	}
	return n, nil
}

// Samples returns stored samples in load order, optionally limited to one
// sender type.
func (s *Store) Samples(senderType string) ([]model.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	query := "SELECT sender_id, sender_type, results, context FROM samples"
	var args []any
	if senderType != "" {
		query += " WHERE sender_type = ?"
		args = append(args, senderType)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query samples: %w", err)
	}
	defer rows.Close()

	out := []model.Sample{}
	for rows.Next() {
		var (
			sample        model.Sample
			results, octx string
		)
		if err := rows.Scan(&sample.Sender.ID, &sample.Sender.Type, &results, &octx); err != nil {
			return nil, fmt.Errorf("duckdb: scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &sample.Results); err != nil {
			return nil, fmt.Errorf("duckdb: decode results: %w", err)
		}
		if err := json.Unmarshal([]byte(octx), &sample.Context); err != nil {
			return nil, fmt.Errorf("duckdb: decode context: %w", err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

// SenderCounts returns per-sender-type sample counts and bucket totals,
// ordered by sender type.
func (s *Store) SenderCounts() ([]SenderCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.sender_type, b.bucket, COUNT(DISTINCT s.seq) AS samples, SUM(b.count)::BIGINT AS total
		FROM samples s
		JOIN sample_buckets b ON b.sample_seq = s.seq
		GROUP BY s.sender_type, b.bucket
		ORDER BY s.sender_type, b.bucket`)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query sender counts: %w", err)
	}
	defer rows.Close()

	out := []SenderCount{}
	for rows.Next() {
		var (
			senderType, bucket string
			samples, total     int64
		)
		if err := rows.Scan(&senderType, &bucket, &samples, &total); err != nil {
			return nil, fmt.Errorf("duckdb: scan sender count: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].SenderType != senderType {
			out = append(out, SenderCount{SenderType: senderType, Buckets: map[string]int64{}})
		}
		cur := &out[len(out)-1]
		cur.Buckets[bucket] = total
		if bucket == collector.BucketTotal {
			cur.Samples = samples
		}
	}
	return out, rows.Err()
}
