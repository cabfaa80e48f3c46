// Package audit keeps per-request audit records in a valkey/redis sorted
// set ordered by timestamp.
package audit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rakunlabs/anonymizer/internal/config"
)

const keyAudits = "AUDITS"

// Store wraps the valkey connection. Records are JSON documents scored by
// their audit timestamp.
type Store struct {
	client *redis.Client
}

// New connects to the configured valkey instance. Connection retries are
// delegated to the client's own backoff.
func New(cfg config.Valkey) *Store {
	opts := &redis.Options{
		Addr:       cfg.Address,
		Username:   cfg.Username,
		Password:   cfg.Password,
		DB:         cfg.DB,
		Protocol:   3,
		MaxRetries: cfg.Connection.Attempts,
	}
	if cfg.Connection.Wait > 0 {
		opts.MinRetryBackoff = cfg.Connection.Wait
		opts.MaxRetryBackoff = cfg.Connection.Wait
	}
	if cfg.SSL {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Store{client: redis.NewClient(opts)}
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Log stores an audit record at the given timestamp. A zero timestamp is
// replaced with the current time; the effective timestamp is returned.
func (s *Store) Log(ctx context.Context, audit map[string]any, timestamp float64) (float64, error) {
	if timestamp == 0 {
		timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	raw, err := json.Marshal(audit)
	if err != nil {
		return 0, fmt.Errorf("marshal audit: %w", err)
	}
	if err := s.client.ZAdd(ctx, keyAudits, redis.Z{Score: timestamp, Member: raw}).Err(); err != nil {
		return 0, fmt.Errorf("log audit: %w", err)
	}
	return timestamp, nil
}

// Remove deletes and returns the audit logged at the given timestamp, or
// nil when there is not exactly one.
func (s *Store) Remove(ctx context.Context, timestamp float64) (map[string]any, error) {
	// Shortest exact form, so the bound equals the stored score.
	score := strconv.FormatFloat(timestamp, 'f', -1, 64)
	members, err := s.client.ZRangeByScore(ctx, keyAudits, &redis.ZRangeBy{Min: score, Max: score}).Result()
	if err != nil {
		return nil, fmt.Errorf("find audit: %w", err)
	}
	if len(members) != 1 {
		return nil, nil
	}
	if err := s.client.ZRem(ctx, keyAudits, members[0]).Err(); err != nil {
		return nil, fmt.Errorf("remove audit: %w", err)
	}
	var audit map[string]any
	if err := json.Unmarshal([]byte(members[0]), &audit); err != nil {
		return nil, fmt.Errorf("unmarshal audit: %w", err)
	}
	return audit, nil
}

// Update rewrites the audit at the given timestamp through the update
// function. Reports whether an audit was found.
func (s *Store) Update(ctx context.Context, timestamp float64, update func(map[string]any) map[string]any) (bool, error) {
	audit, err := s.Remove(ctx, timestamp)
	if err != nil {
		return false, err
	}
	if audit == nil {
		return false, nil
	}
	if _, err := s.Log(ctx, update(audit), timestamp); err != nil {
		return false, err
	}
	return true, nil
}

// Range retrieves the audits in [from, until].
func (s *Store) Range(ctx context.Context, from, until time.Time) ([]map[string]any, error) {
	members, err := s.client.ZRangeByScore(ctx, keyAudits, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", float64(from.UnixNano())/float64(time.Second)),
		Max: fmt.Sprintf("%f", float64(until.UnixNano())/float64(time.Second)),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range audits: %w", err)
	}
	out := make([]map[string]any, 0, len(members))
	for _, member := range members {
		var audit map[string]any
		if err := json.Unmarshal([]byte(member), &audit); err != nil {
			return nil, fmt.Errorf("unmarshal audit: %w", err)
		}
		out = append(out, audit)
	}
	return out, nil
}

// RemoveRange deletes every audit in [from, until] and returns how many
// were removed.
func (s *Store) RemoveRange(ctx context.Context, from, until time.Time) (int64, error) {
	removed, err := s.client.ZRemRangeByScore(ctx, keyAudits,
		fmt.Sprintf("%f", float64(from.UnixNano())/float64(time.Second)),
		fmt.Sprintf("%f", float64(until.UnixNano())/float64(time.Second)),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("remove audits: %w", err)
	}
	return removed, nil
}
