package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// CacheOptions configures an AnalysisCache.
type CacheOptions struct {
	TTL      time.Duration
	Compress bool
	Now      func() time.Time
}

// AnalysisCache stores analysis payloads keyed by snippet hash and kind.
// Payloads are opaque bytes, optionally zstd-compressed at rest.
type AnalysisCache struct {
	db       *DB
	ttl      time.Duration
	compress bool
	now      func() time.Time
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	Entries  int   `json:"entries"`
	Expired  int   `json:"expired"`
	RawBytes int64 `json:"rawBytes"`
	Stored   int64 `json:"storedBytes"`
}

// NewAnalysisCache creates a cache over db.
func NewAnalysisCache(db *DB, opts CacheOptions) (*AnalysisCache, error) {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &AnalysisCache{
		db:       db,
		ttl:      opts.TTL,
		compress: opts.Compress,
		now:      opts.Now,
		enc:      enc,
		dec:      dec,
	}, nil
}

// Get returns the payload for (key, kind). Expired entries are deleted and
// reported as misses.
func (c *AnalysisCache) Get(ctx context.Context, key, kind string) ([]byte, bool, error) {
	var (
		payload    []byte
		compressed bool
		expiresAt  int64
	)
	err := c.db.conn.QueryRowContext(ctx, `
		SELECT payload, compressed, expires_at
		FROM analysis_cache
		WHERE key = ? AND kind = ?
	`, key, kind).Scan(&payload, &compressed, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("analysis cache lookup failed: %w", err)
	}

	if c.now().UnixNano() >= expiresAt {
		_, _ = c.db.conn.ExecContext(ctx, "DELETE FROM analysis_cache WHERE key = ? AND kind = ?", key, kind)
		return nil, false, nil
	}

	if compressed {
		payload, err = c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, false, fmt.Errorf("decompressing cached payload: %w", err)
		}
	}
	return payload, true, nil
}

// Put stores payload for (key, kind), replacing any previous entry.
func (c *AnalysisCache) Put(ctx context.Context, key, kind string, payload []byte) error {
	stored := payload
	if c.compress {
		stored = c.enc.EncodeAll(payload, nil)
	}
	now := c.now()
	_, err := c.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO analysis_cache
			(key, kind, payload, compressed, raw_size, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, key, kind, stored, c.compress, len(payload), now.UnixNano(), now.Add(c.ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("analysis cache store failed: %w", err)
	}
	return nil
}

// Purge deletes expired entries and returns how many were removed.
func (c *AnalysisCache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.conn.ExecContext(ctx, "DELETE FROM analysis_cache WHERE expires_at <= ?", c.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Clear deletes every entry.
func (c *AnalysisCache) Clear(ctx context.Context) error {
	_, err := c.db.conn.ExecContext(ctx, "DELETE FROM analysis_cache")
	return err
}

// Stats reports entry counts and sizes.
func (c *AnalysisCache) Stats(ctx context.Context) (CacheStats, error) {
	var s CacheStats
	err := c.db.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(raw_size), 0),
			COALESCE(SUM(LENGTH(payload)), 0)
		FROM analysis_cache
	`, c.now().UnixNano()).Scan(&s.Entries, &s.Expired, &s.RawBytes, &s.Stored)
	return s, err
}

// Close releases the codec resources. The DB stays open.
func (c *AnalysisCache) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}
