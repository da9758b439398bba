// Package checkpoint records per-item backfill outcomes so an interrupted run
// can resume without repeating decided items.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stats aggregates counters across the whole run.
type Stats struct {
	TotalInserted int `json:"total_inserted"`
	TotalFailed   int `json:"total_failed"`
	TotalSkipped  int `json:"total_skipped"`
}

// Record is the on-disk checkpoint document.
type Record struct {
	ProcessedProducts []int64    `json:"processed_products"`
	FailedProducts    []int64    `json:"failed_products"`
	Stats             Stats      `json:"stats"`
	LastUpdated       *time.Time `json:"last_updated"`
}

// Checkpoint is the durable progress ledger of one run.
type Checkpoint struct {
	path   string
	logger zerolog.Logger

	mu          sync.Mutex
	processed   map[int64]struct{}
	failed      map[int64]struct{}
	stats       Stats
	lastUpdated *time.Time

	write func(path string, data []byte) error
}

// NewRunID returns a sortable run identifier.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102_150405") + "-" + uuid.NewString()[:8]
}

// PathFor returns the checkpoint location of runID inside dir.
func PathFor(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("checkpoint_%s.json", runID))
}

// Open loads the checkpoint at path, or starts an empty one.
// An unreadable or corrupt file is logged and replaced by an empty ledger;
// failing to write the initial state is fatal.
func Open(path string, logger zerolog.Logger) (*Checkpoint, error) {
	c, err := load(path, logger, WriteAtomic)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	data, err := c.marshalLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := c.write(path, data); err != nil {
		return nil, fmt.Errorf("checkpoint storage unavailable: %w", err)
	}
	return c, nil
}

// OpenReadOnly loads the checkpoint at path (if any) into a ledger that never
// writes back. Dry runs use it so a preview leaves no file behind.
func OpenReadOnly(path string, logger zerolog.Logger) (*Checkpoint, error) {
	return load(path, logger, func(string, []byte) error { return nil })
}

func load(path string, logger zerolog.Logger, write func(string, []byte) error) (*Checkpoint, error) {
	if path == "" {
		return nil, errors.New("checkpoint path is required")
	}

	c := &Checkpoint{
		path:      path,
		logger:    logger.With().Str("component", "checkpoint").Str("checkpoint", path).Logger(),
		processed: make(map[int64]struct{}),
		failed:    make(map[int64]struct{}),
		write:     write,
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var rec Record
		if jsonErr := json.Unmarshal(data, &rec); jsonErr != nil {
			c.logger.Warn().Err(jsonErr).Msg("could not load checkpoint, starting fresh")
		} else {
			c.apply(rec)
			c.logger.Info().Int("processed", len(c.processed)).Int("failed", len(c.failed)).Msg("loaded checkpoint")
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		c.logger.Warn().Err(err).Msg("could not read checkpoint, starting fresh")
	}
	return c, nil
}

// Path returns the checkpoint location.
func (c *Checkpoint) Path() string {
	return c.path
}

// IsProcessed reports whether id was recorded as processed.
func (c *Checkpoint) IsProcessed(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.processed[id]
	return ok
}

// IsFailed reports whether id was recorded as failed.
func (c *Checkpoint) IsFailed(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.failed[id]
	return ok
}

// MarkProcessed records a successful outcome; re-marking is a no-op.
// 失败记录保留，只有 processed 决定是否跳过。
func (c *Checkpoint) MarkProcessed(id int64) {
	c.mu.Lock()
	if _, ok := c.processed[id]; ok {
		c.mu.Unlock()
		return
	}
	c.processed[id] = struct{}{}
	c.mu.Unlock()

	c.Flush()
}

// MarkFailed records a failed outcome. Processed ids stay processed.
func (c *Checkpoint) MarkFailed(id int64) {
	c.mu.Lock()
	_, done := c.processed[id]
	_, failed := c.failed[id]
	if done || failed {
		c.mu.Unlock()
		return
	}
	c.failed[id] = struct{}{}
	c.mu.Unlock()

	c.Flush()
}

// UpdateStats adds to the aggregate counters.
func (c *Checkpoint) UpdateStats(inserted, failed, skipped int) {
	c.mu.Lock()
	c.stats.TotalInserted += inserted
	c.stats.TotalFailed += failed
	c.stats.TotalSkipped += skipped
	c.mu.Unlock()

	c.Flush()
}

// Stats returns a copy of the aggregate counters.
func (c *Checkpoint) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Snapshot returns the current record.
func (c *Checkpoint) Snapshot() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked()
}

// Flush persists the full record. Write failures are logged and the in-memory
// state is kept.
func (c *Checkpoint) Flush() bool {
	c.mu.Lock()
	now := time.Now().UTC()
	c.lastUpdated = &now
	data, err := c.marshalLocked()
	c.mu.Unlock()

	if err == nil {
		err = c.write(c.path, data)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to save checkpoint")
		return false
	}
	c.logger.Debug().Msg("checkpoint saved")
	return true
}

func (c *Checkpoint) apply(rec Record) {
	for _, id := range rec.ProcessedProducts {
		c.processed[id] = struct{}{}
	}
	for _, id := range rec.FailedProducts {
		c.failed[id] = struct{}{}
	}
	c.stats = rec.Stats
	c.lastUpdated = rec.LastUpdated
}

func (c *Checkpoint) recordLocked() Record {
	return Record{
		ProcessedProducts: sortedIDs(c.processed),
		FailedProducts:    sortedIDs(c.failed),
		Stats:             c.stats,
		LastUpdated:       c.lastUpdated,
	}
}

func (c *Checkpoint) marshalLocked() ([]byte, error) {
	data, err := json.MarshalIndent(c.recordLocked(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Load reads a checkpoint record without opening it for writing.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parse checkpoint: %w", err)
	}
	return rec, nil
}
