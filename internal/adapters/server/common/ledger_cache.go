package common

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
)

// CachedHistory keeps the whole ledger in memory until invalidated.
type CachedHistory struct {
	inner app.HistoryReader

	mu      sync.RWMutex
	loaded  bool
	records []domain.ChangeRecord
}

// NewCachedHistory wraps a history reader.
func NewCachedHistory(inner app.HistoryReader) *CachedHistory {
	return &CachedHistory{inner: inner}
}

// Records filters the cached ledger, loading it on first use.
func (c *CachedHistory) Records(ctx context.Context, filter domain.RecordFilter) ([]domain.ChangeRecord, error) {
	c.mu.RLock()
	if c.loaded {
		out := applyFilter(c.records, filter)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		records, err := c.inner.Records(ctx, domain.RecordFilter{})
		if err != nil {
			return nil, err
		}
		c.records = records
		c.loaded = true
	}
	return applyFilter(c.records, filter), nil
}

// Invalidate drops the cached ledger so the next read reloads it.
func (c *CachedHistory) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.records = nil
	c.mu.Unlock()
}

// applyFilter returns a fresh slice of matching records.
func applyFilter(records []domain.ChangeRecord, filter domain.RecordFilter) []domain.ChangeRecord {
	out := make([]domain.ChangeRecord, 0, len(records))
	for _, r := range records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return filter.Tail(out)
}

// WatchFile calls onChange whenever path is written, created, renamed, or removed.
// The parent directory is watched so atomic replacements are seen. It blocks until ctx ends.
func WatchFile(ctx context.Context, path string, onChange func(), log app.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&relevant == 0 {
				continue
			}
			if log != nil {
				log.Debug("ledger changed; cache invalidated", "path", event.Name, "op", event.Op.String())
			}
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if log != nil {
				log.Warn("ledger watcher error", "err", err)
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}
