package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
)

// Store persists the processed news keys and the last price per ticker as
// two JSON files. All writes go through one mutex and replace the file
// atomically.
type Store struct {
	seenPath   string
	pricesPath string
	logger     *slog.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	prices   map[string]models.PriceRecord
	lastSeen map[string]string
}

// OpenStore loads both files. Missing files start empty; unreadable ones
// are moved aside and start empty.
func OpenStore(seenPath, pricesPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		seenPath:   seenPath,
		pricesPath: pricesPath,
		logger:     logger,
		seen:       make(map[string]struct{}),
		prices:     make(map[string]models.PriceRecord),
		lastSeen:   make(map[string]string),
	}

	keys, err := loadJSON[[]string](seenPath, logger)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		s.seen[k] = struct{}{}
	}
	prices, err := loadJSON[map[string]models.PriceRecord](pricesPath, logger)
	if err != nil {
		return nil, err
	}
	for k, v := range prices {
		s.prices[k] = v
	}

	logger.Info("state loaded",
		slog.Int("seen_items", len(s.seen)),
		slog.Int("prices", len(s.prices)),
	)
	return s, nil
}

// loadJSON decodes path into a T. A missing file is the zero T; a file
// that does not decode is renamed to <path>.corrupt-<unix> and also yields
// the zero T.
func loadJSON[T any](path string, logger *slog.Logger) (T, error) {
	var v T
	if path == "" {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return v, fmt.Errorf("read state %s: %w", path, err)
	}
	if len(data) == 0 {
		return v, nil
	}

	decodeErr := json.Unmarshal(data, &v)
	if decodeErr == nil {
		return v, nil
	}
	var zero T
	backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, backup); err != nil {
		return zero, fmt.Errorf("back up corrupt state %s: %w", path, err)
	}
	logger.Warn("corrupt state file moved aside",
		slog.String("path", path),
		slog.String("backup", backup),
		slog.Any("error", decodeErr),
	)
	return zero, nil
}

// Seen reports whether key was already processed.
func (s *Store) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// MarkSeen records key as processed for source and persists the set.
func (s *Store) MarkSeen(source, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = struct{}{}
	s.lastSeen[source] = key

	keys := make([]string, 0, len(s.seen))
	for k := range s.seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return writeJSONAtomic(s.seenPath, keys)
}

// Price returns the last persisted price for ticker.
func (s *Store) Price(ticker string) (models.PriceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.prices[ticker]
	return rec, ok
}

// SetPrice records and persists the latest price for ticker.
func (s *Store) SetPrice(ticker string, rec models.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[ticker] = rec

	snapshot := make(map[string]models.PriceRecord, len(s.prices))
	for k, v := range s.prices {
		snapshot[k] = v
	}
	return writeJSONAtomic(s.pricesPath, snapshot)
}

// Subject returns the tracked progress of a ticker or news source.
func (s *Store) Subject(id string) models.TrackedSubject {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject := models.TrackedSubject{Identifier: id, LastSeenItemKey: s.lastSeen[id]}
	if rec, ok := s.prices[id]; ok {
		price := rec.Price
		subject.LastKnownPrice = &price
	}
	return subject
}

// writeJSONAtomic writes v next to path and renames it into place, so a
// reader never sees a partial file.
func writeJSONAtomic(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		cleanup()
		return fmt.Errorf("encode state %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync state %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state %s: %w", path, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
