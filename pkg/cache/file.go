package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is the server-side freshness window.
const DefaultTTL = 5 * time.Minute

// FileStore keeps one JSON file per endpoint. Freshness comes from the file
// modification time, so entries survive restarts.
type FileStore struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewFileStore creates dir (0755) if needed and returns a store over it.
func NewFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive (got %s)", ttl)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		ttl:    ttl,
		now:    time.Now,
		logger: log.With().Str("component", "cache").Str("layer", layerFile).Logger(),
	}, nil
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// TTL returns the freshness window.
func (s *FileStore) TTL() time.Duration {
	return s.ttl
}

// Get returns the entry for key if its file is younger than the TTL.
// Empty or non-JSON files are removed and read as a miss.
func (s *FileStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}
	path := s.path(key)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			CacheMisses.WithLabelValues(layerFile).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("stat cache file: %w", err)
	}

	storedAt := info.ModTime()
	expires := storedAt.Add(s.ttl)
	if !s.now().Before(expires) {
		CacheMisses.WithLabelValues(layerFile).Inc()
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			CacheMisses.WithLabelValues(layerFile).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	if reason := invalidReason(data); reason != "" {
		s.logger.Warn().
			Str("endpoint_key", string(key)).
			Str("reason", reason).
			Msg("Evicting unusable cache file")
		s.evict(path, reason)
		CacheMisses.WithLabelValues(layerFile).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(layerFile).Inc()
	return &Entry{Data: data, StoredAt: storedAt, Expires: expires}, nil
}

// Set writes data through a temporary file and a rename, so readers never
// observe a half-written entry.
func (s *FileStore) Set(ctx context.Context, key Key, data []byte) (*Entry, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+string(key)+"-*")
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return nil, fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		CacheErrors.WithLabelValues("set").Inc()
		return nil, fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		CacheErrors.WithLabelValues("set").Inc()
		return nil, fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		CacheErrors.WithLabelValues("set").Inc()
		return nil, fmt.Errorf("chmod cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		CacheErrors.WithLabelValues("set").Inc()
		return nil, fmt.Errorf("rename cache file: %w", err)
	}

	CacheSize.WithLabelValues(layerFile).Set(float64(len(data)))

	storedAt := s.now()
	if info, err := os.Stat(s.path(key)); err == nil {
		storedAt = info.ModTime()
	}
	return &Entry{Data: data, StoredAt: storedAt, Expires: storedAt.Add(s.ttl)}, nil
}

// Delete removes the file for key.
func (s *FileStore) Delete(ctx context.Context, key Key) error {
	if !key.Valid() {
		return ErrInvalidKey
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// Clear removes every cache file, including leftover temporary files.
func (s *FileStore) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("read cache dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-")) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("clear cache dir: %w", errors.Join(errs...))
	}
	return nil
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.dir, key.FileName())
}

func (s *FileStore) evict(path, reason string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		CacheErrors.WithLabelValues("delete").Inc()
		s.logger.Warn().Err(err).Msg("Failed to evict cache file")
		return
	}
	CacheEvictions.WithLabelValues(reason).Inc()
}

// invalidReason returns the eviction reason for unusable data, or "".
func invalidReason(data []byte) string {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "empty"
	}
	if !json.Valid(data) {
		return "corrupt"
	}
	return ""
}

// Ping checks that the cache directory is still there.
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat cache dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache path %s is not a directory", s.dir)
	}
	return nil
}
