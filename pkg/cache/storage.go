package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrQuotaExceeded is returned by a Storage that has no room for a value.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is a small string-keyed byte store in the shape of browser local
// storage. Slot keeps its snapshot in one.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
	Keys() ([]string, error)
}

// MemoryStorage is an in-process Storage. A positive quota caps the summed
// size of all values.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string][]byte
	quota int
	used  int
}

// NewMemoryStorage creates a storage; quota <= 0 means unlimited.
func NewMemoryStorage(quota int) *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte), quota: quota}
}

func (m *MemoryStorage) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := m.used - len(m.items[key]) + len(value)
	if m.quota > 0 && used > m.quota {
		return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, used, m.quota)
	}
	m.items[key] = append([]byte(nil), value...)
	m.used = used
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= len(m.items[key])
	delete(m.items, key)
	return nil
}

func (m *MemoryStorage) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// DirStorage keeps one file per key in a directory. Keys are path-escaped
// into file names. A positive quota caps the summed size of all files.
type DirStorage struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

// NewDirStorage creates dir (0755) if needed; quota <= 0 means unlimited.
func NewDirStorage(dir string, quota int64) (*DirStorage, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DirStorage{dir: dir, quota: quota}, nil
}

// Dir returns the storage directory.
func (d *DirStorage) Dir() string {
	return d.dir
}

func (d *DirStorage) Get(key string) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

func (d *DirStorage) Set(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.quota > 0 {
		used, err := d.usage(key)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > d.quota {
			return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, used+int64(len(value)), d.quota)
		}
	}

	tmp := d.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, d.path(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (d *DirStorage) Remove(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (d *DirStorage) Keys() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".tmp" {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *DirStorage) path(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key))
}

// usage sums file sizes, excluding the file for key that a write would replace.
func (d *DirStorage) usage(key string) (int64, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, fmt.Errorf("read storage dir: %w", err)
	}
	skip := url.PathEscape(key)
	var total int64
	for _, e := range entries {
		if e.IsDir() || e.Name() == skip {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
