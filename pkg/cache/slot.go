package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// SlotKey is the single key the client snapshot lives under.
	SlotKey = "crm_companies_cache"

	// SlotNamespace prefixes every key the client owns in its Storage.
	SlotNamespace = "crm_"

	// DefaultSlotTTL is the client-side freshness window.
	DefaultSlotTTL = 10 * time.Minute
)

// Snapshot is the persisted client-side cache value.
type Snapshot struct {
	Data      SnapshotData `json:"data"`
	Timestamp int64        `json:"timestamp"` // epoch milliseconds
	URL       string       `json:"url,omitempty"`
}

// SnapshotData is the last successful response.
type SnapshotData struct {
	Companies []json.RawMessage `json:"companies"`
	Total     int               `json:"total"`
}

// StoredAt returns the snapshot time.
func (s *Snapshot) StoredAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Slot is the client-side snapshot cache. Only one session is tracked at a
// time, so it owns a single fixed key.
type Slot struct {
	storage Storage
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewSlot creates a slot over storage; ttl <= 0 means DefaultSlotTTL.
func NewSlot(storage Storage, ttl time.Duration) *Slot {
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &Slot{
		storage: storage,
		ttl:     ttl,
		now:     time.Now,
		logger:  log.With().Str("component", "cache").Str("layer", layerSlot).Logger(),
	}
}

// SetLogger replaces the slot logger.
func (s *Slot) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Load returns the snapshot for url. Absent, unreadable, stale or empty
// snapshots and snapshots taken for another url are misses. Unreadable and
// empty ones are removed.
func (s *Slot) Load(url string) (*Snapshot, bool) {
	raw, ok, err := s.storage.Get(SlotKey)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		s.logger.Warn().Err(err).Msg("Failed to read snapshot")
		return s.miss()
	}
	if !ok {
		return s.miss()
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.Warn().Err(err).Msg("Evicting unreadable snapshot")
		s.evict("corrupt")
		return s.miss()
	}

	if len(snap.Data.Companies) == 0 {
		s.evict("empty")
		return s.miss()
	}

	if s.now().Sub(snap.StoredAt()) >= s.ttl {
		s.evict("expired")
		return s.miss()
	}

	if snap.URL != url {
		return s.miss()
	}

	CacheHits.WithLabelValues(layerSlot).Inc()
	return &snap, true
}

// Save stores companies for url. An empty list is never stored; it clears
// the slot instead. When the storage is full, every key in SlotNamespace is
// removed and the write is abandoned with ErrQuotaExceeded.
func (s *Slot) Save(url string, companies []json.RawMessage, total int) error {
	if len(companies) == 0 {
		return s.Clear()
	}

	encoded, err := json.Marshal(Snapshot{
		Data:      SnapshotData{Companies: companies, Total: total},
		Timestamp: s.now().UnixMilli(),
		URL:       url,
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.storage.Set(SlotKey, encoded); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		if !errors.Is(err, ErrQuotaExceeded) {
			return fmt.Errorf("store snapshot: %w", err)
		}
		s.logger.Warn().Err(err).Int("bytes", len(encoded)).Msg("Storage full, clearing namespace")
		if cerr := s.clearNamespace(); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}

	CacheSize.WithLabelValues(layerSlot).Set(float64(len(encoded)))
	return nil
}

// Clear removes the snapshot.
func (s *Slot) Clear() error {
	if err := s.storage.Remove(SlotKey); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

func (s *Slot) clearNamespace() error {
	keys, err := s.storage.Keys()
	if err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("list storage keys: %w", err)
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, SlotNamespace) {
			continue
		}
		if err := s.storage.Remove(k); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("remove %s: %w", k, err)
		}
		CacheEvictions.WithLabelValues("quota").Inc()
	}
	return nil
}

func (s *Slot) evict(reason string) {
	if err := s.storage.Remove(SlotKey); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return
	}
	CacheEvictions.WithLabelValues(reason).Inc()
}

func (s *Slot) miss() (*Snapshot, bool) {
	CacheMisses.WithLabelValues(layerSlot).Inc()
	return nil, false
}
