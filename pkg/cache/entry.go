package cache

import "time"

// Entry is a stored payload.
type Entry struct {
	// Data is the serialized response, returned to callers byte for byte.
	Data []byte `json:"data"`

	// StoredAt is when the payload was written.
	StoredAt time.Time `json:"stored_at"`

	// Expires is when the entry stops being served.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}
