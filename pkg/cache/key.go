package cache

import (
	"strings"

	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
)

// RedisPrefix namespaces server-side entries in Redis.
const RedisPrefix = "crm:cache:"

// Key identifies a server-side entry: the md5 hex digest of the endpoint.
type Key string

// KeyFor derives the key for ep.
func KeyFor(ep endpoint.Endpoint) Key {
	return Key(ep.Key())
}

// String returns the Redis key.
//
// Example:
//
//	crm:cache:5d41402abc4b2a76b9719d911017c592
func (k Key) String() string {
	return RedisPrefix + string(k)
}

// FileName returns the file name used by FileStore.
func (k Key) FileName() string {
	return string(k) + ".json"
}

// Valid reports whether k is a lowercase hex md5 digest. Anything else could
// escape the cache directory.
func (k Key) Valid() bool {
	if len(k) != 32 {
		return false
	}
	return strings.Trim(string(k), "0123456789abcdef") == ""
}
