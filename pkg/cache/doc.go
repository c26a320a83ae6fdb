// Package cache short-circuits fetch sessions with stored snapshots.
//
// Two flavours share the same get/put contract:
//
//   - Store, the server-side cache keyed by endpoint identity (md5 of the
//     webhook URL). FileStore keeps one JSON file per endpoint under a
//     directory and judges freshness by file mtime; RedisStore keeps the
//     payload under crm:cache:<md5> with a Redis TTL.
//   - Slot, the client-side snapshot cache: a single fixed key holding
//     {data:{companies,total}, timestamp, url} in a Storage backend.
//
// # Basic Usage
//
//	store, err := cache.NewFileStore(filepath.Join(os.TempDir(), "bitrix_cache"), 5*time.Minute)
//	if err != nil {
//		return err
//	}
//
//	key := cache.KeyFor(ep)
//	entry, err := store.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// run a fetch session, then
//		_, err = store.Set(ctx, key, payload)
//	}
//
// A stale, unreadable or empty entry reads as ErrCacheMiss. Writes are
// best-effort: callers log a failed Set and carry on.
//
// # Metrics
//
//   - crm_cache_hits_total{layer} - Cache hits (file, redis, slot)
//   - crm_cache_misses_total{layer} - Cache misses
//   - crm_cache_errors_total{operation} - Failed get, set, delete and clear calls
//   - crm_cache_evictions_total{reason} - Entries removed (corrupt, empty, expired, quota)
//   - crm_cache_size_bytes{layer} - Bytes written by the last Set
package cache
