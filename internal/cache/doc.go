// Package cache provides a bounded LRU cache with per-entry TTL.
//
// Instances are explicitly constructed and injected — the counter dedupe
// cache and the scope config cache are separate caches with their own
// bounds, never ambient singletons, so tests can build isolated instances.
package cache
