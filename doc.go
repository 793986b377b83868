// Package memoize wraps expensive computations with a pluggable cache so
// repeated calls with identical arguments return a stored result, with
// per-key dogpile prevention so concurrent first calls do not recompute
// redundantly.
//
// # Wrapping a function
//
// [Wrap] takes a [Cache] universe, a stable name, and the computation:
//
//	c := memoize.New()
//	getUser := memoize.Wrap(c, "get_user",
//	    func(ctx context.Context, id int) (User, error) {
//	        return fetchUser(ctx, id)
//	    },
//	    memoize.WithTTL(5*time.Minute),
//	    memoize.WithTag("users"),
//	)
//
//	u, err := getUser.Call(ctx, 123)   // computes, caches
//	u, err = getUser.Call(ctx, 123)    // served from cache
//
// The returned [Func] also exposes direct manipulation: [Func.Get] and
// [Func.GetOr] read without computing, [Func.Set] force-writes,
// [Func.Invalidate] removes one entry, [Func.Refresh] recomputes and
// re-caches, [Func.Original] bypasses the cache entirely, and [Func.Info]
// reports hit/miss counters and the live entry count. Per-call behavior is
// adjusted with [Skip] (no cache interaction) and [Overwrite]
// (unconditional recompute-and-store).
//
// # Call protocol
//
// Every call walks the same sequence: a fast-path read that serves a valid
// hit without taking any lock; on a miss, acquisition of the per-key
// dogpile mutex bounded by the configured lock timeout; a re-check under
// the lock (another caller may have populated the entry meanwhile); then
// compute, conditionally store, release. A lock that cannot be acquired in
// time is not an error — the caller computes without it, trading redundant
// work for liveness. Errors from the wrapped function propagate exactly as
// if caching were absent, and nothing is stored for them.
//
// # Backends
//
// Storage is pluggable per function via [WithBackend] or per scope via
// configuration: "memory" (process-local), "file" (SQLite database,
// shareable between processes), "redis" (shared store with native TTL and
// distributed locks), or "null" (never caches). Entries are msgpack
// serialized, so a value written through one backend kind reads back
// through another. Stored bytes that no longer decode are treated as a
// miss and deleted, never surfaced as errors — format changes across
// deployments must not crash readers.
//
// Backend instances are partitioned by (scope, kind, TTL): functions with
// different TTLs never share storage. Instances are created lazily and
// live until [Cache.Clear] or [Cache.Close].
//
// # Bulk operations
//
// [Cache.Clear] removes entries across instances, optionally filtered by
// [ClearTag], [ClearKind], [ClearTTL], and [ClearScope], and resets the
// affected statistics. Naming both a kind and a TTL clears that single
// backend even from a process that never populated it, which is how
// distributed invalidation is done.
package memoize
