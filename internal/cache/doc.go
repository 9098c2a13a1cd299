// Package cache implements the versioned response partitions the offline
// layer reads and writes. A Storage holds named partitions (page-cache-<tag>,
// runtime-cache-<tag>, static-cache-<tag>); each partition maps a request
// identity (method + URL) to an immutable response snapshot. Three backends
// are provided: goleveldb (default), plain files under StoragePath, and an
// in-process memory store. Namespace derives partition names from a version
// tag and prunes stale generations; Search walks candidate partitions in
// order; Writer performs detached best-effort stores.
package cache
