// Package diskspill persists evicted blocks to a single-bucket bbolt
// database file, the reference implementation of blockindex's
// BlockEvictionHandler bundled with this repository.
package diskspill
