// Package blockindex holds the access-ordered map from block id to resident
// entry and the eviction scan that frees space for a new admission. It is
// modeled on a classic sized-LRU cache: a container/list for access order
// plus a map for O(1) lookup, with the added wrinkle that a candidate must
// clear both a dataset-affinity check and a non-blocking lock acquisition
// before it can be evicted.
package blockindex
