// Package types defines the data model shared by the block store: block and
// dataset identifiers, memory modes, storage levels, and the two resident
// entry variants (deserialized and serialized).
package types
