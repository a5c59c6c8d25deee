package blockstore

import (
	"io"

	"github.com/cuemby/ember/pkg/blockindex"
)

// BlockEvictionHandler is the seam the Memory Store hands evicted entries
// to. It is defined in pkg/blockindex, the package that actually invokes
// it during a scan; blockstore re-exports the name so callers configuring
// a Store never need to import blockindex directly.
type BlockEvictionHandler = blockindex.BlockEvictionHandler

// DataSupplier is likewise re-exported from pkg/blockindex.
type DataSupplier = blockindex.DataSupplier

// SerializerManager is consulted only by the bytes-variant unroll engine: it
// picks an encoding for a given tag and can wrap the chunked output stream
// with a compressor before records are written to it.
type SerializerManager interface {
	// GetSerializer resolves a named codec. When autoPick is true the
	// manager may pick a codec itself instead of rejecting a tag it does
	// not recognize.
	GetSerializer(tag string, autoPick bool) (Serializer, error)
	// WrapForCompression wraps output with this manager's compression
	// scheme, if any; managers with no compression configured return
	// output unchanged.
	WrapForCompression(id string, output io.Writer) io.Writer
}

// Serializer encodes a single record to w, matching the unroll.Encoder
// signature it is ultimately used through.
type Serializer interface {
	Encode(w io.Writer, record any) error
}
