// Package serializer implements the minimal SerializerManager seam
// pkg/blockstore defines: a passthrough codec, and an optional
// compression-wrapping one, since codec and compression selection are
// explicitly out of scope for the core store but the seam must still be
// exercisable end to end.
package serializer

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cuemby/ember/pkg/blockstore"
)

// GobSerializer encodes a single record with encoding/gob. It is the only
// codec either manager in this package knows about; a real deployment would
// register more under additional tags.
type GobSerializer struct{}

func (GobSerializer) Encode(w io.Writer, record any) error {
	return gob.NewEncoder(w).Encode(record)
}

// PassthroughManager always hands back GobSerializer and never wraps the
// output stream, the default for callers that don't need compression.
type PassthroughManager struct{}

func (PassthroughManager) GetSerializer(tag string, autoPick bool) (blockstore.Serializer, error) {
	return resolveTag(tag, autoPick)
}

func (PassthroughManager) WrapForCompression(id string, output io.Writer) io.Writer {
	return output
}

// GzipManager wraps the unroll engine's output stream with gzip at Level
// (defaulting to gzip.DefaultCompression). The returned writer must be
// closed once the input is exhausted, since gzip only flushes its trailer
// on Close; PutIteratorAsBytes does this itself as part of the bytes-
// variant's flush step, so callers going through the facade never need to.
type GzipManager struct {
	Level int
}

func (g GzipManager) GetSerializer(tag string, autoPick bool) (blockstore.Serializer, error) {
	return resolveTag(tag, autoPick)
}

func (g GzipManager) WrapForCompression(id string, output io.Writer) io.Writer {
	level := g.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	zw, err := gzip.NewWriterLevel(output, level)
	if err != nil {
		// Only returns an error for an out-of-range level; Level is a
		// fixed field set once at construction, so this would be a
		// caller bug rather than a runtime condition to recover from.
		panic(fmt.Sprintf("serializer: invalid gzip level %d: %v", level, err))
	}
	return zw
}

func resolveTag(tag string, autoPick bool) (blockstore.Serializer, error) {
	switch tag {
	case "", "gob":
		return GobSerializer{}, nil
	default:
		if autoPick {
			return GobSerializer{}, nil
		}
		return nil, fmt.Errorf("serializer: unknown tag %q", tag)
	}
}
