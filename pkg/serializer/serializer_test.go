package serializer

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGobSerializerRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GobSerializer{}.Encode(&buf, "hello"))

	var out string
	require.NoError(t, gob.NewDecoder(&buf).Decode(&out))
	assert.Equal(t, "hello", out)
}

func TestPassthroughManagerResolvesKnownTags(t *testing.T) {
	m := PassthroughManager{}

	s, err := m.GetSerializer("", false)
	assert.NoError(t, err)
	assert.IsType(t, GobSerializer{}, s)

	s, err = m.GetSerializer("gob", false)
	assert.NoError(t, err)
	assert.IsType(t, GobSerializer{}, s)
}

func TestPassthroughManagerRejectsUnknownTag(t *testing.T) {
	m := PassthroughManager{}
	_, err := m.GetSerializer("snappy", false)
	assert.Error(t, err)
}

func TestPassthroughManagerAutoPickFallsBackToGob(t *testing.T) {
	m := PassthroughManager{}
	s, err := m.GetSerializer("snappy", true)
	assert.NoError(t, err)
	assert.IsType(t, GobSerializer{}, s)
}

func TestPassthroughManagerDoesNotWrapOutput(t *testing.T) {
	m := PassthroughManager{}
	var buf bytes.Buffer
	w := m.WrapForCompression("b1", &buf)
	assert.Same(t, io.Writer(&buf), w)
}

func TestGzipManagerCompressesAndDecompresses(t *testing.T) {
	g := GzipManager{}
	var buf bytes.Buffer
	zw := g.WrapForCompression("b1", &buf)

	_, err := zw.Write([]byte("hello world hello world hello world"))
	require.NoError(t, err)
	require.NoError(t, zw.(*gzip.Writer).Close())

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	defer zr.Close()

	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "hello world hello world hello world", string(decoded))
}
