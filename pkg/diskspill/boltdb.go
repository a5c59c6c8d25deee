// Package diskspill ships the one concrete BlockEvictionHandler this
// repository bundles: a bbolt-backed disk tier that persists whatever the
// eviction scan hands it into a single bucket keyed by block id. The core
// block store never imports this package; it is wired in only by the
// callers (cmd/ember, tests) that want a real disk fallback instead of
// letting evicted blocks disappear.
package diskspill

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cuemby/ember/pkg/blockindex"
	"github.com/cuemby/ember/pkg/log"
	"github.com/cuemby/ember/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketBlocks = []byte("blocks")

func init() {
	// Registered so the common demo-workload value types survive a gob
	// round trip through an `any` slice. Arbitrary caller types need their
	// own gob.Register call before they can be spilled.
	gob.Register("")
	gob.Register(0)
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]byte(nil))
}

// BoltEvictionHandler persists evicted blocks to a bbolt database file.
type BoltEvictionHandler struct {
	db *bolt.DB
}

// Open creates or reuses a bbolt database under dataDir, with the single
// bucket this handler needs already present.
func Open(dataDir string) (*BoltEvictionHandler, error) {
	dbPath := filepath.Join(dataDir, "ember.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open disk spill database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlocks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create disk spill bucket: %w", err)
	}

	return &BoltEvictionHandler{db: db}, nil
}

// Close releases the underlying database file.
func (h *BoltEvictionHandler) Close() error {
	return h.db.Close()
}

// DropFromMemory persists data to disk when originalLevel allows a disk
// fallback, reporting UseDisk=true so the index keeps the block's lock
// record alive for a future Load. A block whose level has no disk fallback,
// or whose payload this handler cannot encode, is reported as gone for good.
func (h *BoltEvictionHandler) DropFromMemory(ctx context.Context, id types.BlockID, data blockindex.DataSupplier, originalLevel types.StorageLevel) types.StorageLevel {
	if !originalLevel.UseDisk {
		return types.None
	}

	logger := log.WithBlockID(id.String())

	payload, err := encode(data)
	if err != nil {
		logger.Debug().Err(err).Msg("disk spill encode failed, dropping block")
		return types.None
	}

	err = h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put([]byte(id), payload)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("disk spill write failed, dropping block")
		return types.None
	}

	return types.StorageLevel{UseDisk: true, Deserialized: originalLevel.Deserialized, Replication: originalLevel.Replication}
}

// Load reads a previously spilled block's raw bytes back out, for a caller
// that wants to rehydrate a get that missed the in-memory index. It does not
// distinguish the values/bytes variant the block originally had; decoding
// the values case back into []any is the caller's responsibility.
func (h *BoltEvictionHandler) Load(id types.BlockID) ([]byte, bool, error) {
	var payload []byte
	err := h.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get([]byte(id))
		if v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("disk spill read %s: %w", id, err)
	}
	return payload, payload != nil, nil
}

// Delete removes a block's spilled payload, used when it is later removed
// from the store entirely rather than just evicted.
func (h *BoltEvictionHandler) Delete(id types.BlockID) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Delete([]byte(id))
	})
}

func encode(data blockindex.DataSupplier) ([]byte, error) {
	if values, ok := data.Values(); ok {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(values); err != nil {
			return nil, fmt.Errorf("gob-encode values: %w", err)
		}
		return buf.Bytes(), nil
	}
	if chunks, ok := data.Bytes(); ok {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, chunks.Reader()); err != nil {
			return nil, fmt.Errorf("copy chunked bytes: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("entry exposes neither values nor bytes")
}
