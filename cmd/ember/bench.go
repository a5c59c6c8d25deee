package main

import (
	"fmt"
	"time"

	"github.com/cuemby/ember/pkg/blockstore"
	"github.com/cuemby/ember/pkg/diskspill"
	"github.com/cuemby/ember/pkg/log"
	"github.com/cuemby/ember/pkg/serializer"
	"github.com/cuemby/ember/pkg/types"
	"github.com/cuemby/ember/pkg/unroll"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic unroll/evict benchmark against the store",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().Int("blocks", 500, "Number of synthetic blocks to unroll")
	benchCmd.Flags().Int("records-per-block", 64, "Records materialized per block")
	benchCmd.Flags().Int64("max-bytes", 2<<20, "On-heap storage ceiling, small enough to force eviction")
}

// intSource yields n 256-byte slices, large enough to be individually
// estimable but small enough to keep the benchmark's total footprint
// predictable.
type intSource struct {
	remaining int
}

func (s *intSource) Next() (any, bool, error) {
	if s.remaining <= 0 {
		return nil, false, nil
	}
	s.remaining--
	return make([]byte, 256), true, nil
}

func runBench(cmd *cobra.Command, args []string) error {
	blocks, _ := cmd.Flags().GetInt("blocks")
	recordsPerBlock, _ := cmd.Flags().GetInt("records-per-block")
	maxBytes, _ := cmd.Flags().GetInt64("max-bytes")

	logger := log.WithComponent("bench")

	handler, err := diskspill.Open(".")
	if err != nil {
		return fmt.Errorf("open disk spill store: %w", err)
	}
	defer handler.Close()

	cfg := blockstore.DefaultConfig()
	cfg.MaxOnHeapStorageBytes = maxBytes
	store := blockstore.New(cfg, handler, serializer.PassthroughManager{})

	ctx := cmd.Context()
	start := time.Now()

	var admitted, partial int
	for i := 0; i < blocks; i++ {
		id := types.BlockID(fmt.Sprintf("rdd_%d_%d", i, i))
		task := types.TaskID(uuid.NewString())
		source := &intSource{remaining: recordsPerBlock}

		_, p, err := store.PutIteratorAsValues(ctx, id, task, source, unroll.DefaultSizeEstimator)
		switch {
		case err != nil:
			logger.Debug().Err(err).Str("block_id", string(id)).Msg("unroll rejected")
		case p != nil:
			partial++
			p.Discard(store.Accountant())
		default:
			admitted++
		}
	}

	elapsed := time.Since(start)
	onHeap := store.Stats(types.OnHeap)

	fmt.Printf("blocks attempted:   %d\n", blocks)
	fmt.Printf("blocks admitted:    %d\n", admitted)
	fmt.Printf("blocks partial:     %d\n", partial)
	fmt.Printf("elapsed:            %s\n", elapsed)
	fmt.Printf("on-heap storage:    %d / %d bytes\n", onHeap.StorageUsed, onHeap.MaxTotal)

	return nil
}
