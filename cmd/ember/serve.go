package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/ember/pkg/blockstore"
	"github.com/cuemby/ember/pkg/config"
	"github.com/cuemby/ember/pkg/diskspill"
	"github.com/cuemby/ember/pkg/events"
	"github.com/cuemby/ember/pkg/log"
	"github.com/cuemby/ember/pkg/metrics"
	"github.com/cuemby/ember/pkg/monitor"
	"github.com/cuemby/ember/pkg/serializer"
	"github.com/cuemby/ember/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a demo workload against the store and serve /metrics",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("records", 200, "Number of demo blocks to admit")
	serveCmd.Flags().Int("record-size", 4096, "Approximate size in bytes of each demo block's payload")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	records, _ := cmd.Flags().GetInt("records")
	recordSize, _ := cmd.Flags().GetInt("record-size")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.WithComponent("serve")

	handler, err := diskspill.Open(cfg.DiskSpillPath)
	if err != nil {
		return fmt.Errorf("open disk spill store: %w", err)
	}
	defer handler.Close()

	store := blockstore.New(cfg.Blockstore(), handler, serializer.PassthroughManager{})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	store.SetEventBroker(broker)

	sub := broker.Subscribe()
	go func() {
		for evt := range sub {
			logger.Info().Str("type", string(evt.Type)).Str("block_id", evt.BlockID).Msg(evt.Message)
		}
	}()

	mon := monitor.New(store.Accountant(), 5*time.Second)
	mon.Start()
	defer mon.Stop()

	runDemoWorkload(cmd.Context(), store, records, recordSize, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{Addr: cfg.MetricsListenAddr, Handler: mux}
	logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("serving metrics")
	return server.ListenAndServe()
}

func runDemoWorkload(ctx context.Context, store *blockstore.Store, records, recordSize int, logger zerolog.Logger) {
	payload := make([]byte, recordSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	for i := 0; i < records; i++ {
		id := types.BlockID(fmt.Sprintf("rdd_demo_%d", i))
		task := types.TaskID(uuid.NewString())
		_, err := store.PutBytes(ctx, id, task, types.OnHeap, types.MemoryAndDisk, payload)
		if err != nil {
			logger.Debug().Err(err).Str("block_id", string(id)).Msg("demo put rejected")
		}
	}
}
