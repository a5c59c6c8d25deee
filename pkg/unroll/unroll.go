package unroll

import (
	"context"
	"io"

	"github.com/cuemby/ember/pkg/accountant"
	"github.com/cuemby/ember/pkg/log"
	"github.com/cuemby/ember/pkg/metrics"
	"github.com/cuemby/ember/pkg/types"
)

// Config bounds how aggressively the engine re-requests reservation as it
// materializes a record sequence of unknown length.
type Config struct {
	InitialThreshold int64   // bytes reserved before reading the first record
	CheckPeriod      int     // values variant: re-check every N records
	GrowthFactor     float64 // must be >= 1
}

// DefaultConfig is the ~1 MiB initial threshold and conservative growth that
// blockstore.DefaultConfig and the bundled CLI's config defaults also use.
func DefaultConfig() Config {
	return Config{
		InitialThreshold: 1 << 20,
		CheckPeriod:      16,
		GrowthFactor:     1.5,
	}
}

// Source is the lazy record sequence fed to an unroll. Next returns ok=false
// once the sequence is exhausted; a non-nil error aborts the unroll.
type Source interface {
	Next() (record any, ok bool, err error)
}

// SizeEstimator approximates the resident footprint of a single record for
// the values variant, where the exact encoded size is not available.
type SizeEstimator func(record any) int64

// DefaultSizeEstimator handles the common scalar and string/byte-slice cases
// exactly and falls back to a fixed per-record estimate for anything else,
// which is adequate for admission decisions since the engine re-checks
// periodically rather than trusting a single estimate for the whole block.
func DefaultSizeEstimator(record any) int64 {
	switch v := record.(type) {
	case string:
		return int64(len(v)) + 16
	case []byte:
		return int64(len(v)) + 24
	case int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return 16
	default:
		return 64
	}
}

// Encoder writes a single record's wire representation to w, used by the
// bytes variant.
type Encoder func(w io.Writer, record any) error

// ReclaimFunc is called whenever a reservation acquire is refused; it should
// attempt to free bytesNeeded (typically by driving eviction) and return how
// much it actually freed. The engine retries the acquire exactly once after
// a non-zero return; it never loops.
type ReclaimFunc func(ctx context.Context, id types.BlockID, bytesNeeded int64, mode types.MemoryMode) int64

// Partial is returned whenever an unroll does not complete: the initial
// reservation was refused, a later growth request failed partway through
// the sequence, or a reservation failed after the input was exhausted (the
// final shortfall or the unroll-to-storage transfer). The caller owns
// ReservationHeld until it discards the handle, which releases the
// reservation.
type Partial struct {
	BlockID         types.BlockID
	TaskID          types.TaskID
	Mode            types.MemoryMode
	ReservationHeld int64
	Values          []any               // populated for the values variant
	Chunks          *types.ChunkedBytes // populated for the bytes variant
	Rest            Source              // the not-yet-consumed remainder
}

// Discard releases the reservation a Partial is holding. After Discard the
// Partial must not be used again.
func (p *Partial) Discard(acct *accountant.Accountant) {
	if p == nil || p.ReservationHeld == 0 {
		return
	}
	acct.ReleaseUnroll(p.TaskID, p.ReservationHeld, p.Mode)
	p.ReservationHeld = 0
}

// Engine runs the shared reserve-append-recheck loop for both the values and
// bytes variants; they differ only in what "append" and "flush" do to the
// buffer, not in how reservation is grown. Every acquire the engine makes
// goes through a single retry-after-reclaim path, so reclaim is injected
// once here rather than threaded through each call site individually.
type Engine struct {
	cfg     Config
	acct    *accountant.Accountant
	reclaim ReclaimFunc
}

// New builds an Engine against the given Accountant. reclaim may be nil, in
// which case refused acquires fail immediately with no eviction attempt.
func New(cfg Config, acct *accountant.Accountant, reclaim ReclaimFunc) *Engine {
	return &Engine{cfg: cfg, acct: acct, reclaim: reclaim}
}

// PutValues materializes source into an on-heap deserialized entry.
func (e *Engine) PutValues(ctx context.Context, id types.BlockID, task types.TaskID, source Source, estimate SizeEstimator) (*types.DeserializedEntry, *Partial, error) {
	if estimate == nil {
		estimate = DefaultSizeEstimator
	}
	mode := types.OnHeap
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.UnrollDuration, "values")

	var buf []any
	var size int64

	held, ok := e.reserveInitial(ctx, id, task, mode)
	if !ok {
		metrics.PartialUnrollsTotal.WithLabelValues(mode.String(), "values").Inc()
		return nil, &Partial{BlockID: id, TaskID: task, Mode: mode, Rest: source}, nil
	}

	count := 0
	for {
		rec, more, err := source.Next()
		if err != nil {
			e.acct.ReleaseUnroll(task, held, mode)
			return nil, nil, err
		}
		if !more {
			break
		}
		buf = append(buf, rec)
		size += estimate(rec)
		count++

		if count%e.cfg.CheckPeriod == 0 {
			var grew bool
			held, grew, ok = e.maybeGrow(ctx, id, task, mode, size, held)
			if !ok {
				metrics.PartialUnrollsTotal.WithLabelValues(mode.String(), "values").Inc()
				return nil, &Partial{BlockID: id, TaskID: task, Mode: mode, ReservationHeld: held, Values: buf, Rest: source}, nil
			}
			if grew {
				metrics.UnrollReacquiresTotal.WithLabelValues(mode.String(), "values").Inc()
			}
		}
	}

	if !e.transferWithReclaim(ctx, id, task, mode, held, size) {
		metrics.PartialUnrollsTotal.WithLabelValues(mode.String(), "values").Inc()
		return nil, &Partial{BlockID: id, TaskID: task, Mode: mode, ReservationHeld: held, Values: buf, Rest: emptySource{}}, nil
	}

	return types.NewDeserializedEntry(buf, size, types.MemoryOnly), nil, nil
}

// PutBytes materializes source into a serialized, chunked-byte entry,
// encoding each record with encode. mode may be on-heap or off-heap; wrap,
// if non-nil, sits between encode and the chunked buffer (e.g. a
// compressor) and is closed once the input is exhausted, per the flush-
// and-close-the-encoder step of the admission algorithm; release is invoked
// if the entry is later evicted or removed (wired by the caller, since only
// the caller knows how off-heap bytes are freed).
func (e *Engine) PutBytes(ctx context.Context, id types.BlockID, task types.TaskID, mode types.MemoryMode, source Source, encode Encoder, chunkSize int, wrap func(io.Writer) io.Writer, release func()) (*types.SerializedEntry, *Partial, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.UnrollDuration, "bytes")

	chunks := types.NewChunkedBytes(chunkSize)
	var w io.Writer = chunks
	if wrap != nil {
		w = wrap(chunks)
	}

	held, ok := e.reserveInitial(ctx, id, task, mode)
	if !ok {
		metrics.PartialUnrollsTotal.WithLabelValues(mode.String(), "bytes").Inc()
		return nil, &Partial{BlockID: id, TaskID: task, Mode: mode, Rest: source}, nil
	}

	for {
		rec, more, err := source.Next()
		if err != nil {
			e.acct.ReleaseUnroll(task, held, mode)
			return nil, nil, err
		}
		if !more {
			break
		}
		if err := encode(w, rec); err != nil {
			e.acct.ReleaseUnroll(task, held, mode)
			return nil, nil, err
		}

		size := chunks.Size()
		if size >= held {
			var grew bool
			held, grew, ok = e.maybeGrow(ctx, id, task, mode, size, held)
			if !ok {
				metrics.PartialUnrollsTotal.WithLabelValues(mode.String(), "bytes").Inc()
				return nil, &Partial{BlockID: id, TaskID: task, Mode: mode, ReservationHeld: held, Chunks: chunks, Rest: source}, nil
			}
			if grew {
				metrics.UnrollReacquiresTotal.WithLabelValues(mode.String(), "bytes").Inc()
			}
		}
	}

	if closer, ok := w.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			e.acct.ReleaseUnroll(task, held, mode)
			return nil, nil, err
		}
	}

	final := chunks.Size()
	if final > held {
		shortfall := final - held
		if !e.acquireUnrollWithReclaim(ctx, id, task, mode, shortfall) {
			metrics.PartialUnrollsTotal.WithLabelValues(mode.String(), "bytes").Inc()
			return nil, &Partial{BlockID: id, TaskID: task, Mode: mode, ReservationHeld: held, Chunks: chunks, Rest: emptySource{}}, nil
		}
		held += shortfall
	}

	if !e.transferWithReclaim(ctx, id, task, mode, held, final) {
		metrics.PartialUnrollsTotal.WithLabelValues(mode.String(), "bytes").Inc()
		return nil, &Partial{BlockID: id, TaskID: task, Mode: mode, ReservationHeld: held, Chunks: chunks, Rest: emptySource{}}, nil
	}

	return types.NewSerializedEntry(chunks, final, mode, types.MemoryOnly, release), nil, nil
}

func (e *Engine) reserveInitial(ctx context.Context, id types.BlockID, task types.TaskID, mode types.MemoryMode) (int64, bool) {
	threshold := e.cfg.InitialThreshold
	if threshold == 0 {
		return 0, true
	}
	if !e.acquireUnrollWithReclaim(ctx, id, task, mode, threshold) {
		logger := log.WithBlockID(id.String())
		logger.Debug().Msg("initial unroll reservation refused")
		return 0, false
	}
	return threshold, true
}

// maybeGrow requests size*growthFactor - held more bytes when size has
// caught up to the current reservation. It returns the (possibly
// unchanged) reservation held, whether growth actually happened, and
// whether the engine should keep going.
func (e *Engine) maybeGrow(ctx context.Context, id types.BlockID, task types.TaskID, mode types.MemoryMode, size, held int64) (int64, bool, bool) {
	if size < held {
		return held, false, true
	}
	request := int64(float64(size)*e.cfg.GrowthFactor) - held
	if request <= 0 {
		return held, false, true
	}
	if !e.acquireUnrollWithReclaim(ctx, id, task, mode, request) {
		return held, false, false
	}
	return held + request, true, true
}

// acquireUnrollWithReclaim tries the acquire once, and if refused, asks the
// reclaim hook to free bytesNeeded and tries exactly once more.
func (e *Engine) acquireUnrollWithReclaim(ctx context.Context, id types.BlockID, task types.TaskID, mode types.MemoryMode, n int64) bool {
	if e.acct.AcquireUnroll(task, n, mode) {
		return true
	}
	if e.reclaim == nil {
		return false
	}
	if e.reclaim(ctx, id, n, mode) == 0 {
		return false
	}
	return e.acct.AcquireUnroll(task, n, mode)
}

// transferWithReclaim is the same retry-once policy applied to the final
// unroll-to-storage transfer.
func (e *Engine) transferWithReclaim(ctx context.Context, id types.BlockID, task types.TaskID, mode types.MemoryMode, held, final int64) bool {
	if e.acct.TransferUnrollToStorage(task, held, final, mode) {
		return true
	}
	if e.reclaim == nil {
		return false
	}
	shortfall := final - held
	if shortfall < 0 {
		shortfall = 0
	}
	if e.reclaim(ctx, id, shortfall, mode) == 0 {
		return false
	}
	return e.acct.TransferUnrollToStorage(task, held, final, mode)
}

// emptySource is the remainder handed back once the input has already been
// fully consumed but a late reservation still failed (the flush/shortfall
// steps); Rest is then genuinely empty rather than partially-read.
type emptySource struct{}

func (emptySource) Next() (any, bool, error) { return nil, false, nil }
