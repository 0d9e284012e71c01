package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// BatchFunc executes one batch against the remote API and returns per-record
// results. The engine supplies a closure per stage (create items in a group,
// create subitems under a parent, update items).
type BatchFunc func(ctx context.Context, records []*domain.Record) ([]driven.ItemResult, error)

// BatchDispatcher partitions records into size-bounded batches and executes
// them with bounded concurrency. Stage ordering (groups before items before
// subitems) is the engine's job; the dispatcher only guarantees isolation:
// one batch failing never aborts its siblings.
type BatchDispatcher struct {
	logger         *slog.Logger
	maxBatchSize   int
	maxConcurrency int
}

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	Logger *slog.Logger

	// MaxBatchSize bounds records per remote call (default 25, derived
	// from remote platform mutation-complexity limits).
	MaxBatchSize int

	// MaxConcurrency bounds in-flight batches (default 4).
	MaxConcurrency int
}

// NewBatchDispatcher creates a new dispatcher.
func NewBatchDispatcher(cfg DispatcherConfig) *BatchDispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	size := cfg.MaxBatchSize
	if size <= 0 {
		size = 25
	}

	conc := cfg.MaxConcurrency
	if conc <= 0 {
		conc = 4
	}

	return &BatchDispatcher{
		logger:         logger,
		maxBatchSize:   size,
		maxConcurrency: conc,
	}
}

// Partition splits records into contiguous batches of at most maxBatchSize,
// preserving input order so dispatch is deterministic.
func (d *BatchDispatcher) Partition(op domain.BatchOp, records []*domain.Record) []domain.Batch {
	var batches []domain.Batch
	for i := 0; i < len(records); i += d.maxBatchSize {
		end := i + d.maxBatchSize
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, domain.Batch{
			Seq:     len(batches),
			Op:      op,
			Records: records[i:end],
		})
	}
	return batches
}

// Dispatch partitions records and executes the batches concurrently, up to
// MaxConcurrency in flight. Results come back ordered by batch sequence.
//
// On context cancellation no new batches start, but in-flight batches run to
// completion; records in never-started batches are reported failed with the
// context error so the engine can leave them PENDING-safe in the store.
func (d *BatchDispatcher) Dispatch(ctx context.Context, op domain.BatchOp, records []*domain.Record, fn BatchFunc) []domain.BatchResult {
	batches := d.Partition(op, records)
	if len(batches) == 0 {
		return nil
	}

	results := make([]domain.BatchResult, len(batches))
	sem := make(chan struct{}, d.maxConcurrency)
	var wg sync.WaitGroup

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			results[batch.Seq] = failBatch(batch, err)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(b domain.Batch) {
			defer wg.Done()
			defer func() { <-sem }()
			results[b.Seq] = d.runBatch(ctx, b, fn)
		}(batch)
	}

	wg.Wait()
	return results
}

// runBatch executes one batch and maps its results per record. A whole-batch
// error fails every record in the batch individually.
func (d *BatchDispatcher) runBatch(ctx context.Context, b domain.Batch, fn BatchFunc) domain.BatchResult {
	itemResults, err := fn(ctx, b.Records)
	if err != nil {
		d.logger.Warn("batch failed",
			"op", b.Op,
			"batch_seq", b.Seq,
			"records", len(b.Records),
			"error", err,
		)
		return failBatch(b, err)
	}

	byRecord := make(map[string]driven.ItemResult, len(itemResults))
	for _, ir := range itemResults {
		byRecord[ir.RecordID] = ir
	}

	result := domain.BatchResult{Seq: b.Seq, Op: b.Op}
	for _, rec := range b.Records {
		ir, ok := byRecord[rec.RecordID]
		if !ok {
			result.Outcomes = append(result.Outcomes, domain.RecordOutcome{
				RecordID: rec.RecordID,
				Op:       b.Op,
				Error:    "no result returned for record",
			})
			continue
		}
		if ir.Err != nil {
			result.Outcomes = append(result.Outcomes, domain.RecordOutcome{
				RecordID: rec.RecordID,
				Op:       b.Op,
				Error:    domain.ReasonString(ir.Err),
			})
			continue
		}
		result.Outcomes = append(result.Outcomes, domain.RecordOutcome{
			RecordID: rec.RecordID,
			Op:       b.Op,
			Success:  true,
			RemoteID: ir.RemoteID,
		})
	}
	return result
}

func failBatch(b domain.Batch, err error) domain.BatchResult {
	result := domain.BatchResult{Seq: b.Seq, Op: b.Op}
	reason := domain.ReasonString(err)
	for _, rec := range b.Records {
		result.Outcomes = append(result.Outcomes, domain.RecordOutcome{
			RecordID: rec.RecordID,
			Op:       b.Op,
			Error:    reason,
		})
	}
	return result
}
