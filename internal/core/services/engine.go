package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.SyncService = (*SyncEngine)(nil)

// SyncEngine orchestrates a sync run for one scope:
//  1. Load candidate records
//  2. Classify them (ChangeDetector)
//  3. Resolve remote groups (GroupResolver, one per run)
//  4. Dispatch header creates
//  5. Propagate header item ids, dispatch line (subitem) creates
//  6. Dispatch updates
//  7. Dispatch cancellation zeroing
//  8. Write outcomes back per batch and report a summary
//
// Stage ordering gives the groups-before-items-before-subitems guarantee;
// within a stage the dispatcher runs batches concurrently.
type SyncEngine struct {
	recordStore driven.RecordStore
	runStore    driven.RunStore
	client      driven.BoardClient
	reports     driven.ReportWriter
	logger      *slog.Logger

	detector   *ChangeDetector
	dispatcher *BatchDispatcher

	boardID    string
	thresholds domain.Thresholds
}

// SyncEngineConfig holds dependencies and per-run tunables for the engine.
type SyncEngineConfig struct {
	RecordStore driven.RecordStore
	RunStore    driven.RunStore
	Client      driven.BoardClient
	Reports     driven.ReportWriter
	Logger      *slog.Logger

	// BoardID routes all items of this engine to one remote board.
	BoardID string

	MaxBatchSize   int
	MaxConcurrency int

	// Thresholds classify the run by success rate. Zero value means the
	// platform defaults.
	Thresholds domain.Thresholds
}

// NewSyncEngine creates a new sync engine.
func NewSyncEngine(cfg SyncEngineConfig) *SyncEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	thresholds := cfg.Thresholds
	if thresholds.Success == 0 && thresholds.Partial == 0 {
		thresholds = domain.DefaultThresholds()
	}

	return &SyncEngine{
		recordStore: cfg.RecordStore,
		runStore:    cfg.RunStore,
		client:      cfg.Client,
		reports:     cfg.Reports,
		logger:      logger,
		detector:    NewChangeDetector(logger),
		dispatcher: NewBatchDispatcher(DispatcherConfig{
			Logger:         logger,
			MaxBatchSize:   cfg.MaxBatchSize,
			MaxConcurrency: cfg.MaxConcurrency,
		}),
		boardID:    cfg.BoardID,
		thresholds: thresholds,
	}
}

// RunScope synchronizes a single scope. Individual record and batch failures
// never abort the run; the returned error is non-nil only when the run as a
// whole could not proceed (store unreachable, run cancelled).
func (e *SyncEngine) RunScope(ctx context.Context, scopeID string) (*domain.SyncSummary, error) {
	start := time.Now()
	run := domain.NewSyncRun(scopeID)
	if err := e.runStore.Save(ctx, run); err != nil {
		e.logger.Warn("failed to persist run start", "run_id", run.ID, "error", err)
	}

	e.logger.Info("starting sync run", "run_id", run.ID, "scope_id", scopeID)

	records, err := e.recordStore.ListCandidates(ctx, scopeID)
	if err != nil {
		return e.failRun(ctx, run, start, fmt.Errorf("load candidates: %w", err))
	}

	cs := e.detector.Classify(records)

	summary := &domain.SyncSummary{
		ScopeID:      scopeID,
		TotalRecords: len(records),
	}

	st := newRunState(records, cs)

	// Locally resolved cancellations (never synced) only need a write-back.
	// Lines under such a header are resolved with it, whatever their own
	// classification said.
	if len(st.localCancels) > 0 {
		seen := make(map[string]bool)
		var resolved []*domain.Record
		markLocal := func(rec *domain.Record) {
			if seen[rec.RecordID] {
				return
			}
			seen[rec.RecordID] = true
			rec.ZeroQuantities()
			rec.ContentHash = domain.HashPayload(rec.Payload)
			rec.SyncState = domain.SyncStateSynced
			rec.ActionType = domain.ActionNone
			rec.SyncedHash = rec.ContentHash
			resolved = append(resolved, rec)
		}
		for _, rec := range st.localCancels {
			markLocal(rec)
			if rec.Kind == domain.RecordKindHeader {
				summary.Cancelled++
				for _, ln := range st.linesByHdr[rec.RecordID] {
					markLocal(ln)
				}
				continue
			}
			// A standalone cancelled line counts itself; one under a
			// cancelled header is counted by the header.
			if !st.cancelledHdr[rec.ParentRecordID] {
				summary.Cancelled++
				summary.Outcomes = append(summary.Outcomes, domain.RecordOutcome{
					RecordID: rec.RecordID,
					Op:       domain.BatchOpUpdateItems,
					Success:  true,
				})
			}
		}
		st.dropLocallyResolved(seen)
		if err := e.recordStore.ApplyOutcomes(ctx, resolved); err != nil {
			return e.failRun(ctx, run, start, fmt.Errorf("apply local cancellations: %w", err))
		}
	}
	for _, rec := range cs.Noop {
		if rec.Cancelled && rec.RemoteItemID == "" {
			continue // locally resolved cancellation, counted above
		}
		if rec.Kind == domain.RecordKindLine && st.cancelledHdr[rec.ParentRecordID] {
			continue // zeroed in the cancellation stage
		}
		summary.Unchanged++
	}

	resolver := NewGroupResolver(e.client, e.boardID, e.logger)

	stages := []func(context.Context, *runState, *GroupResolver, *domain.SyncSummary) error{
		e.stageResolveGroups,
		e.stageCreateHeaders,
		e.stageCreateLines,
		e.stageUpdates,
		e.stageCancellations,
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return e.failRun(ctx, run, start, fmt.Errorf("run cancelled: %w", err))
		}
		if err := stage(ctx, st, resolver, summary); err != nil {
			return e.failRun(ctx, run, start, err)
		}
	}

	summary.ElapsedMs = time.Since(start).Milliseconds()
	summary.Finalize(e.thresholds)

	run.Complete(summary)
	if err := e.runStore.Save(ctx, run); err != nil {
		e.logger.Warn("failed to persist run result", "run_id", run.ID, "error", err)
	}
	e.report(ctx, run)

	e.logger.Info("sync run completed",
		"run_id", run.ID,
		"scope_id", scopeID,
		"status", summary.Status,
		"created", summary.Created,
		"updated", summary.Updated,
		"cancelled", summary.Cancelled,
		"failed", summary.Failed,
		"unchanged", summary.Unchanged,
		"batch_success_rate", summary.BatchSuccessRate,
		"elapsed_ms", summary.ElapsedMs,
	)

	return summary, nil
}

// RunAll synchronizes every scope with candidate records. One scope's
// failure never blocks another's.
func (e *SyncEngine) RunAll(ctx context.Context) ([]*domain.SyncSummary, error) {
	scopes, err := e.recordStore.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}

	var summaries []*domain.SyncSummary
	for _, scopeID := range scopes {
		summary, err := e.RunScope(ctx, scopeID)
		if err != nil {
			e.logger.Error("scope sync failed", "scope_id", scopeID, "error", err)
			if ctx.Err() != nil {
				summaries = append(summaries, summary)
				return summaries, ctx.Err()
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// runState indexes one run's records for the dispatch stages.
type runState struct {
	cs *domain.ChangeSet

	headersByID  map[string]*domain.Record
	linesByID    map[string]*domain.Record
	linesByHdr   map[string][]*domain.Record
	cancelledHdr map[string]bool

	headerCreates []*domain.Record
	lineCreates   []*domain.Record
	updates       []*domain.Record
	cancelHeaders []*domain.Record
	cancelLines   []*domain.Record
	localCancels  []*domain.Record

	// groupIDs holds resolved group ids; groupErrs the shared failure
	// reason for unresolvable groups.
	groupIDs  map[domain.GroupKey]string
	groupErrs map[domain.GroupKey]error
}

func newRunState(records []*domain.Record, cs *domain.ChangeSet) *runState {
	st := &runState{
		cs:           cs,
		headersByID:  make(map[string]*domain.Record),
		linesByID:    make(map[string]*domain.Record),
		linesByHdr:   make(map[string][]*domain.Record),
		cancelledHdr: make(map[string]bool),
		groupIDs:     make(map[domain.GroupKey]string),
		groupErrs:    make(map[domain.GroupKey]error),
	}

	for _, rec := range records {
		if rec.Kind == domain.RecordKindHeader {
			st.headersByID[rec.RecordID] = rec
		} else {
			st.linesByID[rec.RecordID] = rec
			st.linesByHdr[rec.ParentRecordID] = append(st.linesByHdr[rec.ParentRecordID], rec)
		}
	}

	for _, rec := range cs.ToCancel {
		if rec.Kind == domain.RecordKindHeader {
			st.cancelledHdr[rec.RecordID] = true
			st.cancelHeaders = append(st.cancelHeaders, rec)
		} else {
			st.cancelLines = append(st.cancelLines, rec)
		}
	}
	for _, rec := range cs.Noop {
		if rec.Cancelled && rec.RemoteItemID == "" {
			if rec.Kind == domain.RecordKindHeader {
				st.cancelledHdr[rec.RecordID] = true
			}
			st.localCancels = append(st.localCancels, rec)
		}
	}

	// Lines under a cancelled header are zeroed in the cancellation stage,
	// whatever their own classification said.
	for _, rec := range cs.ToCreate {
		if rec.Kind == domain.RecordKindHeader {
			st.headerCreates = append(st.headerCreates, rec)
		} else if !st.cancelledHdr[rec.ParentRecordID] {
			st.lineCreates = append(st.lineCreates, rec)
		}
	}
	for _, rec := range cs.ToUpdate {
		if rec.Kind == domain.RecordKindLine && st.cancelledHdr[rec.ParentRecordID] {
			continue
		}
		st.updates = append(st.updates, rec)
	}

	return st
}

// stageResolveGroups resolves every distinct group needed by the header
// creates. A group that cannot be resolved fails all its dependent creates
// with one shared reason, recorded later in the create stage.
func (e *SyncEngine) stageResolveGroups(ctx context.Context, st *runState, resolver *GroupResolver, _ *domain.SyncSummary) error {
	for _, rec := range st.headerCreates {
		key := rec.GroupKey
		if _, done := st.groupIDs[key]; done {
			continue
		}
		if _, failed := st.groupErrs[key]; failed {
			continue
		}
		id, err := resolver.Resolve(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("resolve groups: %w", ctx.Err())
			}
			st.groupErrs[key] = err
			continue
		}
		st.groupIDs[key] = id
	}
	return nil
}

// stageCreateHeaders dispatches header creates per resolved group and
// propagates the new remote item ids to dependent lines.
func (e *SyncEngine) stageCreateHeaders(ctx context.Context, st *runState, _ *GroupResolver, summary *domain.SyncSummary) error {
	byGroup := make(map[domain.GroupKey][]*domain.Record)
	var order []domain.GroupKey
	for _, rec := range st.headerCreates {
		if _, ok := byGroup[rec.GroupKey]; !ok {
			order = append(order, rec.GroupKey)
		}
		byGroup[rec.GroupKey] = append(byGroup[rec.GroupKey], rec)
	}

	for _, key := range order {
		headers := byGroup[key]

		if gerr, failed := st.groupErrs[key]; failed {
			reason := domain.NewDependencyError("group "+string(key), domain.ReasonString(gerr))
			var failedRecs []*domain.Record
			for _, rec := range headers {
				rec.MarkFailed(reason.Message)
				summary.Failed++
				summary.Outcomes = append(summary.Outcomes, domain.RecordOutcome{
					RecordID: rec.RecordID,
					Op:       domain.BatchOpCreateItems,
					Error:    reason.Message,
				})
				failedRecs = append(failedRecs, rec)
			}
			if err := e.recordStore.ApplyOutcomes(ctx, failedRecs); err != nil {
				return fmt.Errorf("apply group-failure outcomes: %w", err)
			}
			continue
		}

		groupID := st.groupIDs[key]
		results := e.dispatcher.Dispatch(ctx, domain.BatchOpCreateItems, headers, func(ctx context.Context, recs []*domain.Record) ([]driven.ItemResult, error) {
			return e.client.CreateItems(ctx, e.boardID, groupID, itemSpecs(recs))
		})

		if err := e.applyResults(ctx, results, st, summary, func(rec *domain.Record, out domain.RecordOutcome) {
			summary.Created++
			for _, line := range st.linesByHdr[rec.RecordID] {
				line.RemoteParentID = out.RemoteID
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// stageCreateLines dispatches subitem creates per parent item. Lines whose
// header never made it remotely cascade-fail without a remote call.
func (e *SyncEngine) stageCreateLines(ctx context.Context, st *runState, _ *GroupResolver, summary *domain.SyncSummary) error {
	byParent := make(map[string][]*domain.Record)
	var order []string
	var orphaned []*domain.Record

	for _, rec := range st.lineCreates {
		if rec.RemoteParentID == "" {
			if hdr, ok := st.headersByID[rec.ParentRecordID]; ok && hdr.RemoteItemID != "" {
				rec.RemoteParentID = hdr.RemoteItemID
			}
		}
		if rec.RemoteParentID == "" {
			orphaned = append(orphaned, rec)
			continue
		}
		if _, ok := byParent[rec.RemoteParentID]; !ok {
			order = append(order, rec.RemoteParentID)
		}
		byParent[rec.RemoteParentID] = append(byParent[rec.RemoteParentID], rec)
	}

	if len(orphaned) > 0 {
		for _, rec := range orphaned {
			reason := domain.NewDependencyError("header "+rec.ParentRecordID, "no remote item")
			rec.MarkFailed(reason.Message)
			summary.Failed++
			summary.Outcomes = append(summary.Outcomes, domain.RecordOutcome{
				RecordID: rec.RecordID,
				Op:       domain.BatchOpCreateSubitems,
				Error:    reason.Message,
			})
		}
		if err := e.recordStore.ApplyOutcomes(ctx, orphaned); err != nil {
			return fmt.Errorf("apply orphaned-line outcomes: %w", err)
		}
	}

	for _, parentID := range order {
		lines := byParent[parentID]
		pid := parentID
		results := e.dispatcher.Dispatch(ctx, domain.BatchOpCreateSubitems, lines, func(ctx context.Context, recs []*domain.Record) ([]driven.ItemResult, error) {
			return e.client.CreateSubitems(ctx, pid, itemSpecs(recs))
		})

		if err := e.applyResults(ctx, results, st, summary, func(rec *domain.Record, out domain.RecordOutcome) {
			summary.Created++
		}); err != nil {
			return err
		}
	}
	return nil
}

// stageUpdates dispatches hash-change updates for headers and lines that
// already exist remotely.
func (e *SyncEngine) stageUpdates(ctx context.Context, st *runState, _ *GroupResolver, summary *domain.SyncSummary) error {
	if len(st.updates) == 0 {
		return nil
	}

	results := e.dispatcher.Dispatch(ctx, domain.BatchOpUpdateItems, st.updates, func(ctx context.Context, recs []*domain.Record) ([]driven.ItemResult, error) {
		return e.client.UpdateItems(ctx, e.boardID, itemUpdates(recs))
	})

	return e.applyResults(ctx, results, st, summary, func(rec *domain.Record, out domain.RecordOutcome) {
		summary.Updated++
	})
}

// stageCancellations zeroes the quantities of every line under a cancelled
// header and pushes those zeroes as updates. The remote items already
// exist, so this stage bypasses group and item creation entirely. A header
// is counted cancelled only after all of its zeroing updates confirmed.
func (e *SyncEngine) stageCancellations(ctx context.Context, st *runState, _ *GroupResolver, summary *domain.SyncSummary) error {
	var zeroUpdates []*domain.Record
	lineFailures := make(map[string]bool) // header id -> any zero update failed

	addLine := func(line *domain.Record) {
		line.ZeroQuantities()
		line.ContentHash = domain.HashPayload(line.Payload)
		if line.RemoteItemID == "" {
			// Never created remotely: zeroing the local payload is enough.
			// Persisted together with its header below.
			line.SyncState = domain.SyncStateSynced
			line.ActionType = domain.ActionNone
			return
		}
		line.ActionType = domain.ActionCancel
		zeroUpdates = append(zeroUpdates, line)
	}

	for _, hdr := range st.cancelHeaders {
		hdr.ZeroQuantities()
		hdr.ContentHash = domain.HashPayload(hdr.Payload)
		for _, line := range st.linesByHdr[hdr.RecordID] {
			addLine(line)
		}
	}
	// Lines flagged cancelled on their own (header untouched this run).
	for _, line := range st.cancelLines {
		if !st.cancelledHdr[line.ParentRecordID] {
			addLine(line)
		}
	}

	if len(zeroUpdates) > 0 {
		results := e.dispatcher.Dispatch(ctx, domain.BatchOpUpdateItems, zeroUpdates, func(ctx context.Context, recs []*domain.Record) ([]driven.ItemResult, error) {
			return e.client.UpdateItems(ctx, e.boardID, itemUpdates(recs))
		})

		if err := e.applyResults(ctx, results, st, summary, func(rec *domain.Record, out domain.RecordOutcome) {
			// A standalone cancelled line counts itself; a line under a
			// cancelled header is counted by the header.
			if !st.cancelledHdr[rec.ParentRecordID] {
				summary.Cancelled++
			}
		}); err != nil {
			return err
		}
		for _, br := range results {
			for _, out := range br.Outcomes {
				if !out.Success {
					if line := st.lineByID(out.RecordID); line != nil {
						lineFailures[line.ParentRecordID] = true
					}
				}
			}
		}
	}

	var headerRecs []*domain.Record
	for _, hdr := range st.cancelHeaders {
		if lineFailures[hdr.RecordID] {
			hdr.MarkFailed("cancellation updates failed for one or more lines")
			summary.Failed++
		} else {
			hdr.MarkSynced("")
			summary.Cancelled++
		}
		headerRecs = append(headerRecs, hdr)
		// Persist the locally zeroed lines that had no remote item.
		for _, line := range st.linesByHdr[hdr.RecordID] {
			if line.RemoteItemID == "" {
				headerRecs = append(headerRecs, line)
			}
		}
	}
	if len(headerRecs) > 0 {
		if err := e.recordStore.ApplyOutcomes(ctx, headerRecs); err != nil {
			return fmt.Errorf("apply cancellation outcomes: %w", err)
		}
	}
	return nil
}

// applyResults maps batch results onto records, persists each batch's
// records as one transaction, and appends outcomes to the summary.
// onSuccess, when non-nil, runs per successfully synced record before
// persistence (counting, id propagation).
func (e *SyncEngine) applyResults(
	ctx context.Context,
	results []domain.BatchResult,
	st *runState,
	summary *domain.SyncSummary,
	onSuccess func(rec *domain.Record, out domain.RecordOutcome),
) error {
	for _, br := range results {
		var recs []*domain.Record
		for _, out := range br.Outcomes {
			rec := st.recordByID(out.RecordID)
			if rec == nil {
				continue
			}
			if out.Success {
				rec.MarkSynced(out.RemoteID)
				if onSuccess != nil {
					onSuccess(rec, out)
				}
			} else {
				rec.MarkFailed(out.Error)
				summary.Failed++
			}
			summary.Outcomes = append(summary.Outcomes, out)
			recs = append(recs, rec)
		}
		summary.BatchesDispatched++
		if len(recs) == 0 {
			continue
		}
		if err := e.recordStore.ApplyOutcomes(ctx, recs); err != nil {
			return fmt.Errorf("apply batch outcomes: %w", err)
		}
	}
	return nil
}

// dropLocallyResolved removes records resolved during local cancellation
// from the dispatch work lists so no stage touches them again.
func (st *runState) dropLocallyResolved(seen map[string]bool) {
	filter := func(recs []*domain.Record) []*domain.Record {
		out := recs[:0]
		for _, r := range recs {
			if !seen[r.RecordID] {
				out = append(out, r)
			}
		}
		return out
	}
	st.headerCreates = filter(st.headerCreates)
	st.lineCreates = filter(st.lineCreates)
	st.updates = filter(st.updates)
	st.cancelLines = filter(st.cancelLines)
}

func (st *runState) recordByID(recordID string) *domain.Record {
	if rec, ok := st.headersByID[recordID]; ok {
		return rec
	}
	return st.lineByID(recordID)
}

func (st *runState) lineByID(recordID string) *domain.Record {
	return st.linesByID[recordID]
}

// failRun marks the run as a summary-level failure and returns it. The
// summary carries the fatal error explicitly so a dead run never reads as a
// clean zero-failure one.
func (e *SyncEngine) failRun(ctx context.Context, run *domain.SyncRun, start time.Time, err error) (*domain.SyncSummary, error) {
	e.logger.Error("sync run failed", "run_id", run.ID, "scope_id", run.ScopeID, "error", err)

	summary := &domain.SyncSummary{
		ScopeID:   run.ScopeID,
		ElapsedMs: time.Since(start).Milliseconds(),
		Error:     err.Error(),
	}
	summary.Finalize(e.thresholds)

	run.Fail(err.Error())
	run.Summary = summary
	if saveErr := e.runStore.Save(ctx, run); saveErr != nil {
		e.logger.Warn("failed to persist failed run", "run_id", run.ID, "error", saveErr)
	}
	e.report(ctx, run)

	return summary, err
}

func (e *SyncEngine) report(ctx context.Context, run *domain.SyncRun) {
	if e.reports == nil {
		return
	}
	if err := e.reports.WriteSummary(ctx, run); err != nil {
		e.logger.Warn("report writer failed", "run_id", run.ID, "error", err)
	}
}

func itemSpecs(recs []*domain.Record) []driven.ItemSpec {
	specs := make([]driven.ItemSpec, 0, len(recs))
	for _, rec := range recs {
		specs = append(specs, driven.ItemSpec{
			RecordID: rec.RecordID,
			Name:     rec.RecordID,
			Fields:   rec.Payload,
		})
	}
	return specs
}

func itemUpdates(recs []*domain.Record) []driven.ItemUpdate {
	updates := make([]driven.ItemUpdate, 0, len(recs))
	for _, rec := range recs {
		updates = append(updates, driven.ItemUpdate{
			RecordID:     rec.RecordID,
			RemoteItemID: rec.RemoteItemID,
			Fields:       rec.Payload,
		})
	}
	return updates
}
