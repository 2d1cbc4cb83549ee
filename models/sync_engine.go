package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Engine
//
// The engine drains the local mutation queue against the remote service.
// It runs as a background goroutine woken by triggers (enqueue, timer,
// network restored, app resume, manual, conflict resolution, retry) and
// executes one pass at a time:
//
//   Idle -> SelectingBatch -> Dispatching -> Settling -> Idle
//
// Design decisions:
//   - Single goroutine + TryLock: the timer and every other trigger funnel
//     into runPass protected by passMu. A trigger landing mid-pass sets
//     runAgain, and a burst of triggers collapses into at most one
//     follow-up pass.
//   - Per-record failures never abort a pass; only local storage going
//     unavailable does. One unreachable record must not block the rest of
//     the queue.
//   - Package-level singleton follows the existing var db pattern.
// ============================================================================

// TriggerKind identifies what woke the engine.
type TriggerKind int

const (
	TriggerEnqueue TriggerKind = iota + 1
	TriggerTimer
	TriggerNetworkRestored
	TriggerAppResume
	TriggerManual
	TriggerResolution
	TriggerRetry
)

func (t TriggerKind) String() string {
	switch t {
	case TriggerEnqueue:
		return "enqueue"
	case TriggerTimer:
		return "timer"
	case TriggerNetworkRestored:
		return "network_restored"
	case TriggerAppResume:
		return "app_resume"
	case TriggerManual:
		return "manual"
	case TriggerResolution:
		return "resolution"
	case TriggerRetry:
		return "retry"
	}
	return "unknown"
}

// PassState is where the engine currently is inside a pass.
type PassState int32

const (
	PassIdle PassState = iota
	PassSelectingBatch
	PassDispatching
	PassSettling
)

func (s PassState) String() string {
	switch s {
	case PassIdle:
		return "idle"
	case PassSelectingBatch:
		return "selecting_batch"
	case PassDispatching:
		return "dispatching"
	case PassSettling:
		return "settling"
	}
	return "unknown"
}

// syncEngineInstance is the package-level singleton for the sync engine.
var syncEngineInstance *SyncEngine

// SyncEngineOptions carries the engine's collaborators. Queue and Remote
// are required; the rest are optional.
type SyncEngineOptions struct {
	Queue        *QueueStore
	Remote       RemoteService
	Throttle     *DeviceThrottle
	Reachability *ReachabilityMonitor

	// OnApplied is invoked after a mutation settles: the record reached the
	// remote (remote carries the acknowledged state, nil for deletes) or a
	// resolution accepted the remote state outright. Used to refresh the
	// local entity cache's sync base.
	OnApplied func(rec *MutationRecord, remote *RemoteRecord)
}

// SyncEngine coordinates queue draining against the remote service.
type SyncEngine struct {
	config    *SyncConfig
	queue     *QueueStore
	remote    RemoteService
	verifier  *IntegrityVerifier
	throttle  *DeviceThrottle
	reach     *ReachabilityMonitor
	backoff   BackoffPolicy
	onApplied func(rec *MutationRecord, remote *RemoteRecord)

	enabled    atomic.Bool
	passMu     sync.Mutex  // Serializes passes; TryLock skips when one is running
	inProgress atomic.Bool // True while a pass is running
	runAgain   atomic.Bool // Set when a trigger lands mid-pass
	passState  atomic.Int32
	triggerCh  chan TriggerKind
	cancelFunc context.CancelFunc
	totalPass  atomic.Int64

	statusMu      sync.Mutex
	lastTrigger   TriggerKind
	lastPassStart time.Time
	lastPassEnd   time.Time
	lastError     error
}

// QueueStatus summarizes the queue for UI display. Failed counts only
// records still inside the retry budget; DeadLettered counts those at or
// past the ceiling, which stay visible but are never retried automatically.
type QueueStatus struct {
	Pending      int        `json:"pending"`
	InFlight     int        `json:"in_flight"`
	Failed       int        `json:"failed"`
	Conflicted   int        `json:"conflicted"`
	DeadLettered int        `json:"dead_lettered"`
	Total        int        `json:"total"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// SyncStatus exposes engine state to the UI without leaking internals.
type SyncStatus struct {
	Enabled       bool        `json:"enabled"`
	Connected     bool        `json:"connected"`
	InProgress    bool        `json:"in_progress"`
	PassState     string      `json:"pass_state"`
	LastTrigger   string      `json:"last_trigger,omitempty"`
	LastPassStart *time.Time  `json:"last_pass_start,omitempty"`
	LastPassEnd   *time.Time  `json:"last_pass_end,omitempty"`
	TotalPasses   int64       `json:"total_passes"`
	Queue         QueueStatus `json:"queue"`
	Checksum      string      `json:"checksum"`
}

// NewSyncEngine wires up an engine. The reachability monitor, when present,
// drives the network-restored trigger.
func NewSyncEngine(config *SyncConfig, opts SyncEngineOptions) (*SyncEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, serr.Wrap(err, "invalid sync config")
	}
	if opts.Queue == nil {
		return nil, serr.New("sync engine requires a queue store")
	}
	if opts.Remote == nil {
		return nil, serr.New("sync engine requires a remote service")
	}

	e := &SyncEngine{
		config:    config,
		queue:     opts.Queue,
		remote:    opts.Remote,
		verifier:  NewIntegrityVerifier(opts.Remote),
		throttle:  opts.Throttle,
		reach:     opts.Reachability,
		backoff:   config.BackoffPolicy(),
		onApplied: opts.OnApplied,
		triggerCh: make(chan TriggerKind, 1),
	}
	e.enabled.Store(config.Enabled)

	if e.reach != nil {
		e.reach.OnChange(func(online bool) {
			if online {
				e.Trigger(TriggerNetworkRestored)
			}
		})
	}

	syncEngineInstance = e
	return e, nil
}

// GetSyncEngine returns the package-level engine instance.
// Returns nil if the engine is not configured, so callers must nil-check.
func GetSyncEngine() *SyncEngine {
	return syncEngineInstance
}

// ResetSyncEngine clears the singleton. Intended for tests only, to isolate
// engine state between test cases.
func ResetSyncEngine() {
	syncEngineInstance = nil
}

// Start launches the background pass loop.
func (e *SyncEngine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	go e.runLoop(ctx)
	logger.Info("Sync engine started",
		"interval", e.config.Interval.String(),
		"batch_size", e.config.BatchSize,
		"retry_ceiling", e.config.RetryCeiling,
	)
}

// Stop shuts the engine down. A pass already dispatching finishes its
// current record and then observes the cancelled context.
func (e *SyncEngine) Stop() {
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	logger.Info("Sync engine stopped")
}

// SetEnabled toggles the engine at runtime. Enabling kicks a pass so work
// parked while disabled starts draining immediately.
func (e *SyncEngine) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
	logger.Info("Sync engine toggled", "enabled", enabled)
	if enabled {
		e.Trigger(TriggerManual)
	}
}

// IsEnabled returns whether the engine is currently active.
func (e *SyncEngine) IsEnabled() bool {
	return e.enabled.Load()
}

// ============================================================================
// Triggers
// ============================================================================

// Trigger wakes the engine. Triggers arriving while a pass runs coalesce
// into a single follow-up pass; triggers while disabled are dropped.
func (e *SyncEngine) Trigger(t TriggerKind) {
	if !e.enabled.Load() {
		logger.Debug("Trigger ignored while disabled", "trigger", t.String())
		return
	}

	e.statusMu.Lock()
	e.lastTrigger = t
	e.statusMu.Unlock()

	if e.inProgress.Load() {
		e.runAgain.Store(true)
		return
	}

	select {
	case e.triggerCh <- t:
	default:
		// A wake-up is already queued; this trigger rides along with it.
	}
}

// NotifyAppResume signals that the app returned to the foreground.
func (e *SyncEngine) NotifyAppResume() {
	e.Trigger(TriggerAppResume)
}

// SetConnectivity feeds a platform connectivity event into the reachability
// monitor, whose transition callback fires the network-restored trigger.
func (e *SyncEngine) SetConnectivity(online bool) {
	if e.reach != nil {
		e.reach.SetOnline(online)
	}
}

// SyncNow runs a pass synchronously so the caller knows when it completes.
func (e *SyncEngine) SyncNow() error {
	if !e.enabled.Load() {
		return serr.New("sync is disabled")
	}
	if e.inProgress.Load() {
		e.runAgain.Store(true)
		return serr.New("sync already in progress")
	}
	return e.runPass(context.Background(), TriggerManual)
}

// runLoop is the background goroutine behind Start. The interval timer is
// just another trigger source; all wake-ups funnel through triggerCh.
func (e *SyncEngine) runLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Trigger(TriggerTimer)
		case t := <-e.triggerCh:
			if err := e.runPass(ctx, t); err != nil {
				logger.LogErr(err, "sync pass failed", "trigger", t.String())
			}
			// Triggers that landed mid-pass collapse into one more pass.
			for e.runAgain.Swap(false) {
				// A SyncNow caller may hold the pass lock; wait for that
				// pass to end instead of spinning on TryLock failures.
				e.passMu.Lock()
				e.passMu.Unlock()
				if ctx.Err() != nil {
					return
				}
				if err := e.runPass(ctx, TriggerManual); err != nil {
					logger.LogErr(err, "follow-up sync pass failed")
				}
			}
		}
	}
}

// ============================================================================
// Pass Execution
// ============================================================================

// runPass executes one full pass: select a batch, dispatch each record,
// settle. Protected by passMu so concurrent triggers cannot interleave.
func (e *SyncEngine) runPass(ctx context.Context, trigger TriggerKind) error {
	if !e.passMu.TryLock() {
		e.runAgain.Store(true)
		return nil
	}
	defer e.passMu.Unlock()

	if !e.enabled.Load() {
		return nil
	}
	if !e.isOnline() {
		logger.Debug("Sync pass skipped while offline", "trigger", trigger.String())
		return nil
	}

	e.inProgress.Store(true)
	defer e.inProgress.Store(false)
	defer e.setPassState(PassIdle)

	e.totalPass.Add(1)
	e.statusMu.Lock()
	e.lastPassStart = time.Now()
	e.statusMu.Unlock()
	defer func() {
		e.statusMu.Lock()
		e.lastPassEnd = time.Now()
		e.statusMu.Unlock()
	}()

	e.setPassState(PassSelectingBatch)
	batch := e.selectBatch(time.Now())
	if len(batch) == 0 {
		return nil
	}

	e.setPassState(PassDispatching)
	reduced := e.throttle != nil && e.throttle.ShouldReduceLoad()
	applied := 0

	for i, rec := range batch {
		if ctx.Err() != nil {
			return serr.Wrap(ctx.Err(), "sync pass interrupted")
		}

		err := e.dispatchOne(ctx, rec)
		switch {
		case err == nil:
			applied++
		case ErrorKind(err) == ErrKindStorage:
			// Local storage going away invalidates every further step;
			// anything else is a per-record outcome and the pass moves on.
			e.setLastError(err)
			return serr.Wrap(err, "sync pass aborted, local storage unavailable")
		default:
			logger.LogErr(err, "record dispatch failed",
				"mutation_id", rec.ID,
				"entity", rec.EntityKey(),
				"error_kind", ErrorKind(err).String(),
			)
		}

		// Under device pressure, space records out instead of bursting.
		if reduced && i < len(batch)-1 {
			select {
			case <-ctx.Done():
				return serr.Wrap(ctx.Err(), "sync pass interrupted")
			case <-time.After(e.config.SettleDelay):
			}
		}
	}

	e.setPassState(PassSettling)
	if applied > 0 {
		e.setLastError(nil)
		if db != nil && e.config.RemoteURL != "" {
			if err := UpdateRemotePassTime(e.config.RemoteURL); err != nil {
				logger.LogErr(err, "failed to persist pass time")
			}
		}
	}

	logger.Info("Sync pass completed",
		"trigger", trigger.String(),
		"batch", len(batch),
		"applied", applied,
		"remaining", e.queue.Len(),
	)
	return nil
}

// selectBatch picks the records to dispatch this pass.
//
// Only the earliest queued record per entity is a candidate; anything
// behind it waits, whatever its status, so per-entity order always holds.
// Candidates must be Pending, or Failed with retry budget left and their
// backoff elapsed, and every dependency must have left the queue. The
// survivors order by priority (higher first) then enqueue time, truncated
// to the throttle's batch size.
func (e *SyncEngine) selectBatch(now time.Time) []*MutationRecord {
	records := e.queue.List(nil) // Sorted by enqueue time, then id
	queued := make(map[string]bool, len(records))
	for _, r := range records {
		queued[r.ID] = true
	}

	entityTaken := make(map[string]bool)
	var batch []*MutationRecord

	for _, rec := range records {
		key := rec.EntityKey()
		if entityTaken[key] {
			continue
		}
		entityTaken[key] = true // Later same-entity records wait behind this one

		switch rec.Status {
		case StatusPending:
		case StatusFailed:
			if rec.RetryCount >= e.config.RetryCeiling {
				continue // Dead-lettered; only an explicit retry revives it
			}
			if now.Before(rec.NextEligibleAt) {
				continue // Still backing off
			}
		default:
			continue // InFlight or Conflicted
		}

		if !dependenciesSatisfied(rec, queued) {
			continue
		}

		batch = append(batch, rec)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Priority != batch[j].Priority {
			return batch[i].Priority > batch[j].Priority
		}
		if !batch[i].EnqueuedAt.Equal(batch[j].EnqueuedAt) {
			return batch[i].EnqueuedAt.Before(batch[j].EnqueuedAt)
		}
		return batch[i].ID < batch[j].ID
	})

	size := e.batchSize()
	if len(batch) > size {
		batch = batch[:size]
	}
	return batch
}

// dependenciesSatisfied reports whether every dependency has left the
// queue. A dependency id no longer present means that mutation completed
// and was removed; one still present, whatever its status, blocks.
func dependenciesSatisfied(rec *MutationRecord, queued map[string]bool) bool {
	for _, dep := range rec.Dependencies {
		if queued[dep] {
			return false
		}
	}
	return true
}

func (e *SyncEngine) batchSize() int {
	if e.throttle != nil {
		return e.throttle.BatchSize()
	}
	return e.config.BatchSize
}

// ============================================================================
// Record Dispatch
// ============================================================================

// dispatchOne pushes a single record through the remote call, conflict
// detection, and post-write verification. The returned error describes the
// record's outcome; only storage errors make the caller abort the pass.
func (e *SyncEngine) dispatchOne(ctx context.Context, rec *MutationRecord) error {
	if err := e.queue.MarkInFlight(rec.ID); err != nil {
		return err
	}

	itemCtx, cancel := context.WithTimeout(ctx, e.config.ItemTimeout)
	defer cancel()

	// Re-check dependencies right before the wire call; the queue may have
	// changed since selection.
	if blocked := e.blockedDependency(rec); blocked != "" {
		if err := e.requeuePending(rec.ID); err != nil {
			return err
		}
		return NewSyncError(ErrKindDependency, "dependency "+blocked+" still queued for "+rec.ID)
	}

	remoteRec, err := e.callRemote(itemCtx, rec)

	switch {
	case err == nil:
		return e.verifyAndFinish(itemCtx, rec, remoteRec)

	case err == ErrRemoteConflict:
		return e.handleRemoteConflict(itemCtx, rec)

	case err == ErrRemoteAbsent:
		if rec.Action == ActionDelete {
			// Already gone; the intended end state holds.
			return e.verifyAndFinish(itemCtx, rec, nil)
		}
		// Update aimed at an entity the remote no longer has.
		return e.markConflicted(rec, &ConflictInfo{
			LocalPayload: rec.Payload.Clone(),
			Fields:       rec.Payload.FieldNames(),
			DetectedAt:   time.Now(),
		})

	default:
		return e.recordFailure(rec.ID, err)
	}
}

// callRemote performs the wire call for a record's action.
func (e *SyncEngine) callRemote(ctx context.Context, rec *MutationRecord) (*RemoteRecord, error) {
	switch rec.Action {
	case ActionCreate:
		return e.remote.Create(ctx, rec.EntityKind, rec.EntityID, rec.Payload)
	case ActionUpdate:
		return e.remote.Update(ctx, rec.EntityKind, rec.EntityID, rec.Payload, rec.BaseVersion)
	case ActionDelete:
		return nil, e.remote.Delete(ctx, rec.EntityKind, rec.EntityID, rec.BaseVersion)
	}
	return nil, serr.New("record has unknown action: " + rec.ID)
}

// handleRemoteConflict fetches the remote's current state and decides
// whether the rejection is a real conflict, an already-applied retry, or a
// stale base that can be refreshed and retried inline.
func (e *SyncEngine) handleRemoteConflict(ctx context.Context, rec *MutationRecord) error {
	current, err := e.remote.Fetch(ctx, rec.EntityKind, rec.EntityID)
	switch {
	case err == ErrRemoteAbsent:
		current = nil
	case err != nil:
		return e.recordFailure(rec.ID, serr.Wrap(err, "conflict inspection fetch failed"))
	}

	// A retry of a write whose ack got lost: the remote already holds what
	// this record wants. Settle it instead of reporting a conflict.
	if current != nil && rec.Action != ActionDelete && PayloadApplied(rec.Payload, current.Payload) {
		return e.verifyAndFinish(ctx, rec, current)
	}
	if current == nil && rec.Action == ActionDelete {
		return e.verifyAndFinish(ctx, rec, nil)
	}

	conflict := DetectConflict(rec, current)
	if conflict == nil {
		// The remote moved, but not on any field this record touches.
		// Refresh the base to the current remote state and retry once.
		return e.retryWithRefreshedBase(ctx, rec, current)
	}

	return e.markConflicted(rec, conflict)
}

// retryWithRefreshedBase advances a record's base to the remote's current
// state and replays the call. Only real local edits replay: a field the
// payload carries at its old base value was never touched locally, so it is
// dropped and whatever the remote did to it since stands. A second rejection
// falls back to the normal failure path rather than looping.
func (e *SyncEngine) retryWithRefreshedBase(ctx context.Context, rec *MutationRecord, current *RemoteRecord) error {
	var basePayload Payload
	var baseVersion int64
	if current != nil {
		basePayload = current.Payload.Clone()
		baseVersion = current.Version
	}

	payload := rec.Payload
	if rec.Action == ActionUpdate {
		payload = localEdits(rec.Payload, rec.BasePayload)
		if len(payload) == 0 {
			// Every field rode along at its base value. Nothing local
			// survives the refresh, so the fetched remote state is already
			// the settled outcome and there is nothing to write.
			return e.finish(rec, current)
		}
	}

	err := e.queue.Update(rec.ID, func(r *MutationRecord) {
		r.Payload = payload
		r.BasePayload = basePayload
		r.BaseVersion = baseVersion
	})
	if err != nil {
		return err
	}
	rec.Payload = payload
	rec.BasePayload = basePayload
	rec.BaseVersion = baseVersion

	logger.Debug("Retrying with refreshed base",
		"mutation_id", rec.ID, "base_version", baseVersion)

	remoteRec, err := e.callRemote(ctx, rec)
	if err != nil {
		return e.recordFailure(rec.ID, serr.Wrap(err, "retry after base refresh failed"))
	}
	return e.verifyAndFinish(ctx, rec, remoteRec)
}

// verifyAndFinish confirms the write actually landed, then settles the
// record.
func (e *SyncEngine) verifyAndFinish(ctx context.Context, rec *MutationRecord, remoteRec *RemoteRecord) error {
	ok, err := e.verifier.Verify(ctx, rec)
	if err != nil {
		return e.recordFailure(rec.ID, serr.Wrap(err, "verification fetch failed"))
	}
	if !ok {
		return e.recordFailure(rec.ID, NewSyncError(ErrKindVerification, VerificationFailedDiagnostic))
	}
	return e.finish(rec, remoteRec)
}

// finish removes a settled record, advances the bases of anything still
// queued behind it, and reports the settled state to the entity cache.
func (e *SyncEngine) finish(rec *MutationRecord, remoteRec *RemoteRecord) error {
	if err := e.queue.Remove(rec.ID); err != nil {
		return err
	}
	e.refreshQueuedBases(rec.EntityKey(), remoteRec)

	if e.onApplied != nil {
		e.onApplied(rec, remoteRec)
	}

	logger.Debug("Mutation applied",
		"mutation_id", rec.ID,
		"action", rec.Action.String(),
		"entity", rec.EntityKey(),
	)
	return nil
}

// refreshQueuedBases advances the base of records still queued for the same
// entity to the just-settled remote state. A chain of edits enqueued offline
// would otherwise cite a base predating its own earlier writes and trip the
// remote's version check. Conflicted records keep their snapshot; a nil
// remote (the entity was deleted) resets successors to never-seen.
func (e *SyncEngine) refreshQueuedBases(key string, remoteRec *RemoteRecord) {
	var basePayload Payload
	var baseVersion int64
	if remoteRec != nil {
		basePayload = remoteRec.Payload
		baseVersion = remoteRec.Version
	}

	for _, r := range e.queue.List(nil) {
		if r.EntityKey() != key || r.Status == StatusConflicted {
			continue
		}
		err := e.queue.Update(r.ID, func(qr *MutationRecord) {
			qr.BasePayload = basePayload.Clone()
			qr.BaseVersion = baseVersion
		})
		if err != nil {
			logger.LogErr(err, "failed to refresh queued base", "mutation_id", r.ID)
		}
	}
}

// recordFailure books a failed attempt: bump the retry count, schedule the
// next attempt with exponential backoff, and dead-letter at the ceiling.
// The returned error carries the failure for the pass log.
func (e *SyncEngine) recordFailure(id string, cause error) error {
	var deadLettered bool
	var retryCount int

	err := e.queue.Update(id, func(r *MutationRecord) {
		// Backoff scales with attempts already burned, so the first
		// failure waits the base delay.
		r.NextEligibleAt = e.backoff.NextEligibleAt(time.Now(), r.RetryCount)
		r.RetryCount++
		r.Status = StatusFailed
		r.LastError = cause.Error()
		retryCount = r.RetryCount
		deadLettered = r.RetryCount >= e.config.RetryCeiling
	})
	if err != nil {
		return err
	}

	e.setLastError(cause)

	if deadLettered {
		logger.Info("Record dead-lettered after exhausting retries",
			"mutation_id", id, "retry_count", retryCount)
		return WrapSyncError(ErrKindDeadLetter, cause, "record dead-lettered")
	}
	return cause
}

// requeuePending returns an in-flight record to Pending untouched.
func (e *SyncEngine) requeuePending(id string) error {
	return e.queue.Update(id, func(r *MutationRecord) {
		r.Status = StatusPending
	})
}

// markConflicted parks a record for user resolution and writes the audit row.
func (e *SyncEngine) markConflicted(rec *MutationRecord, conflict *ConflictInfo) error {
	conflict.FieldDiffs = renderFieldDiffs(conflict.LocalPayload, conflict.RemotePayload, conflict.Fields)

	err := e.queue.Update(rec.ID, func(r *MutationRecord) {
		r.Status = StatusConflicted
		r.Conflict = conflict
		r.LastError = ""
	})
	if err != nil {
		return err
	}
	rec.Status = StatusConflicted
	rec.Conflict = conflict
	InsertConflictAudit(rec)

	logger.Info("Conflict detected, awaiting resolution",
		"mutation_id", rec.ID,
		"entity", rec.EntityKey(),
		"fields", strings.Join(conflict.Fields, ","),
	)
	return NewSyncError(ErrKindConflict, "conflict detected on "+rec.EntityKey())
}

func (e *SyncEngine) blockedDependency(rec *MutationRecord) string {
	for _, dep := range rec.Dependencies {
		if _, err := e.queue.Get(dep); err == nil {
			return dep
		}
	}
	return ""
}

// ============================================================================
// UI-Facing Operations
// ============================================================================

// EnqueueInput describes a mutation to queue. BasePayload and BaseVersion
// snapshot the last remote state the caller saw; zero values mean the
// entity is new to the remote.
type EnqueueInput struct {
	Action       MutationAction `json:"action"`
	EntityKind   string         `json:"entity_kind"`
	EntityID     string         `json:"entity_id"`
	Payload      Payload        `json:"payload,omitempty"`
	BasePayload  Payload        `json:"base_payload,omitempty"`
	BaseVersion  int64          `json:"base_version,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// Enqueue records a mutation locally and returns at once; the write is
// durable before any network is attempted. When the engine is enabled and
// the remote reachable, a pass kicks off immediately.
func (e *SyncEngine) Enqueue(input EnqueueInput) (*MutationRecord, error) {
	rec := NewMutationRecord(input.Action, input.EntityKind, input.EntityID,
		input.Payload, input.BasePayload, input.BaseVersion)
	rec.Priority = input.Priority
	rec.Dependencies = append([]string(nil), input.Dependencies...)

	if err := e.queue.Enqueue(rec); err != nil {
		return nil, err
	}

	logger.Debug("Mutation enqueued",
		"mutation_id", rec.ID,
		"action", rec.Action.String(),
		"entity", rec.EntityKey(),
	)

	if e.enabled.Load() && e.isOnline() {
		e.Trigger(TriggerEnqueue)
	}
	return rec.Clone(), nil
}

// GetRecord returns one queued record by id.
func (e *SyncEngine) GetRecord(id string) (*MutationRecord, error) {
	return e.queue.Get(id)
}

// ListQueue returns queued records, optionally filtered by status.
func (e *SyncEngine) ListQueue(status MutationStatus) []*MutationRecord {
	if status == 0 {
		return e.queue.List(nil)
	}
	return e.queue.List(func(r *MutationRecord) bool {
		return r.Status == status
	})
}

// ObserveQueueStatus summarizes the queue's current shape.
func (e *SyncEngine) ObserveQueueStatus() QueueStatus {
	var qs QueueStatus
	var nextRetry time.Time

	for _, rec := range e.queue.List(nil) {
		qs.Total++
		switch rec.Status {
		case StatusPending:
			qs.Pending++
		case StatusInFlight:
			qs.InFlight++
		case StatusConflicted:
			qs.Conflicted++
		case StatusFailed:
			if rec.RetryCount >= e.config.RetryCeiling {
				qs.DeadLettered++
				continue
			}
			qs.Failed++
			if nextRetry.IsZero() || rec.NextEligibleAt.Before(nextRetry) {
				nextRetry = rec.NextEligibleAt
			}
		}
	}

	if !nextRetry.IsZero() {
		qs.NextRetryAt = &nextRetry
	}
	e.statusMu.Lock()
	if e.lastError != nil {
		qs.LastError = e.lastError.Error()
	}
	e.statusMu.Unlock()
	return qs
}

// GetStatus returns the full engine status for UI display.
func (e *SyncEngine) GetStatus() *SyncStatus {
	status := &SyncStatus{
		Enabled:     e.enabled.Load(),
		Connected:   e.isOnline(),
		InProgress:  e.inProgress.Load(),
		PassState:   PassState(e.passState.Load()).String(),
		TotalPasses: e.totalPass.Load(),
		Queue:       e.ObserveQueueStatus(),
		Checksum:    e.queueChecksum(),
	}

	e.statusMu.Lock()
	if e.lastTrigger != 0 {
		status.LastTrigger = e.lastTrigger.String()
	}
	if !e.lastPassStart.IsZero() {
		t := e.lastPassStart
		status.LastPassStart = &t
	}
	if !e.lastPassEnd.IsZero() {
		t := e.lastPassEnd
		status.LastPassEnd = &t
	}
	e.statusMu.Unlock()
	return status
}

// ListConflicts returns every record waiting on a resolution.
func (e *SyncEngine) ListConflicts() []*MutationRecord {
	return e.queue.List(func(r *MutationRecord) bool {
		return r.Status == StatusConflicted
	})
}

// ResolveConflict applies a decision to a conflicted record. The conflicted
// record leaves the queue and, unless the decision abandons the local
// intent, a successor enters it and a pass kicks off.
func (e *SyncEngine) ResolveConflict(id string, decision ResolutionDecision) (*MutationRecord, error) {
	rec, err := e.queue.Get(id)
	if err != nil {
		return nil, err
	}

	successor, err := BuildResolution(rec, decision)
	if err != nil {
		return nil, err
	}

	if err := e.queue.Swap(id, successor); err != nil {
		return nil, err
	}

	successorID := ""
	if successor != nil {
		successorID = successor.ID
	}
	MarkConflictResolved(id, decision.Choice, successorID)

	logger.Info("Conflict resolved",
		"mutation_id", id,
		"choice", decision.Choice.String(),
		"successor_id", successorID,
	)

	if successor == nil {
		// The remote state stands as-is; reflect it locally right away.
		remote := remoteFromConflict(rec)
		e.refreshQueuedBases(rec.EntityKey(), remote)
		if e.onApplied != nil && rec.Conflict != nil {
			e.onApplied(rec, remote)
		}
		return nil, nil
	}

	if e.enabled.Load() && e.isOnline() {
		e.Trigger(TriggerResolution)
	}
	return successor.Clone(), nil
}

// remoteFromConflict rebuilds the remote's state from a conflict snapshot,
// for resolutions that accept it without another wire exchange.
func remoteFromConflict(rec *MutationRecord) *RemoteRecord {
	if rec.Conflict == nil || rec.Conflict.RemotePayload == nil {
		return nil
	}
	return &RemoteRecord{
		EntityKind: rec.EntityKind,
		EntityID:   rec.EntityID,
		Payload:    rec.Conflict.RemotePayload.Clone(),
		Version:    rec.Conflict.RemoteVersion,
	}
}

// RetryFailed returns every Failed record, dead-lettered ones included, to
// Pending with a fresh retry budget, then kicks a pass.
func (e *SyncEngine) RetryFailed() (int, error) {
	count, err := e.queue.ResetFailed()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logger.Info("Failed records reset for retry", "count", count)
		e.Trigger(TriggerRetry)
	}
	return count, nil
}

// ============================================================================
// Internal State Helpers
// ============================================================================

func (e *SyncEngine) isOnline() bool {
	return e.reach == nil || e.reach.IsOnline()
}

func (e *SyncEngine) setPassState(s PassState) {
	e.passState.Store(int32(s))
}

func (e *SyncEngine) setLastError(err error) {
	e.statusMu.Lock()
	e.lastError = err
	e.statusMu.Unlock()
}

// queueChecksum fingerprints the queue: ids and statuses, sorted, hashed.
// Two replicas draining the same queue state produce the same checksum.
func (e *SyncEngine) queueChecksum() string {
	records := e.queue.List(nil)
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, r.ID+":"+r.Status.String())
	}
	sort.Strings(lines)

	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h[:])
}
