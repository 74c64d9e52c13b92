// Package reconcile converges job status updates from both reconciliation
// feeds, inbound webhook callbacks and the internal polling scheduler, into
// the canonical Job record. Every write goes through one Apply entry point
// that serializes updates per job id and enforces the record's invariants:
// idempotent re-application, monotonic status progression, and atomic field
// updates.
package reconcile

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/gilco1973/videobroker/internal/job"
	"github.com/gilco1973/videobroker/internal/provider"
)

// lockStripes is the number of mutexes updates are striped over. Two
// updates for the same job id always hit the same stripe.
const lockStripes = 64

// canonicalStatus maps the provider status vocabulary to the job's.
func canonicalStatus(s provider.Status) job.Status {
	switch s {
	case provider.StatusQueued:
		return job.StatusQueued
	case provider.StatusProcessing:
		return job.StatusProcessing
	case provider.StatusCompleted:
		return job.StatusCompleted
	case provider.StatusFailed:
		return job.StatusFailed
	default:
		return job.StatusProcessing
	}
}

// Reconciler is the single writer for job records. Both the webhook
// processor and the polling scheduler apply their observations through it.
type Reconciler struct {
	store  job.Store
	hub    *Hub
	logger *slog.Logger

	locks [lockStripes]sync.Mutex

	// onComplete is invoked asynchronously after a job reaches completed.
	onComplete func(job.Job)
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithOnComplete registers a hook called once per job when it completes
// successfully. Runs on its own goroutine so it cannot block updates.
func WithOnComplete(fn func(job.Job)) ReconcilerOption {
	return func(r *Reconciler) {
		r.onComplete = fn
	}
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler creates a reconciler over the given store. A nil hub
// disables event publication.
func NewReconciler(store job.Store, hub *Hub, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:  store,
		hub:    hub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lockFor returns the stripe mutex for a job id.
func (r *Reconciler) lockFor(jobID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return &r.locks[h.Sum32()%lockStripes]
}

// Apply records one status observation for a job. It is the only write path
// for job state after dispatch. Re-applying an identical observation is a
// no-op; an observation older than the current state is dropped; a terminal
// record is never modified. All fields of an accepted observation are
// persisted in one Save, so readers never see a partial update.
//
// The updated record is returned regardless of whether the observation was
// applied, so callers can inspect the current state.
func (r *Reconciler) Apply(ctx context.Context, jobID string, u provider.StatusUpdate) (*job.Job, error) {
	mu := r.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load %s: %w", jobID, err)
	}

	if j.IsTerminal() {
		return j, nil
	}

	next := canonicalStatus(u.Status)
	if next.Rank() < j.Status.Rank() {
		// Stale observation, e.g. a poll result racing a webhook that
		// already advanced the job.
		return j, nil
	}

	changed := false
	if next != j.Status {
		if err := j.TransitionTo(next); err != nil {
			return j, fmt.Errorf("reconcile: %s -> %s for %s: %w", j.Status, next, jobID, err)
		}
		changed = true
	}

	progress := u.Progress
	if next == job.StatusCompleted {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
		changed = true
	}
	if u.ResultURL != "" && u.ResultURL != j.ResultURL {
		j.ResultURL = u.ResultURL
		changed = true
	}
	if u.ThumbnailURL != "" && u.ThumbnailURL != j.ThumbnailURL {
		j.ThumbnailURL = u.ThumbnailURL
		changed = true
	}
	if next == job.StatusFailed && u.Err != "" && u.Err != j.Error {
		j.Error = u.Err
		changed = true
	}

	if !changed {
		return j, nil
	}

	if err := r.store.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("reconcile: save %s: %w", jobID, err)
	}

	r.logger.Debug("job updated",
		slog.String("job_id", jobID),
		slog.String("status", string(j.Status)),
		slog.Int("progress", j.Progress),
	)

	if r.hub != nil {
		r.hub.Publish(j)
	}
	if j.Status == job.StatusCompleted && r.onComplete != nil {
		go r.onComplete(*j.Clone())
	}

	return j, nil
}

// Fail marks a job failed with the given reason. Used by the polling
// scheduler when a job exhausts its poll budget or hits a non-retryable
// status-check failure. A no-op if the job is already terminal.
func (r *Reconciler) Fail(ctx context.Context, jobID, reason string) (*job.Job, error) {
	return r.Apply(ctx, jobID, provider.StatusUpdate{
		Status: provider.StatusFailed,
		Err:    reason,
	})
}

// Cancel marks a job cancelled on caller request. Terminal records are left
// untouched and returned as-is, so a cancel racing a completion webhook is
// safe in either order.
func (r *Reconciler) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	mu := r.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load %s: %w", jobID, err)
	}
	if j.IsTerminal() {
		return j, nil
	}

	if err := j.TransitionTo(job.StatusCancelled); err != nil {
		return j, fmt.Errorf("reconcile: cancel %s: %w", jobID, err)
	}
	if err := r.store.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("reconcile: save %s: %w", jobID, err)
	}

	r.logger.Info("job cancelled", slog.String("job_id", jobID))
	if r.hub != nil {
		r.hub.Publish(j)
	}
	return j, nil
}
