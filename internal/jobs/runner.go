package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/metadata"
	"github.com/imagevault/pipeline/internal/metrics"
	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
	"github.com/imagevault/pipeline/internal/store"
	"github.com/imagevault/pipeline/pkg/pipeline"
)

type inflightKey struct {
	recordID string
	kind     string
}

// recordLock serializes the merge-persist step across the jobs running on
// one record. refs counts the in-flight jobs holding it; the entry is
// dropped when the last one finishes.
type recordLock struct {
	mu   sync.Mutex
	refs int
}

// runRetention is how long a finished run stays queryable. Older finished
// runs are pruned on the next dispatch so the ledger stays bounded.
const runRetention = time.Hour

// Runner dispatches registered jobs. It enforces at most one in-flight job
// per (record, kind): a second dispatch while one runs is rejected with
// ErrConflict, never queued. Re-running a completed kind is allowed and
// overwrites the previous result.
type Runner struct {
	mu       sync.Mutex
	jobs     map[string]Job
	inflight map[inflightKey]struct{}
	runs     map[string]*pipeline.RunStatus
	locks    map[string]*recordLock

	store   store.RecordStore
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	// onSuccess is invoked after a job's merge persists, so list views can
	// invalidate and refetch.
	onSuccess func(recordID string)
}

// NewRunner creates a runner over the record store. timeout bounds each job
// execution end to end.
func NewRunner(recordStore store.RecordStore, timeout time.Duration, log *zap.Logger) *Runner {
	return &Runner{
		jobs:     make(map[string]Job),
		inflight: make(map[inflightKey]struct{}),
		runs:     make(map[string]*pipeline.RunStatus),
		locks:    make(map[string]*recordLock),
		store:    recordStore,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the runner's clock. Test hook.
func (r *Runner) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register registers a job kind.
func (r *Runner) Register(job Job) {
	r.jobs[job.Kind()] = job
}

// OnSuccess sets the hook invoked after a successful merge.
func (r *Runner) OnSuccess(fn func(recordID string)) {
	r.onSuccess = fn
}

// Dispatch starts the job kind for the record and returns a run ID without
// waiting for completion. The job runs on its own context: it outlives the
// triggering request.
func (r *Runner) Dispatch(ctx context.Context, recordID, kind string) (string, error) {
	job, ok := r.jobs[kind]
	if !ok {
		return "", fmt.Errorf("job %q: %w", kind, ipipeline.ErrUnknownJob)
	}

	key := inflightKey{recordID: recordID, kind: kind}

	r.mu.Lock()
	if _, running := r.inflight[key]; running {
		r.mu.Unlock()
		return "", fmt.Errorf("%s on record %s: %w", kind, recordID, ipipeline.ErrConflict)
	}
	r.inflight[key] = struct{}{}

	rl, ok := r.locks[recordID]
	if !ok {
		rl = &recordLock{}
		r.locks[recordID] = rl
	}
	rl.refs++

	r.pruneRunsLocked()
	runID := uuid.New().String()
	r.runs[runID] = &pipeline.RunStatus{
		RunID:     runID,
		RecordID:  recordID,
		Job:       kind,
		State:     pipeline.RunPending,
		StartedAt: r.now().UTC(),
	}
	r.mu.Unlock()

	r.log.Info("job dispatched",
		zap.String("run_id", runID),
		zap.String("record_id", recordID),
		zap.String("kind", kind))

	go r.execute(runID, key, job, rl)

	return runID, nil
}

// pruneRunsLocked drops finished runs older than the retention window.
// Caller holds r.mu.
func (r *Runner) pruneRunsLocked() {
	cutoff := r.now().UTC().Add(-runRetention)
	for id, st := range r.runs {
		if st.FinishedAt != nil && st.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
		}
	}
}

// Status returns the state of a dispatched run.
func (r *Runner) Status(runID string) (pipeline.RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return pipeline.RunStatus{}, fmt.Errorf("run %s: %w", runID, ipipeline.ErrNotFound)
	}
	return *st, nil
}

func (r *Runner) execute(runID string, key inflightKey, job Job, rl *recordLock) {
	defer func() {
		r.mu.Lock()
		delete(r.inflight, key)
		rl.refs--
		if rl.refs == 0 {
			delete(r.locks, key.recordID)
		}
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.setState(runID, pipeline.RunRunning, nil)
	started := time.Now()

	err := r.run(ctx, key, job, rl)

	metrics.JobDuration.WithLabelValues(key.kind).Observe(time.Since(started).Seconds())
	if err != nil {
		enrichErr := &ipipeline.EnrichmentError{Kind: key.kind, RecordID: key.recordID, Cause: err}
		metrics.JobsTotal.WithLabelValues(key.kind, "failed").Inc()
		r.log.Error("job failed",
			zap.String("run_id", runID),
			zap.String("record_id", key.recordID),
			zap.String("kind", key.kind),
			zap.Error(enrichErr))
		r.setState(runID, pipeline.RunFailed, enrichErr)
		return
	}

	metrics.JobsTotal.WithLabelValues(key.kind, "succeeded").Inc()
	r.log.Info("job succeeded",
		zap.String("run_id", runID),
		zap.String("record_id", key.recordID),
		zap.String("kind", key.kind))
	r.setState(runID, pipeline.RunSucceeded, nil)

	if r.onSuccess != nil {
		r.onSuccess(key.recordID)
	}
}

func (r *Runner) run(ctx context.Context, key inflightKey, job Job, rl *recordLock) error {
	rec, err := r.store.Get(ctx, key.recordID)
	if err != nil {
		return err
	}

	patch, err := job.Run(ctx, rec)
	if err != nil {
		return err
	}

	// The read-merge-write below runs under the record's lock so two kinds
	// finishing together cannot both merge over the same pre-merge bag; the
	// patch only carries fields this kind owns.
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, err = r.store.Get(ctx, key.recordID)
	if err != nil {
		return err
	}
	merged, err := metadata.Merge(rec.Metadata, patch)
	if err != nil {
		return err
	}
	if _, err := r.store.UpdateMetadata(ctx, key.recordID, merged); err != nil {
		return err
	}
	return nil
}

func (r *Runner) setState(runID, state string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return
	}
	st.State = state
	if state == pipeline.RunSucceeded || state == pipeline.RunFailed {
		now := r.now().UTC()
		st.FinishedAt = &now
	}
	if cause != nil {
		st.Error = cause.Error()
	}
}
