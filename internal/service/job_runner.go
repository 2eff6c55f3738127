package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"affiliate-pipeline/internal/broker"
	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/store"
	"affiliate-pipeline/internal/util"

	"go.uber.org/zap"
)

// Job names
const (
	JobIngestProducts = "ingest-products"
	JobPriceMonitor   = "price-monitor"
	JobPriceAlerts    = "price-alerts"
	JobAffiliateLinks = "affiliate-links"
)

// ErrJobAlreadyRunning is returned when another invocation holds the job lease
var ErrJobAlreadyRunning = errors.New("job already running")

// Run defaults
const (
	DefaultMaxErrorDetails = 10
	DefaultLeaseTTL        = 15 * time.Minute
)

// JobLease provides per-job mutual exclusion with stale-lease recovery.
// ExtendLease reports false once token no longer owns the lease.
type JobLease interface {
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ExtendLease(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, token string) error
}

// OpsNotifier is told about failed and partially failed runs
type OpsNotifier interface {
	NotifyJobRun(ctx context.Context, result *JobResult) error
}

// JobResult is the aggregate outcome of one job invocation
type JobResult struct {
	JobName           string   `json:"-"`
	Status            string   `json:"status"`
	Message           string   `json:"message"`
	Processed         int      `json:"processed"`
	Updated           int      `json:"updated"`
	NotificationsSent int      `json:"notifications_sent"`
	Errors            int      `json:"errors"`
	ErrorDetails      []string `json:"error_details,omitempty"`
	DurationMS        int64    `json:"duration_ms"`
}

// JobRecorder collects per-item counters while a job runs
type JobRecorder struct {
	mu         sync.Mutex
	result     JobResult
	maxDetails int
}

func newJobRecorder(name string, maxDetails int) *JobRecorder {
	return &JobRecorder{result: JobResult{JobName: name}, maxDetails: maxDetails}
}

// Processed counts an examined item
func (r *JobRecorder) Processed() {
	r.mu.Lock()
	r.result.Processed++
	r.mu.Unlock()
}

// Updated counts a persisted change
func (r *JobRecorder) Updated() {
	r.mu.Lock()
	r.result.Updated++
	r.mu.Unlock()
}

// NotificationSent counts a queued notification
func (r *JobRecorder) NotificationSent() {
	r.mu.Lock()
	r.result.NotificationsSent++
	r.mu.Unlock()
}

// ItemError counts a failed item; only the first few messages are kept
func (r *JobRecorder) ItemError(item string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result.Errors++
	if len(r.result.ErrorDetails) < r.maxDetails {
		r.result.ErrorDetails = append(r.result.ErrorDetails, fmt.Sprintf("%s: %v", item, err))
	}
}

// SetMessage overrides the summary message
func (r *JobRecorder) SetMessage(msg string) {
	r.mu.Lock()
	r.result.Message = msg
	r.mu.Unlock()
}

// Snapshot returns a copy of the counters
func (r *JobRecorder) Snapshot() JobResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.result
	res.ErrorDetails = append([]string(nil), r.result.ErrorDetails...)
	return res
}

// JobFunc is the body of a job
type JobFunc func(ctx context.Context, rec *JobRecorder) error

// JobRunner wraps every job invocation with the lease, the run log, metrics,
// the completion event and ops notification
type JobRunner struct {
	store          *store.Store
	lease          JobLease
	eventPublisher *broker.EventPublisher
	ops            OpsNotifier
	leaseTTL       time.Duration
	maxDetails     int
	logger         *zap.Logger
}

// NewJobRunner creates a job runner; ops may be nil
func NewJobRunner(
	store *store.Store,
	lease JobLease,
	eventPublisher *broker.EventPublisher,
	ops OpsNotifier,
	leaseTTL time.Duration,
) *JobRunner {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &JobRunner{
		store:          store,
		lease:          lease,
		eventPublisher: eventPublisher,
		ops:            ops,
		leaseTTL:       leaseTTL,
		maxDetails:     DefaultMaxErrorDetails,
		logger:         util.GetLogger(),
	}
}

// Run executes fn under the job's lease and records exactly one log row.
// The returned error is ErrJobAlreadyRunning, or the job-level failure.
func (r *JobRunner) Run(ctx context.Context, name string, fn JobFunc) (*JobResult, error) {
	ctx, span := util.StartSpan(ctx, "JobRunner."+name)
	defer span.End()

	start := time.Now()
	rec := newJobRecorder(name, r.maxDetails)

	token, acquired, err := r.lease.AcquireLease(ctx, name, r.leaseTTL)
	if err != nil {
		err = fmt.Errorf("failed to acquire job lease: %w", err)
		return r.finish(ctx, rec, start, err), err
	}
	if !acquired {
		util.LeaseContentionTotal.WithLabelValues(name).Inc()
		r.logger.Warn("Job already running, skipping", zap.String("job", name))
		rec.SetMessage("skipped: job already running")
		return r.finish(ctx, rec, start, ErrJobAlreadyRunning), ErrJobAlreadyRunning
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.lease.ReleaseLease(releaseCtx, name, token); err != nil {
			r.logger.Error("Failed to release job lease", zap.String("job", name), zap.Error(err))
		}
	}()

	stopHeartbeat := r.heartbeat(ctx, name, token)
	defer stopHeartbeat()

	r.logger.Info("Job started", zap.String("job", name))

	err = fn(ctx, rec)
	stopHeartbeat()
	if err != nil {
		util.SpanError(span, err)
		return r.finish(ctx, rec, start, err), err
	}
	return r.finish(ctx, rec, start, nil), nil
}

// heartbeat keeps the lease alive while a run outlasts the ttl.
// The returned stop func is idempotent.
func (r *JobRunner) heartbeat(ctx context.Context, name, token string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.leaseTTL / 3)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				extended, err := r.lease.ExtendLease(ctx, name, token, r.leaseTTL)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.Error("Failed to extend job lease", zap.String("job", name), zap.Error(err))
					}
					continue
				}
				if !extended {
					r.logger.Warn("Job lease lost", zap.String("job", name))
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (r *JobRunner) finish(ctx context.Context, rec *JobRecorder, start time.Time, jobErr error) *JobResult {
	res := rec.Snapshot()
	res.DurationMS = time.Since(start).Milliseconds()

	switch {
	case errors.Is(jobErr, ErrJobAlreadyRunning):
		res.Status = models.JobStatusSkipped
	case jobErr != nil:
		res.Status = models.JobStatusError
		res.Message = jobErr.Error()
	case res.Errors > 0:
		res.Status = models.JobStatusPartialSuccess
	default:
		res.Status = models.JobStatusSuccess
	}
	if res.Message == "" {
		res.Message = fmt.Sprintf("%s completed: %d processed, %d updated, %d notifications, %d errors",
			res.JobName, res.Processed, res.Updated, res.NotificationsSent, res.Errors)
	}

	// bookkeeping must survive a cancelled request
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	details, err := json.Marshal(&res)
	if err != nil {
		details = []byte("{}")
	}
	logRow := &models.AutomationLog{
		JobName:    res.JobName,
		Status:     res.Status,
		Message:    res.Message,
		Details:    details,
		DurationMS: res.DurationMS,
	}
	if err := r.store.RecordJobRun(bgCtx, logRow); err != nil {
		r.logger.Error("Failed to record job run", zap.String("job", res.JobName), zap.Error(err))
	}

	util.JobRunsTotal.WithLabelValues(res.JobName, res.Status).Inc()
	util.JobDuration.WithLabelValues(res.JobName).Observe(time.Duration(res.DurationMS * int64(time.Millisecond)).Seconds())
	if res.Errors > 0 {
		util.JobItemErrorsTotal.WithLabelValues(res.JobName).Add(float64(res.Errors))
	}

	if err := r.eventPublisher.PublishJobCompleted(bgCtx, &models.JobCompletedEvent{
		JobName:    res.JobName,
		Status:     res.Status,
		Processed:  res.Processed,
		Errors:     res.Errors,
		DurationMS: res.DurationMS,
	}); err != nil {
		r.logger.Error("Failed to publish JobCompleted event", zap.Error(err))
	}

	if r.ops != nil && (res.Status == models.JobStatusError || res.Status == models.JobStatusPartialSuccess) {
		if err := r.ops.NotifyJobRun(bgCtx, &res); err != nil {
			r.logger.Error("Failed to notify ops", zap.String("job", res.JobName), zap.Error(err))
		}
	}

	r.logger.Info("Job finished",
		zap.String("job", res.JobName),
		zap.String("status", res.Status),
		zap.Int("processed", res.Processed),
		zap.Int("errors", res.Errors),
		zap.Int64("duration_ms", res.DurationMS))

	return &res
}
