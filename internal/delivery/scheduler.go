package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
	"github.com/pixelrelay/pixelrelay-backend/pkg/metrics"
	"github.com/pixelrelay/pixelrelay-backend/pkg/security"
)

const (
	maxPollBackoff = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type eventSource interface {
	DueForDelivery(ctx context.Context, now time.Time, limit int) ([]models.TrackedEvent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.TrackedEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID, response json.RawMessage, traceID string, sentAt time.Time) (bool, error)
	ScheduleRetry(ctx context.Context, id uuid.UUID, attemptCount int, errMsg string, nextAttemptAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, attemptCount int, errMsg string) (bool, error)
}

type credentialSource interface {
	Credential(ctx context.Context, surfaceID uuid.UUID) (Credential, error)
}

type leaseArena interface {
	Acquire(ctx context.Context, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

// SchedulerParams collects the delivery scheduler's dependencies.
type SchedulerParams struct {
	Repo        eventSource
	Credentials credentialSource
	Driver      Driver
	Leases      leaseArena
	Codec       *security.Codec
	Config      config.DeliveryConfig
	Logger      *logger.Logger
	Metrics     *metrics.PipelineMetrics
}

// Scheduler polls for due pending events and drives each one through a
// single delivery attempt per cycle. Terminal transitions are guarded by the
// pending predicate in the repository, so a lost race degrades to a no-op.
type Scheduler struct {
	repo        eventSource
	credentials credentialSource
	driver      Driver
	leases      leaseArena
	codec       *security.Codec
	log         *logger.Logger
	metrics     *metrics.PipelineMetrics

	retrySchedule  []time.Duration
	maxAttempts    int
	batchSize      int
	workerCount    int
	attemptTimeout time.Duration
	pollInterval   time.Duration
	now            func() time.Time
}

// NewScheduler builds the delivery scheduler.
func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("event source required")
	}
	if params.Credentials == nil {
		return nil, fmt.Errorf("credential source required")
	}
	if params.Driver == nil {
		return nil, fmt.Errorf("delivery driver required")
	}
	if params.Leases == nil {
		return nil, fmt.Errorf("lease arena required")
	}
	if params.Codec == nil {
		return nil, fmt.Errorf("security codec required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	schedule, err := params.Config.RetrySchedule()
	if err != nil {
		return nil, err
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = 50
	}
	workers := params.Config.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	attempts := params.Config.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	timeout := params.Config.AttemptTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pollMs := params.Config.PollIntervalMS
	if pollMs <= 0 {
		pollMs = 500
	}

	return &Scheduler{
		repo:           params.Repo,
		credentials:    params.Credentials,
		driver:         params.Driver,
		leases:         params.Leases,
		codec:          params.Codec,
		log:            params.Logger,
		metrics:        params.Metrics,
		retrySchedule:  schedule,
		maxAttempts:    attempts,
		batchSize:      batch,
		workerCount:    workers,
		attemptTimeout: timeout,
		pollInterval:   time.Duration(pollMs) * time.Millisecond,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run polls until the context is canceled. Poll errors back off with jitter;
// a drained queue sleeps one interval.
func (s *Scheduler) Run(ctx context.Context) error {
	backoff := s.pollInterval

	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "delivery scheduler context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.ProcessBatch(ctx)
		if err != nil {
			s.log.Error(ctx, "delivery batch error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxPollBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = s.pollInterval
		if processed {
			continue
		}
		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

// ProcessBatch attempts every due event once, fanning out across the worker
// pool. Reports whether any event was due.
func (s *Scheduler) ProcessBatch(ctx context.Context) (bool, error) {
	events, err := s.repo.DueForDelivery(ctx, s.now(), s.batchSize)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workerCount)
	for _, event := range events {
		event := event
		group.Go(func() error {
			s.attempt(groupCtx, event)
			return nil
		})
	}
	return true, group.Wait()
}

// attempt runs one delivery attempt under a lease. Panics are contained so a
// poisoned event cannot take the pool down.
func (s *Scheduler) attempt(ctx context.Context, event models.TrackedEvent) {
	ctx = s.log.WithEventID(ctx, event.ID.String())
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(ctx, "delivery attempt panicked", fmt.Errorf("%v", r))
			s.recordOutcome(ctx, event, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("panic: %v", r)))
		}
	}()

	held, err := s.leases.Acquire(ctx, event.ID)
	if err != nil {
		s.log.Error(ctx, "lease acquire failed", err)
		return
	}
	if !held {
		return
	}
	defer func() {
		if releaseErr := s.leases.Release(ctx, event.ID); releaseErr != nil {
			s.log.Error(ctx, "lease release failed", releaseErr)
		}
	}()

	// The polled snapshot may be stale by the time the lease is ours: another
	// worker or an operator retry can have finalized the event in between.
	// Reload under the lease and only deliver a row that is still pending.
	current, err := s.repo.FindByID(ctx, event.ID)
	if err != nil {
		s.log.Error(ctx, "reload event under lease failed", err)
		return
	}
	if current.Status != enums.EventStatusPending {
		s.log.Info(ctx, fmt.Sprintf("event already %s; skipping delivery", current.Status))
		return
	}
	event = *current

	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	start := s.now()
	batch, err := s.deliver(attemptCtx, event)
	if err != nil {
		s.observe(classifyOutcome(err), start)
		s.recordOutcome(ctx, event, err)
		return
	}

	var traceID string
	var response json.RawMessage
	if len(batch.Results) > 0 {
		traceID = batch.Results[0].TraceID
		response = batch.Results[0].Response
	}
	updated, err := s.repo.MarkSent(ctx, event.ID, response, traceID, s.now())
	if err != nil {
		s.log.Error(ctx, "mark sent failed", err)
		return
	}
	if !updated {
		s.log.Warn(ctx, "event left pending state during delivery")
		return
	}
	s.observe("sent", start)
	s.log.Info(ctx, fmt.Sprintf("event delivered on attempt %d", event.AttemptCount+1))
}

func (s *Scheduler) deliver(ctx context.Context, event models.TrackedEvent) (*BatchResult, error) {
	cred, err := s.credentials.Credential(ctx, event.SurfaceID)
	if err != nil {
		return nil, err
	}

	var record identity.Record
	if err := s.codec.DecryptJSON(event.IdentityCiphertext, &record); err != nil {
		// An undecryptable payload will never improve; fail it terminally.
		return nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryRejected, err, "decrypt identity payload")
	}
	payload, err := buildPayload(event, record)
	if err != nil {
		return nil, err
	}

	batch, err := s.driver.SendBatch(ctx, cred, []Payload{payload})
	if err != nil {
		return nil, err
	}
	if failed := batch.Failed(); len(failed) > 0 {
		return nil, failed[0].Err
	}
	return batch, nil
}

// recordOutcome applies the error taxonomy: terminal errors and exhausted
// budgets finalize to failed, everything else reschedules along the
// escalation table.
func (s *Scheduler) recordOutcome(ctx context.Context, event models.TrackedEvent, attemptErr error) {
	attemptCount := event.AttemptCount + 1

	if !pkgerrors.IsRetryable(attemptErr) {
		s.finalize(ctx, event.ID, attemptCount, attemptErr.Error())
		return
	}
	if attemptCount >= s.maxAttempts {
		exhausted := pkgerrors.Wrap(pkgerrors.CodeDeliveryExhausted, attemptErr,
			fmt.Sprintf("gave up after %d attempts", attemptCount))
		s.finalize(ctx, event.ID, attemptCount, exhausted.Error())
		return
	}

	next := s.now().Add(s.retryDelay(attemptCount))
	updated, err := s.repo.ScheduleRetry(ctx, event.ID, attemptCount, attemptErr.Error(), next)
	if err != nil {
		s.log.Error(ctx, "schedule retry failed", err)
		return
	}
	if !updated {
		s.log.Warn(ctx, "event left pending state before retry was scheduled")
		return
	}
	s.log.Warn(s.log.WithField(ctx, "error", attemptErr.Error()),
		fmt.Sprintf("delivery attempt %d failed; retry scheduled", attemptCount))
}

func (s *Scheduler) finalize(ctx context.Context, id uuid.UUID, attemptCount int, message string) {
	updated, err := s.repo.MarkFailed(ctx, id, attemptCount, message)
	if err != nil {
		s.log.Error(ctx, "mark failed errored", err)
		return
	}
	if !updated {
		s.log.Warn(ctx, "event left pending state before failure was recorded")
		return
	}
	s.log.Warn(s.log.WithField(ctx, "error", message), "event failed terminally")
}

// retryDelay indexes the escalation table by the attempt that just failed;
// the last entry repeats if attempts outnumber entries.
func (s *Scheduler) retryDelay(attemptCount int) time.Duration {
	if len(s.retrySchedule) == 0 {
		return s.pollInterval
	}
	idx := attemptCount - 1
	if idx >= len(s.retrySchedule) {
		idx = len(s.retrySchedule) - 1
	}
	return s.retrySchedule[idx]
}

func (s *Scheduler) observe(outcome string, start time.Time) {
	s.metrics.ObserveAttempt(outcome, s.now().Sub(start))
}

func classifyOutcome(err error) string {
	appErr := pkgerrors.As(err)
	if appErr == nil {
		return "error"
	}
	switch appErr.Code() {
	case pkgerrors.CodeDeliveryRateLimited:
		return "rate_limited"
	case pkgerrors.CodeDeliveryRejected:
		return "rejected"
	case pkgerrors.CodeDeliveryTransport:
		return "transport"
	default:
		return "error"
	}
}

// buildPayload shapes one tracked event for the wire. Custom events carry
// their preserved raw name.
func buildPayload(event models.TrackedEvent, record identity.Record) (Payload, error) {
	userData, err := json.Marshal(record)
	if err != nil {
		return Payload{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode user data")
	}

	name := string(event.EventName)
	if event.EventName == enums.EventNameCustom && event.CustomEventName != nil {
		name = *event.CustomEventName
	}
	payload := Payload{
		EventID:      event.ID,
		EventName:    name,
		EventTime:    event.EventTime.Unix(),
		ActionSource: string(event.ActionSource),
		SourceURL:    event.SourceURL,
		UserData:     userData,
		CustomData:   event.CustomData,
	}
	if event.ExternalEventID != nil {
		payload.EventCode = *event.ExternalEventID
	}
	return payload, nil
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
