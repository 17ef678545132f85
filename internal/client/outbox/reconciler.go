package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/farmkeeper/internal/client/connectivity"
	"github.com/iudanet/farmkeeper/internal/client/storage"
	"github.com/iudanet/farmkeeper/internal/models"
)

// Choice selects how a conflict is resolved.
type Choice string

const (
	// KeepLocal resubmits the local payload on top of the remote version
	KeepLocal Choice = "keep_local"
	// KeepRemote makes the remote state win
	KeepRemote Choice = "keep_remote"
	// Merged resubmits a payload supplied by the user
	Merged Choice = "merged"
)

// ParseChoice accepts both the full choice name and the short form (local, remote, merged).
func ParseChoice(name string) (Choice, error) {
	switch name {
	case "local", string(KeepLocal):
		return KeepLocal, nil
	case "remote", string(KeepRemote):
		return KeepRemote, nil
	case "merged", "merge":
		return Merged, nil
	}
	return "", fmt.Errorf("unknown resolution %q", name)
}

// Resolution is the user's answer to a conflict.
type Resolution struct {
	Payload json.RawMessage // Payload обязателен для Merged
	Choice  Choice
}

type timerKind int

const (
	timerRetry timerKind = iota + 1
	timerExpire
)

type scheduled struct {
	timer *time.Timer
	kind  timerKind
}

type submission struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// dispatch describes an entry into syncing.
type dispatch struct {
	prepare      func(op *models.PendingOperation) error
	trigger      models.Trigger
	resetBackoff bool
}

// Reconciler drives operations through their statuses based on remote
// outcomes, connectivity and user actions. It is the only writer of
// operation status.
type Reconciler struct {
	remote   Remote
	baseCtx  context.Context
	queue    *Queue
	logger   *slog.Logger
	cancel   context.CancelFunc
	inflight map[string]*submission
	timers   map[string]*scheduled
	backoffs map[string]retry.Backoff
	work     *tracker
	cfg      Config
	mu       sync.Mutex
	state    connectivity.State
	closed   bool
}

// NewReconciler creates a reconciler over queue. It starts offline; call
// SetConnectivity or Run to enable submissions.
func NewReconciler(queue *Queue, remote Remote, cfg Config, logger *slog.Logger) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		queue:    queue,
		remote:   remote,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
		inflight: make(map[string]*submission),
		timers:   make(map[string]*scheduled),
		backoffs: make(map[string]retry.Backoff),
		work:     newTracker(),
	}
}

// Queue returns the queue the reconciler manages.
func (r *Reconciler) Queue() *Queue {
	return r.queue
}

// Connectivity returns the last connectivity state received.
func (r *Reconciler) Connectivity() connectivity.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Enqueue registers the mutation and dispatches it right away when online.
// The returned correlation id is valid even if dispatch was not possible.
func (r *Reconciler) Enqueue(ctx context.Context, m models.Mutation) string {
	id := r.queue.Enqueue(ctx, m)

	if err := r.Dispatch(ctx, id); err != nil && !errors.Is(err, ErrOffline) {
		r.logger.Warn("Failed to dispatch operation", "correlation_id", id, "error", err)
	}
	return id
}

// Dispatch submits a pending operation. Returns ErrOffline and leaves the
// operation pending when submissions are suspended.
func (r *Reconciler) Dispatch(ctx context.Context, correlationID string) error {
	_, err := r.start(ctx, correlationID, dispatch{trigger: models.TriggerDispatch})
	return err
}

// Flush dispatches every pending operation and every failed operation whose
// automatic retry is due, with at most Config.Concurrency submissions at a
// time. It returns once each dispatched submission has produced an outcome.
func (r *Reconciler) Flush(ctx context.Context) (int, error) {
	type job struct {
		id      string
		trigger models.Trigger
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	if !r.state.Usable() {
		r.mu.Unlock()
		return 0, ErrOffline
	}
	var jobs []job
	for _, op := range r.queue.List() {
		switch {
		case op.Status == models.StatusPending:
			jobs = append(jobs, job{id: op.CorrelationID, trigger: models.TriggerDispatch})
		case r.retryDueLocked(op):
			jobs = append(jobs, job{id: op.CorrelationID, trigger: models.TriggerRetry})
		}
	}
	r.mu.Unlock()

	var dispatched atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, j := range jobs {
		g.Go(func() error {
			done, err := r.start(gctx, j.id, dispatch{trigger: j.trigger})
			switch {
			case err == nil:
			case errors.Is(err, ErrInvalidTransition), errors.Is(err, storage.ErrOperationNotFound):
				// состояние изменилось после выборки
				return nil
			default:
				return err
			}
			dispatched.Add(1)

			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	err := g.Wait()
	return int(dispatched.Load()), err
}

// Drain blocks until no submission is in flight and no automatic retry is scheduled.
func (r *Reconciler) Drain(ctx context.Context) error {
	return r.work.wait(ctx)
}

// Retry resubmits a failed operation on user request. The attempt counter
// and the backoff sequence start over. Operations rejected as invalid need
// Amend instead.
func (r *Reconciler) Retry(ctx context.Context, correlationID string) error {
	_, err := r.start(ctx, correlationID, dispatch{
		trigger:      models.TriggerRetry,
		resetBackoff: true,
		prepare: func(op *models.PendingOperation) error {
			if op.Permanent {
				return ErrEditRequired
			}
			op.Attempt = 0
			return nil
		},
	})
	return err
}

// Amend replaces the payload of a failed operation and resubmits it.
func (r *Reconciler) Amend(ctx context.Context, correlationID string, payload json.RawMessage) error {
	if len(payload) == 0 {
		return ErrEditRequired
	}

	_, err := r.start(ctx, correlationID, dispatch{
		trigger:      models.TriggerRetry,
		resetBackoff: true,
		prepare: func(op *models.PendingOperation) error {
			op.Payload = payload
			op.Permanent = false
			op.Attempt = 0
			return nil
		},
	})
	return err
}

// Resolve resubmits a conflicted operation against the remote version it
// conflicted with. Like Retry it starts a new submission cycle, so the
// attempt counter starts over.
//
// KeepRemote never changes the remote content: a conflicted delete becomes
// a write of the remote content, and a record deleted remotely is confirmed
// with a delete at the deletion version. KeepLocal and Merged on a record
// deleted remotely write it again.
func (r *Reconciler) Resolve(ctx context.Context, correlationID string, res Resolution) error {
	_, err := r.start(ctx, correlationID, dispatch{
		trigger:      models.TriggerResolve,
		resetBackoff: true,
		prepare: func(op *models.PendingOperation) error {
			switch res.Choice {
			case KeepLocal:
			case KeepRemote:
				switch {
				case op.RemoteDeleted:
					op.Kind = models.KindDelete
					op.Payload = nil
				case len(op.RemoteRecord) == 0:
					return fmt.Errorf("%w: remote record is unknown", ErrResolutionRequired)
				default:
					op.Payload = op.RemoteRecord
					if op.Kind == models.KindDelete {
						op.Kind = models.KindUpdate
					}
				}
			case Merged:
				if len(res.Payload) == 0 {
					return ErrResolutionRequired
				}
				op.Payload = res.Payload
				if op.Kind == models.KindDelete {
					op.Kind = models.KindUpdate
				}
			default:
				return fmt.Errorf("%w: unknown choice %q", ErrResolutionRequired, res.Choice)
			}

			// запись уже существует на сервере, создавать ее повторно нельзя
			if op.Kind == models.KindCreate && op.RemoteVersion > 0 {
				op.Kind = models.KindUpdate
			}
			op.BaseVersion = op.RemoteVersion
			op.RemoteRecord = nil
			op.RemoteVersion = 0
			op.RemoteDeleted = false
			op.Attempt = 0
			return nil
		},
	})
	return err
}

// Discard drops a failed or conflicted operation without submitting it again.
func (r *Reconciler) Discard(ctx context.Context, correlationID string) error {
	return r.drop(ctx, correlationID, models.TriggerDiscard)
}

// Cancel drops an operation that has not been dispatched yet.
// Returns ErrNotCancellable for an operation in flight.
func (r *Reconciler) Cancel(ctx context.Context, correlationID string) error {
	return r.drop(ctx, correlationID, models.TriggerCancel)
}

// SetConnectivity records a connectivity change. Losing connectivity
// returns in-flight operations to pending and ignores their late outcomes.
// It reports whether submissions just became possible again.
func (r *Reconciler) SetConnectivity(ctx context.Context, state connectivity.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.state
	r.state = state
	if prev == state {
		return false
	}

	r.logger.Info("Connectivity changed", "from", prev.String(), "to", state.String())

	if prev.Usable() && !state.Usable() {
		r.suspendLocked(ctx)
	}
	return !prev.Usable() && state.Usable()
}

// Run consumes connectivity updates until ctx is done or updates is closed,
// flushing the queue each time submissions become possible.
func (r *Reconciler) Run(ctx context.Context, updates <-chan connectivity.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			if r.SetConnectivity(ctx, state) {
				r.flushAsync()
			}
		}
	}
}

// Close cancels in-flight submissions, returning them to pending, stops
// scheduled timers and waits for background work to finish.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()
	for id := range r.timers {
		r.stopTimerLocked(id)
	}
	r.suspendLocked(context.Background())
	r.mu.Unlock()

	return r.work.wait(context.Background())
}

func (r *Reconciler) start(ctx context.Context, correlationID string, d dispatch) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if !r.state.Usable() {
		return nil, ErrOffline
	}

	op, err := r.queue.update(ctx, correlationID, func(op *models.PendingOperation) (bool, error) {
		if !Allowed(op.Status, d.trigger) {
			return false, invalidTransition(op, d.trigger)
		}
		if d.prepare != nil {
			if err := d.prepare(op); err != nil {
				return false, err
			}
		}
		return applyTrigger(op, d.trigger, r.queue.now())
	})
	if err != nil {
		return nil, err
	}

	r.stopTimerLocked(correlationID)
	if d.resetBackoff {
		delete(r.backoffs, correlationID)
	}

	subCtx, cancel := context.WithTimeout(r.baseCtx, r.cfg.SubmitTimeout)
	sub := &submission{cancel: cancel, done: make(chan struct{})}
	r.inflight[correlationID] = sub
	r.work.add()
	go r.submit(subCtx, op, sub)

	r.logger.Info("Operation dispatched",
		"correlation_id", correlationID,
		"trigger", d.trigger.String(),
		"attempt", op.Attempt)

	return sub.done, nil
}

func (r *Reconciler) submit(ctx context.Context, op *models.PendingOperation, sub *submission) {
	defer r.work.done()
	defer close(sub.done)
	defer sub.cancel()

	outcome := r.call(ctx, op)
	r.settle(op.CorrelationID, sub, outcome)
}

// call runs the remote submission and bounds it by ctx even when the remote
// does not return in time.
func (r *Reconciler) call(ctx context.Context, op *models.PendingOperation) models.Outcome {
	result := make(chan models.Outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Remote submission panicked",
					"correlation_id", op.CorrelationID,
					"panic", p,
					"stack", string(debug.Stack()))
				result <- models.TransientFailure(fmt.Sprintf("remote panicked: %v", p))
			}
		}()
		result <- r.remote.Submit(ctx, op)
	}()

	select {
	case outcome := <-result:
		return outcome
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.TransientFailure("submission timed out")
		}
		return models.TransientFailure("submission cancelled")
	}
}

func (r *Reconciler) settle(correlationID string, sub *submission, outcome models.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight[correlationID] != sub {
		// ответ на отправку, которую уже вернули в pending
		r.logger.Debug("Stale outcome ignored",
			"correlation_id", correlationID,
			"outcome", outcome.Type.String())
		return
	}
	delete(r.inflight, correlationID)

	var (
		trigger models.Trigger
		record  func(op *models.PendingOperation)
	)
	switch outcome.Type {
	case models.OutcomeSuccess:
		trigger = models.TriggerSucceed
		record = func(op *models.PendingOperation) {
			op.ConfirmedVersion = outcome.Version
			op.LastError = ""
			op.RemoteRecord = nil
			op.RemoteVersion = 0
			op.RemoteDeleted = false
		}
	case models.OutcomeConflict:
		trigger = models.TriggerFailConflict
		record = func(op *models.PendingOperation) {
			op.RemoteRecord = outcome.Record
			op.RemoteVersion = outcome.Version
			op.RemoteDeleted = outcome.Deleted
			op.LastError = reasonOr(outcome.Reason, "remote record has changed")
		}
	case models.OutcomeRejected:
		trigger = models.TriggerFailPermanent
		record = func(op *models.PendingOperation) {
			op.Permanent = true
			op.LastError = reasonOr(outcome.Reason, "rejected by server")
		}
	default:
		trigger = models.TriggerFailTransient
		record = func(op *models.PendingOperation) {
			op.LastError = reasonOr(outcome.Reason, "transient failure")
		}
	}

	op, err := r.queue.update(context.Background(), correlationID, func(op *models.PendingOperation) (bool, error) {
		remove, err := applyTrigger(op, trigger, r.queue.now())
		if err != nil {
			return false, err
		}
		record(op)
		return remove, nil
	})
	if err != nil {
		r.logger.Warn("Failed to record outcome",
			"correlation_id", correlationID,
			"outcome", outcome.Type.String(),
			"error", err)
		return
	}

	switch trigger {
	case models.TriggerSucceed:
		delete(r.backoffs, correlationID)
		r.logger.Info("Operation synced",
			"correlation_id", correlationID,
			"version", op.ConfirmedVersion)
		r.scheduleLocked(correlationID, timerExpire, r.cfg.GracePeriod)
	case models.TriggerFailConflict:
		delete(r.backoffs, correlationID)
		r.logger.Warn("Operation conflicts with remote record",
			"correlation_id", correlationID,
			"remote_version", op.RemoteVersion)
	case models.TriggerFailPermanent:
		delete(r.backoffs, correlationID)
		r.logger.Warn("Operation rejected",
			"correlation_id", correlationID,
			"reason", op.LastError)
	default:
		r.scheduleRetryLocked(op)
	}
}

func (r *Reconciler) scheduleRetryLocked(op *models.PendingOperation) {
	id := op.CorrelationID

	if op.Attempt >= r.cfg.MaxAttempts {
		delete(r.backoffs, id)
		r.logger.Warn("Automatic retries exhausted",
			"correlation_id", id,
			"attempts", op.Attempt,
			"reason", op.LastError)
		return
	}

	b, ok := r.backoffs[id]
	if !ok {
		b = r.cfg.newBackoff()
		r.backoffs[id] = b
	}
	delay, stop := b.Next()
	if stop {
		delete(r.backoffs, id)
		r.logger.Warn("Automatic retries exhausted",
			"correlation_id", id,
			"attempts", op.Attempt,
			"reason", op.LastError)
		return
	}

	r.logger.Info("Retry scheduled",
		"correlation_id", id,
		"attempt", op.Attempt,
		"delay", delay,
		"reason", op.LastError)
	r.scheduleLocked(id, timerRetry, delay)
}

// retryDueLocked reports whether a failed operation is eligible for automatic
// retry and nothing is scheduled for it, e.g. its timer fired while offline
// or it was loaded from a previous session.
func (r *Reconciler) retryDueLocked(op *models.PendingOperation) bool {
	if op.Status != models.StatusError || op.Permanent || op.Attempt >= r.cfg.MaxAttempts {
		return false
	}
	_, timed := r.timers[op.CorrelationID]
	_, busy := r.inflight[op.CorrelationID]
	return !timed && !busy
}

// scheduleLocked arms a timer for the operation, replacing any previous one.
// Retry timers count as outstanding work for Drain.
func (r *Reconciler) scheduleLocked(correlationID string, kind timerKind, delay time.Duration) {
	r.stopTimerLocked(correlationID)

	s := &scheduled{kind: kind}
	if kind == timerRetry {
		r.work.add()
	}
	s.timer = time.AfterFunc(delay, func() {
		if kind == timerRetry {
			defer r.work.done()
		}
		r.fire(correlationID, s)
	})
	r.timers[correlationID] = s
}

func (r *Reconciler) stopTimerLocked(correlationID string) {
	s, ok := r.timers[correlationID]
	if !ok {
		return
	}
	delete(r.timers, correlationID)
	if s.timer.Stop() && s.kind == timerRetry {
		r.work.done()
	}
}

func (r *Reconciler) fire(correlationID string, s *scheduled) {
	r.mu.Lock()
	if r.timers[correlationID] != s {
		r.mu.Unlock()
		return
	}
	delete(r.timers, correlationID)

	if s.kind == timerExpire {
		_, err := r.queue.update(context.Background(), correlationID, func(op *models.PendingOperation) (bool, error) {
			return applyTrigger(op, models.TriggerExpire, r.queue.now())
		})
		r.mu.Unlock()
		if err != nil {
			r.logger.Warn("Failed to expire synced operation", "correlation_id", correlationID, "error", err)
			return
		}
		r.logger.Debug("Synced operation removed", "correlation_id", correlationID)
		return
	}
	r.mu.Unlock()

	_, err := r.start(context.Background(), correlationID, dispatch{trigger: models.TriggerRetry})
	switch {
	case err == nil, errors.Is(err, ErrClosed):
	case errors.Is(err, ErrOffline):
		r.logger.Debug("Retry deferred until connectivity resumes", "correlation_id", correlationID)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, storage.ErrOperationNotFound):
		r.logger.Debug("Retry skipped", "correlation_id", correlationID, "error", err)
	default:
		r.logger.Warn("Automatic retry failed", "correlation_id", correlationID, "error", err)
	}
}

// suspendLocked returns every in-flight operation to pending and stops
// scheduled retries. Flush picks the failed operations up again once
// connectivity resumes.
func (r *Reconciler) suspendLocked(ctx context.Context) {
	for id, s := range r.timers {
		if s.kind == timerRetry {
			r.stopTimerLocked(id)
		}
	}

	for id, sub := range r.inflight {
		sub.cancel()
		delete(r.inflight, id)

		_, err := r.queue.update(ctx, id, func(op *models.PendingOperation) (bool, error) {
			return applyTrigger(op, models.TriggerConnectivityLost, r.queue.now())
		})
		if err != nil {
			r.logger.Warn("Failed to return operation to pending", "correlation_id", id, "error", err)
			continue
		}
		r.logger.Info("Operation returned to pending", "correlation_id", id)
	}
}

func (r *Reconciler) flushAsync() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.work.add()
	r.mu.Unlock()

	go func() {
		defer r.work.done()

		n, err := r.Flush(r.baseCtx)
		if err != nil && !errors.Is(err, ErrOffline) && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
			r.logger.Warn("Flush failed", "error", err)
			return
		}
		if n > 0 {
			r.logger.Info("Outbox flushed", "dispatched", n)
		}
	}()
}

func (r *Reconciler) drop(ctx context.Context, correlationID string, trigger models.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.queue.update(ctx, correlationID, func(op *models.PendingOperation) (bool, error) {
		if trigger == models.TriggerCancel && op.Status == models.StatusSyncing {
			return false, ErrNotCancellable
		}
		if !Allowed(op.Status, trigger) {
			return false, invalidTransition(op, trigger)
		}
		return applyTrigger(op, trigger, r.queue.now())
	})
	if err != nil {
		return err
	}

	r.stopTimerLocked(correlationID)
	delete(r.backoffs, correlationID)
	r.logger.Info("Operation dropped", "correlation_id", correlationID, "trigger", trigger.String())
	return nil
}

func invalidTransition(op *models.PendingOperation, trigger models.Trigger) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, op.Status)
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
