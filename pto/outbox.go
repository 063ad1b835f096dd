/*
outbox.go - Integration outbox and retry dispatcher

PURPOSE:
  Delivers approval notices to the resource-management hook without letting
  a hook failure affect the approval. Every approval becomes an
  integration_tasks record; delivery is attempted right away and retried by
  the Dispatcher until it succeeds or runs out of attempts.

TASK STATES:
  pending   -> delivered   (hook accepted the notice)
  pending   -> pending     (attempt failed, attempts < MaxAttempts)
  pending   -> failed      (attempt failed, attempts == MaxAttempts)

DELIVERY:
  At least once. A crash after the hook accepted a notice but before the task
  was marked delivered sends it again on the next run.

USAGE:
  dispatcher := pto.NewDispatcher(outbox, 30*time.Second, logger)
  dispatcher.Start()
  // ... later
  dispatcher.Stop()
*/
package pto

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/pto-service/record"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskDelivered TaskStatus = "delivered"
	TaskFailed    TaskStatus = "failed"
)

// DefaultMaxAttempts is used when the outbox is built with a non-positive limit.
const DefaultMaxAttempts = 5

// Task is one queued notice.
type Task struct {
	ID          string         `json:"integration_task_id,omitempty"`
	EventType   string         `json:"event_type"`
	RequestID   string         `json:"pto_request_id"`
	Payload     ApprovalNotice `json:"payload"`
	Status      TaskStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	DeliveredAt time.Time      `json:"delivered_at,omitzero"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
	UpdatedAt   time.Time      `json:"updated_at,omitzero"`
}

// Outbox stores and delivers integration tasks.
type Outbox struct {
	records     *record.Store
	notifier    Notifier
	maxAttempts int
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time

	mu sync.Mutex // one delivery pass at a time
}

func NewOutbox(records *record.Store, notifier Notifier, maxAttempts int, recorder Recorder, logger *zap.Logger, now func() time.Time) *Outbox {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Outbox{
		records:     records,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		recorder:    recorder,
		logger:      logger,
		now:         now,
	}
}

// NoticeFor builds the approval notice of a request.
func NoticeFor(req *Request) ApprovalNotice {
	rows := req.DailySchedules
	if rows == nil {
		rows = []DailySchedule{}
	}
	return ApprovalNotice{
		EventType:      EventTypePTOApproved,
		RequestID:      req.ID,
		UserID:         req.RequesterID,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		DailySchedules: rows,
	}
}

// Enqueue stores a task for an approved request and attempts it once.
// Only a failure to store the task is returned; delivery failures stay on
// the task.
func (o *Outbox) Enqueue(ctx context.Context, req *Request) (*Task, error) {
	t := Task{
		EventType: EventTypePTOApproved,
		RequestID: req.ID,
		Payload:   NoticeFor(req),
		Status:    TaskPending,
	}
	rec, err := record.From(t)
	if err != nil {
		return nil, err
	}
	created, err := o.records.Create(ctx, Tasks, rec)
	if err != nil {
		return nil, err
	}
	task, err := decodeOne[Task](created)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempt(ctx, task), nil
}

// DeliverPending attempts every pending task, oldest first.
func (o *Outbox) DeliverPending(ctx context.Context) (delivered, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tasks, err := o.Pending(ctx)
	if err != nil {
		o.logger.Error("listing pending integration tasks failed", zap.Error(err))
		return 0, 0
	}
	for i := range tasks {
		if ctx.Err() != nil {
			break
		}
		switch o.attempt(ctx, &tasks[i]).Status {
		case TaskDelivered:
			delivered++
		case TaskFailed:
			failed++
		}
	}
	return delivered, failed
}

// Pending returns the tasks still awaiting delivery, oldest first.
func (o *Outbox) Pending(ctx context.Context) ([]Task, error) {
	return o.list(ctx, record.Eq("status", TaskPending))
}

// List returns tasks, optionally filtered by status, oldest first.
func (o *Outbox) List(ctx context.Context, status TaskStatus) ([]Task, error) {
	if status == "" {
		return o.list(ctx)
	}
	return o.list(ctx, record.Eq("status", status))
}

func (o *Outbox) list(ctx context.Context, preds ...record.Predicate) ([]Task, error) {
	recs, err := o.records.Query(ctx, Tasks, preds...)
	if err != nil {
		return nil, err
	}
	tasks, err := decodeAll[Task](recs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

// attempt delivers one task and stores the outcome. Caller holds o.mu.
func (o *Outbox) attempt(ctx context.Context, t *Task) *Task {
	t.Attempts++
	fields := record.Record{"attempts": t.Attempts}

	err := o.notifier.NotifyApproval(ctx, t.Payload)
	switch {
	case err == nil:
		t.Status = TaskDelivered
		t.LastError = ""
		t.DeliveredAt = o.now().UTC()
		fields["delivered_at"] = record.Timestamp(t.DeliveredAt)
		fields["last_error"] = ""
		o.recorder.Delivery(DeliveryOK)
	case t.Attempts >= o.maxAttempts:
		t.Status = TaskFailed
		t.LastError = err.Error()
		fields["last_error"] = t.LastError
		o.recorder.Delivery(DeliveryFailed)
		o.logger.Error("integration delivery abandoned",
			zap.String("integration_task_id", t.ID),
			zap.String("pto_request_id", t.RequestID),
			zap.Int("attempts", t.Attempts),
			zap.Error(err),
		)
	default:
		t.LastError = err.Error()
		fields["last_error"] = t.LastError
		o.recorder.Delivery(DeliveryRetry)
		o.logger.Warn("integration delivery failed, will retry",
			zap.String("integration_task_id", t.ID),
			zap.String("pto_request_id", t.RequestID),
			zap.Int("attempts", t.Attempts),
			zap.Error(err),
		)
	}
	fields["status"] = string(t.Status)

	if _, err := o.records.Update(ctx, Tasks, t.ID, fields); err != nil {
		o.logger.Error("recording delivery outcome failed",
			zap.String("integration_task_id", t.ID),
			zap.Error(err),
		)
	}
	return t
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher retries pending tasks on a fixed interval.
type Dispatcher struct {
	Outbox   *Outbox
	Interval time.Duration
	Enabled  bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDispatcher creates an enabled dispatcher.
func NewDispatcher(outbox *Outbox, interval time.Duration, logger *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Dispatcher{
		Outbox:   outbox,
		Interval: interval,
		Enabled:  true,
		logger:   logger,
	}
}

// Start begins the retry loop. It is a no-op when disabled or already running.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.Enabled {
		d.logger.Info("integration dispatcher disabled, not starting")
		return
	}
	if d.ticker != nil {
		return
	}

	d.ticker = time.NewTicker(d.Interval)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.run(d.ticker, d.stop)

	d.logger.Info("integration dispatcher started", zap.Duration("interval", d.Interval))
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ticker == nil {
		return
	}
	d.ticker.Stop()
	close(d.stop)
	d.wg.Wait()
	d.ticker = nil
	d.logger.Info("integration dispatcher stopped")
}

// RunNow performs one delivery pass.
func (d *Dispatcher) RunNow(ctx context.Context) (delivered, failed int) {
	return d.Outbox.DeliverPending(ctx)
}

func (d *Dispatcher) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			delivered, failed := d.RunNow(ctx)
			if delivered > 0 || failed > 0 {
				d.logger.Info("integration pass completed",
					zap.Int("delivered", delivered),
					zap.Int("failed", failed),
				)
			}
		case <-stop:
			return
		}
	}
}
