/*
request.go - Leave request lifecycle

PURPOSE:
  Submits, edits, reviews and deletes leave requests. Each request owns one
  DailySchedule row per requested day; the rows are separate records linked
  by pto_request_id.

STATE MACHINE:
  pending -> approved
  pending -> declined
  approved and declined are terminal. Approve, Decline and Update on a
  non-pending request fail with ErrInvalidTransition and write nothing. The
  status check runs under the record's key lock, so two concurrent approvals
  cannot both succeed.

WRITE ORDER (Create):
  1. Validate the whole input. Nothing is written on failure.
  2. Write the request.
  3. Write the schedules concurrently.
  4. Publish RequestCreated.
  Steps 2-3 are not atomic: a crash between them leaves a request with only
  some of its schedules.

SIDE EFFECTS:
  Balance recalculation and the integration hook are event listeners
  (see events.go, service.go). Their failures are logged and never fail the
  primary action.
*/
package pto

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/pto-service/record"
)

// CreateRequestInput is a request submission.
type CreateRequestInput struct {
	Snapshot
	LeaveType      LeaveType       `json:"leave_type"`
	Reason         string          `json:"reason,omitempty"`
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date"`
	DailySchedules []ScheduleInput `json:"daily_schedules"`
}

// UpdateRequestInput edits a pending request. Nil fields are left unchanged.
// A non-nil DailySchedules replaces every schedule of the request.
type UpdateRequestInput struct {
	LeaveType      *LeaveType      `json:"leave_type,omitempty"`
	Reason         *string         `json:"reason,omitempty"`
	StartDate      *string         `json:"start_date,omitempty"`
	EndDate        *string         `json:"end_date,omitempty"`
	DailySchedules []ScheduleInput `json:"daily_schedules,omitempty"`
}

// RequestService manages leave requests.
type RequestService struct {
	records   *record.Store
	schedules *ScheduleService
	bus       *Bus
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewRequestService(records *record.Store, schedules *ScheduleService, bus *Bus, recorder Recorder, logger *zap.Logger, now func() time.Time) *RequestService {
	return &RequestService{
		records:   records,
		schedules: schedules,
		bus:       bus,
		recorder:  recorder,
		logger:    logger,
		now:       now,
	}
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Create validates and stores a new pending request with its schedules.
func (s *RequestService) Create(ctx context.Context, in CreateRequestInput) (*Request, error) {
	inputs, err := validateSubmission(in)
	if err != nil {
		return nil, err
	}

	snap := in.Snapshot
	if err := s.backfillRequester(ctx, &snap); err != nil {
		return nil, err
	}

	days, hours := totals(inputs)
	req := Request{
		Snapshot:    snap,
		LeaveType:   in.LeaveType,
		Reason:      in.Reason,
		Status:      StatusPending,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		TotalDays:   days,
		TotalHours:  hours,
		SubmittedAt: s.now().UTC(),
	}
	rec, err := record.From(req)
	if err != nil {
		return nil, err
	}
	created, err := s.records.Create(ctx, Requests, rec)
	if err != nil {
		return nil, fmt.Errorf("storing request: %w", err)
	}
	saved, err := decodeOne[Request](created)
	if err != nil {
		return nil, err
	}

	rows, err := s.schedules.CreateForRequest(ctx, saved, inputs)
	if err != nil {
		return nil, fmt.Errorf("storing schedules for request %s: %w", saved.ID, err)
	}
	saved.DailySchedules = rows

	s.recorder.Transition(StatusPending)
	s.logger.Info("request submitted",
		zap.String("pto_request_id", saved.ID),
		zap.String("requester_id", saved.RequesterID),
		zap.Float64("total_days", saved.TotalDays),
	)
	s.bus.Publish(ctx, Event{Type: RequestCreated, Request: saved, ActorID: saved.RequesterID})
	return saved, nil
}

// backfillRequester fills the requester name and email from the user record
// when the submission omits them. The copies are kept as submitted from then on.
func (s *RequestService) backfillRequester(ctx context.Context, snap *Snapshot) error {
	if snap.RequesterName != "" && snap.RequesterEmail != "" {
		return nil
	}
	rec, err := s.records.GetByID(ctx, Users, snap.RequesterID)
	if err != nil {
		return err
	}
	u, err := decodeOne[User](rec)
	if err != nil || u == nil {
		return err
	}
	if snap.RequesterName == "" {
		snap.RequesterName = u.DisplayName
	}
	if snap.RequesterEmail == "" {
		snap.RequesterEmail = u.Email
	}
	return nil
}

// validateSubmission checks a submission and returns its schedules with
// leave types resolved.
func validateSubmission(in CreateRequestInput) ([]ScheduleInput, error) {
	if strings.TrimSpace(in.RequesterID) == "" {
		return nil, invalid("requester_id", "required")
	}
	return validateSchedules(in.LeaveType, in.StartDate, in.EndDate, in.DailySchedules)
}

func validateSchedules(lt LeaveType, start, end string, inputs []ScheduleInput) ([]ScheduleInput, error) {
	if !lt.Valid() {
		return nil, invalid("leave_type", "unknown leave type %q", lt)
	}
	s, err := ParseDate(start)
	if err != nil {
		return nil, invalid("start_date", "not a date: %q", start)
	}
	e, err := ParseDate(end)
	if err != nil {
		return nil, invalid("end_date", "not a date: %q", end)
	}
	if s.After(e) {
		return nil, invalid("start_date", "start date %s is after end date %s", start, end)
	}
	if len(inputs) == 0 {
		return nil, invalid("daily_schedules", "at least one day is required")
	}

	seen := make(map[string]bool, len(inputs))
	out := make([]ScheduleInput, len(inputs))
	for i, in := range inputs {
		d, err := ParseDate(in.Date)
		if err != nil {
			return nil, invalid("daily_schedules", "day %d: not a date: %q", i, in.Date)
		}
		if d.Before(s) || d.After(e) {
			return nil, invalid("daily_schedules", "day %s is outside %s..%s", in.Date, start, end)
		}
		if seen[in.Date] {
			return nil, invalid("daily_schedules", "day %s appears twice", in.Date)
		}
		seen[in.Date] = true
		if !in.ScheduleType.Valid() {
			return nil, invalid("daily_schedules", "day %s: unknown schedule type %q", in.Date, in.ScheduleType)
		}
		if in.LeaveType == "" {
			in.LeaveType = lt
		} else if !in.LeaveType.Valid() {
			return nil, invalid("daily_schedules", "day %s: unknown leave type %q", in.Date, in.LeaveType)
		}
		out[i] = in
	}
	return out, nil
}

func totals(inputs []ScheduleInput) (days, hours float64) {
	for _, in := range inputs {
		days += in.ScheduleType.Days().InexactFloat64()
		hours += in.ScheduleType.Hours()
	}
	return days, hours
}

// =============================================================================
// READS
// =============================================================================

// Get returns a request with its schedules.
func (s *RequestService) Get(ctx context.Context, id string) (*Request, error) {
	rec, err := s.records.GetByID(ctx, Requests, id)
	if err != nil {
		return nil, err
	}
	req, err := decodeOne[Request](rec)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, &record.NotFoundError{Collection: Requests, ID: id}
	}
	rows, err := s.schedules.ForRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	req.DailySchedules = rows
	return req, nil
}

// ListForUser returns a requester's requests, newest first.
func (s *RequestService) ListForUser(ctx context.Context, userID string) ([]Request, error) {
	reqs, err := s.find(ctx, record.Eq("requester_id", userID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CreatedAt.After(reqs[j].CreatedAt) })
	return reqs, nil
}

// PendingForManager returns pending requests where managerID is the manager
// or the executive manager, oldest first.
func (s *RequestService) PendingForManager(ctx context.Context, managerID string) ([]Request, error) {
	reqs, err := s.find(ctx,
		record.Eq("status", StatusPending),
		record.Or(
			record.Eq("manager_id", managerID),
			record.Eq("executive_manager_id", managerID),
		),
	)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

// List returns requests matching filters, newest first.
func (s *RequestService) List(ctx context.Context, filters record.Filters) ([]Request, error) {
	reqs, err := s.find(ctx, record.Where(filters))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CreatedAt.After(reqs[j].CreatedAt) })
	return reqs, nil
}

// find queries requests and joins their schedules in one extra scan.
func (s *RequestService) find(ctx context.Context, preds ...record.Predicate) ([]Request, error) {
	recs, err := s.records.Query(ctx, Requests, preds...)
	if err != nil {
		return nil, err
	}
	reqs, err := decodeAll[Request](recs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(reqs))
	for i := range reqs {
		ids[i] = reqs[i].ID
	}
	grouped, err := s.schedules.ForRequests(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		reqs[i].DailySchedules = grouped[reqs[i].ID]
	}
	return reqs, nil
}

// =============================================================================
// REVIEW
// =============================================================================

// Approve moves a pending request to approved.
func (s *RequestService) Approve(ctx context.Context, id, approverID string) (*Request, error) {
	return s.review(ctx, id, StatusApproved, record.Record{
		"reviewer_id": approverID,
	})
}

// Decline moves a pending request to declined and records the reason.
func (s *RequestService) Decline(ctx context.Context, id, declinerID, reason string) (*Request, error) {
	return s.review(ctx, id, StatusDeclined, record.Record{
		"reviewer_id":    declinerID,
		"decline_reason": reason,
	})
}

func (s *RequestService) review(ctx context.Context, id string, to Status, fields record.Record) (*Request, error) {
	fields["status"] = string(to)
	fields["reviewed_at"] = record.Timestamp(s.now())

	updated, err := s.records.UpdateWhere(ctx, Requests, id, requirePending(id, to), fields)
	if err != nil {
		return nil, err
	}
	req, err := decodeOne[Request](updated)
	if err != nil {
		return nil, err
	}
	if req.DailySchedules, err = s.schedules.ForRequest(ctx, id); err != nil {
		return nil, err
	}

	s.recorder.Transition(to)
	s.logger.Info("request reviewed",
		zap.String("pto_request_id", id),
		zap.String("status", string(to)),
		zap.String("reviewer_id", req.ReviewerID),
	)

	ev := RequestApproved
	if to == StatusDeclined {
		ev = RequestDeclined
	}
	s.bus.Publish(ctx, Event{Type: ev, Request: req, ActorID: req.ReviewerID})
	return req, nil
}

// requirePending guards a write against a request that left pending.
func requirePending(id string, to Status) func(record.Record) error {
	return func(existing record.Record) error {
		if from := Status(existing.String("status")); from != StatusPending {
			return &TransitionError{RequestID: id, From: from, To: to}
		}
		return nil
	}
}

// =============================================================================
// EDIT AND DELETE
// =============================================================================

// Update edits a pending request. Totals follow the schedules.
func (s *RequestService) Update(ctx context.Context, id string, in UpdateRequestInput) (*Request, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return nil, &TransitionError{RequestID: id, From: current.Status, To: StatusPending}
	}

	lt, start, end := current.LeaveType, current.StartDate, current.EndDate
	if in.LeaveType != nil {
		lt = *in.LeaveType
	}
	if in.StartDate != nil {
		start = *in.StartDate
	}
	if in.EndDate != nil {
		end = *in.EndDate
	}

	replace := in.DailySchedules != nil
	inputs := in.DailySchedules
	if !replace {
		inputs = make([]ScheduleInput, len(current.DailySchedules))
		for i, ds := range current.DailySchedules {
			inputs[i] = ScheduleInput{Date: ds.Date, ScheduleType: ds.ScheduleType, LeaveType: ds.LeaveType}
		}
	}
	inputs, err = validateSchedules(lt, start, end, inputs)
	if err != nil {
		return nil, err
	}

	days, hours := totals(inputs)
	fields := record.Record{
		"leave_type":  string(lt),
		"start_date":  start,
		"end_date":    end,
		"total_days":  days,
		"total_hours": hours,
	}
	if in.Reason != nil {
		fields["reason"] = *in.Reason
	}

	// New rows go in before the request changes. Until the old rows are
	// pruned the request reads with both sets, never with none.
	var written []DailySchedule
	if replace {
		draft := *current
		draft.LeaveType = lt
		if written, err = s.schedules.CreateForRequest(ctx, &draft, inputs); err != nil {
			s.pruneSchedules(ctx, id, current.DailySchedules)
			return nil, fmt.Errorf("storing schedules for request %s: %w", id, err)
		}
	}

	updated, err := s.records.UpdateWhere(ctx, Requests, id, requirePending(id, StatusPending), fields)
	if err != nil {
		if replace {
			s.pruneSchedules(ctx, id, current.DailySchedules)
		}
		return nil, err
	}
	req, err := decodeOne[Request](updated)
	if err != nil {
		return nil, err
	}

	if replace {
		s.pruneSchedules(ctx, id, written)
		req.DailySchedules = written
	} else {
		req.DailySchedules = current.DailySchedules
	}

	s.logger.Info("request updated", zap.String("pto_request_id", id), zap.Bool("schedules_replaced", replace))
	s.bus.Publish(ctx, Event{Type: RequestUpdated, Request: req, ActorID: req.RequesterID})
	return req, nil
}

// Delete removes a request. Its schedules are kept for audit.
// pruneSchedules removes the rows of requestID that are not in keep.
func (s *RequestService) pruneSchedules(ctx context.Context, requestID string, keep []DailySchedule) {
	failed, err := s.schedules.deleteForRequest(ctx, requestID, keep)
	if err != nil || failed > 0 {
		s.logger.Warn("stale schedules left behind",
			zap.String("pto_request_id", requestID),
			zap.Int("count", failed),
			zap.Error(err),
		)
	}
}

func (s *RequestService) Delete(ctx context.Context, id string) (bool, error) {
	rec, err := s.records.GetByID(ctx, Requests, id)
	if err != nil {
		return false, err
	}
	req, err := decodeOne[Request](rec)
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, &record.NotFoundError{Collection: Requests, ID: id}
	}
	if !s.records.Delete(ctx, Requests, id) {
		return false, nil
	}
	s.logger.Info("request deleted", zap.String("pto_request_id", id), zap.String("status", string(req.Status)))
	s.bus.Publish(ctx, Event{Type: RequestDeleted, Request: req})
	return true, nil
}
