package pto

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/pto-service/record"
)

// ScheduleInput is one requested day. LeaveType defaults to the request's.
type ScheduleInput struct {
	Date         string       `json:"date"`
	ScheduleType ScheduleType `json:"schedule_type"`
	LeaveType    LeaveType    `json:"leave_type,omitempty"`
}

// maxConcurrentWrites bounds the schedule writes issued for one request.
const maxConcurrentWrites = 8

// ScheduleService stores the per-day rows of requests.
type ScheduleService struct {
	records *record.Store
	logger  *zap.Logger
}

func NewScheduleService(records *record.Store, logger *zap.Logger) *ScheduleService {
	return &ScheduleService{records: records, logger: logger}
}

// CreateForRequest writes one schedule per input concurrently. Rows copy the
// request's snapshot fields. On failure the rows already written remain.
func (s *ScheduleService) CreateForRequest(ctx context.Context, req *Request, inputs []ScheduleInput) ([]DailySchedule, error) {
	out := make([]DailySchedule, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWrites)
	for i, in := range inputs {
		g.Go(func() error {
			ds := DailySchedule{
				RequestID:    req.ID,
				Date:         in.Date,
				ScheduleType: in.ScheduleType,
				LeaveType:    in.LeaveType,
				Hours:        in.ScheduleType.Hours(),
				Snapshot:     req.Snapshot,
			}
			if ds.LeaveType == "" {
				ds.LeaveType = req.LeaveType
			}
			rec, err := record.From(ds)
			if err != nil {
				return err
			}
			created, err := s.records.Create(gctx, DailySchedules, rec)
			if err != nil {
				return fmt.Errorf("schedule %s: %w", in.Date, err)
			}
			saved, err := decodeOne[DailySchedule](created)
			if err != nil {
				return err
			}
			out[i] = *saved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("writing daily schedules failed",
			zap.String("pto_request_id", req.ID),
			zap.Error(err),
		)
		return nil, err
	}

	sortByDate(out)
	return out, nil
}

// ForRequest returns the schedules of one request ordered by date.
func (s *ScheduleService) ForRequest(ctx context.Context, requestID string) ([]DailySchedule, error) {
	return s.query(ctx, record.Eq("pto_request_id", requestID))
}

// ForRequests returns schedules grouped by request id with one scan.
func (s *ScheduleService) ForRequests(ctx context.Context, requestIDs []string) (map[string][]DailySchedule, error) {
	grouped := make(map[string][]DailySchedule, len(requestIDs))
	if len(requestIDs) == 0 {
		return grouped, nil
	}
	all, err := s.query(ctx, record.Where(record.Filters{"pto_request_id": requestIDs}))
	if err != nil {
		return nil, err
	}
	for _, ds := range all {
		grouped[ds.RequestID] = append(grouped[ds.RequestID], ds)
	}
	return grouped, nil
}

// ForUser returns every schedule row of a requester.
func (s *ScheduleService) ForUser(ctx context.Context, userID string) ([]DailySchedule, error) {
	return s.query(ctx, record.Eq("requester_id", userID))
}

// InRange returns schedules dated within [start, end].
func (s *ScheduleService) InRange(ctx context.Context, start, end string) ([]DailySchedule, error) {
	if _, err := ParseDate(start); err != nil {
		return nil, invalid("start", "not a date: %q", start)
	}
	if _, err := ParseDate(end); err != nil {
		return nil, invalid("end", "not a date: %q", end)
	}
	if start > end {
		return nil, invalid("start", "start date %s is after end date %s", start, end)
	}
	// YYYY-MM-DD sorts lexically in date order.
	return s.query(ctx, func(r record.Record) bool {
		d := r.String("date")
		return d >= start && d <= end
	})
}

// deleteForRequest removes the schedules of a request except those in keep
// and reports how many deletions failed.
func (s *ScheduleService) deleteForRequest(ctx context.Context, requestID string, keep []DailySchedule) (int, error) {
	rows, err := s.ForRequest(ctx, requestID)
	if err != nil {
		return 0, err
	}
	kept := make(map[string]bool, len(keep))
	for _, ds := range keep {
		kept[ds.ID] = true
	}
	failed := 0
	for _, ds := range rows {
		if kept[ds.ID] {
			continue
		}
		if !s.records.Delete(ctx, DailySchedules, ds.ID) {
			failed++
		}
	}
	return failed, nil
}

func (s *ScheduleService) query(ctx context.Context, preds ...record.Predicate) ([]DailySchedule, error) {
	recs, err := s.records.Query(ctx, DailySchedules, preds...)
	if err != nil {
		return nil, err
	}
	out, err := decodeAll[DailySchedule](recs)
	if err != nil {
		return nil, err
	}
	sortByDate(out)
	return out, nil
}

func sortByDate(rows []DailySchedule) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].RequestID < rows[j].RequestID
	})
}
