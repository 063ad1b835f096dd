package pto

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/pto-service/record"
)

// Balance is a user's allocation, usage and remainder per leave type.
type Balance struct {
	UserID    string    `json:"user_id"`
	Allocated DayCounts `json:"pto_allocation"`
	Used      DayCounts `json:"used_pto_days_in_period"`
	Remaining DayCounts `json:"remaining_pto_days_in_period"`
}

// BalanceCalculator derives used and remaining days from approved requests.
//
// Recalculate is a full recomputation, never incremental: running it twice
// with no request change in between yields the same maps, and any approve,
// decline, edit or delete corrects the stored balance on the next run.
type BalanceCalculator struct {
	records *record.Store
	logger  *zap.Logger
}

func NewBalanceCalculator(records *record.Store, logger *zap.Logger) *BalanceCalculator {
	return &BalanceCalculator{records: records, logger: logger}
}

// Recalculate recomputes and stores the balance of userID.
func (b *BalanceCalculator) Recalculate(ctx context.Context, userID string) (*Balance, error) {
	rec, err := b.records.GetByID(ctx, Users, userID)
	if err != nil {
		return nil, err
	}
	user, err := decodeOne[User](rec)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &record.NotFoundError{Collection: Users, ID: userID}
	}

	used, err := b.usedDays(ctx, userID)
	if err != nil {
		return nil, err
	}
	remaining := remainingDays(user.Allocation, used)

	if _, err := b.records.Update(ctx, Users, userID, record.Record{
		"used_pto_days_in_period":      used,
		"remaining_pto_days_in_period": remaining,
	}); err != nil {
		return nil, err
	}

	b.logger.Debug("balance recalculated",
		zap.String("user_id", userID),
		zap.Stringer("used_vacation", used.Get(LeaveVacation)),
		zap.Stringer("remaining_vacation", remaining.Get(LeaveVacation)),
	)
	return &Balance{UserID: userID, Allocated: user.Allocation, Used: used, Remaining: remaining}, nil
}

// usedDays sums the schedules of every approved request of userID. A row
// without its own leave type counts against the request's.
func (b *BalanceCalculator) usedDays(ctx context.Context, userID string) (DayCounts, error) {
	used := zeroCounts()

	recs, err := b.records.Query(ctx, Requests, record.Where(record.Filters{
		"requester_id": userID,
		"status":       string(StatusApproved),
	}))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return used, nil
	}

	leaveByRequest := make(map[string]LeaveType, len(recs))
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		id := r.String("pto_request_id")
		leaveByRequest[id] = LeaveType(r.String("leave_type"))
		ids = append(ids, id)
	}

	rows, err := b.records.Query(ctx, DailySchedules, record.In("pto_request_id", ids...))
	if err != nil {
		return nil, err
	}
	schedules, err := decodeAll[DailySchedule](rows)
	if err != nil {
		return nil, err
	}
	for _, ds := range schedules {
		lt := ds.LeaveType
		if lt == "" {
			lt = leaveByRequest[ds.RequestID]
		}
		used[lt] = used.Get(lt).Add(ds.ScheduleType.Days())
	}
	return used, nil
}

func zeroCounts() DayCounts {
	out := make(DayCounts, len(LeaveTypes))
	for _, lt := range LeaveTypes {
		out[lt] = decimal.Zero
	}
	return out
}

// remainingDays is allocation minus used for every leave type either side
// knows about, plus the standard types.
func remainingDays(allocated, used DayCounts) DayCounts {
	out := DayCounts{}
	for _, lt := range LeaveTypes {
		out[lt] = allocated.Get(lt).Sub(used.Get(lt))
	}
	for lt := range allocated {
		out[lt] = allocated.Get(lt).Sub(used.Get(lt))
	}
	for lt := range used {
		out[lt] = allocated.Get(lt).Sub(used.Get(lt))
	}
	return out
}
