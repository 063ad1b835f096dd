package pto

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/pto-service/record"
)

// Deps are the collaborators of the PTO services. Only Records is required.
type Deps struct {
	Records     *record.Store
	Directory   Directory
	Notifier    Notifier
	Recorder    Recorder
	Logger      *zap.Logger
	Now         func() time.Time
	MaxAttempts int
}

// Service bundles the PTO services sharing one store and one event bus.
type Service struct {
	Users     *UserService
	Teams     *TeamService
	Requests  *RequestService
	Schedules *ScheduleService
	Balances  *BalanceCalculator
	Outbox    *Outbox // nil when no notifier is configured
	Bus       *Bus
}

// New constructs the services and subscribes the post-commit listeners:
// balance recalculation on create, approve, update and delete, and the
// integration outbox on approve.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}

	bus := NewBus(d.Logger.Named("events"))
	balances := NewBalanceCalculator(d.Records, d.Logger.Named("balance"))
	schedules := NewScheduleService(d.Records, d.Logger.Named("schedules"))
	users := NewUserService(d.Records, d.Directory, balances, d.Logger.Named("users"))

	svc := &Service{
		Users:     users,
		Teams:     NewTeamService(d.Records, users, d.Logger.Named("teams")),
		Requests:  NewRequestService(d.Records, schedules, bus, d.Recorder, d.Logger.Named("requests"), d.Now),
		Schedules: schedules,
		Balances:  balances,
		Bus:       bus,
	}

	recalc := func(ctx context.Context, ev Event) error {
		_, err := balances.Recalculate(ctx, ev.Request.RequesterID)
		return err
	}
	for _, t := range []EventType{RequestCreated, RequestApproved, RequestUpdated, RequestDeleted} {
		bus.Subscribe(t, "balance", recalc)
	}

	if d.Notifier != nil {
		svc.Outbox = NewOutbox(d.Records, d.Notifier, d.MaxAttempts, d.Recorder, d.Logger.Named("outbox"), d.Now)
		bus.Subscribe(RequestApproved, "integration", func(ctx context.Context, ev Event) error {
			_, err := svc.Outbox.Enqueue(ctx, ev.Request)
			return err
		})
	}
	return svc
}
