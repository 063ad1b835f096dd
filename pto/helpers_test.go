package pto_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-service/pto"
	"github.com/warp/pto-service/record"
	"github.com/warp/pto-service/record/kvstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// tickClock moves forward one second on every reading, so creation order is
// visible in timestamps.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fakeDirectory struct {
	mu       sync.Mutex
	current  *pto.Account
	accounts []pto.Account
	err      error
	searches int
}

func (d *fakeDirectory) CurrentUser(context.Context) (*pto.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.current == nil {
		return nil, pto.ErrNoCaller
	}
	acct := *d.current
	return &acct, nil
}

func (d *fakeDirectory) SearchUsers(context.Context, string) ([]pto.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.searches++
	if d.err != nil {
		return nil, d.err
	}
	return append([]pto.Account(nil), d.accounts...), nil
}

func (d *fakeDirectory) searchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.searches
}

var (
	errHookDown  = errors.New("hook unavailable")
	errKVRefused = errors.New("write refused")
)

// prefixFailKV refuses writes under prefix while armed.
type prefixFailKV struct {
	*kvstore.Memory
	mu     sync.Mutex
	prefix string
	armed  bool
}

func (k *prefixFailKV) arm(prefix string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.prefix, k.armed = prefix, true
}

func (k *prefixFailKV) Set(ctx context.Context, key string, value []byte) error {
	k.mu.Lock()
	refuse := k.armed && strings.HasPrefix(key, k.prefix)
	k.mu.Unlock()
	if refuse {
		return errKVRefused
	}
	return k.Memory.Set(ctx, key, value)
}

// fakeNotifier records notices and fails the first failNext deliveries.
type fakeNotifier struct {
	mu       sync.Mutex
	notices  []pto.ApprovalNotice
	failNext int
}

func (n *fakeNotifier) NotifyApproval(_ context.Context, notice pto.ApprovalNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failNext > 0 {
		n.failNext--
		return errHookDown
	}
	n.notices = append(n.notices, notice)
	return nil
}

func (n *fakeNotifier) failFor(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNext = count
}

func (n *fakeNotifier) received() []pto.ApprovalNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pto.ApprovalNotice(nil), n.notices...)
}

type fixture struct {
	svc     *pto.Service
	records *record.Store
	dir     *fakeDirectory
	hook    *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, kvstore.NewMemory())
}

func newFixtureOn(t *testing.T, kv record.KV) *fixture {
	t.Helper()
	clock := &tickClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	records := record.NewStore(kv, pto.Schemas(), record.WithClock(clock.Now))
	dir := &fakeDirectory{}
	hook := &fakeNotifier{}
	svc := pto.New(pto.Deps{
		Records:     records,
		Directory:   dir,
		Notifier:    hook,
		Now:         clock.Now,
		MaxAttempts: 3,
	})
	return &fixture{svc: svc, records: records, dir: dir, hook: hook}
}

func (f *fixture) user(t *testing.T, id, name string) *pto.User {
	t.Helper()
	u, err := f.svc.Users.Create(context.Background(), pto.User{
		ID:          id,
		AccountID:   id,
		DisplayName: name,
		Email:       id + "@example.com",
	})
	require.NoError(t, err)
	return u
}

// submit files a request of one schedule type for every weekday in range.
func (f *fixture) submit(t *testing.T, snap pto.Snapshot, start, end string, st pto.ScheduleType) *pto.Request {
	t.Helper()
	days, err := pto.WorkdaySchedules(start, end, st, pto.LeaveVacation)
	require.NoError(t, err)
	req, err := f.svc.Requests.Create(context.Background(), pto.CreateRequestInput{
		Snapshot:       snap,
		LeaveType:      pto.LeaveVacation,
		StartDate:      start,
		EndDate:        end,
		DailySchedules: days,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) count(t *testing.T, collection string) int {
	t.Helper()
	recs, err := f.records.Query(context.Background(), collection)
	require.NoError(t, err)
	return len(recs)
}

func days(n float64) decimal.Decimal { return decimal.NewFromFloat(n) }

func requireDays(t *testing.T, want float64, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.True(t, days(want).Equal(got), "want %v, got %s %v", want, got, msgAndArgs)
}
