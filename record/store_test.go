package record_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-service/record"
	"github.com/warp/pto-service/record/kvstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testRegistry() *record.Registry {
	return record.NewRegistry(
		record.Collection{
			Name:     "widgets",
			Singular: "widget",
			Fields: record.Schema{
				"widget_id":  record.TypeString,
				"name":       record.TypeString,
				"size":       record.TypeNumber,
				"status":     record.TypeString,
				"tags":       record.TypeJSON,
				"created_at": record.TypeDateTime,
				"updated_at": record.TypeDateTime,
			},
		},
		record.Collection{Name: "gadgets", Singular: "gadget"},
	)
}

// frozenClock returns the same instant until advanced.
type frozenClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *frozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *frozenClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// failingKV fails every operation named in fail.
type failingKV struct {
	*kvstore.Memory
	fail map[string]bool
	sets int
}

var errBackend = errors.New("backend unavailable")

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.fail["get"] {
		return nil, errBackend
	}
	return f.Memory.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	f.sets++
	if f.fail["set"] {
		return errBackend
	}
	return f.Memory.Set(ctx, key, value)
}

func (f *failingKV) Delete(ctx context.Context, key string) error {
	if f.fail["delete"] {
		return errBackend
	}
	return f.Memory.Delete(ctx, key)
}

func (f *failingKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	if f.fail["keys"] {
		return nil, errBackend
	}
	return f.Memory.Keys(ctx, prefix)
}

func newTestStore(t *testing.T) (*record.Store, *kvstore.Memory, *frozenClock) {
	t.Helper()
	kv := kvstore.NewMemory()
	clock := &frozenClock{t: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
	return record.NewStore(kv, testRegistry(), record.WithClock(clock.Now)), kv, clock
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_AssignsIDAndTimestamps(t *testing.T) {
	store, kv, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, "widgets", record.Record{"name": "bolt", "size": 3})
	require.NoError(t, err)

	id := rec.String("widget_id")
	assert.Len(t, id, 36, "uuid v4 string")
	assert.Equal(t, "2025-03-10T09:00:00Z", rec.String("created_at"))
	assert.Equal(t, rec.String("created_at"), rec.String("updated_at"))

	raw, err := kv.Get(ctx, "widgets:"+id)
	require.NoError(t, err)
	assert.NotNil(t, raw, "stored under <collection>:<id>")
}

func TestCreate_KeepsProvidedID(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, "widgets", record.Record{"widget_id": "w-1", "name": "bolt"})
	require.NoError(t, err)
	assert.Equal(t, "w-1", rec.String("widget_id"))

	got, err := store.GetByID(ctx, "widgets", "w-1")
	require.NoError(t, err)
	assert.Equal(t, "bolt", got.String("name"))
}

func TestCreate_RejectsExistingID(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "widgets", record.Record{"widget_id": "w-1", "name": "bolt"})
	require.NoError(t, err)

	_, err = store.Create(ctx, "widgets", record.Record{"widget_id": "w-1", "name": "nut"})

	var ce *record.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "w-1", ce.ID)
	got, err := store.GetByID(ctx, "widgets", "w-1")
	require.NoError(t, err)
	assert.Equal(t, "bolt", got.String("name"), "stored record is untouched")
}

func TestCreate_DoesNotMutateInput(t *testing.T) {
	store, _, _ := newTestStore(t)
	in := record.Record{"name": "bolt"}

	_, err := store.Create(context.Background(), "widgets", in)
	require.NoError(t, err)
	assert.NotContains(t, in, "widget_id")
}

func TestCreate_UnknownCollectionFailsBeforeIO(t *testing.T) {
	kv := &failingKV{Memory: kvstore.NewMemory()}
	store := record.NewStore(kv, testRegistry())

	_, err := store.Create(context.Background(), "nope", record.Record{"x": 1})

	assert.True(t, record.IsUnknownCollection(err))
	assert.Zero(t, kv.sets)
}

func TestCreate_ValidationFailurePerformsNoWrite(t *testing.T) {
	kv := &failingKV{Memory: kvstore.NewMemory()}
	store := record.NewStore(kv, testRegistry())

	_, err := store.Create(context.Background(), "widgets", record.Record{"size": "large"})

	var ve *record.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "size", ve.Field)
	assert.Zero(t, kv.sets)
}

func TestCreate_WriteFailurePropagates(t *testing.T) {
	kv := &failingKV{Memory: kvstore.NewMemory(), fail: map[string]bool{"set": true}}
	store := record.NewStore(kv, testRegistry())

	_, err := store.Create(context.Background(), "widgets", record.Record{"name": "bolt"})

	assert.True(t, record.IsStorage(err))
	assert.ErrorIs(t, err, errBackend)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_MissingIDIsNotFoundAndWritesNothing(t *testing.T) {
	kv := &failingKV{Memory: kvstore.NewMemory()}
	store := record.NewStore(kv, testRegistry())

	_, err := store.Update(context.Background(), "widgets", "ghost", record.Record{"name": "x"})

	var nf *record.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.ID)
	assert.Zero(t, kv.sets)
}

func TestUpdate_PartialMergePreservesUnnamedFields(t *testing.T) {
	// GIVEN: a stored widget
	store, _, clock := newTestStore(t)
	ctx := context.Background()
	created, err := store.Create(ctx, "widgets", record.Record{
		"name": "bolt", "size": 3, "status": "new", "tags": []any{"a"},
	})
	require.NoError(t, err)
	id := created.String("widget_id")

	// WHEN: updating one field
	clock.Advance(time.Minute)
	updated, err := store.Update(ctx, "widgets", id, record.Record{"status": "used"})
	require.NoError(t, err)

	// THEN: only the named field changes
	got, err := store.GetByID(ctx, "widgets", id)
	require.NoError(t, err)
	assert.Equal(t, "used", got.String("status"))
	assert.Equal(t, "bolt", got.String("name"))
	assert.EqualValues(t, 3, got["size"])
	assert.Equal(t, []any{"a"}, got["tags"])
	assert.Equal(t, created.String("created_at"), got.String("created_at"))
	assert.Equal(t, "2025-03-10T09:01:00Z", updated.String("updated_at"))
}

func TestUpdate_UpdatedAtAdvancesWithFrozenClock(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	created, err := store.Create(ctx, "widgets", record.Record{"name": "bolt"})
	require.NoError(t, err)
	id := created.String("widget_id")

	prev, _ := record.ParseTime(created.String("updated_at"))
	for i := 0; i < 3; i++ {
		updated, err := store.Update(ctx, "widgets", id, record.Record{"size": i})
		require.NoError(t, err)
		next, ok := record.ParseTime(updated.String("updated_at"))
		require.True(t, ok)
		assert.True(t, next.After(prev), "updated_at must advance")
		prev = next
	}
}

func TestUpdate_CannotChangePrimaryKey(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	created, err := store.Create(ctx, "widgets", record.Record{"widget_id": "w-1"})
	require.NoError(t, err)

	updated, err := store.Update(ctx, "widgets", created.String("widget_id"), record.Record{"widget_id": "w-2"})
	require.NoError(t, err)
	assert.Equal(t, "w-1", updated.String("widget_id"))
}

func TestUpdate_RevalidatesMergedRecord(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	created, err := store.Create(ctx, "widgets", record.Record{"name": "bolt"})
	require.NoError(t, err)

	_, err = store.Update(ctx, "widgets", created.String("widget_id"), record.Record{"size": "huge"})
	assert.True(t, record.IsValidation(err))

	got, _ := store.GetByID(ctx, "widgets", created.String("widget_id"))
	assert.NotContains(t, got, "size")
}

func TestUpdate_ConcurrentUpdatesDoNotLoseFields(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	created, err := store.Create(ctx, "widgets", record.Record{"name": "bolt"})
	require.NoError(t, err)
	id := created.String("widget_id")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, "widgets", id, record.Record{fmt.Sprintf("f%d", i): i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, _ := store.GetByID(ctx, "widgets", id)
	for i := 0; i < 20; i++ {
		assert.Contains(t, got, fmt.Sprintf("f%d", i))
	}
}

// =============================================================================
// READ / DELETE / QUERY
// =============================================================================

func TestGetByID_MissingReturnsNil(t *testing.T) {
	store, _, _ := newTestStore(t)
	got, err := store.GetByID(context.Background(), "widgets", "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetByID_SwallowsBackendErrors(t *testing.T) {
	kv := &failingKV{Memory: kvstore.NewMemory(), fail: map[string]bool{"get": true}}
	store := record.NewStore(kv, testRegistry())

	got, err := store.GetByID(context.Background(), "widgets", "w-1")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelete_ReportsSuccessFlag(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	created, err := store.Create(ctx, "widgets", record.Record{"name": "bolt"})
	require.NoError(t, err)

	assert.True(t, store.Delete(ctx, "widgets", created.String("widget_id")))
	got, _ := store.GetByID(ctx, "widgets", created.String("widget_id"))
	assert.Nil(t, got)

	failing := record.NewStore(&failingKV{Memory: kvstore.NewMemory(), fail: map[string]bool{"delete": true}}, testRegistry())
	assert.False(t, failing.Delete(ctx, "widgets", "w-1"))
	assert.False(t, failing.Delete(ctx, "nope", "w-1"))
}

func TestQuery_ScansOnlyItsCollection(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, "widgets", record.Record{"name": name})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, "gadgets", record.Record{"name": "other"})
	require.NoError(t, err)

	all, err := store.Query(ctx, "widgets")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestQuery_FiltersWithMembership(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	for i, status := range []string{"pending", "approved", "declined", "pending"} {
		_, err := store.Create(ctx, "widgets", record.Record{"status": status, "size": i})
		require.NoError(t, err)
	}

	got, err := store.Query(ctx, "widgets", record.Where(record.Filters{
		"status": []string{"pending", "approved"},
	}))
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = store.Query(ctx, "widgets", record.Where(record.Filters{"status": "pending", "size": 3}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 3, got[0]["size"])

	got, err = store.FindByField(ctx, "widgets", "status", "declined")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQuery_ListingFailureYieldsEmpty(t *testing.T) {
	store := record.NewStore(&failingKV{Memory: kvstore.NewMemory(), fail: map[string]bool{"keys": true}}, testRegistry())
	got, err := store.Query(context.Background(), "widgets")
	assert.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// REPLACE
// =============================================================================

func TestReplace_OverwritesCollection(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "widgets", record.Record{"name": "old"})
	require.NoError(t, err)

	err = store.Replace(ctx, "widgets", []record.Record{
		{"widget_id": "w-1", "name": "new-1"},
		{"widget_id": "w-2", "name": "new-2"},
	})
	require.NoError(t, err)

	all, err := store.Query(ctx, "widgets")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "w-1", all[0].String("widget_id"))
}

func TestReplace_InvalidRecordLeavesCollectionUntouched(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "widgets", record.Record{"name": "keep"})
	require.NoError(t, err)

	err = store.Replace(ctx, "widgets", []record.Record{{"name": 12}})
	assert.True(t, record.IsValidation(err))

	all, _ := store.Query(ctx, "widgets")
	require.Len(t, all, 1)
	assert.Equal(t, "keep", all[0].String("name"))
}

func TestObserver_SeesOperations(t *testing.T) {
	var ops []string
	store := record.NewStore(kvstore.NewMemory(), testRegistry(), record.WithObserver(func(c, op string, err error) {
		ops = append(ops, c+"/"+op)
	}))
	ctx := context.Background()

	rec, err := store.Create(ctx, "widgets", record.Record{})
	require.NoError(t, err)
	_, _ = store.GetByID(ctx, "widgets", rec.String("widget_id"))
	_, _ = store.Query(ctx, "widgets")

	assert.Equal(t, []string{"widgets/create", "widgets/get", "widgets/query"}, ops)
}
