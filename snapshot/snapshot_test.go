package snapshot_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-service/pto"
	"github.com/warp/pto-service/record"
	"github.com/warp/pto-service/record/kvstore"
	"github.com/warp/pto-service/snapshot"
)

func seeded(t *testing.T) (*record.Store, *pto.Service) {
	t.Helper()
	store := record.NewStore(kvstore.NewMemory(), pto.Schemas())
	svc := pto.New(pto.Deps{Records: store})
	ctx := context.Background()

	_, err := svc.Users.Create(ctx, pto.User{ID: "u-1", DisplayName: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	team, err := svc.Teams.Create(ctx, pto.Team{Name: "Platform", ManagerID: "m-1"})
	require.NoError(t, err)
	_, err = svc.Teams.AddMember(ctx, team.ID, "u-1", pto.RoleMember)
	require.NoError(t, err)

	days, err := pto.WorkdaySchedules("2026-03-02", "2026-03-04", pto.FullDay, pto.LeaveVacation)
	require.NoError(t, err)
	_, err = svc.Requests.Create(ctx, pto.CreateRequestInput{
		Snapshot:       pto.Snapshot{RequesterID: "u-1", ManagerID: "m-1"},
		LeaveType:      pto.LeaveVacation,
		StartDate:      "2026-03-02",
		EndDate:        "2026-03-04",
		DailySchedules: days,
	})
	require.NoError(t, err)
	return store, svc
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, name := range []string{"pto.json", "pto.json.zst"} {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A store with a user, a team and a three-day request
			src, _ := seeded(t)
			path := filepath.Join(t.TempDir(), name)

			// WHEN: It is exported and imported into an empty store
			exported, err := snapshot.ExportFile(context.Background(), src, path)
			require.NoError(t, err)
			assert.Equal(t, 1+1+1+3, exported.Count())

			dst := record.NewStore(kvstore.NewMemory(), pto.Schemas())
			imported, err := snapshot.ImportFile(context.Background(), dst, path)
			require.NoError(t, err)
			assert.Equal(t, exported.Count(), imported.Count())

			// THEN: The services over the new store see the same data
			svc := pto.New(pto.Deps{Records: dst})
			reqs, err := svc.Requests.ListForUser(context.Background(), "u-1")
			require.NoError(t, err)
			require.Len(t, reqs, 1)
			assert.Len(t, reqs[0].DailySchedules, 3)
			assert.Equal(t, 3.0, reqs[0].TotalDays)

			managers, err := svc.Users.GetUserManagers(context.Background(), "u-1")
			require.NoError(t, err)
			require.Len(t, managers, 1)
			assert.Equal(t, "m-1", managers[0].ID)
		})
	}
}

func TestCompressedOutputDiffers(t *testing.T) {
	src, _ := seeded(t)
	snap, err := snapshot.Capture(context.Background(), src, time.Now())
	require.NoError(t, err)

	var plain, packed bytes.Buffer
	require.NoError(t, snapshot.Write(&plain, snap, false))
	require.NoError(t, snapshot.Write(&packed, snap, true))

	assert.True(t, strings.HasPrefix(plain.String(), "{"))
	assert.Less(t, packed.Len(), plain.Len())

	back, err := snapshot.Read(&packed, true)
	require.NoError(t, err)
	assert.Equal(t, snap.Count(), back.Count())
}

func TestRestoreRejectsUnknownCollection(t *testing.T) {
	store, _ := seeded(t)
	err := snapshot.Restore(context.Background(), store, &snapshot.Snapshot{
		Version: snapshot.FormatVersion,
		Collections: map[string][]record.Record{
			pto.Users:  {},
			"payslips": {{"payslip_id": "p-1"}},
		},
	})
	assert.True(t, record.IsUnknownCollection(err))

	users, err := store.Query(context.Background(), pto.Users)
	require.NoError(t, err)
	assert.Len(t, users, 1, "nothing is replaced when the snapshot is rejected")
}

func TestRestoreRejectsInvalidRecordBeforeReplacing(t *testing.T) {
	// GIVEN: A snapshot whose earlier collections are valid and whose requests are not
	store, _ := seeded(t)
	ctx := context.Background()

	// WHEN: It is restored
	err := snapshot.Restore(ctx, store, &snapshot.Snapshot{
		Version: snapshot.FormatVersion,
		Collections: map[string][]record.Record{
			pto.Users:    {},
			pto.Teams:    {},
			pto.Requests: {{"pto_request_id": "r-1", "status": 7}},
		},
	})

	// THEN: The snapshot is refused and no collection was touched
	var ve *record.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "status", ve.Field)

	users, err := store.Query(ctx, pto.Users)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	teams, err := store.Query(ctx, pto.Teams)
	require.NoError(t, err)
	assert.Len(t, teams, 1)
}

func TestReadRejectsOtherVersions(t *testing.T) {
	_, err := snapshot.Read(strings.NewReader(`{"version": 7, "collections": {}}`), false)
	assert.ErrorContains(t, err, "unsupported snapshot version 7")

	_, err = snapshot.Read(strings.NewReader(`not json`), false)
	assert.Error(t, err)
}
