//go:build integration

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/models"
)

func setupTestContainer(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	store, err := NewPostgresStore(ctx, config.DatabaseConfig{
		Host: host, Port: port.Int(), Name: "testdb", User: "test", Password: "test", MaxConns: 5,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	applied, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	return store
}

func vec(dim int, v float32) []float32 {
	out := make([]float32, dim)
	out[0] = v
	return out
}

func TestPostgresStore(t *testing.T) {
	store := setupTestContainer(t)
	ctx := context.Background()

	t.Run("migrations are idempotent", func(t *testing.T) {
		again, err := store.Migrate(ctx)
		require.NoError(t, err)
		assert.Empty(t, again)

		versions, err := store.MigrationsApplied(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"001_identities.sql", "002_schedules.sql", "003_settings.sql"}, versions)
	})

	t.Run("seeded schedule and settings", func(t *testing.T) {
		schedules, err := store.ListActiveSchedules(ctx)
		require.NoError(t, err)
		require.Len(t, schedules, 1)
		sc := schedules[0]
		assert.Equal(t, "Daily Attendance", sc.Name)
		assert.Equal(t, models.ScheduleKindRecurringWeekly, sc.Kind)
		assert.Equal(t, models.MustTimeOfDay("09:00"), sc.Start)
		assert.Equal(t, models.MustTimeOfDay("17:00"), sc.End)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, sc.Weekdays)

		v, err := store.GetSetting(ctx, models.SettingCaptureMode)
		require.NoError(t, err)
		assert.Equal(t, "continuous", v)
	})

	t.Run("identities and signatures", func(t *testing.T) {
		created, err := store.CreateIdentity(ctx, models.Identity{
			ID:          "S001",
			DisplayName: "Alice",
			Role:        models.RoleStudent,
			Status:      models.IdentityStatusActive,
			Signatures:  []models.FaceSignature{{Vector: vec(8, 0.1)}},
		})
		require.NoError(t, err)
		require.Len(t, created.Signatures, 1)
		assert.NotZero(t, created.Signatures[0].Seq)

		_, err = store.CreateIdentity(ctx, models.Identity{ID: "S001", DisplayName: "Dup", Role: models.RoleStudent, Status: models.IdentityStatusActive})
		assert.ErrorIs(t, err, models.ErrDuplicate)

		added, err := store.AddSignature(ctx, models.FaceSignature{IdentityID: "S001", Vector: vec(8, 0.3)})
		require.NoError(t, err)
		assert.Greater(t, added.Seq, created.Signatures[0].Seq)

		_, err = store.AddSignature(ctx, models.FaceSignature{IdentityID: "nobody", Vector: vec(8, 0)})
		assert.ErrorIs(t, err, models.ErrNotFound)

		found, err := store.FindIdentity(ctx, "S001")
		require.NoError(t, err)
		require.Len(t, found.Signatures, 2)
		assert.InDelta(t, 0.3, found.Signatures[1].Vector[0], 1e-6)

		matches, err := store.SearchSignatures(ctx, vec(8, 0.29), 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "S001", matches[0].IdentityID)
		assert.InDelta(t, 0.01, matches[0].Distance, 1e-4)

		require.NoError(t, store.SetIdentityStatus(ctx, "S001", models.IdentityStatusDisabled))
		active, err := store.ListActiveIdentities(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
		require.NoError(t, store.SetIdentityStatus(ctx, "S001", models.IdentityStatusActive))

		_, err = store.FindIdentity(ctx, "nobody")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("attendance upsert keeps one row per key", func(t *testing.T) {
		date := models.Date{Year: 2026, Month: 10, Day: 12}
		ev := models.AttendanceEvent{IdentityID: "S001", Date: date, TimeOfDay: models.MustTimeOfDay("09:00:05"), ScheduleID: 1}

		inserted, err := store.UpsertAttendanceEvent(ctx, ev)
		require.NoError(t, err)
		assert.True(t, inserted)

		ev.ID = uuid.Nil
		ev.TimeOfDay = models.MustTimeOfDay("09:10:00")
		inserted, err = store.UpsertAttendanceEvent(ctx, ev)
		require.NoError(t, err)
		assert.False(t, inserted)

		has, err := store.HasAttendanceToday(ctx, "S001", date, 1)
		require.NoError(t, err)
		assert.True(t, has)

		records, err := store.ListAttendance(ctx, models.AttendanceFilter{Date: &date})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "Alice", records[0].DisplayName)
		assert.Equal(t, "Daily Attendance", records[0].ScheduleName)
		assert.Equal(t, models.MustTimeOfDay("09:10:00"), records[0].TimeOfDay)
	})

	t.Run("concurrent upserts insert once", func(t *testing.T) {
		date := models.Date{Year: 2026, Month: 10, Day: 13}
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.UpsertAttendanceEvent(ctx, models.AttendanceEvent{
					IdentityID: "S001", Date: date, TimeOfDay: models.MustTimeOfDay("10:00"), ScheduleID: 1,
				})
				if assert.NoError(t, err) && ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, inserted)
	})

	t.Run("identity update keeps signatures", func(t *testing.T) {
		updated, err := store.UpdateIdentity(ctx, models.Identity{
			ID: "S001", DisplayName: "Alice Smith", Role: models.RoleEmployee,
			Metadata: []byte(`{"department":"Physics"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "Alice Smith", updated.DisplayName)
		assert.Equal(t, models.RoleEmployee, updated.Role)
		assert.Equal(t, models.IdentityStatusActive, updated.Status)
		assert.Len(t, updated.Signatures, 2)
		assert.JSONEq(t, `{"department":"Physics"}`, string(updated.Metadata))

		_, err = store.UpdateIdentity(ctx, models.Identity{ID: "nobody", DisplayName: "Bob", Role: models.RoleStudent})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("attendance delete frees the key", func(t *testing.T) {
		date := models.Date{Year: 2026, Month: 10, Day: 13}
		records, err := store.ListAttendance(ctx, models.AttendanceFilter{Date: &date})
		require.NoError(t, err)
		require.Len(t, records, 1)

		deleted, err := store.DeleteAttendanceEvent(ctx, records[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "S001", deleted.IdentityID)
		assert.Equal(t, date, deleted.Date)
		assert.Equal(t, int64(1), deleted.ScheduleID)

		has, err := store.HasAttendanceToday(ctx, "S001", date, 1)
		require.NoError(t, err)
		assert.False(t, has)

		_, err = store.DeleteAttendanceEvent(ctx, records[0].ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("schedule crud and soft delete", func(t *testing.T) {
		sc, err := store.CreateSchedule(ctx, models.Schedule{
			Name: "Evening", Kind: models.ScheduleKindFixed,
			Start: models.MustTimeOfDay("18:00"), End: models.MustTimeOfDay("20:00"), IsActive: true,
		})
		require.NoError(t, err)
		assert.Greater(t, sc.ID, int64(1))

		sc.End = models.MustTimeOfDay("21:00")
		_, err = store.UpdateSchedule(ctx, sc)
		require.NoError(t, err)
		got, err := store.GetSchedule(ctx, sc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MustTimeOfDay("21:00"), got.End)

		require.NoError(t, store.DeactivateSchedule(ctx, sc.ID))
		all, err := store.ListSchedules(ctx, true)
		require.NoError(t, err)
		assert.Len(t, all, 2)
		active, err := store.ListActiveSchedules(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)

		assert.ErrorIs(t, store.DeactivateSchedule(ctx, 999), models.ErrNotFound)
	})

	t.Run("closed pool is unavailable", func(t *testing.T) {
		store.Close()
		_, err := store.ListActiveSchedules(ctx)
		assert.True(t, errors.Is(err, models.ErrPersistenceUnavailable), "got %v", err)
	})
}
