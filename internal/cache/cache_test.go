package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/models"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRecordedMarkAndHas(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	r := NewRecorded(client, time.UTC)
	today := models.DateOf(time.Now().UTC())

	has, err := r.Has(ctx, "S001", today, 1)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, r.Mark(ctx, "S001", today, 1))

	has, err = r.Has(ctx, "S001", today, 1)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = r.Has(ctx, "S001", today, 2)
	require.NoError(t, err)
	assert.False(t, has, "other schedule")

	key := recordedKey("S001", today, 1)
	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 24*time.Hour)
}

func TestRecordedForget(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	r := NewRecorded(client, time.UTC)
	today := models.DateOf(time.Now().UTC())

	require.NoError(t, r.Mark(ctx, "S001", today, 1))
	require.NoError(t, r.Mark(ctx, "S002", today, 1))
	require.NoError(t, r.Forget(ctx, "S001", today, 1))

	assert.False(t, mr.Exists(recordedKey("S001", today, 1)))
	assert.True(t, mr.Exists(recordedKey("S002", today, 1)))
	assert.NoError(t, r.Forget(ctx, "S001", today, 1), "forgetting twice is fine")

	var nilCache *Recorded
	assert.NoError(t, nilCache.Forget(ctx, "S001", today, 1))
}

func TestRecordedExpiresAtEndOfDay(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	r := NewRecorded(client, time.UTC)
	today := models.DateOf(time.Now().UTC())

	require.NoError(t, r.Mark(ctx, "S001", today, 1))
	mr.FastForward(25 * time.Hour)

	has, err := r.Has(ctx, "S001", today, 1)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRecordedSkipsPastDates(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	r := NewRecorded(client, time.UTC)

	past := models.DateOf(time.Now().UTC().AddDate(0, 0, -2))
	require.NoError(t, r.Mark(ctx, "S001", past, 1))
	assert.False(t, mr.Exists(recordedKey("S001", past, 1)))
}

func TestRecordedNilSafe(t *testing.T) {
	ctx := context.Background()
	var r *Recorded
	has, err := r.Has(ctx, "S001", models.Date{}, 1)
	assert.NoError(t, err)
	assert.False(t, has)
	assert.NoError(t, r.Mark(ctx, "S001", models.Date{}, 1))
	assert.NoError(t, r.Ping(ctx))

	r = NewRecorded(nil, nil)
	assert.NoError(t, r.Mark(ctx, "S001", models.Date{}, 1))
}

func TestRecordedSurfacesRedisErrors(t *testing.T) {
	mr, client := newClient(t)
	r := NewRecorded(client, time.UTC)
	mr.Close()

	_, err := r.Has(context.Background(), "S001", models.DateOf(time.Now()), 1)
	assert.Error(t, err)
}

func TestNotifierDeliversChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newClient(t)
	n := NewNotifier(client)

	got := make(chan string, 1)
	require.NoError(t, n.Listen(ctx, func(_ context.Context, id string) { got <- id }))
	require.NoError(t, n.GalleryChanged(ctx, "S001"))

	select {
	case id := <-got:
		assert.Equal(t, "S001", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestNotifierNilSafe(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.GalleryChanged(context.Background(), "S001"))
	assert.NoError(t, n.Listen(context.Background(), func(context.Context, string) {}))
}
