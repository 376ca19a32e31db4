package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/storage/memstore"
)

func enrollReq(id string, vec ...float32) EnrollRequest {
	return EnrollRequest{IdentityID: id, DisplayName: "Person " + id, Role: models.RoleStudent, Signature: vec}
}

func TestEnrollPublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New(), 2)
	before := g.Snapshot()

	ident, err := g.Enroll(ctx, enrollReq("S001", 0.1, 0.2))
	require.NoError(t, err)
	assert.Equal(t, models.IdentityStatusActive, ident.Status)

	entries := g.AllActive()
	require.Len(t, entries, 1)
	assert.Equal(t, "S001", entries[0].IdentityID)
	assert.Equal(t, []float32{0.1, 0.2}, entries[0].Vector)

	assert.Greater(t, g.Snapshot().Version(), before.Version())
	assert.Zero(t, before.Len(), "old snapshot must stay untouched")
}

func TestEnrollDuplicate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	g := New(store, 0)

	_, err := g.Enroll(ctx, enrollReq("S001", 1))
	require.NoError(t, err)

	_, err = g.Enroll(ctx, enrollReq("S001", 2))
	var dup *DuplicateIdentityError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "S001", dup.IdentityID)

	// Disabled identities still block reuse of their id.
	require.NoError(t, g.Disable(ctx, "S001"))
	_, err = g.Enroll(ctx, enrollReq("S001", 3))
	assert.ErrorAs(t, err, &dup)
}

func TestEnrollRejectsBadVectors(t *testing.T) {
	g := New(memstore.New(), 3)

	_, err := g.Enroll(context.Background(), enrollReq("S001"))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.Enroll(context.Background(), enrollReq("S001", 1, 2))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestEnrollStoreUnavailable(t *testing.T) {
	store := memstore.New()
	store.FindIdentityError = fmt.Errorf("%w: dial tcp", models.ErrPersistenceUnavailable)
	g := New(store, 0)

	_, err := g.Enroll(context.Background(), enrollReq("S001", 1))
	assert.ErrorIs(t, err, models.ErrPersistenceUnavailable)
	assert.Zero(t, g.Snapshot().Len())
}

func TestAddSignature(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New(), 0)

	_, err := g.AddSignature(ctx, "ghost", []float32{1}, "")
	var unknown *UnknownIdentityError
	require.ErrorAs(t, err, &unknown)

	_, err = g.Enroll(ctx, enrollReq("S001", 1))
	require.NoError(t, err)
	_, err = g.Enroll(ctx, enrollReq("S002", 2))
	require.NoError(t, err)

	sig, err := g.AddSignature(ctx, "S001", []float32{3}, "faces/S001/2.jpg")
	require.NoError(t, err)
	assert.Equal(t, "S001", sig.IdentityID)

	ids := make([]string, 0)
	for _, e := range g.AllActive() {
		ids = append(ids, e.IdentityID)
	}
	assert.Equal(t, []string{"S001", "S002", "S001"}, ids)
}

func TestAddSignatureToDisabledIdentityStaysHidden(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New(), 0)
	_, err := g.Enroll(ctx, enrollReq("S001", 1))
	require.NoError(t, err)
	require.NoError(t, g.Disable(ctx, "S001"))

	_, err = g.AddSignature(ctx, "S001", []float32{2}, "")
	require.NoError(t, err)
	assert.Empty(t, g.AllActive())
}

func TestDisableIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New(), 0)
	_, err := g.Enroll(ctx, enrollReq("S001", 1))
	require.NoError(t, err)

	require.NoError(t, g.Disable(ctx, "S001"))
	v := g.Snapshot().Version()
	require.NoError(t, g.Disable(ctx, "S001"))
	assert.Equal(t, v, g.Snapshot().Version())
	assert.Empty(t, g.AllActive())

	status, err := g.Status(ctx, "S001")
	require.NoError(t, err)
	assert.Equal(t, models.IdentityStatusDisabled, status)

	var unknown *UnknownIdentityError
	assert.ErrorAs(t, g.Disable(ctx, "nobody"), &unknown)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	g := New(store, 0)
	_, err := g.Enroll(ctx, enrollReq("S001", 1, 2))
	require.NoError(t, err)
	before := g.Snapshot()

	ident, err := g.Update(ctx, "S001", IdentityUpdate{DisplayName: "Alice", Metadata: []byte(`{"class_section":"10B"}`)})
	require.NoError(t, err)
	assert.Equal(t, "Alice", ident.DisplayName)
	assert.Equal(t, models.RoleStudent, ident.Role, "empty role keeps the current one")

	snap := g.Snapshot()
	assert.Greater(t, snap.Version(), before.Version())
	assert.False(t, snap.BuiltAt().Before(before.BuiltAt()))
	assert.Equal(t, 2, snap.Len(), "signatures stay matchable")
	published, ok := snap.Identity("S001")
	require.True(t, ok)
	assert.Equal(t, "Alice", published.DisplayName)
	old, _ := before.Identity("S001")
	assert.Equal(t, "Person S001", old.DisplayName)

	_, err = g.Update(ctx, "nobody", IdentityUpdate{DisplayName: "Bob"})
	var unknown *UnknownIdentityError
	assert.ErrorAs(t, err, &unknown)
}

func TestUpdateDisabledIdentityStaysHidden(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	g := New(store, 0)
	_, err := g.Enroll(ctx, enrollReq("S001", 1))
	require.NoError(t, err)
	require.NoError(t, g.Disable(ctx, "S001"))

	ident, err := g.Update(ctx, "S001", IdentityUpdate{DisplayName: "Alice", Role: models.RoleEmployee})
	require.NoError(t, err)
	assert.Equal(t, models.IdentityStatusDisabled, ident.Status)
	assert.Equal(t, models.RoleEmployee, ident.Role)
	_, ok := g.Snapshot().Identity("S001")
	assert.False(t, ok)
	assert.Zero(t, g.Snapshot().Len())

	stored, err := store.FindIdentity(ctx, "S001")
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.DisplayName)
}

func TestUpdateStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	g := New(store, 0)
	_, err := g.Enroll(ctx, enrollReq("S001", 1))
	require.NoError(t, err)
	v := g.Snapshot().Version()

	store.SetStatusError = fmt.Errorf("%w: dial tcp", models.ErrPersistenceUnavailable)
	_, err = g.Update(ctx, "S001", IdentityUpdate{DisplayName: "Alice"})
	assert.ErrorIs(t, err, models.ErrPersistenceUnavailable)
	assert.Equal(t, v, g.Snapshot().Version())
}

func TestReloadReadsStore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.CreateIdentity(ctx, models.Identity{
		ID:         "E100",
		Status:     models.IdentityStatusActive,
		Signatures: []models.FaceSignature{{Vector: []float32{1, 0}}, {Vector: []float32{0, 1}}},
	})
	require.NoError(t, err)
	_, err = store.CreateIdentity(ctx, models.Identity{
		ID:         "E200",
		Status:     models.IdentityStatusPending,
		Signatures: []models.FaceSignature{{Vector: []float32{1, 1}}},
	})
	require.NoError(t, err)

	g := New(store, 2)
	require.NoError(t, g.Reload(ctx))

	snap := g.Snapshot()
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, 1, snap.IdentityCount())
	_, ok := snap.Identity("E200")
	assert.False(t, ok, "pending identities are not matchable")

	status, err := g.Status(ctx, "E200")
	require.NoError(t, err)
	assert.Equal(t, models.IdentityStatusPending, status)
}

func TestReloadFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	g := New(store, 0)
	_, err := g.Enroll(ctx, enrollReq("S001", 1))
	require.NoError(t, err)
	before := g.Snapshot()

	store.ListIdentitiesError = errors.New("connection reset")
	assert.Error(t, g.Reload(ctx))
	assert.Same(t, before, g.Snapshot())
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New(), 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := g.Enroll(ctx, enrollReq(fmt.Sprintf("S%03d", i), float32(i)))
			assert.NoError(t, err)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := g.Snapshot()
				assert.Equal(t, snap.Len(), snap.IdentityCount())
				if i%50 == 0 {
					assert.NoError(t, g.Reload(ctx))
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, g.Snapshot().Len())
}
