package match

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/storage/memstore"
)

func snapshotOf(t *testing.T, rows ...[]any) *gallery.Snapshot {
	t.Helper()
	ctx := context.Background()
	g := gallery.New(memstore.New(), 0)
	for _, row := range rows {
		id := row[0].(string)
		vec := row[1].([]float32)
		if _, err := g.AddSignature(ctx, id, vec, ""); err != nil {
			_, err = g.Enroll(ctx, gallery.EnrollRequest{IdentityID: id, DisplayName: id, Signature: vec})
			require.NoError(t, err)
		}
	}
	return g.Snapshot()
}

func row(id string, vec ...float32) []any { return []any{id, vec} }

func TestMatchEmptyGallery(t *testing.T) {
	snap := snapshotOf(t)
	assert.Equal(t, NoMatch, Match([]float32{0, 0}, snap, DefaultTolerance))
	assert.Equal(t, NoMatch, Match([]float32{0, 0}, nil, DefaultTolerance))
}

func TestMatchNearest(t *testing.T) {
	snap := snapshotOf(t,
		row("A", 0, 0),
		row("B", 1, 0),
		row("C", 0.3, 0.4),
	)

	res := Match([]float32{0.9, 0.1}, snap, DefaultTolerance)
	require.True(t, res.Matched)
	assert.Equal(t, "B", res.IdentityID)
	assert.InDelta(t, math.Sqrt(0.02), res.Distance, 1e-6)
	assert.InDelta(t, 1-math.Sqrt(0.02), res.Confidence(), 1e-6)
}

func TestMatchToleranceIsInclusive(t *testing.T) {
	snap := snapshotOf(t, row("A", 0, 0))

	res := Match([]float32{0.5, 0}, snap, 0.5)
	assert.True(t, res.Matched)

	res = Match([]float32{0.5001, 0}, snap, 0.5)
	assert.False(t, res.Matched)
	assert.Zero(t, res.Confidence())
}

func TestMatchTieKeepsFirstEntry(t *testing.T) {
	snap := snapshotOf(t,
		row("B", 1, 0),
		row("A", -1, 0),
	)
	res := Match([]float32{0, 0}, snap, 2)
	require.True(t, res.Matched)
	assert.Equal(t, "B", res.IdentityID)
}

func TestMatchUsesEverySignature(t *testing.T) {
	snap := snapshotOf(t,
		row("A", 5, 5),
		row("B", 3, 3),
		row("A", 0.1, 0),
	)
	res := Match([]float32{0, 0}, snap, DefaultTolerance)
	require.True(t, res.Matched)
	assert.Equal(t, "A", res.IdentityID)
}

func TestMatchIsDeterministic(t *testing.T) {
	snap := snapshotOf(t,
		row("A", 0.2, 0.2),
		row("B", -0.2, 0.2),
		row("C", 0.2, -0.2),
	)
	query := []float32{0, 0}
	first := Match(query, snap, DefaultTolerance)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Match(query, snap, DefaultTolerance))
	}
	assert.Equal(t, "A", first.IdentityID)
}

func TestMatchSkipsMismatchedDimensions(t *testing.T) {
	snap := snapshotOf(t,
		row("A", 0, 0, 0),
		row("B", 0.1, 0),
	)
	res := Match([]float32{0, 0}, snap, DefaultTolerance)
	require.True(t, res.Matched)
	assert.Equal(t, "B", res.IdentityID)
}

func TestMatchIgnoresDisabledIdentity(t *testing.T) {
	ctx := context.Background()
	g := gallery.New(memstore.New(), 0)
	_, err := g.Enroll(ctx, gallery.EnrollRequest{IdentityID: "A", Signature: []float32{0, 0}})
	require.NoError(t, err)
	require.NoError(t, g.Disable(ctx, "A"))

	assert.Equal(t, NoMatch, Match([]float32{0, 0}, g.Snapshot(), DefaultTolerance))
}
