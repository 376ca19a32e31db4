package enrollment

import (
	"context"
	"errors"
	"image"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/storage/memstore"
	"github.com/your-org/attend/internal/vision"
)

type fakeSnapshots struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeSnapshots) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeSnapshots) RemoveObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = slices.DeleteFunc(f.keys, func(k string) bool { return k == key })
	return nil
}

func (f *fakeSnapshots) stored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.keys)
}

var t0 = time.Date(2026, time.October, 12, 10, 0, 0, 0, time.UTC)

func face(sig ...float32) vision.Face {
	return vision.Face{
		Signature:  sig,
		Confidence: 0.97,
		Crop:       image.NewRGBA(image.Rect(0, 0, 40, 40)),
	}
}

func alice() Approval {
	return Approval{IdentityID: "S001", DisplayName: "Alice", Role: models.RoleStudent, Department: "Physics"}
}

func newController(t *testing.T) (*Controller, *gallery.Gallery, *fakeSnapshots) {
	t.Helper()
	g := gallery.New(memstore.New(), 0)
	snaps := &fakeSnapshots{}
	return NewController(g, snaps, 4*time.Second), g, snaps
}

func TestObserveMovesToAwaitingApproval(t *testing.T) {
	c, _, _ := newController(t)
	assert.Equal(t, Idle, c.State())
	assert.Nil(t, c.Pending())

	c.Observe(face(0.1, 0.2), t0)

	assert.Equal(t, AwaitingApproval, c.State())
	pending := c.Pending()
	require.NotNil(t, pending)
	assert.Equal(t, t0, pending.FirstSeenAt)
	assert.Equal(t, AwaitingApproval, pending.State)
}

func TestObserveRefreshesExistingCandidate(t *testing.T) {
	c, _, _ := newController(t)
	c.Observe(face(0.1), t0)
	id := c.Pending().ID

	c.Observe(face(0.2), t0.Add(time.Second))

	pending := c.Pending()
	assert.Equal(t, id, pending.ID, "same candidate")
	assert.Equal(t, t0, pending.FirstSeenAt)
	assert.Equal(t, t0.Add(time.Second), pending.LastSeenAt)
}

func TestApproveRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, g, snaps := newController(t)
	c.Observe(face(0.1, 0.2), t0)
	c.Observe(face(0.3, 0.4), t0.Add(200*time.Millisecond))

	ident, err := c.Approve(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, "S001", ident.ID)
	assert.Equal(t, models.IdentityStatusActive, ident.Status)
	assert.JSONEq(t, `{"department":"Physics"}`, string(ident.Metadata))

	entries := g.AllActive()
	require.Len(t, entries, 1)
	assert.Equal(t, "S001", entries[0].IdentityID)
	assert.Equal(t, []float32{0.3, 0.4}, entries[0].Vector, "latest signature is enrolled")

	assert.Equal(t, Idle, c.State())
	assert.Nil(t, c.Pending())
	res := c.LastResolution()
	require.NotNil(t, res)
	assert.Equal(t, ResolvedAccepted, res.State)
	assert.Equal(t, "S001", res.IdentityID)

	require.Len(t, snaps.keys, 1)
	assert.Contains(t, snaps.keys[0], "faces/S001/")
	require.Len(t, ident.Signatures, 1)
	assert.Equal(t, snaps.keys[0], ident.Signatures[0].SourceKey)
}

func TestApproveWithSignatureOverride(t *testing.T) {
	c, g, _ := newController(t)
	c.Observe(face(0.1), t0)

	a := alice()
	a.Signature = []float32{0.9}
	_, err := c.Approve(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.9}, g.AllActive()[0].Vector)
}

func TestApproveValidation(t *testing.T) {
	c, g, _ := newController(t)
	c.Observe(face(0.1), t0)

	_, err := c.Approve(context.Background(), Approval{Role: "visitor", Email: "nope"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "identity_id")
	assert.Contains(t, vErr.FieldErrors, "display_name")
	assert.Contains(t, vErr.FieldErrors, "role")
	assert.Contains(t, vErr.FieldErrors, "email")

	assert.Equal(t, AwaitingApproval, c.State(), "candidate kept for retry")
	assert.Empty(t, g.AllActive())
}

func TestApproveDefaultsRole(t *testing.T) {
	c, _, _ := newController(t)
	c.Observe(face(0.1), t0)

	ident, err := c.Approve(context.Background(), Approval{IdentityID: "S002", DisplayName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, ident.Role)
}

func TestApproveDuplicateKeepsCandidate(t *testing.T) {
	ctx := context.Background()
	c, g, snaps := newController(t)
	_, err := g.Enroll(ctx, gallery.EnrollRequest{IdentityID: "S001", Signature: []float32{0.5}})
	require.NoError(t, err)

	c.Observe(face(0.1), t0)
	_, err = c.Approve(ctx, alice())
	var dup *gallery.DuplicateIdentityError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, AwaitingApproval, c.State())
	assert.Empty(t, snaps.stored(), "crop of a failed approval must not stay under the existing identity")

	a := alice()
	a.IdentityID = "S002"
	ident, err := c.Approve(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, Idle, c.State())
	keys := snaps.stored()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "faces/S002/"), keys[0])
	assert.Equal(t, keys[0], ident.Signatures[0].SourceKey)
}

func TestApproveSurvivesSnapshotFailure(t *testing.T) {
	c, g, snaps := newController(t)
	snaps.err = errors.New("bucket missing")
	c.Observe(face(0.1), t0)

	ident, err := c.Approve(context.Background(), alice())
	require.NoError(t, err)
	assert.Empty(t, ident.Signatures[0].SourceKey)
	assert.Len(t, g.AllActive(), 1)
}

func TestApproveWithoutCandidate(t *testing.T) {
	c, _, _ := newController(t)
	_, err := c.Approve(context.Background(), alice())
	assert.ErrorIs(t, err, ErrNoCandidate)
	assert.ErrorIs(t, c.Reject(), ErrNoCandidate)
}

func TestReject(t *testing.T) {
	c, g, _ := newController(t)
	c.Observe(face(0.1), t0)

	require.NoError(t, c.Reject())
	assert.Equal(t, Idle, c.State())
	assert.Empty(t, g.AllActive())
	assert.Equal(t, ResolvedRejected, c.LastResolution().State)

	// A new unknown face starts a fresh candidate.
	c.Observe(face(0.2), t0.Add(time.Second))
	assert.Equal(t, AwaitingApproval, c.State())
}

func TestExpireAfterGrace(t *testing.T) {
	c, _, _ := newController(t)
	c.Observe(face(0.1), t0)

	assert.False(t, c.Expire(t0.Add(4*time.Second)), "grace is inclusive")
	assert.Equal(t, AwaitingApproval, c.State())

	assert.True(t, c.Expire(t0.Add(4*time.Second+time.Millisecond)))
	assert.Equal(t, Idle, c.State())
	assert.Nil(t, c.Pending())
	assert.Nil(t, c.LastResolution(), "expiry is not a resolution")
}

func TestSeenKeepsCandidateAlive(t *testing.T) {
	c, _, _ := newController(t)
	c.Observe(face(0.1), t0)

	c.Seen(t0.Add(3 * time.Second))
	assert.False(t, c.Expire(t0.Add(6*time.Second)))
	assert.True(t, c.Expire(t0.Add(8*time.Second)))
}

func TestExpireIdleIsNoop(t *testing.T) {
	c, _, _ := newController(t)
	assert.False(t, c.Expire(t0))
	c.Seen(t0)
	assert.Equal(t, Idle, c.State())
}

type blockingEnroller struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingEnroller) Enroll(ctx context.Context, req gallery.EnrollRequest) (models.Identity, error) {
	close(b.started)
	<-b.release
	return models.Identity{ID: req.IdentityID, Status: models.IdentityStatusActive}, nil
}

func TestOperatorActionsDuringApproval(t *testing.T) {
	enroller := &blockingEnroller{started: make(chan struct{}), release: make(chan struct{})}
	c := NewController(enroller, nil, time.Second)
	c.Observe(face(0.1), t0)

	done := make(chan error, 1)
	go func() {
		_, err := c.Approve(context.Background(), alice())
		done <- err
	}()
	<-enroller.started

	assert.ErrorIs(t, c.Reject(), ErrApprovalInProgress)
	_, err := c.Approve(context.Background(), alice())
	assert.ErrorIs(t, err, ErrApprovalInProgress)
	assert.False(t, c.Expire(t0.Add(time.Hour)), "no expiry while approving")

	close(enroller.release)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, c.State())
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Idle, Detected, true},
		{Idle, AwaitingApproval, false},
		{Detected, AwaitingApproval, true},
		{AwaitingApproval, ResolvedAccepted, true},
		{AwaitingApproval, ResolvedRejected, true},
		{AwaitingApproval, Idle, true},
		{ResolvedAccepted, Idle, true},
		{ResolvedAccepted, AwaitingApproval, false},
		{ResolvedRejected, Detected, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
