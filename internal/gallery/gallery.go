package gallery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
)

// Store is the durable side of the gallery.
type Store interface {
	FindIdentity(ctx context.Context, id string) (models.Identity, error)
	ListActiveIdentities(ctx context.Context) ([]models.Identity, error)
	CreateIdentity(ctx context.Context, ident models.Identity) (models.Identity, error)
	AddSignature(ctx context.Context, sig models.FaceSignature) (models.FaceSignature, error)
	SetIdentityStatus(ctx context.Context, id string, status models.IdentityStatus) error
	UpdateIdentity(ctx context.Context, ident models.Identity) (models.Identity, error)
}

// EnrollRequest carries everything needed to create an active identity.
type EnrollRequest struct {
	IdentityID  string
	DisplayName string
	Role        models.Role
	Metadata    []byte
	Signature   []float32
	SourceKey   string
}

// IdentityUpdate replaces the descriptive fields of an identity. An empty
// Role keeps the current one.
type IdentityUpdate struct {
	DisplayName string
	Role        models.Role
	Metadata    []byte
}

// Gallery holds the active identities and their signatures. Reads go through
// an atomically published Snapshot; mutations write through to the store and
// publish a new snapshot under mu.
type Gallery struct {
	store Store
	dim   int

	mu      sync.Mutex
	version uint64
	current atomic.Pointer[Snapshot]
	reloads singleflight.Group
}

// New returns an empty gallery. dim is the required signature length; 0 accepts any.
func New(store Store, dim int) *Gallery {
	g := &Gallery{store: store, dim: dim}
	g.current.Store(newSnapshot(0, nil))
	return g
}

// Snapshot returns the current immutable view.
func (g *Gallery) Snapshot() *Snapshot {
	return g.current.Load()
}

// AllActive returns one entry per signature of every active identity.
func (g *Gallery) AllActive() []Entry {
	return g.Snapshot().Entries()
}

// Reload re-reads active identities from the store and swaps the snapshot.
// Concurrent calls share one store read.
func (g *Gallery) Reload(ctx context.Context) error {
	_, err, shared := g.reloads.Do("reload", func() (any, error) {
		g.mu.Lock()
		defer g.mu.Unlock()

		identities, err := g.store.ListActiveIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("load gallery: %w", err)
		}
		snap := g.publish(func(v uint64) *Snapshot { return newSnapshot(v, identities) })
		slog.Info("gallery reloaded",
			"version", snap.Version(),
			"identities", snap.IdentityCount(),
			"signatures", snap.Len(),
		)
		return nil, nil
	})
	if shared {
		slog.Debug("gallery reload coalesced")
	}
	return err
}

// Enroll creates a new active identity with its first signature.
func (g *Gallery) Enroll(ctx context.Context, req EnrollRequest) (models.Identity, error) {
	if err := g.checkVector(req.Signature); err != nil {
		return models.Identity{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.store.FindIdentity(ctx, req.IdentityID)
	switch {
	case err == nil:
		return models.Identity{}, &DuplicateIdentityError{IdentityID: req.IdentityID}
	case !errors.Is(err, models.ErrNotFound):
		return models.Identity{}, fmt.Errorf("find identity: %w", err)
	}

	ident, err := g.store.CreateIdentity(ctx, models.Identity{
		ID:          req.IdentityID,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Metadata:    req.Metadata,
		Status:      models.IdentityStatusActive,
		Signatures: []models.FaceSignature{{
			IdentityID: req.IdentityID,
			Vector:     req.Signature,
			SourceKey:  req.SourceKey,
		}},
	})
	if errors.Is(err, models.ErrDuplicate) {
		return models.Identity{}, &DuplicateIdentityError{IdentityID: req.IdentityID}
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("create identity: %w", err)
	}

	g.publish(func(v uint64) *Snapshot { return g.Snapshot().with(v, ident, ident.Signatures...) })
	slog.Info("identity enrolled", "identity_id", ident.ID, "display_name", ident.DisplayName)
	return ident, nil
}

// AddSignature attaches another signature to an existing identity.
func (g *Gallery) AddSignature(ctx context.Context, id string, vector []float32, sourceKey string) (models.FaceSignature, error) {
	if err := g.checkVector(vector); err != nil {
		return models.FaceSignature{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ident, err := g.find(ctx, id)
	if err != nil {
		return models.FaceSignature{}, err
	}

	sig, err := g.store.AddSignature(ctx, models.FaceSignature{
		IdentityID: id,
		Vector:     vector,
		SourceKey:  sourceKey,
	})
	if errors.Is(err, models.ErrNotFound) {
		return models.FaceSignature{}, &UnknownIdentityError{IdentityID: id}
	}
	if err != nil {
		return models.FaceSignature{}, fmt.Errorf("add signature: %w", err)
	}

	if ident.Status == models.IdentityStatusActive {
		g.publish(func(v uint64) *Snapshot { return g.Snapshot().with(v, ident, sig) })
	}
	return sig, nil
}

// Disable soft-deletes an identity. Disabling a disabled identity is a no-op.
func (g *Gallery) Disable(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ident, err := g.find(ctx, id)
	if err != nil {
		return err
	}
	if ident.Status == models.IdentityStatusDisabled {
		return nil
	}

	if err := g.store.SetIdentityStatus(ctx, id, models.IdentityStatusDisabled); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &UnknownIdentityError{IdentityID: id}
		}
		return fmt.Errorf("disable identity: %w", err)
	}

	g.publish(func(v uint64) *Snapshot { return g.Snapshot().without(v, id) })
	slog.Info("identity disabled", "identity_id", id)
	return nil
}

// Update rewrites the descriptive fields of an identity. Signatures and
// status are untouched. An active identity is republished so recognitions
// show the new name right away.
func (g *Gallery) Update(ctx context.Context, id string, upd IdentityUpdate) (models.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, err := g.find(ctx, id)
	if err != nil {
		return models.Identity{}, err
	}
	current.DisplayName = upd.DisplayName
	if upd.Role != "" {
		current.Role = upd.Role
	}
	current.Metadata = upd.Metadata

	ident, err := g.store.UpdateIdentity(ctx, current)
	if errors.Is(err, models.ErrNotFound) {
		return models.Identity{}, &UnknownIdentityError{IdentityID: id}
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("update identity: %w", err)
	}

	if ident.Status == models.IdentityStatusActive {
		g.publish(func(v uint64) *Snapshot { return g.Snapshot().with(v, ident) })
	}
	slog.Info("identity updated", "identity_id", id, "display_name", ident.DisplayName)
	return ident, nil
}

// Status returns the identity's status, answering from the snapshot when it
// is active and from the store otherwise.
func (g *Gallery) Status(ctx context.Context, id string) (models.IdentityStatus, error) {
	if _, ok := g.Snapshot().Identity(id); ok {
		return models.IdentityStatusActive, nil
	}
	ident, err := g.find(ctx, id)
	if err != nil {
		return "", err
	}
	return ident.Status, nil
}

func (g *Gallery) find(ctx context.Context, id string) (models.Identity, error) {
	ident, err := g.store.FindIdentity(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Identity{}, &UnknownIdentityError{IdentityID: id}
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("find identity: %w", err)
	}
	return ident, nil
}

func (g *Gallery) checkVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidSignature)
	}
	if g.dim > 0 && len(v) != g.dim {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrInvalidSignature, len(v), g.dim)
	}
	return nil
}

// publish must be called with mu held.
func (g *Gallery) publish(build func(version uint64) *Snapshot) *Snapshot {
	g.version++
	snap := build(g.version)
	g.current.Store(snap)
	observability.GallerySize.Set(float64(snap.Len()))
	return snap
}

func sortBySeq(sigs []models.FaceSignature) {
	slices.SortStableFunc(sigs, func(a, b models.FaceSignature) int { return cmp.Compare(a.Seq, b.Seq) })
}
