package gallery

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
)

// Entry is one matchable signature of an active identity.
type Entry struct {
	IdentityID  string
	SignatureID uuid.UUID
	Vector      []float32
}

// Snapshot is an immutable view of the active gallery. Entries are in
// signature insertion order. Callers must not modify the returned slices.
type Snapshot struct {
	version    uint64
	entries    []Entry
	identities map[string]models.Identity
	builtAt    time.Time
}

func newSnapshot(version uint64, identities []models.Identity) *Snapshot {
	snap := &Snapshot{
		version:    version,
		identities: make(map[string]models.Identity, len(identities)),
		builtAt:    time.Now(),
	}
	var sigs []models.FaceSignature
	for _, ident := range identities {
		if ident.Status != models.IdentityStatusActive {
			continue
		}
		sigs = append(sigs, ident.Signatures...)
		ident.Signatures = nil
		snap.identities[ident.ID] = ident
	}
	sortBySeq(sigs)
	snap.entries = make([]Entry, 0, len(sigs))
	for _, sig := range sigs {
		snap.entries = append(snap.entries, Entry{
			IdentityID:  sig.IdentityID,
			SignatureID: sig.ID,
			Vector:      sig.Vector,
		})
	}
	return snap
}

// with returns a copy of s at version v with ident added and sigs appended.
func (s *Snapshot) with(v uint64, ident models.Identity, sigs ...models.FaceSignature) *Snapshot {
	next := &Snapshot{
		version:    v,
		entries:    make([]Entry, len(s.entries), len(s.entries)+len(sigs)),
		identities: make(map[string]models.Identity, len(s.identities)+1),
		builtAt:    time.Now(),
	}
	copy(next.entries, s.entries)
	for id, existing := range s.identities {
		next.identities[id] = existing
	}
	ident.Signatures = nil
	next.identities[ident.ID] = ident
	for _, sig := range sigs {
		next.entries = append(next.entries, Entry{IdentityID: ident.ID, SignatureID: sig.ID, Vector: sig.Vector})
	}
	return next
}

// without returns a copy of s at version v with every entry of id removed.
func (s *Snapshot) without(v uint64, id string) *Snapshot {
	next := &Snapshot{
		version:    v,
		entries:    make([]Entry, 0, len(s.entries)),
		identities: make(map[string]models.Identity, len(s.identities)),
		builtAt:    time.Now(),
	}
	for _, e := range s.entries {
		if e.IdentityID != id {
			next.entries = append(next.entries, e)
		}
	}
	for k, ident := range s.identities {
		if k != id {
			next.identities[k] = ident
		}
	}
	return next
}

func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) Entries() []Entry { return s.entries }

func (s *Snapshot) Len() int { return len(s.entries) }

// IdentityCount is the number of active identities, with or without signatures.
func (s *Snapshot) IdentityCount() int { return len(s.identities) }

func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Identity returns the active identity with the given id.
func (s *Snapshot) Identity(id string) (models.Identity, bool) {
	ident, ok := s.identities[id]
	return ident, ok
}
