// Package enrollment turns an unmatched face into a pending candidate and,
// on operator approval, into an enrolled identity.
package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
	"github.com/your-org/attend/internal/vision"
)

// DefaultGracePeriod is how long a candidate survives without a face in view.
const DefaultGracePeriod = 4 * time.Second

var (
	// ErrNoCandidate is returned when approving or rejecting with nothing pending.
	ErrNoCandidate = errors.New("no enrollment candidate pending")
	// ErrApprovalInProgress is returned when a second operator action races an approval.
	ErrApprovalInProgress = errors.New("enrollment approval in progress")
)

// Enroller is the gallery side of an approval. *gallery.Gallery implements it.
type Enroller interface {
	Enroll(ctx context.Context, req gallery.EnrollRequest) (models.Identity, error)
}

// Candidate is an unknown face being tracked. Signature and Crop are the
// latest observation.
type Candidate struct {
	ID          uuid.UUID
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	State       State
	Signature   []float32
	Crop        image.Image
	Confidence  float32
}

// CandidateView is the operator-facing part of a candidate.
type CandidateView struct {
	ID          uuid.UUID `json:"id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	State       State     `json:"state"`
	Confidence  float32   `json:"confidence"`
}

// Approval is the operator's input for enrolling the pending candidate.
type Approval struct {
	IdentityID   string      `json:"identity_id" validate:"required,max=64,excludesall=/?#"`
	DisplayName  string      `json:"display_name" validate:"required,max=200"`
	Role         models.Role `json:"role" validate:"required,oneof=student employee"`
	Department   string      `json:"department" validate:"max=200"`
	ClassSection string      `json:"class_section" validate:"max=100"`
	Phone        string      `json:"phone" validate:"max=32"`
	Email        string      `json:"email" validate:"omitempty,email,max=200"`
	// Signature overrides the candidate's latest signature when set.
	Signature []float32 `json:"signature,omitempty"`
}

func (a Approval) metadata() ([]byte, error) {
	return json.Marshal(models.IdentityMetadata{
		Department:   a.Department,
		ClassSection: a.ClassSection,
		Phone:        a.Phone,
		Email:        a.Email,
	})
}

// Resolution records how the last candidate ended.
type Resolution struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	State       State     `json:"state"`
	IdentityID  string    `json:"identity_id,omitempty"`
	At          time.Time `json:"at"`
}

type Controller struct {
	enroller  Enroller
	snapshots SnapshotStore
	validate  *validator.Validate
	grace     time.Duration
	now       func() time.Time

	mu         sync.Mutex
	state      State
	candidate  *Candidate
	approving  bool
	resolution *Resolution
}

// NewController returns an idle controller. snapshots may be nil.
func NewController(enroller Enroller, snapshots SnapshotStore, grace time.Duration) *Controller {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Controller{
		enroller:  enroller,
		snapshots: snapshots,
		validate:  newValidator(),
		grace:     grace,
		now:       time.Now,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the tracked candidate, or nil.
func (c *Controller) Pending() *CandidateView {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candidate == nil {
		return nil
	}
	return &CandidateView{
		ID:          c.candidate.ID,
		FirstSeenAt: c.candidate.FirstSeenAt,
		LastSeenAt:  c.candidate.LastSeenAt,
		State:       c.state,
		Confidence:  c.candidate.Confidence,
	}
}

// PendingCrop returns the latest face crop of the candidate, or nil.
func (c *Controller) PendingCrop() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candidate == nil {
		return nil
	}
	return c.candidate.Crop
}

// LastResolution returns how the previous candidate ended, or nil.
func (c *Controller) LastResolution() *Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolution == nil {
		return nil
	}
	r := *c.resolution
	return &r
}

// Observe handles an unmatched face. A new candidate goes straight to
// AwaitingApproval; an existing one gets its last sighting refreshed.
func (c *Controller) Observe(face vision.Face, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Idle:
		c.candidate = &Candidate{
			ID:          uuid.New(),
			FirstSeenAt: now,
			LastSeenAt:  now,
			Signature:   slices.Clone(face.Signature),
			Crop:        face.Crop,
			Confidence:  face.Confidence,
		}
		c.moveTo(Detected)
		c.moveTo(AwaitingApproval)
		slog.Info("enrollment candidate detected", "candidate_id", c.candidate.ID)
	case AwaitingApproval:
		c.candidate.LastSeenAt = now
		c.candidate.Signature = slices.Clone(face.Signature)
		c.candidate.Crop = face.Crop
		c.candidate.Confidence = face.Confidence
	}
}

// Seen refreshes the candidate's last sighting for any face in view.
func (c *Controller) Seen(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candidate != nil && now.After(c.candidate.LastSeenAt) {
		c.candidate.LastSeenAt = now
	}
}

// Expire drops the candidate when no face has been seen for longer than the
// grace period. It reports whether a candidate was dropped.
func (c *Controller) Expire(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candidate == nil || c.approving {
		return false
	}
	if now.Sub(c.candidate.LastSeenAt) <= c.grace {
		return false
	}
	slog.Info("enrollment candidate expired", "candidate_id", c.candidate.ID)
	c.candidate = nil
	c.moveTo(Idle)
	return true
}

// Reject discards the pending candidate without touching the gallery.
func (c *Controller) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candidate == nil || c.state != AwaitingApproval {
		return ErrNoCandidate
	}
	if c.approving {
		return ErrApprovalInProgress
	}
	c.resolve(ResolvedRejected, "")
	return nil
}

// Approve enrolls the pending candidate under the operator's metadata. On a
// validation or duplicate error the candidate stays pending so the operator
// can correct the input.
func (c *Controller) Approve(ctx context.Context, a Approval) (models.Identity, error) {
	if a.Role == "" {
		a.Role = models.RoleStudent
	}
	if err := validate(c.validate, a); err != nil {
		return models.Identity{}, err
	}
	meta, err := a.metadata()
	if err != nil {
		return models.Identity{}, fmt.Errorf("encode metadata: %w", err)
	}

	c.mu.Lock()
	if c.candidate == nil || c.state != AwaitingApproval {
		c.mu.Unlock()
		return models.Identity{}, ErrNoCandidate
	}
	if c.approving {
		c.mu.Unlock()
		return models.Identity{}, ErrApprovalInProgress
	}
	c.approving = true
	cand := *c.candidate
	c.mu.Unlock()

	signature := cand.Signature
	if len(a.Signature) > 0 {
		signature = a.Signature
	}

	sourceKey := SaveCrop(ctx, c.snapshots, a.IdentityID, cand.Crop)
	ident, err := c.enroller.Enroll(ctx, gallery.EnrollRequest{
		IdentityID:  a.IdentityID,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		Metadata:    meta,
		Signature:   signature,
		SourceKey:   sourceKey,
	})
	if err != nil {
		DiscardCrop(ctx, c.snapshots, sourceKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.approving = false
	if err != nil {
		return models.Identity{}, err
	}
	if c.candidate != nil && c.candidate.ID == cand.ID {
		c.resolve(ResolvedAccepted, ident.ID)
	}
	return ident, nil
}

// resolve must be called with mu held.
func (c *Controller) resolve(to State, identityID string) {
	c.moveTo(to)
	c.resolution = &Resolution{
		CandidateID: c.candidate.ID,
		State:       to,
		IdentityID:  identityID,
		At:          c.now(),
	}
	slog.Info("enrollment candidate resolved",
		"candidate_id", c.candidate.ID,
		"state", to.String(),
		"identity_id", identityID,
	)
	c.candidate = nil
	c.moveTo(Idle)
}

// moveTo must be called with mu held.
func (c *Controller) moveTo(to State) {
	if !c.state.CanTransition(to) {
		slog.Error("illegal enrollment transition", "from", c.state.String(), "to", to.String())
		return
	}
	c.state = to
	if c.candidate != nil {
		c.candidate.State = to
	}
	observability.EnrollmentTransitions.WithLabelValues(to.String()).Inc()
}
