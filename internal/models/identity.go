package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type IdentityStatus string

const (
	IdentityStatusPending  IdentityStatus = "pending"
	IdentityStatusActive   IdentityStatus = "active"
	IdentityStatusDisabled IdentityStatus = "disabled"
)

// Valid reports whether s is one of the known identity statuses.
func (s IdentityStatus) Valid() bool {
	switch s {
	case IdentityStatusPending, IdentityStatusActive, IdentityStatusDisabled:
		return true
	}
	return false
}

type Role string

const (
	RoleStudent  Role = "student"
	RoleEmployee Role = "employee"
)

// Identity is an enrolled person. ID is the external key chosen by the operator.
type Identity struct {
	ID          string          `json:"id" db:"identity_id"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Role        Role            `json:"role" db:"role"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
	Status      IdentityStatus  `json:"status" db:"status"`
	Signatures  []FaceSignature `json:"signatures,omitempty" db:"-"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// FaceSignature is one face embedding owned by a single identity.
type FaceSignature struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Seq        int64     `json:"-" db:"seq"` // global insertion order
	IdentityID string    `json:"identity_id" db:"identity_id"`
	Vector     []float32 `json:"-" db:"embedding"`
	SourceKey  string    `json:"source_key" db:"source_key"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// IdentityMetadata holds the descriptive fields captured at enrollment.
// None of them take part in matching.
type IdentityMetadata struct {
	Department   string `json:"department,omitempty"`
	ClassSection string `json:"class_section,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
}

// SignatureMatch is one row of a nearest-signature search.
type SignatureMatch struct {
	IdentityID  string  `json:"identity_id"`
	DisplayName string  `json:"display_name"`
	Distance    float64 `json:"distance"`
}
