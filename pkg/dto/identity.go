package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

type IdentityResponse struct {
	ID             string          `json:"identity_id"`
	DisplayName    string          `json:"display_name"`
	Role           string          `json:"role"`
	Status         string          `json:"status"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	SignatureCount int             `json:"signature_count"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
}

type SignatureResponse struct {
	ID         uuid.UUID `json:"id"`
	IdentityID string    `json:"identity_id"`
	SourceKey  string    `json:"source_key,omitempty"`
	CreatedAt  string    `json:"created_at"`
}

// ApproveRequest is the operator's form for the pending enrollment candidate.
type ApproveRequest struct {
	IdentityID   string `json:"identity_id"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	Department   string `json:"department"`
	ClassSection string `json:"class_section"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
}

// IdentityUpdateRequest replaces the descriptive fields of an identity.
// Signatures and status are changed through their own endpoints.
type IdentityUpdateRequest struct {
	DisplayName  string `json:"display_name" binding:"required,max=200"`
	Role         string `json:"role" binding:"omitempty,oneof=student employee"`
	Department   string `json:"department" binding:"max=200"`
	ClassSection string `json:"class_section" binding:"max=100"`
	Phone        string `json:"phone" binding:"max=32"`
	Email        string `json:"email" binding:"omitempty,email,max=200"`
}

type SearchResult struct {
	IdentityID  string  `json:"identity_id"`
	DisplayName string  `json:"display_name"`
	Distance    float64 `json:"distance"`
	Confidence  float64 `json:"confidence"`
}

// ErrorResponse is the body of every non-2xx reply. Fields carries
// per-field validation messages.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
