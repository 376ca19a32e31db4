package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/attend/internal/enrollment"
	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/vision"
	"github.com/your-org/attend/pkg/dto"
)

const maxImageBytes = 10 << 20

type IdentityStore interface {
	ListIdentities(ctx context.Context, status models.IdentityStatus) ([]models.Identity, error)
	FindIdentity(ctx context.Context, id string) (models.Identity, error)
	SearchSignatures(ctx context.Context, vector []float32, limit int) ([]models.SignatureMatch, error)
}

// IdentityGallery is the write side. *gallery.Gallery implements it.
type IdentityGallery interface {
	AddSignature(ctx context.Context, id string, vector []float32, sourceKey string) (models.FaceSignature, error)
	Disable(ctx context.Context, id string) error
	Update(ctx context.Context, id string, upd gallery.IdentityUpdate) (models.Identity, error)
}

type FaceExtractor interface {
	ExtractBytes(data []byte) (vision.Face, error)
}

// FaceStore keeps face crops. *storage.MinIOStore implements it.
type FaceStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, key string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListFaceKeys(ctx context.Context, identityID string) ([]string, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ChangeNotifier tells other kiosks sharing the store to reload their gallery.
type ChangeNotifier interface {
	GalleryChanged(ctx context.Context, identityID string) error
}

type IdentityHandler struct {
	store     IdentityStore
	gallery   IdentityGallery
	extractor FaceExtractor
	faces     FaceStore
	notifier  ChangeNotifier
}

// NewIdentityHandler wires the identity endpoints. extractor, faces and
// notifier may be nil.
func NewIdentityHandler(store IdentityStore, gal IdentityGallery, extractor FaceExtractor, faces FaceStore, notifier ChangeNotifier) *IdentityHandler {
	return &IdentityHandler{store: store, gallery: gal, extractor: extractor, faces: faces, notifier: notifier}
}

func identityResponse(ident models.Identity) dto.IdentityResponse {
	return dto.IdentityResponse{
		ID:             ident.ID,
		DisplayName:    ident.DisplayName,
		Role:           string(ident.Role),
		Status:         string(ident.Status),
		Metadata:       ident.Metadata,
		SignatureCount: len(ident.Signatures),
		CreatedAt:      ident.CreatedAt.Format(timeLayout),
		UpdatedAt:      ident.UpdatedAt.Format(timeLayout),
	}
}

func (h *IdentityHandler) List(c *gin.Context) {
	status := models.IdentityStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "invalid status")
		return
	}

	identities, err := h.store.ListIdentities(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.IdentityResponse, 0, len(identities))
	for _, ident := range identities {
		resp = append(resp, identityResponse(ident))
	}
	c.JSON(http.StatusOK, dto.IdentityListResponse{Identities: resp, Total: len(resp)})
}

func (h *IdentityHandler) Get(c *gin.Context) {
	ident, err := h.store.FindIdentity(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, identityResponse(ident))
}

// AddSignature accepts a multipart image upload, extracts the primary face
// and appends its signature to the identity.
func (h *IdentityHandler) AddSignature(c *gin.Context) {
	id := c.Param("id")
	face, ok := h.extractUpload(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sourceKey := enrollment.SaveCrop(ctx, h.faces, id, face.Crop)
	sig, err := h.gallery.AddSignature(ctx, id, face.Signature, sourceKey)
	if err != nil {
		enrollment.DiscardCrop(ctx, h.faces, sourceKey)
		writeError(c, err)
		return
	}
	h.notify(ctx, id)

	c.JSON(http.StatusCreated, dto.SignatureResponse{
		ID:         sig.ID,
		IdentityID: sig.IdentityID,
		SourceKey:  sig.SourceKey,
		CreatedAt:  sig.CreatedAt.Format(timeLayout),
	})
}

// Update replaces the display name, role and metadata of an identity.
func (h *IdentityHandler) Update(c *gin.Context) {
	var req dto.IdentityUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	meta, err := json.Marshal(models.IdentityMetadata{
		Department:   req.Department,
		ClassSection: req.ClassSection,
		Phone:        req.Phone,
		Email:        req.Email,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	id := c.Param("id")
	ident, err := h.gallery.Update(c.Request.Context(), id, gallery.IdentityUpdate{
		DisplayName: req.DisplayName,
		Role:        models.Role(req.Role),
		Metadata:    meta,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.notify(c.Request.Context(), id)
	c.JSON(http.StatusOK, identityResponse(ident))
}

func (h *IdentityHandler) Disable(c *gin.Context) {
	id := c.Param("id")
	if err := h.gallery.Disable(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.notify(c.Request.Context(), id)
	c.Status(http.StatusNoContent)
}

// Faces lists presigned links to the stored crops of an identity.
func (h *IdentityHandler) Faces(c *gin.Context) {
	if h.faces == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "face storage not configured"})
		return
	}
	ctx := c.Request.Context()
	keys, err := h.faces.ListFaceKeys(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		u, err := h.faces.PresignedURL(ctx, key, 15*time.Minute)
		if err != nil {
			writeError(c, err)
			return
		}
		urls = append(urls, u)
	}
	c.JSON(http.StatusOK, gin.H{"faces": urls, "total": len(urls)})
}

// FaceImage serves one stored crop, for clients that cannot reach the
// object store directly.
func (h *IdentityHandler) FaceImage(c *gin.Context) {
	if h.faces == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "face storage not configured"})
		return
	}
	faceID, err := uuid.Parse(strings.TrimSuffix(c.Param("face"), ".jpg"))
	if err != nil {
		badRequest(c, "invalid face id")
		return
	}
	data, err := h.faces.GetObject(c.Request.Context(), enrollment.FaceKey(c.Param("id"), faceID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Search returns the identities nearest to the face in an uploaded image.
func (h *IdentityHandler) Search(c *gin.Context) {
	limit := 5
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 100 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	face, ok := h.extractUpload(c)
	if !ok {
		return
	}

	matches, err := h.store.SearchSignatures(c.Request.Context(), face.Signature, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	results := make([]dto.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, dto.SearchResult{
			IdentityID:  m.IdentityID,
			DisplayName: m.DisplayName,
			Distance:    m.Distance,
			Confidence:  1 - m.Distance,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *IdentityHandler) extractUpload(c *gin.Context) (vision.Face, bool) {
	if h.extractor == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "vision models not loaded"})
		return vision.Face{}, false
	}
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		badRequest(c, "image file required")
		return vision.Face{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		badRequest(c, "read image failed")
		return vision.Face{}, false
	}
	if len(data) > maxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "image too large"})
		return vision.Face{}, false
	}

	face, err := h.extractor.ExtractBytes(data)
	if err != nil {
		if !errors.Is(err, vision.ErrNoFaceFound) {
			slog.Warn("extract uploaded face", "error", err)
		}
		writeError(c, err)
		return vision.Face{}, false
	}
	return face, true
}

func (h *IdentityHandler) notify(ctx context.Context, id string) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.GalleryChanged(ctx, id); err != nil {
		slog.Warn("publish gallery change", "error", err, "identity_id", id)
	}
}
