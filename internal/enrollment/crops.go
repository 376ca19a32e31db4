package enrollment

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/vision"
)

// SnapshotStore keeps face crops. *storage.MinIOStore implements it.
type SnapshotStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, key string) error
}

// FaceKey is the object key for a stored face crop.
func FaceKey(identityID string, id uuid.UUID) string {
	return fmt.Sprintf("faces/%s/%s.jpg", identityID, id)
}

// SaveCrop uploads crop under identityID and returns its key. It returns ""
// when store or crop is nil or the upload failed; a signature without a crop
// is still usable.
func SaveCrop(ctx context.Context, store SnapshotStore, identityID string, crop image.Image) string {
	if store == nil || crop == nil {
		return ""
	}
	data, err := vision.EncodeJPEG(crop, 90)
	if err != nil {
		slog.Warn("encode face crop", "error", err)
		return ""
	}
	key := FaceKey(identityID, uuid.New())
	if err := store.PutObject(ctx, key, data, "image/jpeg"); err != nil {
		slog.Warn("store face crop", "error", err, "key", key)
		return ""
	}
	return key
}

// DiscardCrop removes a crop saved for a gallery write that then failed, so
// it is never listed under an identity it does not belong to.
func DiscardCrop(ctx context.Context, store SnapshotStore, key string) {
	if store == nil || key == "" {
		return
	}
	if err := store.RemoveObject(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("discard face crop", "error", err, "key", key)
	}
}
