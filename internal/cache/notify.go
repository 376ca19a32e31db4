package cache

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// GalleryChannel carries "gallery changed" notifications between processes
// (kioskctl writes, the kiosk reloads).
const GalleryChannel = "kiosk.gallery.changed"

type Notifier struct {
	client  *redis.Client
	channel string
}

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client, channel: GalleryChannel}
}

// GalleryChanged announces that identities or signatures were modified.
func (n *Notifier) GalleryChanged(ctx context.Context, identityID string) error {
	if n == nil || n.client == nil {
		return nil
	}
	return n.client.Publish(ctx, n.channel, identityID).Err()
}

// Listen calls onChange for every notification until ctx is done.
func (n *Notifier) Listen(ctx context.Context, onChange func(ctx context.Context, identityID string)) error {
	if n == nil || n.client == nil {
		return nil
	}
	pubsub := n.client.Subscribe(ctx, n.channel)
	// Wait for the subscription to be confirmed so no message is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				slog.Debug("gallery change notification", "identity_id", msg.Payload)
				onChange(ctx, msg.Payload)
			}
		}
	}()
	return nil
}
