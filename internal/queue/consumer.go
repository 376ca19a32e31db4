package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attend/pkg/dto"
)

// EventHandler processes one decoded kiosk event.
type EventHandler func(ctx context.Context, ev dto.KioskEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeEvents delivers new events matching filter (a subject under
// kiosk.>, empty for all) to handler until ctx is cancelled. Delivery starts
// at the first event published after the consumer is created.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName, filter string, handler EventHandler) error {
	if filter == "" {
		filter = KioskSubjectBase + ".>"
	}
	cons, err := c.js.CreateOrUpdateConsumer(ctx, KioskStreamName, jetstream.ConsumerConfig{
		Durable:           consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     filter,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := cons.Consume(
		func(msg jetstream.Msg) { handleMsg(ctx, msg, handler) },
		jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			if ctx.Err() == nil {
				slog.Warn("consume kiosk events", "consumer", consumerName, "error", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("start consumer %s: %w", consumerName, err)
	}
	go func() {
		<-ctx.Done()
		cc.Stop()
	}()

	slog.Info("event consumer started", "consumer", consumerName, "filter", filter)
	return nil
}

// handleMsg acks handled events, naks failed ones for redelivery and
// terminates messages that can never be decoded.
func handleMsg(ctx context.Context, msg jetstream.Msg, handler EventHandler) {
	ev, err := DecodeEvent(msg.Data())
	if err != nil {
		slog.Error("drop malformed event", "error", err, "subject", msg.Subject())
		_ = msg.Term()
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Warn("process event", "error", err, "event_id", ev.ID)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) Close() {
	c.nc.Close()
}
