package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attend/pkg/dto"
)

const (
	KioskStreamName  = "KIOSK"
	KioskSubjectBase = "kiosk"
)

// Subject is the NATS subject for an event: kiosk.<kiosk id>.<type>.
func Subject(ev dto.KioskEvent) string {
	kioskID := ev.KioskID
	if kioskID == "" {
		kioskID = "default"
	}
	return fmt.Sprintf("%s.%s.%s", KioskSubjectBase, kioskID, ev.Type)
}

// DecodeEvent parses a message published by Producer.
func DecodeEvent(data []byte) (dto.KioskEvent, error) {
	var ev dto.KioskEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return dto.KioskEvent{}, fmt.Errorf("decode kiosk event: %w", err)
	}
	return ev, nil
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Producer publishes recognition and enrollment events to JetStream.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the KIOSK stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        KioskStreamName,
		Subjects:    []string{KioskSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Duplicates:  2 * time.Minute,
		Description: "Kiosk recognition and enrollment events",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// Publish sends ev to the KIOSK stream. The event id doubles as the
// JetStream message id so a retried publish is deduplicated.
func (p *Producer) Publish(ctx context.Context, ev dto.KioskEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var opts []jetstream.PublishOpt
	if ev.ID != "" {
		opts = append(opts, jetstream.WithMsgID(ev.ID))
	}
	if _, err := p.js.Publish(ctx, Subject(ev), payload, opts...); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
