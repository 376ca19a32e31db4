package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/pkg/dto"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "kiosk.front-door.recognition",
		Subject(dto.KioskEvent{KioskID: "front-door", Type: dto.EventRecognition}))
	assert.Equal(t, "kiosk.default.enrollment",
		Subject(dto.KioskEvent{Type: dto.EventEnrollment}))
}

func TestDecodeEvent(t *testing.T) {
	at := time.Date(2026, 10, 12, 9, 0, 5, 0, time.UTC)
	data, err := json.Marshal(dto.KioskEvent{
		ID:      "e1",
		Type:    dto.EventRecognition,
		KioskID: "k1",
		At:      at,
		Recognition: &dto.RecognitionEvent{
			IdentityID: "S001",
			Decision:   "accept",
		},
	})
	require.NoError(t, err)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "S001", ev.Recognition.IdentityID)
	assert.True(t, at.Equal(ev.At))

	_, err = DecodeEvent([]byte("{"))
	assert.Error(t, err)
}

type fakeMsg struct {
	jetstream.Msg
	data    []byte
	outcome string
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "kiosk.k1.recognition" }
func (m *fakeMsg) Ack() error      { m.outcome = "ack"; return nil }
func (m *fakeMsg) Nak() error      { m.outcome = "nak"; return nil }
func (m *fakeMsg) Term() error     { m.outcome = "term"; return nil }

func TestHandleMsg(t *testing.T) {
	valid, err := json.Marshal(dto.KioskEvent{ID: "e1", Type: dto.EventRecognition})
	require.NoError(t, err)
	ok := func(context.Context, dto.KioskEvent) error { return nil }
	failing := func(context.Context, dto.KioskEvent) error { return errors.New("hub full") }

	tests := []struct {
		name    string
		data    []byte
		handler EventHandler
		want    string
	}{
		{"handled", valid, ok, "ack"},
		{"handler error", valid, failing, "nak"},
		{"malformed", []byte("{"), ok, "term"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &fakeMsg{data: tt.data}
			handleMsg(context.Background(), msg, tt.handler)
			assert.Equal(t, tt.want, msg.outcome)
		})
	}
}
