package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/pkg/dto"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsWithTypeFilter(t *testing.T) {
	hub, srv := startHub(t)
	all := dial(t, srv, "")
	enrollOnly := dial(t, srv, "?type=enrollment")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, dto.KioskEvent{
		ID:          "r1",
		Type:        dto.EventRecognition,
		Recognition: &dto.RecognitionEvent{IdentityID: "S001", Decision: "accept"},
	}))
	require.NoError(t, hub.Publish(ctx, dto.KioskEvent{
		ID:         "e1",
		Type:       dto.EventEnrollment,
		Enrollment: &dto.EnrollmentEvent{CandidateID: "c1", State: "awaiting_approval"},
	}))

	read := func(conn *websocket.Conn) dto.KioskEvent {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev dto.KioskEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}

	assert.Equal(t, "r1", read(all).ID)
	assert.Equal(t, "e1", read(all).ID)
	assert.Equal(t, "e1", read(enrollOnly).ID)
}

func TestHubDropsClosedClients(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
