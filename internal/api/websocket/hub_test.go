package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/auth"
)

const secret = "test-secret-with-at-least-32-characters"

func startHub(t *testing.T) (*Hub, *auth.JWTHandler, string) {
	t.Helper()
	jwtHandler := auth.NewJWTHandler(secret, "openenergycore", time.Minute)
	hub := NewHub(zap.NewNop(), jwtHandler)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, jwtHandler, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestHubAuthenticatesAndBroadcasts(t *testing.T) {
	hub, jwtHandler, url := startHub(t)
	token, err := jwtHandler.GenerateAccessToken("u1", "alice", "operator")
	require.NoError(t, err)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))

	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "auth_success", reply["type"])

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(NewComponentLevelMessage("ess0", "FAULT", "OK"))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeComponentLevel, msg.Type)
	assert.Equal(t, "ess0", msg.Component)
}

func TestHubRejectsInvalidToken(t *testing.T) {
	hub, _, url := startHub(t)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "nope"}))

	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "auth_failed", reply["type"])

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestClientFilter(t *testing.T) {
	c := &Client{}
	assert.True(t, c.wants("ess0"))

	c.subscribe([]string{"ess0"})
	assert.True(t, c.wants("ess0"))
	assert.False(t, c.wants("ctrl0"))
	assert.True(t, c.wants(""), "system messages always delivered")
}
