package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/engine"
	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/infrastructure/tracing"
	"github.com/trayfold/trayfold/internal/platform/platformtest"
)

func newStream(t *testing.T) (*engine.Engine, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Fold.RehideEnabled = false
	cfg.Safety.CheckInterval = 5 * time.Millisecond

	eng := engine.New(cfg, engine.Deps{
		WindowSystem: platformtest.NewFakeWindowSystem(),
		Tree:         platformtest.NewFakeItemTree(),
		Gate:         platformtest.NewFakePermissionGate(true),
		Synth:        platformtest.NewFakeSynthesizer(),
	},
		monitoring.NewMetricsWith(prometheus.NewRegistry()),
		tracing.New("test", zap.NewNop()),
		logging.NewNop(),
	)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Close() })

	router := gin.New()
	h := NewHandler(eng, monitoring.NewMetricsWith(prometheus.NewRegistry()), logging.NewNop())
	router.GET("/events", h.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return eng, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, sonic.Unmarshal(data, &frame))
	return frame
}

func TestConnectionReplaysStatus(t *testing.T) {
	_, conn := newStream(t)

	frame := readFrame(t, conn)
	assert.Equal(t, "status", frame["type"])
	assert.Equal(t, "expanded", frame["state"])
	assert.Equal(t, true, frame["trusted"])
}

func TestTransitionsStreamAsEvents(t *testing.T) {
	eng, conn := newStream(t)

	// The status replay is sent after the subscription is registered,
	// so once it arrives the transition below cannot be missed.
	readFrame(t, conn)

	require.True(t, eng.Hide(context.Background()))
	frame := readFrame(t, conn)
	assert.Equal(t, "event", frame["type"])
	assert.Equal(t, "hidden", frame["event"])
	assert.Contains(t, frame, "at")

	require.True(t, eng.Show(context.Background()))
	frame = readFrame(t, conn)
	assert.Equal(t, "shown", frame["event"])
}

func TestEachSubscriberReceivesEvents(t *testing.T) {
	eng, first := newStream(t)

	// A second connection against the same engine must not steal the
	// first one's events.
	router := gin.New()
	h := NewHandler(eng, monitoring.NewMetricsWith(prometheus.NewRegistry()), logging.NewNop())
	router.GET("/events", h.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	second, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { second.Close() })

	readFrame(t, first)
	readFrame(t, second)

	require.True(t, eng.Hide(context.Background()))
	assert.Equal(t, "hidden", readFrame(t, first)["event"])
	assert.Equal(t, "hidden", readFrame(t, second)["event"])
}

func TestPingPong(t *testing.T) {
	_, conn := newStream(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame["type"])
}

func TestMalformedMessagesAreAnswered(t *testing.T) {
	_, conn := newStream(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "malformed message", frame["error"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "unknown message type", frame["error"])
}
