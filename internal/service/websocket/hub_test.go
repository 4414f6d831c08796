package websocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"facedetect/internal/config"
	"facedetect/internal/logger"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*HubService, *httptest.Server) {
	t.Helper()

	hub := NewHubService(&config.Config{}, logger.NewDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if !hub.Register(conn) {
			conn.Close()
			return
		}
		defer hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsFrames(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	sink := hub.Sink("clip.mp4")
	require.NoError(t, sink.WriteFrame(image.NewRGBA(image.Rect(0, 0, 32, 16))))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg PreviewMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "clip.mp4", msg.Source)
	assert.Equal(t, 0, msg.Frame)

	raw, err := base64.StdEncoding.DecodeString(msg.Image)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHubService(&config.Config{}, logger.NewDiscard())

	for i := 0; i < BroadcastBuffer; i++ {
		assert.True(t, hub.Broadcast([]byte("x")))
	}
	assert.False(t, hub.Broadcast([]byte("x")), "full queue drops")
	assert.Equal(t, 1, hub.Dropped())
}

func TestHub_SlowViewerDoesNotStallSink(t *testing.T) {
	hub, srv := startHub(t)
	dial(t, srv) // never reads
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Enough data to fill the socket buffers and the viewer queue.
	big := bytes.Repeat([]byte("x"), 4<<20)
	for i := 0; i < 16; i++ {
		hub.Broadcast(big)
	}
	require.Eventually(t, func() bool { return hub.Dropped() > 0 }, 5*time.Second, 10*time.Millisecond)

	sink := hub.Sink("camera")
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.WriteFrame(image.NewRGBA(image.Rect(0, 0, 64, 48))))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestHub_StoppedRejectsViewers(t *testing.T) {
	hub := NewHubService(&config.Config{}, logger.NewDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	assert.False(t, hub.Register(nil))
	hub.Unregister(nil)
}

func TestSink_SkipsWithoutViewers(t *testing.T) {
	hub := NewHubService(&config.Config{}, logger.NewDiscard())
	sink := hub.Sink("camera")

	require.NoError(t, sink.WriteFrame(image.NewRGBA(image.Rect(0, 0, 4, 4))))
	assert.Len(t, hub.broadcast, 0)
	assert.NoError(t, sink.Close())
}
