package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "overlay-backend/internal/agent"
)

func dialStream(t *testing.T, server *httptest.Server, runID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/agent/stream?runId=" + runID
	return websocket.DefaultDialer.Dial(url, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestStreamWebSocket_UnknownRun(t *testing.T) {
	reg := newTestRegistry(t, engine.Config{Step: blockingStep})
	server := httptest.NewServer(newTestMux(NewHandler(reg, Options{})))
	defer server.Close()

	_, resp, err := dialStream(t, server, "nope")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamWebSocket_Frames(t *testing.T) {
	reg := newTestRegistry(t, engine.Config{Step: blockingStep})
	obs := newMockObserver()
	mux := newTestMux(NewHandler(reg, Options{HeartbeatInterval: 20 * time.Millisecond, Observer: obs}))
	server := httptest.NewServer(mux)
	defer server.Close()

	id := startRun(t, mux, "ws task")
	conn, _, err := dialStream(t, server, id)
	require.NoError(t, err)
	defer conn.Close()

	// 快照 + 队列中的 running
	f := readFrame(t, conn)
	assert.Equal(t, "status", f.Event)
	assert.JSONEq(t, `{"state":"running"}`, string(f.Data))
	f = readFrame(t, conn)
	assert.Equal(t, "status", f.Event)

	var logs []string
	for len(logs) < 2 {
		f = readFrame(t, conn)
		require.Equal(t, "message", f.Event)
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(f.Data, &msg))
		if msg["type"] == "log" {
			logs = append(logs, msg["message"].(string))
		}
	}
	assert.Equal(t, []string{"Worker started", engine.DefaultSteps[0]}, logs)

	// 停止后收到 stopped 状态帧
	require.NoError(t, reg.Stop(context.Background(), id))
	for {
		f = readFrame(t, conn)
		if f.Event == "status" {
			assert.JSONEq(t, `{"state":"stopped"}`, string(f.Data))
			break
		}
	}
	assert.Equal(t, 1, obs.active(TransportWebSocket))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return obs.active(TransportWebSocket) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamWebSocket_ClientPing(t *testing.T) {
	reg := newTestRegistry(t, engine.Config{Step: blockingStep})
	mux := newTestMux(NewHandler(reg, Options{HeartbeatInterval: time.Second}))
	server := httptest.NewServer(mux)
	defer server.Close()

	id := startRun(t, mux, "ping")
	conn, _, err := dialStream(t, server, id)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	// pong 可能夹在事件帧之间
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "pong" {
			return
		}
	}
	t.Fatal("no pong received")
}

func TestStreamWebSocket_ProtocolPing(t *testing.T) {
	reg := newTestRegistry(t, engine.Config{Step: blockingStep})
	mux := newTestMux(NewHandler(reg, Options{WSPingInterval: 20 * time.Millisecond}))
	server := httptest.NewServer(mux)
	defer server.Close()

	id := startRun(t, mux, "protocol ping")
	conn, _, err := dialStream(t, server, id)
	require.NoError(t, err)
	defer conn.Close()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no protocol ping received")
	}
}
