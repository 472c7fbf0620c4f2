package httpapi_test

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turnframe/gateway/internal/config"
	"github.com/turnframe/gateway/internal/httpapi"
	"github.com/turnframe/gateway/internal/llmprovider"
	"github.com/turnframe/gateway/internal/observability"
	"github.com/turnframe/gateway/internal/session"
	"github.com/turnframe/gateway/internal/sttprovider"
	"github.com/turnframe/gateway/internal/supervisor"
	"github.com/turnframe/gateway/internal/ttsprovider"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	sessions := session.NewManager(30 * time.Minute)
	t.Cleanup(sessions.Destroy)

	metrics := observability.NewMetrics(fmt.Sprintf("httpapi_test_%d", time.Now().UnixNano()))
	sup := supervisor.New(supervisor.Deps{
		Config:   config.Config{},
		Sessions: sessions,
		LLM:      &llmprovider.Mock{Responses: []llmprovider.Response{{Text: "hi there", StopReason: llmprovider.StopEndTurn}}},
		TTS:      &ttsprovider.Mock{},
		STT:      &sttprovider.Mock{Text: "hello"},
		ToolDefs: map[string]llmprovider.ToolDefinition{},
		Metrics:  metrics,
	})

	srv := httpapi.New(config.Config{}, sup, metrics)
	return httptest.NewServer(srv.Router())
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionWSRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/session/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var ready map[string]any
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("read ready: %v", err)
	}
	if ready["type"] != "ready" {
		t.Fatalf("expected ready message, got %+v", ready)
	}

	if err := conn.WriteJSON(map[string]any{"type": "reconnect", "sessionId": "does-not-exist-yet"}); err != nil {
		t.Fatalf("write reconnect: %v", err)
	}
	var ack map[string]any
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read reconnect-ack: %v", err)
	}
	if ack["type"] != "reconnect-ack" {
		t.Fatalf("expected reconnect-ack, got %+v", ack)
	}

	pcm := make([]byte, 640)
	if err := conn.WriteJSON(map[string]any{"type": "audio", "data": base64.StdEncoding.EncodeToString(pcm)}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	var transcript map[string]any
	if err := conn.ReadJSON(&transcript); err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if transcript["type"] != "transcript" || transcript["text"] != "hello" {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}
}
