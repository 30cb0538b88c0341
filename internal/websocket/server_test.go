package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/diarscribe/pkg/logger"
)

func TestBroadcastReachesClients(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, logger.NewNop())
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Broadcast(&Message{Type: "stage", Data: map[string]any{"stage": "diarize"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if got.Type != "stage" || got.Data["stage"] != "diarize" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestRejectsDisallowedOrigin(t *testing.T) {
	t.Parallel()

	srv := NewServer([]string{"https://app.example"}, logger.NewNop())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if srv.ClientCount() != 0 {
		t.Fatalf("unexpected client registered")
	}
}
