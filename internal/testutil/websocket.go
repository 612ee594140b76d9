package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a decoded server frame
type Event map[string]any

// Type returns the frame's event type
func (e Event) Type() string {
	s, _ := e["type"].(string)
	return s
}

// Field returns a top-level string field
func (e Event) Field(key string) string {
	s, _ := e[key].(string)
	return s
}

// DialWS opens a WebSocket connection to path on server
func DialWS(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	AssertNoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// SendEvent writes one JSON frame
func SendEvent(t *testing.T, conn *websocket.Conn, event any) {
	t.Helper()
	AssertNoError(t, conn.WriteJSON(event))
}

// ReadEvent reads the next frame or fails after timeout
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) Event {
	t.Helper()
	AssertNoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("failed to decode event %s: %v", data, err)
	}
	return event
}

// ExpectEvent reads frames until one of the given type arrives
func ExpectEvent(t *testing.T, conn *websocket.Conn, eventType string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %s", eventType)
		}
		event := ReadEvent(t, conn, remaining)
		if event.Type() == eventType {
			return event
		}
	}
}

// ExpectNoEvent fails if any frame arrives within wait. A read deadline
// that expires breaks a gorilla connection, so call it last on conn.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	AssertNoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no event, got %s", data)
	}
}
