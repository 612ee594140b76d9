package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"social-token-chat/internal/testutil"
	ws "social-token-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const wsTimeout = 2 * time.Second

// newGatewayServer serves the gateway and the presence API on a real listener
func newGatewayServer(t *testing.T, checker ws.AccessChecker) (*httptest.Server, *ws.Hub) {
	t.Helper()

	hub := ws.NewHub(checker, ws.HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	r := chi.NewRouter()
	r.Get("/ws", NewWebSocketHandler(hub, "*").HandleConnection)
	r.Get("/api/v1/rooms/{tokenId}/presence", NewRoomHandler(hub).Presence)

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return server, hub
}

func scenarioChecker() *testutil.MockAccessChecker {
	checker := testutil.NewMockAccessChecker(10)
	checker.SetValue(testutil.UserA, 15)
	checker.SetValue(testutil.UserB, 2)
	checker.SetValue(testutil.UserC, 20)
	return checker
}

func joinEvent(tokenID, userID string) map[string]string {
	return map[string]string{"type": ws.EventJoinRoom, "tokenId": tokenID, "userId": userID}
}

func TestCreateUpgrader_AllowedOrigin(t *testing.T) {
	upgrader := createUpgrader([]string{"http://localhost:3000", "http://example.com"})

	tests := []struct {
		name     string
		origin   string
		expected bool
	}{
		{"allowed localhost", "http://localhost:3000", true},
		{"allowed example", "http://example.com", true},
		{"disallowed origin", "http://malicious.com", false},
		{"empty origin allowed", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			got := upgrader.CheckOrigin(req)
			testutil.AssertEqual(t, got, tt.expected)
		})
	}
}

func TestCreateUpgrader_WildcardOrigin(t *testing.T) {
	upgrader := createUpgrader([]string{"*"})

	for _, origin := range []string{"http://localhost:3000", "http://anything.anywhere.com"} {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Origin", origin)
		testutil.AssertTrue(t, upgrader.CheckOrigin(req), "wildcard should allow all origins")
	}
}

func TestNewWebSocketHandler_ParsesOrigins(t *testing.T) {
	handler := NewWebSocketHandler(nil, " http://localhost:3000 , http://example.com ")

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://example.com")
	testutil.AssertTrue(t, handler.upgrader.CheckOrigin(req), "trimmed origin should match")
}

func TestWebSocketHandler_RejectsPlainHTTP(t *testing.T) {
	server, _ := newGatewayServer(t, scenarioChecker())

	resp, err := http.Get(server.URL + "/ws")
	testutil.AssertNoError(t, err)
	defer resp.Body.Close()

	testutil.AssertEqual(t, resp.StatusCode, http.StatusBadRequest)
}

func TestWebSocketHandler_RejectsForeignOrigin(t *testing.T) {
	hub := ws.NewHub(scenarioChecker(), ws.HubConfig{})
	server := httptest.NewServer(http.HandlerFunc(NewWebSocketHandler(hub, "http://localhost:3000").HandleConnection))
	defer server.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	testutil.AssertEqual(t, resp.StatusCode, http.StatusForbidden)
}

// The full join, send, typing and disconnect flow over real connections
func TestGateway_EndToEnd(t *testing.T) {
	server, _ := newGatewayServer(t, scenarioChecker())

	a := testutil.DialWS(t, server, "/ws")
	b := testutil.DialWS(t, server, "/ws")

	testutil.SendEvent(t, a, joinEvent("0xAAA", testutil.UserA))
	granted := testutil.ReadEvent(t, a, wsTimeout)
	testutil.AssertEqual(t, granted.Type(), ws.EventAccessGranted)
	testutil.AssertEqual(t, granted.Field("tokenId"), testutil.TokenAAA)
	testutil.AssertEqual(t, testutil.ReadEvent(t, a, wsTimeout).Type(), ws.EventRoomState)

	testutil.SendEvent(t, b, joinEvent("0xAAA", testutil.UserB))
	denied := testutil.ReadEvent(t, b, wsTimeout)
	testutil.AssertEqual(t, denied.Type(), ws.EventAccessDenied)
	testutil.AssertEqual(t, denied.Field("reason"), "insufficient balance")
	testutil.AssertEqual(t, denied["requiredThreshold"], any(float64(10)))
	testutil.AssertEqual(t, denied["currentValue"], any(float64(2)))

	testutil.SendEvent(t, a, map[string]string{"type": ws.EventSendMessage, "tokenId": "0xAAA", "body": "hello"})
	accepted := testutil.ReadEvent(t, a, wsTimeout)
	testutil.AssertEqual(t, accepted.Type(), ws.EventMessageAccepted)
	message, ok := accepted["message"].(map[string]any)
	testutil.AssertTrue(t, ok, "message-accepted carries the canonical message")
	testutil.AssertTrue(t, message["id"] != "", "message has an id")
	testutil.AssertTrue(t, message["timestamp"] != "", "message has a timestamp")
	testutil.AssertEqual(t, message["body"], any("hello"))

	c := testutil.DialWS(t, server, "/ws")
	testutil.SendEvent(t, c, joinEvent("0xAAA", testutil.UserC))
	testutil.ExpectEvent(t, c, ws.EventRoomState, wsTimeout)

	joined := testutil.ReadEvent(t, a, wsTimeout)
	testutil.AssertEqual(t, joined.Type(), ws.EventMemberJoined)
	testutil.AssertEqual(t, joined.Field("userId"), testutil.UserC)

	testutil.SendEvent(t, c, map[string]string{"type": ws.EventTypingStart, "tokenId": "0xAAA", "userId": testutil.UserC})
	typing := testutil.ReadEvent(t, a, wsTimeout)
	testutil.AssertEqual(t, typing.Type(), ws.EventTypingChanged)
	testutil.AssertEqual(t, typing["isTyping"], any(true))

	c.Close()

	left := testutil.ExpectEvent(t, a, ws.EventMemberLeft, wsTimeout)
	testutil.AssertEqual(t, left.Field("userId"), testutil.UserC)

	resp, err := http.Get(server.URL + "/api/v1/rooms/0xAAA/presence")
	testutil.AssertNoError(t, err)
	defer resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)

	testutil.ExpectNoEvent(t, b, 100*time.Millisecond)
}

func TestGateway_MalformedFramesKeepConnectionOpen(t *testing.T) {
	server, _ := newGatewayServer(t, scenarioChecker())
	a := testutil.DialWS(t, server, "/ws")

	testutil.AssertNoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	testutil.SendEvent(t, a, map[string]string{"type": ws.EventJoinRoom})

	testutil.SendEvent(t, a, joinEvent(testutil.TokenAAA, testutil.UserA))
	testutil.AssertEqual(t, testutil.ReadEvent(t, a, wsTimeout).Type(), ws.EventAccessGranted)
}
