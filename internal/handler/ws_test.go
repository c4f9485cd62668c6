package handler_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/moturi311/securechat/backend/internal/crypto"
	"github.com/moturi311/securechat/backend/internal/handler"
	"github.com/moturi311/securechat/backend/internal/hub"
	model "github.com/moturi311/securechat/backend/internal/model/chat"
	chatService "github.com/moturi311/securechat/backend/internal/service/chat"
	"github.com/moturi311/securechat/backend/internal/store"
)

const testPassword = "pw"

func newWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	cipher, err := crypto.NewCipher(filepath.Join(dir, "encryption.key"))
	if err != nil {
		t.Fatalf("NewCipher err: %v", err)
	}
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(dir, "chat.db"), cipher, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore err: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for name, role := range map[string]model.Role{
		"buyer1":  model.RoleBuyer,
		"buyer2":  model.RoleBuyer,
		"seller1": model.RoleSeller,
	} {
		if _, err := st.CreateUser(ctx, name, role); err != nil {
			t.Fatalf("CreateUser %s err: %v", name, err)
		}
	}

	sessions := hub.NewHub(zerolog.Nop())
	pipeline := chatService.NewPipeline(st, cipher, sessions, nil, zerolog.Nop())
	ws := handler.NewWSHandler(st, sessions, pipeline, testPassword, zerolog.Nop())

	srv := httptest.NewServer(ws)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("WriteJSON err: %v", err)
	}
}

// readEvent returns the next frame, or ok=false if none arrives in time.
func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) (map[string]any, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		return nil, false
	}
	return event, true
}

func login(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	sendEvent(t, conn, map[string]any{"type": "login", "username": username, "password": testPassword})
	event, ok := readEvent(t, conn, 2*time.Second)
	if !ok || event["type"] != "login_success" {
		t.Fatalf("expected login_success, got %v", event)
	}
}

func TestLoginValidation(t *testing.T) {
	srv := newWSServer(t)
	conn := dialWS(t, srv)

	sendEvent(t, conn, map[string]any{"type": "login", "username": "buyer1", "password": "wrong"})
	event, ok := readEvent(t, conn, 2*time.Second)
	if !ok || event["type"] != "login_error" {
		t.Fatalf("expected login_error, got %v", event)
	}

	login(t, conn, "buyer1")

	// A logged-in socket cannot rebind to another identity.
	sendEvent(t, conn, map[string]any{"type": "login", "username": "buyer2", "password": testPassword})
	event, ok = readEvent(t, conn, 2*time.Second)
	if !ok || event["type"] != "login_error" {
		t.Fatalf("expected login_error on rebind, got %v", event)
	}
}

func TestJoinChatRejectsInvalidPairing(t *testing.T) {
	srv := newWSServer(t)
	conn := dialWS(t, srv)
	login(t, conn, "buyer1")

	// Inbound frames are handled in order and outbound frames preserve
	// queue order, so if the invalid joins emitted anything it would
	// arrive before the valid join's confirmation.
	sendEvent(t, conn, map[string]any{"type": "join_chat", "partner": "buyer2"})
	sendEvent(t, conn, map[string]any{"type": "join_chat", "partner": "ghost"})
	sendEvent(t, conn, map[string]any{"type": "join_chat", "partner": "seller1"})

	event, ok := readEvent(t, conn, 2*time.Second)
	if !ok || event["type"] != "joined_chat" || event["room"] != "buyer1_seller1" {
		t.Fatalf("expected joined_chat for buyer1_seller1 as the first frame, got %v", event)
	}
	event, ok = readEvent(t, conn, 2*time.Second)
	if !ok || event["type"] != "chat_history" {
		t.Fatalf("expected chat_history, got %v", event)
	}
}

func TestJoinChatRequiresLogin(t *testing.T) {
	srv := newWSServer(t)
	conn := dialWS(t, srv)

	sendEvent(t, conn, map[string]any{"type": "join_chat", "partner": "seller1"})
	if event, ok := readEvent(t, conn, 300*time.Millisecond); ok {
		t.Fatalf("unauthenticated join produced a frame: %v", event)
	}
}
