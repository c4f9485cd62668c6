package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/moturi311/securechat/backend/internal/hub"
	"github.com/moturi311/securechat/backend/internal/model/chat"
	chatService "github.com/moturi311/securechat/backend/internal/service/chat"
	"github.com/moturi311/securechat/backend/internal/store"
)

// joinHistoryLimit is how many messages are replayed when a chat is joined.
const joinHistoryLimit = 50

// inboundEvent is the union of every client-to-server frame. Type selects
// which of the remaining fields are meaningful.
type inboundEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
	Partner  string `json:"partner"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
}

// WSHandler upgrades websocket connections and drives the event protocol:
// login, join_chat, leave_chat and send_message inbound; login_success,
// login_error, joined_chat, chat_history, receive_message, send_error and
// ai_error outbound.
type WSHandler struct {
	store    store.Store
	hub      *hub.Hub
	pipeline *chatService.Pipeline
	password string
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler wires the live transport to its collaborators. password is
// the shared login credential.
func NewWSHandler(st store.Store, h *hub.Hub, pipeline *chatService.Pipeline, password string, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		store:    st,
		hub:      h,
		pipeline: pipeline,
		password: password,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the read loop until the socket
// closes. The session is anonymous until a successful login.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient("", conn)
	go client.WritePump()

	session := &wsSession{handler: h, client: client}
	client.ReadPump(session.dispatch)

	if session.loggedIn {
		h.hub.Unregister(client)
		h.logger.Info().Str("username", client.Username).Msg("session disconnected")
	}
	client.Close()
}

// wsSession is the per-connection state threaded through dispatch.
type wsSession struct {
	handler  *WSHandler
	client   *hub.Client
	loggedIn bool
}

func (s *wsSession) dispatch(data []byte) {
	var event inboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.handler.logger.Debug().Err(err).Msg("discarding malformed frame")
		return
	}

	switch event.Type {
	case "login":
		s.handleLogin(event)
	case "join_chat":
		s.handleJoin(event)
	case "leave_chat":
		s.handleLeave(event)
	case "send_message":
		s.handleSend(event)
	default:
		s.handler.logger.Debug().Str("type", event.Type).Msg("unknown event type")
	}
}

func (s *wsSession) handleLogin(event inboundEvent) {
	h := s.handler
	if event.Password != h.password || event.Username == "" {
		h.logger.Info().Str("username", event.Username).Msg("login rejected")
		s.client.SendJSON(map[string]any{"type": "login_error", "message": "Invalid credentials"})
		return
	}
	if s.loggedIn && s.client.Username != event.Username {
		// A socket is bound to one identity; switching names would strand
		// the old session entry and its room memberships.
		h.logger.Info().
			Str("username", s.client.Username).
			Str("requested", event.Username).
			Msg("login rejected, session already bound")
		s.client.SendJSON(map[string]any{"type": "login_error", "message": "Already logged in"})
		return
	}

	s.client.Username = event.Username
	s.loggedIn = true
	if prior := h.hub.Register(s.client); prior != nil && prior != s.client {
		// Latest login wins; retiring the old send loop closes its socket.
		prior.Close()
	}

	h.logger.Info().Str("username", event.Username).Msg("login successful")
	s.client.SendJSON(map[string]any{"type": "login_success", "username": event.Username})
}

func (s *wsSession) handleJoin(event inboundEvent) {
	h := s.handler
	if !s.loggedIn || event.Partner == "" {
		return
	}
	ctx := context.Background()

	user, err := h.store.ResolveUser(ctx, s.client.Username)
	if err != nil {
		return
	}
	partner, err := h.store.ResolveUser(ctx, event.Partner)
	if err != nil {
		return
	}
	if !chat.ValidPairing(user.Role, partner.Role) {
		h.logger.Info().
			Str("username", user.Username).
			Str("partner", partner.Username).
			Msg("join refused, same role")
		return
	}

	room := hub.RoomKey(user.Username, partner.Username)
	h.hub.Join(s.client, room)
	s.client.SendJSON(map[string]any{"type": "joined_chat", "room": room, "partner": partner.Username})

	history, err := h.store.GetHistory(ctx, user.Username, partner.Username, joinHistoryLimit, 0)
	if err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("history load failed")
		return
	}
	s.client.SendJSON(map[string]any{
		"type":        "chat_history",
		"messages":    history.Messages,
		"total_count": history.TotalCount,
		"has_more":    history.HasMore,
	})
}

func (s *wsSession) handleLeave(event inboundEvent) {
	if !s.loggedIn || event.Partner == "" {
		return
	}
	s.handler.hub.Leave(s.client, hub.RoomKey(s.client.Username, event.Partner))
}

func (s *wsSession) handleSend(event inboundEvent) {
	h := s.handler
	if !s.loggedIn || event.Receiver == "" || event.Message == "" {
		return
	}

	result := h.pipeline.HandleSend(context.Background(), s.client.Username, event.Receiver, event.Message)
	switch result.Status {
	case chatService.StatusRejected:
		// Invalid identity or pairing is dropped without a reply, same as
		// an unauthenticated frame.
	case chatService.StatusSendFailed:
		s.client.SendJSON(map[string]any{"type": "send_error", "message": "Failed to save message"})
	case chatService.StatusAIUnavailable:
		s.client.SendJSON(map[string]any{"type": "ai_error", "message": "AI unavailable"})
	}
}
