package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/moturi311/securechat/backend/internal/model/chat"
	"github.com/moturi311/securechat/backend/internal/store"
	"github.com/moturi311/securechat/backend/pkg/utils"
)

const (
	defaultHistoryLimit       = 50
	defaultConversationsLimit = 10
	defaultSearchLimit        = 20
	defaultStatisticsDays     = 30
)

// Handler serves the conversation query API: contacts, history, recent
// conversations, search, statistics and message deletion.
type Handler struct {
	store store.Store
}

// New creates the query handler.
func New(st store.Store) *Handler {
	return &Handler{store: st}
}

// RegisterRoutes mounts the query routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/contacts/{role}", h.handleContacts)
	r.Get("/history/{buyer}/{seller}", h.handleHistory)
	r.Get("/conversations/{username}", h.handleConversations)
	r.Get("/search", h.handleSearch)
	r.Get("/statistics/{username}", h.handleStatistics)
	r.Delete("/messages/{id}", h.handleDeleteMessage)
}

// handleContacts lists usernames holding the given role.
func (h *Handler) handleContacts(w http.ResponseWriter, r *http.Request) {
	role, err := chat.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	users, err := h.store.ListUsersByRole(r.Context(), role)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load contacts")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleHistory returns a paginated page of the conversation between two
// participants.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	buyer := chi.URLParam(r, "buyer")
	seller := chi.URLParam(r, "seller")
	limit := queryInt(r, "limit", defaultHistoryLimit)
	offset := queryInt(r, "offset", 0)

	history, err := h.store.GetHistory(r.Context(), buyer, seller, limit, offset)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	utils.RespondJSON(w, http.StatusOK, history)
}

// handleConversations lists the user's conversations, most recently active
// first.
func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	limit := queryInt(r, "limit", defaultConversationsLimit)

	conversations, err := h.store.ListRecentConversations(r.Context(), username, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load conversations")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

// handleSearch finds messages containing the query text within one
// conversation.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	partner := r.URL.Query().Get("partner")
	query := r.URL.Query().Get("query")
	limit := queryInt(r, "limit", defaultSearchLimit)

	if username == "" || partner == "" || query == "" {
		utils.RespondError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	results, err := h.store.SearchMessages(r.Context(), username, partner, query, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Search failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleStatistics summarizes the user's messaging activity over a rolling
// window of days.
func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	days := queryInt(r, "days", defaultStatisticsDays)

	stats, err := h.store.GetStatistics(r.Context(), username, days)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to load statistics")
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
}

// handleDeleteMessage removes a message, permitted only to its original
// sender.
func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")

	var payload struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Username == "" {
		utils.RespondError(w, http.StatusBadRequest, "Username required")
		return
	}

	err := h.store.DeleteMessage(r.Context(), messageID, payload.Username)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, store.ErrNotSender):
		utils.RespondError(w, http.StatusForbidden, "Failed to delete message")
	case errors.Is(err, store.ErrMessageNotFound):
		utils.RespondError(w, http.StatusNotFound, "Message not found")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "Failed to delete message")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
