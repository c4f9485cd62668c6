package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/moturi311/securechat/backend/internal/crypto"
	chatHandler "github.com/moturi311/securechat/backend/internal/handler/chat"
	model "github.com/moturi311/securechat/backend/internal/model/chat"
	"github.com/moturi311/securechat/backend/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store, *crypto.Cipher) {
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
		"seller1": model.RoleSeller,
		"seller2": model.RoleSeller,
	} {
		if _, err := st.CreateUser(ctx, name, role); err != nil {
			t.Fatalf("CreateUser %s err: %v", name, err)
		}
	}

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		chatHandler.New(st).RegisterRoutes(api)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st, cipher
}

func sendMessage(t *testing.T, st store.Store, cipher *crypto.Cipher, sender, receiver, text string) model.Message {
	t.Helper()
	ciphertext, err := cipher.Encrypt(text)
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	msg, err := st.SaveMessage(context.Background(), sender, receiver, ciphertext, false)
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	return msg
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s err: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s err: %v", url, err)
		}
	}
}

func TestContacts(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body struct {
		Users []string `json:"users"`
	}
	getJSON(t, srv.URL+"/api/contacts/seller", http.StatusOK, &body)
	if len(body.Users) != 2 {
		t.Fatalf("expected 2 sellers, got %v", body.Users)
	}

	getJSON(t, srv.URL+"/api/contacts/admin", http.StatusBadRequest, nil)
}

func TestHistoryPagination(t *testing.T) {
	srv, st, cipher := newTestServer(t)
	for _, text := range []string{"one", "two", "three"} {
		sendMessage(t, st, cipher, "buyer1", "seller1", text)
	}

	var page struct {
		Messages   []model.Message `json:"messages"`
		TotalCount int             `json:"total_count"`
		HasMore    bool            `json:"has_more"`
	}
	getJSON(t, srv.URL+"/api/history/buyer1/seller1?limit=2", http.StatusOK, &page)
	if page.TotalCount != 3 || !page.HasMore || len(page.Messages) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Messages[0].Content != "one" {
		t.Fatalf("expected oldest first, got %q", page.Messages[0].Content)
	}

	getJSON(t, srv.URL+"/api/history/buyer1/seller1?limit=2&offset=2", http.StatusOK, &page)
	if page.HasMore || len(page.Messages) != 1 || page.Messages[0].Content != "three" {
		t.Fatalf("unexpected last page: %+v", page)
	}
}

func TestConversations(t *testing.T) {
	srv, st, cipher := newTestServer(t)
	sendMessage(t, st, cipher, "buyer1", "seller1", "older")
	sendMessage(t, st, cipher, "buyer1", "seller2", "newer")

	var body struct {
		Conversations []model.ConversationSummary `json:"conversations"`
	}
	getJSON(t, srv.URL+"/api/conversations/buyer1", http.StatusOK, &body)
	if len(body.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(body.Conversations))
	}
	if body.Conversations[0].Partner != "seller2" {
		t.Fatalf("expected most recent partner first, got %q", body.Conversations[0].Partner)
	}
}

func TestSearch(t *testing.T) {
	srv, st, cipher := newTestServer(t)
	sendMessage(t, st, cipher, "buyer1", "seller1", "Shipping quote please")
	sendMessage(t, st, cipher, "buyer1", "seller1", "nothing relevant")

	var body struct {
		Results []model.Message `json:"results"`
	}
	getJSON(t, srv.URL+"/api/search?username=buyer1&partner=seller1&query=shipping", http.StatusOK, &body)
	if len(body.Results) != 1 || body.Results[0].Content != "Shipping quote please" {
		t.Fatalf("unexpected search results: %+v", body.Results)
	}

	getJSON(t, srv.URL+"/api/search?username=buyer1&partner=seller1", http.StatusBadRequest, nil)
}

func TestStatistics(t *testing.T) {
	srv, st, cipher := newTestServer(t)
	sendMessage(t, st, cipher, "buyer1", "seller1", "hello")
	sendMessage(t, st, cipher, "buyer1", "seller2", "hello again")

	var stats model.Statistics
	getJSON(t, srv.URL+"/api/statistics/buyer1?days=7", http.StatusOK, &stats)
	if stats.TotalMessages != 2 || stats.UniquePartners != 2 || stats.PeriodDays != 7 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

func TestDeleteMessage(t *testing.T) {
	srv, st, cipher := newTestServer(t)
	msg := sendMessage(t, st, cipher, "buyer1", "seller1", "remove me")

	del := func(username string) *http.Response {
		body, _ := json.Marshal(map[string]string{"username": username})
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/messages/"+msg.ID, bytes.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest err: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE err: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := del("seller1"); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-sender delete status %d, want 403", resp.StatusCode)
	}
	if resp := del("buyer1"); resp.StatusCode != http.StatusOK {
		t.Fatalf("sender delete status %d, want 200", resp.StatusCode)
	}
	if resp := del("buyer1"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete status %d, want 404", resp.StatusCode)
	}
}
