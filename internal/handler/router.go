package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	chatHandler "github.com/moturi311/securechat/backend/internal/handler/chat"
	personaHandler "github.com/moturi311/securechat/backend/internal/handler/persona"
	"github.com/moturi311/securechat/backend/internal/hub"
	personaModel "github.com/moturi311/securechat/backend/internal/model/persona"
	chatService "github.com/moturi311/securechat/backend/internal/service/chat"
	"github.com/moturi311/securechat/backend/internal/store"
	"github.com/moturi311/securechat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. password is the shared
// websocket login credential.
func NewRouter(st store.Store, sessions *hub.Hub, pipeline *chatService.Pipeline, personas personaModel.Store, password string, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	ws := NewWSHandler(st, sessions, pipeline, password, logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := st.Ping(r.Context()); err != nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "store unavailable")
				return
			}
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		api.Handle("/ws", ws)

		chatHandler.New(st).RegisterRoutes(api)
		personaHandler.New(personas).RegisterRoutes(api)
	})

	return r
}
