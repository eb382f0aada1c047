package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

func NewRouter(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(h.logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", apiKeyHeader, h.cfg.TrustedUserHeader},
		ExposedHeaders:   []string{"Content-Type", streamIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/models", h.ListModels)
		v1.Post("/parts/group", h.GroupParts)

		v1.Group(func(p chi.Router) {
			p.Use(h.RequireUser)

			p.Post("/chat", h.Chat)
			p.Get("/search", h.Search)
			p.Post("/messages/delete", h.DeleteMessages)

			p.Route("/chats", func(c chi.Router) {
				c.Get("/", h.ListChats)
				c.Post("/", h.CreateChat)
				c.Get("/{id}", h.GetChat)
				c.Patch("/{id}", h.UpdateChat)
				c.Delete("/{id}", h.DeleteChat)
				c.Get("/{id}/messages", h.ListMessages)
				c.Post("/{id}/branch", h.BranchChat)
				c.Get("/{id}/stream", h.ResumeStream)
			})
		})
	})

	return r
}

// requestIDLogger tags the request logger with chi's request id.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
