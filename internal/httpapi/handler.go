package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"speedchat/internal/brave"
	"speedchat/internal/chats"
	"speedchat/internal/config"
	"speedchat/internal/models"
	"speedchat/internal/openrouter"
	"speedchat/internal/streamhub"
)

const anonymousUserID = "anonymous-user"

type chatStreamer interface {
	StreamChatCompletion(
		ctx context.Context,
		req openrouter.StreamRequest,
		onStart func() error,
		onDelta func(string) error,
		onReasoning func(openrouter.ReasoningDelta) error,
		onUsage func(openrouter.Usage) error,
	) error
	Complete(ctx context.Context, model string, messages []openrouter.Message) (string, error)
}

type Handler struct {
	cfg         config.Config
	store       chats.Store
	hub         *streamhub.Hub
	streamerFor func(apiKey string) chatStreamer
	searcher    webSearcher
	logger      zerolog.Logger
	now         func() time.Time
	turns       *sync.WaitGroup

	updateInterval time.Duration
}

func NewHandler(cfg config.Config, db *sql.DB, hub *streamhub.Hub, logger zerolog.Logger) Handler {
	client := openrouter.NewClient(cfg, nil)

	var searcher webSearcher
	if cfg.WebSearchEnabled() {
		searcher = newRateLimitedSearcher(brave.NewClient(cfg, nil), cfg.WebSearchMinInterval)
	}

	return newHandler(cfg, chats.NewStore(db), hub, func(apiKey string) chatStreamer {
		return client.WithAPIKey(apiKey)
	}, searcher, logger)
}

func newHandler(
	cfg config.Config,
	store chats.Store,
	hub *streamhub.Hub,
	streamerFor func(apiKey string) chatStreamer,
	searcher webSearcher,
	logger zerolog.Logger,
) Handler {
	return Handler{
		cfg:         cfg,
		store:       store,
		hub:         hub,
		streamerFor: streamerFor,
		searcher:    searcher,
		logger:      logger,
		now:         time.Now,
		turns:       &sync.WaitGroup{},

		updateInterval: updateInterval,
	}
}

// Wait blocks until every detached turn and title job has finished.
func (h Handler) Wait() {
	h.turns.Wait()
}

type contextKey string

const userContextKey contextKey = "user_id"

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":           models.All(),
		"defaultModelId":   models.Default().ID,
		"webSearchEnabled": h.searcher != nil,
	})
}

// RequireUser resolves the caller from the trusted identity header set by
// the fronting proxy.
func (h Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := anonymousUserID
		if h.cfg.AuthRequired {
			userID = strings.TrimSpace(r.Header.Get(h.cfg.TrustedUserHeader))
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
				return
			}
		}

		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", userID)
		})
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, userID)))
	})
}

func userFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey).(string)
	return userID, ok && userID != ""
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
	}
	return userID, ok
}
