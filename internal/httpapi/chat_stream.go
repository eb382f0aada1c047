package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"speedchat/internal/chats"
	"speedchat/internal/models"
	"speedchat/internal/openrouter"
	"speedchat/internal/parts"
	"speedchat/internal/stream"
	"speedchat/internal/streamhub"
)

const (
	eventStart  = "start"
	eventUpdate = "update"
	eventFinish = "finish"
	eventError  = "error"

	persistTimeout = 10 * time.Second
	// updateInterval spaces delta-driven update events; structural changes
	// and the final state are always sent.
	updateInterval = 50 * time.Millisecond
	apiKeyHeader   = "X-API-Key"
	streamIDHeader = "X-Stream-ID"
)

type chatRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
	ModelID   string `json:"modelId"`
	IsNewChat bool   `json:"isNewChat"`
	WebSearch bool   `json:"webSearch"`
}

type startEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	StreamID  string `json:"streamId"`
	ModelID   string `json:"modelId"`
}

type updateEvent struct {
	MessageID string     `json:"messageId"`
	Parts     parts.List `json:"parts"`
	groupsResponse
}

type finishEvent struct {
	MessageID string          `json:"messageId"`
	Metadata  *chats.Metadata `json:"metadata"`
}

type errorEvent struct {
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// turn is one assistant reply generated off the request goroutine.
type turn struct {
	userID      string
	chatID      string
	streamID    string
	assistantID string
	apiKey      string
	model       models.Model
	prompt      string
	webSearch   bool
	messages    []openrouter.Message
}

// Chat starts an assistant turn and streams it as server-sent events. The
// turn keeps running if the client disconnects and can be resumed through
// ResumeStream.
func (h Handler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	chatID := strings.TrimSpace(req.ChatID)
	prompt := strings.TrimSpace(req.Message)
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "chatId is required")
		return
	}
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	model, ok := models.Lookup(req.ModelID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown model")
		return
	}

	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	if apiKey == "" && strings.TrimSpace(h.cfg.OpenRouterAPIKey) == "" {
		writeError(w, http.StatusBadRequest, "missing_api_key", "an OpenRouter API key is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	ctx := r.Context()
	logger := hlog.FromRequest(r)

	if req.IsNewChat {
		if _, err := h.store.CreateChat(ctx, userID, chatID); err != nil {
			writeStoreError(w, err, "create chat")
			return
		}
	}

	history, err := h.store.ListMessages(ctx, userID, chatID)
	if err != nil {
		writeStoreError(w, err, "read chat")
		return
	}

	userMessageID := strings.TrimSpace(req.MessageID)
	if userMessageID == "" {
		userMessageID = uuid.NewString()
	}
	if err := h.store.UpsertMessage(ctx, userID, chatID, chats.Message{
		ID:    userMessageID,
		Role:  chats.RoleUser,
		Parts: parts.List{parts.Text{Text: prompt}},
	}); err != nil {
		logger.Error().Err(err).Str("chat_id", chatID).Msg("persist user message")
		writeStoreError(w, err, "save message")
		return
	}

	if req.IsNewChat {
		h.generateTitle(context.WithoutCancel(ctx), userID, chatID, apiKey, prompt)
	}

	t := turn{
		userID:      userID,
		chatID:      chatID,
		streamID:    uuid.NewString(),
		assistantID: uuid.NewString(),
		apiKey:      apiKey,
		model:       model,
		prompt:      prompt,
		webSearch:   req.WebSearch,
		messages:    buildPrompt(model, history, prompt),
	}

	if err := h.hub.Start(t.streamID); err != nil {
		writeError(w, http.StatusInternalServerError, "stream_error", "failed to start stream")
		return
	}
	sub, err := h.hub.Subscribe(t.streamID)
	if err != nil {
		_ = h.hub.Finish(t.streamID)
		writeError(w, http.StatusInternalServerError, "stream_error", "failed to start stream")
		return
	}
	if err := h.store.SetActiveStreamID(ctx, userID, chatID, t.streamID); err != nil {
		_ = h.hub.Finish(t.streamID)
		writeStoreError(w, err, "register stream")
		return
	}

	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.ChatTimeout)
	h.turns.Add(1)
	go func() {
		defer h.turns.Done()
		defer cancel()
		h.runTurn(turnCtx, t)
	}()

	w.Header().Set(streamIDHeader, t.streamID)
	startSSE(w)
	flusher.Flush()
	h.relay(r.Context(), w, flusher, sub, logger)
}

// ResumeStream replays and follows the chat's in-flight turn, or answers 204
// when the chat is idle, its stream already finished, or the stream belonged
// to a previous process.
func (h Handler) ResumeStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	streamID, err := h.store.ActiveStreamID(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "read chat")
		return
	}
	// A finished turn is already persisted; the client reloads messages.
	if streamID == "" || !h.hub.Active(streamID) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sub, err := h.hub.Subscribe(streamID)
	if errors.Is(err, streamhub.ErrStreamNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream_error", "failed to resume stream")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	w.Header().Set(streamIDHeader, streamID)
	startSSE(w)
	flusher.Flush()
	h.relay(r.Context(), w, flusher, sub, hlog.FromRequest(r))
}

// relay copies hub events to the client until the turn ends or the client
// goes away.
func (h Handler) relay(ctx context.Context, w io.Writer, flusher http.Flusher, sub *streamhub.Subscription, logger *zerolog.Logger) {
	for {
		event, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logger.Debug().Err(err).Msg("client left stream")
			return
		}
		if err := writeSSE(w, event); err != nil {
			logger.Debug().Err(err).Msg("write stream event")
			return
		}
		flusher.Flush()
	}
}

func buildPrompt(model models.Model, history []chats.Message, prompt string) []openrouter.Message {
	out := make([]openrouter.Message, 0, len(history)+2)
	out = append(out, openrouter.Message{Role: string(chats.RoleSystem), Content: models.ChatSystemPrompt(model.Name)})
	for _, msg := range history {
		text := parts.PlainText(msg.Parts)
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, openrouter.Message{Role: string(msg.Role), Content: text})
	}
	return append(out, openrouter.Message{Role: string(chats.RoleUser), Content: prompt})
}

func (h Handler) runTurn(ctx context.Context, t turn) {
	logger := h.logger.With().
		Str("chat_id", t.chatID).
		Str("stream_id", t.streamID).
		Str("model", t.model.ID).
		Logger()

	acc := stream.NewAccumulator()
	timer := stream.StartTimer(h.now)

	publishEvent := func(event streamhub.Event, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			logger.Error().Err(err).Str("event", event.Name).Msg("encode stream event")
			return
		}
		event.Data = data
		if err := h.hub.Publish(t.streamID, event); err != nil {
			logger.Warn().Err(err).Str("event", event.Name).Msg("publish stream event")
		}
	}
	publish := func(name string, payload any) {
		publishEvent(streamhub.Event{Name: name}, payload)
	}

	var lastUpdate time.Time
	publishUpdate := func(force bool) {
		now := h.now()
		if !force && !lastUpdate.IsZero() && now.Sub(lastUpdate) < h.updateInterval {
			return
		}
		lastUpdate = now
		snapshot := acc.Snapshot()
		publishEvent(streamhub.Event{Name: eventUpdate, Snapshot: true}, updateEvent{
			MessageID:      t.assistantID,
			Parts:          snapshot,
			groupsResponse: newGroupsResponse(snapshot),
		})
	}

	publish(eventStart, startEvent{ChatID: t.chatID, MessageID: t.assistantID, StreamID: t.streamID, ModelID: t.model.ID})

	messages := t.messages
	if t.webSearch && h.searcher != nil {
		messages = h.searchWeb(ctx, t, acc, timer, publishUpdate, messages, logger)
	}

	var usage openrouter.Usage
	req := openrouter.StreamRequest{Model: t.model.ProviderID(), Messages: messages}
	if t.model.IsReasoningModel {
		req.Reasoning = &openrouter.ReasoningConfig{Effort: models.DefaultReasoningEffort}
	}

	streamErr := h.streamerFor(t.apiKey).StreamChatCompletion(
		ctx,
		req,
		nil,
		func(delta string) error {
			timer.MarkToken()
			acc.TextDelta(delta)
			publishUpdate(false)
			return nil
		},
		func(delta openrouter.ReasoningDelta) error {
			timer.MarkToken()
			acc.ReasoningDelta(delta.ID, delta.Index, delta.Text)
			publishUpdate(false)
			return nil
		},
		func(u openrouter.Usage) error {
			usage = u
			return nil
		},
	)
	acc.Finish()

	reasoningTokens := 0
	if usage.ReasoningTokens != nil {
		reasoningTokens = *usage.ReasoningTokens
	}
	stats := timer.Stats(max(0, usage.CompletionTokens-reasoningTokens), reasoningTokens)
	metadata := &chats.Metadata{
		ModelName:        t.model.Name,
		TPS:              stats.TPS,
		TTFT:             stats.TTFT,
		ElapsedTime:      stats.ElapsedTime,
		CompletionTokens: stats.CompletionTokens,
		CostMicrosUSD:    usage.CostMicrosUSD,
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if !acc.Empty() {
		// Finish flips reasoning to done, so the last snapshot always changes.
		publishUpdate(true)
		if err := h.store.UpsertMessage(persistCtx, t.userID, t.chatID, chats.Message{
			ID:       t.assistantID,
			Role:     chats.RoleAssistant,
			Parts:    acc.Snapshot(),
			Metadata: metadata,
		}); err != nil {
			logger.Error().Err(err).Msg("persist assistant message")
		}
	}

	if streamErr != nil {
		logger.Warn().Err(streamErr).Int("status", openrouter.StatusCode(streamErr)).Msg("assistant turn failed")
		publish(eventError, errorEvent{MessageID: t.assistantID, Message: turnErrorMessage(streamErr)})
	} else {
		event := logger.Info().
			Int64("elapsed_ms", stats.ElapsedTime).
			Int("completion_tokens", stats.CompletionTokens).
			Float64("tps", stats.TPS)
		if usage.CostMicrosUSD != nil {
			event = event.Int("cost_micros_usd", *usage.CostMicrosUSD)
		}
		event.Msg("assistant turn finished")
		publish(eventFinish, finishEvent{MessageID: t.assistantID, Metadata: metadata})
	}

	if err := h.store.ClearActiveStreamID(persistCtx, t.userID, t.chatID, t.streamID); err != nil {
		logger.Error().Err(err).Msg("clear active stream")
	}
	if err := h.hub.Finish(t.streamID); err != nil {
		logger.Warn().Err(err).Msg("finish stream")
	}
}

// searchWeb runs the web search tool for the user's prompt and returns the
// prompt messages extended with its results.
func (h Handler) searchWeb(
	ctx context.Context,
	t turn,
	acc *stream.Accumulator,
	timer *stream.Timer,
	publishUpdate func(force bool),
	messages []openrouter.Message,
	logger zerolog.Logger,
) []openrouter.Message {
	callID := uuid.NewString()
	timer.MarkToken()
	acc.ToolCall(callID, t.prompt)
	publishUpdate(true)

	results, err := h.searcher.Search(ctx, t.prompt, h.cfg.WebSearchResultCount)
	if err != nil {
		logger.Warn().Err(err).Msg("web search failed")
		acc.ToolError(callID, "web search failed")
		publishUpdate(true)
		return messages
	}
	acc.ToolResult(callID, results)
	publishUpdate(true)

	out := make([]openrouter.Message, 0, len(messages)+1)
	out = append(out, messages[:len(messages)-1]...)
	out = append(out, openrouter.Message{Role: string(chats.RoleSystem), Content: models.SearchContext(t.prompt, results)})
	return append(out, messages[len(messages)-1])
}

func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, openrouter.ErrMissingAPIKey):
		return "an OpenRouter API key is required"
	case errors.Is(err, context.DeadlineExceeded):
		return "the model took too long to respond"
	case openrouter.StatusCode(err) == http.StatusUnauthorized:
		return "the OpenRouter API key was rejected"
	case openrouter.StatusCode(err) == http.StatusTooManyRequests:
		return "the model is rate limited, try again shortly"
	default:
		return "the model failed to respond"
	}
}

// generateTitle names a new chat from its first message in the background.
func (h Handler) generateTitle(ctx context.Context, userID, chatID, apiKey, prompt string) {
	logger := h.logger.With().Str("chat_id", chatID).Logger()

	titleCtx, cancel := context.WithTimeout(ctx, h.cfg.ChatTimeout)
	h.turns.Add(1)
	go func() {
		defer h.turns.Done()
		defer cancel()

		title, err := h.streamerFor(apiKey).Complete(titleCtx, h.cfg.OpenRouterTitleModel, []openrouter.Message{
			{Role: string(chats.RoleSystem), Content: models.TitlePrompt},
			{Role: string(chats.RoleUser), Content: prompt},
		})
		if err != nil {
			logger.Warn().Err(err).Msg("generate chat title")
			return
		}
		title = strings.Trim(strings.TrimSpace(title), `"`)
		if title == "" {
			return
		}
		if err := h.store.RenameChat(titleCtx, userID, chatID, title); err != nil {
			logger.Warn().Err(err).Msg("save chat title")
		}
	}()
}
