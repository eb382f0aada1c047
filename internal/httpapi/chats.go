package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"speedchat/internal/chats"
	"speedchat/internal/grouping"
)

type createChatRequest struct {
	ID string `json:"id"`
}

type updateChatRequest struct {
	Title    *string `json:"title"`
	IsPinned *bool   `json:"isPinned"`
}

type branchChatRequest struct {
	MessageID string `json:"messageId"`
}

type deleteMessagesRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// messageResponse adds rendering groups to assistant messages.
type messageResponse struct {
	chats.Message
	Groups      []grouping.Group `json:"groups,omitempty"`
	Placeholder bool             `json:"placeholder,omitempty"`
}

func (h Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	list, err := h.store.ListChats(r.Context(), userID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list chats")
		writeStoreError(w, err, "list chats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": list})
}

func (h Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createChatRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	chat, err := h.store.CreateChat(r.Context(), userID, req.ID)
	if err != nil {
		writeStoreError(w, err, "create chat")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chat": chat})
}

func (h Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	chat, err := h.store.GetChat(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "read chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat})
}

func (h Handler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Title == nil && req.IsPinned == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "title or isPinned is required")
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title must not be empty")
		return
	}

	chatID := chi.URLParam(r, "id")
	if req.Title != nil {
		if err := h.store.RenameChat(r.Context(), userID, chatID, *req.Title); err != nil {
			writeStoreError(w, err, "rename chat")
			return
		}
	}
	if req.IsPinned != nil {
		if err := h.store.SetPinned(r.Context(), userID, chatID, *req.IsPinned); err != nil {
			writeStoreError(w, err, "pin chat")
			return
		}
	}

	chat, err := h.store.GetChat(r.Context(), userID, chatID)
	if err != nil {
		writeStoreError(w, err, "read chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat})
}

func (h Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteChat(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err, "delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list messages")
		writeStoreError(w, err, "list messages")
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		resp := messageResponse{Message: msg}
		if msg.Role == chats.RoleAssistant {
			resp.Groups = grouping.Build(msg.Parts)
			resp.Placeholder = grouping.NeedsPlaceholder(resp.Groups)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h Handler) BranchChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req branchChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "messageId is required")
		return
	}

	chat, err := h.store.BranchFromMessage(r.Context(), userID, chi.URLParam(r, "id"), strings.TrimSpace(req.MessageID))
	if err != nil {
		writeStoreError(w, err, "branch chat")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chat": chat})
}

func (h Handler) DeleteMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req deleteMessagesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.MessageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messageIds is required")
		return
	}

	if err := h.store.DeleteMessages(r.Context(), userID, req.MessageIDs); err != nil {
		writeStoreError(w, err, "delete messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": len(req.MessageIDs)})
}

func (h Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	hits, err := h.store.Search(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("search chats")
		writeStoreError(w, err, "search")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}
