package chats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"speedchat/internal/parts"
)

const defaultTitle = "New Chat"

var (
	ErrNotFound        = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrConflict        = errors.New("chat id already in use")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Chat timestamps are unix milliseconds.
type Chat struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	Title          string `json:"title"`
	IsBranch       bool   `json:"isBranch"`
	IsPinned       bool   `json:"isPinned"`
	ParentChatID   string `json:"parentChatId,omitempty"`
	ActiveStreamID string `json:"activeStreamId,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// Metadata describes how an assistant message was generated. CostMicrosUSD
// is set only when the provider reported a cost.
type Metadata struct {
	ModelName        string  `json:"modelName"`
	TPS              float64 `json:"tps"`
	TTFT             float64 `json:"ttft"`
	ElapsedTime      int64   `json:"elapsedTime"`
	CompletionTokens int     `json:"completionTokens"`
	CostMicrosUSD    *int    `json:"costMicrosUsd,omitempty"`
}

type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chatId"`
	Role      Role       `json:"role"`
	Parts     parts.List `json:"parts"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
	CreatedAt int64      `json:"createdAt"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) Store {
	return Store{db: db, now: time.Now}
}

// WithClock returns a copy of s stamping rows with now.
func (s Store) WithClock(now func() time.Time) Store {
	s.now = now
	return s
}

func (s Store) millis() int64 {
	return s.now().UnixMilli()
}

const chatColumns = `id, user_id, title, is_branch, is_pinned, COALESCE(parent_chat_id, ''), COALESCE(active_stream_id, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (Chat, error) {
	var out Chat
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&out.Title,
		&out.IsBranch,
		&out.IsPinned,
		&out.ParentChatID,
		&out.ActiveStreamID,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	return out, err
}

// CreateChat inserts an empty chat for userID. A blank chatID gets a fresh
// id. Creating a chat the user already owns returns it unchanged.
func (s Store) CreateChat(ctx context.Context, userID, chatID string) (Chat, error) {
	id := strings.TrimSpace(chatID)
	if id == "" {
		id = uuid.NewString()
	}

	now := s.millis()
	query := `
INSERT INTO chats (id, user_id, title, is_branch, is_pinned, created_at, updated_at)
VALUES (?, ?, ?, 0, 0, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	if _, err := s.db.ExecContext(ctx, query, id, userID, defaultTitle, now, now); err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}

	chat, err := s.GetChat(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return Chat{}, ErrConflict
	}
	return chat, err
}

func (s Store) GetChat(ctx context.Context, userID, chatID string) (Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ? AND user_id = ?;`, chatID, userID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

// ListChats returns the user's chats, most recently updated first.
func (s Store) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE user_id = ? ORDER BY updated_at DESC, id ASC;`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]Chat, 0, 16)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return out, nil
}

func (s Store) RenameChat(ctx context.Context, userID, chatID, title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return errors.New("title is required")
	}
	return s.updateChat(ctx, "rename chat", `UPDATE chats SET title = ? WHERE id = ? AND user_id = ?;`, trimmed, chatID, userID)
}

func (s Store) SetPinned(ctx context.Context, userID, chatID string, pinned bool) error {
	return s.updateChat(ctx, "pin chat", `UPDATE chats SET is_pinned = ? WHERE id = ? AND user_id = ?;`, pinned, chatID, userID)
}

func (s Store) updateChat(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat removes the chat and its messages. Branches made from it are
// kept.
func (s Store) DeleteChat(ctx context.Context, userID, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chat: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?;`, chatID, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?;`, chatID); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	return nil
}

// UpsertMessage stores msg in chatID. A new message is appended; an existing
// one keeps its position and creation time. The chat's updated time moves
// forward either way.
func (s Store) UpsertMessage(ctx context.Context, userID, chatID string, msg Message) error {
	if strings.TrimSpace(msg.ID) == "" {
		return errors.New("message id is required")
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}

	encodedParts, err := parts.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("encode message parts: %w", err)
	}
	var encodedMetadata any
	if msg.Metadata != nil {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode message metadata: %w", err)
		}
		encodedMetadata = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert message: %w", err)
	}
	defer tx.Rollback()

	now := s.millis()
	res, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ? AND user_id = ?;`, now, chatID, userID)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}

	query := `
INSERT INTO messages (id, chat_id, seq, role, text_part, parts, metadata, created_at)
VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE chat_id = ?), ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  role = excluded.role,
  text_part = excluded.text_part,
  parts = excluded.parts,
  metadata = excluded.metadata
WHERE messages.chat_id = excluded.chat_id;
`
	res, err = tx.ExecContext(ctx, query,
		msg.ID,
		chatID,
		chatID,
		string(msg.Role),
		parts.PlainText(msg.Parts),
		string(encodedParts),
		encodedMetadata,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("upsert message: id %q belongs to another chat", msg.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert message: %w", err)
	}
	return nil
}

// ListMessages returns the chat's messages in insertion order.
func (s Store) ListMessages(ctx context.Context, userID, chatID string) ([]Message, error) {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, chat_id, role, parts, COALESCE(metadata, ''), created_at
FROM messages
WHERE chat_id = ?
ORDER BY seq ASC;
`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var (
			msg         Message
			role        string
			rawParts    string
			rawMetadata string
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &rawParts, &rawMetadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = Role(role)

		decoded, err := parts.Parse([]byte(rawParts))
		if err != nil {
			return nil, fmt.Errorf("decode parts of message %s: %w", msg.ID, err)
		}
		msg.Parts = decoded

		if rawMetadata != "" {
			var metadata Metadata
			if err := json.Unmarshal([]byte(rawMetadata), &metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of message %s: %w", msg.ID, err)
			}
			msg.Metadata = &metadata
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// DeleteMessages removes every listed message or none of them. Each id must
// belong to one of the user's chats.
func (s Store) DeleteMessages(ctx context.Context, userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete messages: %w", err)
	}
	defer tx.Rollback()

	for _, id := range messageIDs {
		res, err := tx.ExecContext(ctx, `
DELETE FROM messages
WHERE id = ? AND chat_id IN (SELECT id FROM chats WHERE user_id = ?);
`, id, userID)
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete messages: %w", err)
	}
	return nil
}

// BranchFromMessage copies parentChatID up to and including messageID into a
// new chat. Copied message ids are suffixed with the new chat id.
func (s Store) BranchFromMessage(ctx context.Context, userID, parentChatID, messageID string) (Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, fmt.Errorf("begin branch chat: %w", err)
	}
	defer tx.Rollback()

	parent, err := scanChat(tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ? AND user_id = ?;`, parentChatID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("load parent chat: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM messages WHERE id = ? AND chat_id = ?;`, messageID, parent.ID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrMessageNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("load branch message: %w", err)
	}

	now := s.millis()
	branch := Chat{
		ID:           uuid.NewString(),
		UserID:       userID,
		Title:        parent.Title,
		IsBranch:     true,
		ParentChatID: parent.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO chats (id, user_id, title, is_branch, is_pinned, parent_chat_id, created_at, updated_at)
VALUES (?, ?, ?, 1, 0, ?, ?, ?);
`, branch.ID, branch.UserID, branch.Title, branch.ParentChatID, now, now); err != nil {
		return Chat{}, fmt.Errorf("insert branch chat: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, chat_id, seq, role, text_part, parts, metadata, created_at)
SELECT id || '-branch-' || ?, ?, seq, role, text_part, parts, metadata, created_at
FROM messages
WHERE chat_id = ? AND seq <= ?
ORDER BY seq ASC;
`, branch.ID, branch.ID, parent.ID, seq); err != nil {
		return Chat{}, fmt.Errorf("copy branch messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Chat{}, fmt.Errorf("commit branch chat: %w", err)
	}
	return branch, nil
}

func (s Store) SetActiveStreamID(ctx context.Context, userID, chatID, streamID string) error {
	return s.updateChat(ctx, "set active stream", `UPDATE chats SET active_stream_id = ? WHERE id = ? AND user_id = ?;`, streamID, chatID, userID)
}

// ActiveStreamID returns the chat's in-flight stream id, or "" when idle.
func (s Store) ActiveStreamID(ctx context.Context, userID, chatID string) (string, error) {
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return "", err
	}
	return chat.ActiveStreamID, nil
}

// ClearActiveStreamID clears the chat's stream id if it is still streamID.
func (s Store) ClearActiveStreamID(ctx context.Context, userID, chatID, streamID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE chats SET active_stream_id = NULL
WHERE id = ? AND user_id = ? AND active_stream_id = ?;
`, chatID, userID, streamID)
	if err != nil {
		return fmt.Errorf("clear active stream: %w", err)
	}
	return nil
}
