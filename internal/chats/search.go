package chats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const (
	searchLimit      = 20
	highlightContext = 60
	previewLength    = 100
	ellipsis         = "..."
)

type HitType string

const (
	HitMessage HitType = "message"
	HitChat    HitType = "chat"
)

// SearchHit is either a message match carrying a highlight snippet or a chat
// title match.
type SearchHit struct {
	Type             HitType `json:"type"`
	ChatID           string  `json:"chatId"`
	ChatTitle        string  `json:"chatTitle"`
	UpdatedAt        int64   `json:"updatedAt"`
	MessageID        string  `json:"messageId,omitempty"`
	Role             Role    `json:"role,omitempty"`
	HighlightSnippet string  `json:"highlightSnippet,omitempty"`
	IsHighlighted    bool    `json:"isHighlighted"`
}

// Search matches query case-insensitively against the user's message text
// and chat titles. Each chat appears at most once, preferring a message hit.
func (s Store) Search(ctx context.Context, userID, query string) ([]SearchHit, error) {
	needle := strings.TrimSpace(query)
	if needle == "" {
		return []SearchHit{}, nil
	}

	hits := make([]SearchHit, 0, searchLimit)
	seen := make(map[string]struct{})

	rows, err := s.db.QueryContext(ctx, `
SELECT m.id, m.chat_id, m.role, m.text_part, c.title, c.updated_at
FROM messages m
JOIN chats c ON c.id = m.chat_id
WHERE c.user_id = ? AND instr(lower(m.text_part), lower(?)) > 0
ORDER BY c.updated_at DESC, m.seq ASC;
`, userID, needle)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	for rows.Next() {
		var (
			hit  SearchHit
			role string
			text string
		)
		if err := rows.Scan(&hit.MessageID, &hit.ChatID, &role, &text, &hit.ChatTitle, &hit.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message hit: %w", err)
		}
		if _, ok := seen[hit.ChatID]; ok {
			continue
		}
		seen[hit.ChatID] = struct{}{}

		hit.Type = HitMessage
		hit.Role = Role(role)
		hit.HighlightSnippet, hit.IsHighlighted = Highlight(text, needle)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("search messages: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
SELECT id, title, updated_at
FROM chats
WHERE user_id = ? AND instr(lower(title), lower(?)) > 0
ORDER BY updated_at DESC
LIMIT ?;
`, userID, needle, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		hit := SearchHit{Type: HitChat}
		if err := rows.Scan(&hit.ChatID, &hit.ChatTitle, &hit.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat hit: %w", err)
		}
		if _, ok := seen[hit.ChatID]; ok {
			continue
		}
		seen[hit.ChatID] = struct{}{}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].UpdatedAt > hits[j].UpdatedAt
	})
	if len(hits) > searchLimit {
		hits = hits[:searchLimit]
	}
	return hits, nil
}

// Highlight returns the context around the first case-insensitive match of
// query in text, with an ellipsis on each cut side. Without a match it
// returns a short preview and false. Positions are counted in runes.
func Highlight(text, query string) (string, bool) {
	runes := []rune(text)
	needle := lowerRunes([]rune(query))
	index := indexRunes(lowerRunes(runes), needle)

	if index < 0 || len(needle) == 0 {
		if len(runes) > previewLength {
			return string(runes[:previewLength]) + ellipsis, false
		}
		return text, false
	}

	start := max(0, index-highlightContext)
	end := min(len(runes), index+len(needle)+highlightContext)

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = ellipsis + snippet
	}
	if end < len(runes) {
		snippet += ellipsis
	}
	return snippet, true
}

// lowerRunes folds each rune on its own so indexes line up with the input.
func lowerRunes(in []rune) []rune {
	out := make([]rune, len(in))
	for i, r := range in {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, r := range needle {
			if haystack[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
