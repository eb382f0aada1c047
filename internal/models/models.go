// Package models holds the static chat model catalog and prompts.
package models

import (
	"fmt"
	"strings"

	"speedchat/internal/parts"
)

// reasoningPrefix marks catalog entries that run a provider model with
// reasoning enabled.
const reasoningPrefix = "reasoning-"

// DefaultReasoningEffort is requested for reasoning models.
const DefaultReasoningEffort = "medium"

type Model struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	IsReasoningModel bool   `json:"isReasoningModel"`
	Default          bool   `json:"default"`
}

// ProviderID is the upstream model slug.
func (m Model) ProviderID() string {
	return strings.TrimPrefix(m.ID, reasoningPrefix)
}

var catalog = []Model{
	{ID: "google/gemini-2.5-flash", Name: "Gemini 2.5 Flash", Default: true},
	{ID: "reasoning-google/gemini-2.5-flash", Name: "Gemini 2.5 Flash (Reasoning)", IsReasoningModel: true},
	{ID: "google/gemini-2.5-pro", Name: "Gemini 2.5 Pro", IsReasoningModel: true},
	{ID: "anthropic/claude-sonnet-4.5", Name: "Claude Sonnet 4.5"},
	{ID: "reasoning-anthropic/claude-sonnet-4.5", Name: "Claude Sonnet 4.5 (Reasoning)", IsReasoningModel: true},
	{ID: "openai/gpt-5.1", Name: "GPT-5.1", IsReasoningModel: true},
	{ID: "moonshotai/kimi-k2-thinking", Name: "Kimi K2 Thinking", IsReasoningModel: true},
}

// All returns a copy of the catalog in display order.
func All() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

func Default() Model {
	for _, m := range catalog {
		if m.Default {
			return m
		}
	}
	return catalog[0]
}

// Lookup finds a catalog entry by id. A blank id resolves to the default.
func Lookup(id string) (Model, bool) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return Default(), true
	}
	for _, m := range catalog {
		if m.ID == trimmed {
			return m, true
		}
	}
	return Model{}, false
}

const TitlePrompt = `Generate a concise title (5-6 words max) that captures the main topic of this conversation based on the user's message.

Rules:
- Maximum 5 words
- No punctuation
- Descriptive and specific
- Use title case

Return only the title, nothing else.`

func ChatSystemPrompt(modelName string) string {
	return fmt.Sprintf(`You are %s, a helpful assistant in a fast chat app.

Answer clearly and directly. Use GitHub-flavored markdown when it helps readability.
When web search results are provided, ground your answer in them and cite sources by URL.`, strings.TrimSpace(modelName))
}

// SearchContext renders web search results as a system message body.
func SearchContext(query string, results []parts.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for %q:\n", strings.TrimSpace(query))
	if len(results) == 0 {
		b.WriteString("\nNo results were found.")
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, r.Title, r.URL)
		if snippet := strings.TrimSpace(r.Snippet); snippet != "" {
			b.WriteString(snippet)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
