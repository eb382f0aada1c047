// Package parts models the parts of a chat message as they arrive from a
// streaming assistant turn: reasoning deltas, text, web search tool calls and
// anything else the transport forwards.
package parts

import "strings"

// Kind is the wire "type" tag of a part.
type Kind string

const (
	KindReasoning Kind = "reasoning"
	KindText      Kind = "text"
	KindWebSearch Kind = "tool-web_search"
)

// WebSearchToolName is the only tool the chat exposes to models.
const WebSearchToolName = "web_search"

type ReasoningState string

const (
	ReasoningStreaming ReasoningState = "streaming"
	ReasoningDone      ReasoningState = "done"
)

type ToolState string

const (
	ToolInputAvailable  ToolState = "input-available"
	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
)

// Part is one of Reasoning, Text, ToolInvocation or Other. The set is closed;
// code switching on a Part should treat anything unexpected like Other.
type Part interface {
	Kind() Kind
	isPart()
}

// Reasoning is a single reasoning delta. Signature correlates deltas of the
// same logical reasoning step and is empty when the provider sent no id.
type Reasoning struct {
	Text      string
	State     ReasoningState
	Signature string
}

func (Reasoning) Kind() Kind { return KindReasoning }
func (Reasoning) isPart()    {}

// Streaming reports whether the provider is still sending this part.
func (r Reasoning) Streaming() bool {
	return r.State == ReasoningStreaming
}

type Text struct {
	Text string
}

func (Text) Kind() Kind { return KindText }
func (Text) isPart()    {}

type WebSearchInput struct {
	Query      string `json:"query"`
	SearchType string `json:"search_type,omitempty"`
}

type SearchResult struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Snippet       string `json:"snippet"`
	Favicon       string `json:"favicon,omitempty"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

// ToolInvocation is a web_search call together with its result once known.
type ToolInvocation struct {
	ToolCallID string
	Name       string
	State      ToolState
	Input      WebSearchInput
	Output     []SearchResult
	ErrorText  string
}

func (ToolInvocation) Kind() Kind { return KindWebSearch }
func (ToolInvocation) isPart()    {}

// Other keeps the position of a part this package does not understand.
type Other struct {
	Type string
}

func (o Other) Kind() Kind { return Kind(o.Type) }
func (Other) isPart()      {}

// PlainText returns the text parts of a message joined by newlines. It is the
// searchable body of a message.
func PlainText(ps []Part) string {
	texts := make([]string, 0, len(ps))
	for _, part := range ps {
		if text, ok := part.(Text); ok && strings.TrimSpace(text.Text) != "" {
			texts = append(texts, text.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Clone copies ps so the result shares no slices with the input.
func Clone(ps []Part) []Part {
	if ps == nil {
		return nil
	}
	out := make([]Part, len(ps))
	for i, part := range ps {
		if tool, ok := part.(ToolInvocation); ok && tool.Output != nil {
			tool.Output = append([]SearchResult(nil), tool.Output...)
			part = tool
		}
		out[i] = part
	}
	return out
}
