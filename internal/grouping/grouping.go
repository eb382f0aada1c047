// Package grouping turns the parts of a streaming assistant turn into the
// groups a renderer draws. Consecutive reasoning deltas that share a
// signature collapse into one collapsible reasoning block; every other part
// maps to exactly one group in place.
//
// Build is a pure function. Callers re-run it on every new snapshot of the
// parts array while a turn streams; the output for a given input never
// changes, and group keys of existing reasoning blocks stay the same as the
// array grows.
package grouping

import (
	"encoding/json"
	"strconv"
	"strings"

	"speedchat/internal/parts"
)

type Kind string

const (
	KindReasoning Kind = "reasoning"
	KindText      Kind = "text"
	KindTool      Kind = "tool"
	KindUnknown   Kind = "unknown"
)

const reasoningSeparator = "\n\n"

// Group is one of ReasoningGroup, TextGroup, ToolGroup or UnknownGroup.
type Group interface {
	Kind() Kind
	isGroup()
}

// ReasoningGroup is a run of same-signature reasoning parts.
type ReasoningGroup struct {
	Text        string `json:"text"`
	IsStreaming bool   `json:"isStreaming"`
	DefaultOpen bool   `json:"defaultOpen"`
	GroupKey    string `json:"groupKey"`
}

type TextGroup struct {
	Text string `json:"text"`
}

// ToolGroup carries the invocation as-is; renderers pick spinner, results or
// error from Tool.State.
type ToolGroup struct {
	Tool parts.ToolInvocation `json:"tool"`
}

type UnknownGroup struct{}

func (ReasoningGroup) Kind() Kind { return KindReasoning }
func (TextGroup) Kind() Kind      { return KindText }
func (ToolGroup) Kind() Kind      { return KindTool }
func (UnknownGroup) Kind() Kind   { return KindUnknown }

func (ReasoningGroup) isGroup() {}
func (TextGroup) isGroup()      {}
func (ToolGroup) isGroup()      {}
func (UnknownGroup) isGroup()   {}

// Build groups ps in a single left-to-right pass.
func Build(ps []parts.Part) []Group {
	out := make([]Group, 0, len(ps))
	for i := 0; i < len(ps); {
		switch part := ps[i].(type) {
		case parts.Reasoning:
			end := runEnd(ps, i, part.Signature)
			if group, ok := reasoningGroup(ps[i:end], part.Signature, i); ok {
				out = append(out, group)
			}
			i = end
			continue
		case parts.Text:
			out = append(out, TextGroup{Text: part.Text})
		case parts.ToolInvocation:
			out = append(out, ToolGroup{Tool: part})
		default:
			out = append(out, UnknownGroup{})
		}
		i++
	}
	return out
}

// Key identifies a reasoning run by its signature and the index of its first
// part.
func Key(signature string, start int) string {
	if signature == "" {
		signature = "no-sig"
	}
	return "reasoning:" + signature + ":" + strconv.Itoa(start)
}

// NeedsPlaceholder reports whether a turn has nothing renderable yet, in
// which case the caller shows a generic processing indicator.
func NeedsPlaceholder(groups []Group) bool {
	return len(groups) == 0
}

// runEnd returns the exclusive end of the run of reasoning parts starting at
// start that share signature.
func runEnd(ps []parts.Part, start int, signature string) int {
	end := start
	for end < len(ps) {
		next, ok := ps[end].(parts.Reasoning)
		if !ok || next.Signature != signature {
			break
		}
		end++
	}
	return end
}

func reasoningGroup(run []parts.Part, signature string, start int) (ReasoningGroup, bool) {
	var text strings.Builder
	for _, part := range run {
		trimmed := strings.TrimSpace(part.(parts.Reasoning).Text)
		if trimmed == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString(reasoningSeparator)
		}
		text.WriteString(trimmed)
	}
	if text.Len() == 0 {
		return ReasoningGroup{}, false
	}

	// Liveness follows the latest delta only.
	streaming := run[len(run)-1].(parts.Reasoning).Streaming()
	return ReasoningGroup{
		Text:        text.String(),
		IsStreaming: streaming,
		DefaultOpen: streaming,
		GroupKey:    Key(signature, start),
	}, true
}

func (g ReasoningGroup) MarshalJSON() ([]byte, error) {
	type plain ReasoningGroup
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		plain
	}{KindReasoning, plain(g)})
}

func (g TextGroup) MarshalJSON() ([]byte, error) {
	type plain TextGroup
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		plain
	}{KindText, plain(g)})
}

func (g ToolGroup) MarshalJSON() ([]byte, error) {
	type plain ToolGroup
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		plain
	}{KindTool, plain(g)})
}

func (UnknownGroup) MarshalJSON() ([]byte, error) {
	return []byte(`{"kind":"unknown"}`), nil
}
