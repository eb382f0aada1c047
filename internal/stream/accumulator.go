// Package stream accumulates provider deltas of one assistant turn into the
// append-only parts array that is grouped for rendering and persisted once
// the turn ends.
package stream

import "speedchat/internal/parts"

const noPart = -1

// Accumulator is owned by the goroutine reading the provider stream. Readers
// on other goroutines only ever see values returned by Snapshot.
type Accumulator struct {
	parts []parts.Part

	openReasoning      int
	openReasoningIndex int
	tools              map[string]int
	seenOutput         bool
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		parts:         make([]parts.Part, 0, 8),
		openReasoning: noPart,
		tools:         make(map[string]int),
	}
}

// ReasoningDelta appends reasoning text. A delta continues the open reasoning
// part when it carries the same signature and detail index; otherwise it
// opens a new part, so one logical step may span several parts.
func (a *Accumulator) ReasoningDelta(signature string, index int, text string) {
	if text == "" {
		return
	}
	a.seenOutput = true

	if a.openReasoning != noPart {
		open := a.parts[a.openReasoning].(parts.Reasoning)
		if open.Signature == signature && a.openReasoningIndex == index {
			open.Text += text
			a.parts[a.openReasoning] = open
			return
		}
		a.closeReasoning()
	}

	a.parts = append(a.parts, parts.Reasoning{
		Text:      text,
		State:     parts.ReasoningStreaming,
		Signature: signature,
	})
	a.openReasoning = len(a.parts) - 1
	a.openReasoningIndex = index
}

func (a *Accumulator) TextDelta(text string) {
	if text == "" {
		return
	}
	a.seenOutput = true
	a.closeReasoning()

	if last := len(a.parts) - 1; last >= 0 {
		if current, ok := a.parts[last].(parts.Text); ok {
			current.Text += text
			a.parts[last] = current
			return
		}
	}
	a.parts = append(a.parts, parts.Text{Text: text})
}

// ToolCall records a web_search invocation waiting for its result.
func (a *Accumulator) ToolCall(callID, query string) {
	a.seenOutput = true
	a.closeReasoning()
	a.parts = append(a.parts, parts.ToolInvocation{
		ToolCallID: callID,
		Name:       parts.WebSearchToolName,
		State:      parts.ToolInputAvailable,
		Input:      parts.WebSearchInput{Query: query},
	})
	a.tools[callID] = len(a.parts) - 1
}

// ToolResult completes the invocation with callID. It reports false when no
// such call was recorded.
func (a *Accumulator) ToolResult(callID string, results []parts.SearchResult) bool {
	idx, ok := a.tools[callID]
	if !ok {
		return false
	}
	tool := a.parts[idx].(parts.ToolInvocation)
	tool.State = parts.ToolOutputAvailable
	tool.Output = append([]parts.SearchResult{}, results...)
	tool.ErrorText = ""
	a.parts[idx] = tool
	return true
}

func (a *Accumulator) ToolError(callID, message string) bool {
	idx, ok := a.tools[callID]
	if !ok {
		return false
	}
	tool := a.parts[idx].(parts.ToolInvocation)
	tool.State = parts.ToolOutputError
	tool.Output = nil
	tool.ErrorText = message
	a.parts[idx] = tool
	return true
}

// Finish marks every reasoning part done. Later deltas are still accepted.
func (a *Accumulator) Finish() {
	for i, part := range a.parts {
		if r, ok := part.(parts.Reasoning); ok && r.State != parts.ReasoningDone {
			r.State = parts.ReasoningDone
			a.parts[i] = r
		}
	}
	a.openReasoning = noPart
}

// Snapshot returns a copy of the parts so far, in arrival order.
func (a *Accumulator) Snapshot() []parts.Part {
	return parts.Clone(a.parts)
}

// Empty reports whether any visible output has arrived.
func (a *Accumulator) Empty() bool {
	return !a.seenOutput
}

func (a *Accumulator) closeReasoning() {
	if a.openReasoning == noPart {
		return
	}
	open := a.parts[a.openReasoning].(parts.Reasoning)
	open.State = parts.ReasoningDone
	a.parts[a.openReasoning] = open
	a.openReasoning = noPart
}
