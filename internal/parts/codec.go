package parts

import (
	"encoding/json"
	"fmt"
)

// List is a parts array that decodes leniently from UI message JSON.
type List []Part

func (l *List) UnmarshalJSON(data []byte) error {
	decoded, err := Parse(data)
	if err != nil {
		return err
	}
	*l = decoded
	return nil
}

func (l List) MarshalJSON() ([]byte, error) {
	return Marshal(l)
}

// Parse decodes a JSON array of message parts. Only a payload that is not an
// array is an error; elements that cannot be understood become Other so the
// order of the remaining parts is kept.
func Parse(data []byte) ([]Part, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode parts: %w", err)
	}
	out := make([]Part, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Decode(raw))
	}
	return out, nil
}

// Decode turns one wire part into a Part. It never fails.
func Decode(raw json.RawMessage) Part {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Other{}
	}

	kind, _ := stringValue(fields["type"])
	switch Kind(kind) {
	case KindReasoning:
		text, _ := stringValue(fields["text"])
		state, _ := stringValue(fields["state"])
		return Reasoning{
			Text:      text,
			State:     ReasoningState(state),
			Signature: signature(fields["providerMetadata"]),
		}
	case KindText:
		text, ok := stringValue(fields["text"])
		if !ok {
			return Other{Type: kind}
		}
		return Text{Text: text}
	case KindWebSearch:
		return decodeWebSearch(fields)
	default:
		return Other{Type: kind}
	}
}

type providerMetadata struct {
	OpenAI *struct {
		ItemID *string `json:"itemId"`
	} `json:"openai"`
	ItemID *string `json:"itemId"`
}

// signature prefers the OpenAI item id and falls back to a top-level one.
func signature(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var meta providerMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	if meta.OpenAI != nil && meta.OpenAI.ItemID != nil {
		return *meta.OpenAI.ItemID
	}
	if meta.ItemID != nil {
		return *meta.ItemID
	}
	return ""
}

func decodeWebSearch(fields map[string]json.RawMessage) Part {
	tool := ToolInvocation{Name: WebSearchToolName}
	tool.ToolCallID, _ = stringValue(fields["toolCallId"])
	state, _ := stringValue(fields["state"])
	tool.State = ToolState(state)
	tool.ErrorText, _ = stringValue(fields["errorText"])

	if raw, ok := fields["input"]; ok {
		var input WebSearchInput
		if err := json.Unmarshal(raw, &input); err == nil {
			tool.Input = input
		}
	}
	if raw, ok := fields["output"]; ok {
		var output []SearchResult
		if err := json.Unmarshal(raw, &output); err == nil {
			tool.Output = output
		}
	}
	return tool
}

func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

// Marshal encodes parts in the UI message wire shape.
func Marshal(ps []Part) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(ps))
	for _, part := range ps {
		if part == nil {
			part = Other{}
		}
		encoded, err := json.Marshal(part)
		if err != nil {
			return nil, fmt.Errorf("encode %s part: %w", part.Kind(), err)
		}
		raws = append(raws, encoded)
	}
	return json.Marshal(raws)
}

type openAIMetadata struct {
	ItemID string `json:"itemId"`
}

type reasoningMetadata struct {
	OpenAI openAIMetadata `json:"openai"`
}

func (r Reasoning) MarshalJSON() ([]byte, error) {
	wire := struct {
		Type             Kind               `json:"type"`
		Text             string             `json:"text"`
		State            ReasoningState     `json:"state,omitempty"`
		ProviderMetadata *reasoningMetadata `json:"providerMetadata,omitempty"`
	}{Type: KindReasoning, Text: r.Text, State: r.State}
	if r.Signature != "" {
		wire.ProviderMetadata = &reasoningMetadata{OpenAI: openAIMetadata{ItemID: r.Signature}}
	}
	return json.Marshal(wire)
}

func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind   `json:"type"`
		Text string `json:"text"`
	}{Type: KindText, Text: t.Text})
}

func (t ToolInvocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       Kind           `json:"type"`
		ToolCallID string         `json:"toolCallId,omitempty"`
		State      ToolState      `json:"state"`
		Input      WebSearchInput `json:"input"`
		Output     []SearchResult `json:"output,omitempty"`
		ErrorText  string         `json:"errorText,omitempty"`
	}{
		Type:       KindWebSearch,
		ToolCallID: t.ToolCallID,
		State:      t.State,
		Input:      t.Input,
		Output:     t.Output,
		ErrorText:  t.ErrorText,
	})
}

func (o Other) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: o.Type})
}
