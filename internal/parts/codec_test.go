package parts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecodesKnownParts(t *testing.T) {
	payload := `[
	  {"type":"reasoning","text":"thinking","state":"streaming","providerMetadata":{"openai":{"itemId":"rs_1"}}},
	  {"type":"text","text":"hello","state":"done"},
	  {"type":"tool-web_search","toolCallId":"call_1","state":"output-available",
	   "input":{"query":"go generics","search_type":"auto"},
	   "output":[{"id":"r1","url":"https://go.dev","title":"Go","snippet":"The Go site"}]}
	]`

	decoded, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	assert.Equal(t, Reasoning{Text: "thinking", State: ReasoningStreaming, Signature: "rs_1"}, decoded[0])
	assert.Equal(t, Text{Text: "hello"}, decoded[1])

	tool, ok := decoded[2].(ToolInvocation)
	require.True(t, ok, "expected tool invocation, got %T", decoded[2])
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, WebSearchToolName, tool.Name)
	assert.Equal(t, ToolOutputAvailable, tool.State)
	assert.Equal(t, "go generics", tool.Input.Query)
	require.Len(t, tool.Output, 1)
	assert.Equal(t, "https://go.dev", tool.Output[0].URL)
}

func TestDecodeSignatureFallsBackToTopLevelItemID(t *testing.T) {
	part := Decode(json.RawMessage(`{"type":"reasoning","text":"a","providerMetadata":{"itemId":"item-7"}}`))
	assert.Equal(t, "item-7", part.(Reasoning).Signature)

	part = Decode(json.RawMessage(`{"type":"reasoning","text":"a","providerMetadata":{"openai":{"itemId":"rs_2"},"itemId":"item-7"}}`))
	assert.Equal(t, "rs_2", part.(Reasoning).Signature)

	part = Decode(json.RawMessage(`{"type":"reasoning","text":"a","providerMetadata":"garbage"}`))
	assert.Equal(t, "", part.(Reasoning).Signature)

	part = Decode(json.RawMessage(`{"type":"reasoning","text":"a"}`))
	assert.Equal(t, "", part.(Reasoning).Signature)
}

func TestParseDegradesMalformedElements(t *testing.T) {
	payload := `[{"type":"text","text":"hi"}, {"type":"frobnicate"}, 42, null, {"type":"text","text":7}, {"type":"text","text":"bye"}]`

	decoded, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, []Part{
		Text{Text: "hi"},
		Other{Type: "frobnicate"},
		Other{},
		Other{},
		Other{Type: "text"},
		Text{Text: "bye"},
	}, decoded)
}

func TestParseRejectsNonArrayPayload(t *testing.T) {
	_, err := Parse([]byte(`{"type":"text"}`))
	require.Error(t, err)
}

func TestWebSearchNonArrayOutputIsDropped(t *testing.T) {
	part := Decode(json.RawMessage(`{"type":"tool-web_search","state":"output-available","output":{"action":{"query":"x"}}}`))
	tool, ok := part.(ToolInvocation)
	require.True(t, ok)
	assert.Nil(t, tool.Output)
	assert.Equal(t, ToolOutputAvailable, tool.State)
}

func TestMarshalProducesWireShapes(t *testing.T) {
	encoded, err := Marshal([]Part{
		Reasoning{Text: "r", State: ReasoningDone, Signature: "rs_1"},
		Text{Text: "t"},
		ToolInvocation{ToolCallID: "c1", Name: WebSearchToolName, State: ToolOutputError, Input: WebSearchInput{Query: "q"}, ErrorText: "boom"},
		Other{Type: "file"},
		nil,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `[
	  {"type":"reasoning","text":"r","state":"done","providerMetadata":{"openai":{"itemId":"rs_1"}}},
	  {"type":"text","text":"t"},
	  {"type":"tool-web_search","toolCallId":"c1","state":"output-error","input":{"query":"q"},"errorText":"boom"},
	  {"type":"file"},
	  {"type":""}
	]`, string(encoded))

	decoded, err := Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, Reasoning{Text: "r", State: ReasoningDone, Signature: "rs_1"}, decoded[0])
	assert.Equal(t, Other{Type: "file"}, decoded[3])
}

func TestListUnmarshalInsideStruct(t *testing.T) {
	var body struct {
		Parts List `json:"parts"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"parts":[{"type":"text","text":"x"},{"type":"step-start"}]}`), &body))
	assert.Equal(t, List{Text{Text: "x"}, Other{Type: "step-start"}}, body.Parts)
}

func TestPlainTextJoinsTextParts(t *testing.T) {
	text := PlainText([]Part{
		Reasoning{Text: "hidden"},
		Text{Text: "first"},
		Text{Text: "   "},
		Other{Type: "file"},
		Text{Text: "second"},
	})
	assert.Equal(t, "first\nsecond", text)
}

func TestCloneCopiesToolOutput(t *testing.T) {
	original := []Part{ToolInvocation{Output: []SearchResult{{URL: "a"}}}}
	cloned := Clone(original)

	cloned[0].(ToolInvocation).Output[0].URL = "b"
	assert.Equal(t, "a", original[0].(ToolInvocation).Output[0].URL)
}
