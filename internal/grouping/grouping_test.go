package grouping

import (
	"encoding/json"
	"testing"

	"speedchat/internal/parts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reasoning(text, signature string, state parts.ReasoningState) parts.Reasoning {
	return parts.Reasoning{Text: text, Signature: signature, State: state}
}

func TestBuildMapsNonReasoningPartsOneToOne(t *testing.T) {
	tool := parts.ToolInvocation{Name: parts.WebSearchToolName, State: parts.ToolInputAvailable, Input: parts.WebSearchInput{Query: "q"}}
	input := []parts.Part{
		parts.Text{Text: "a"},
		tool,
		parts.Other{Type: "file"},
		parts.Text{Text: "b"},
	}

	assert.Equal(t, []Group{
		TextGroup{Text: "a"},
		ToolGroup{Tool: tool},
		UnknownGroup{},
		TextGroup{Text: "b"},
	}, Build(input))
}

func TestBuildMergesSameSignatureRun(t *testing.T) {
	groups := Build([]parts.Part{
		reasoning("a", "s", parts.ReasoningStreaming),
		reasoning("b", "s", parts.ReasoningDone),
	})

	require.Len(t, groups, 1)
	assert.Equal(t, ReasoningGroup{
		Text:        "a\n\nb",
		IsStreaming: false,
		DefaultOpen: false,
		GroupKey:    "reasoning:s:0",
	}, groups[0])
}

func TestBuildLastPartDecidesLiveness(t *testing.T) {
	groups := Build([]parts.Part{
		reasoning("a", "s", parts.ReasoningDone),
		reasoning("b", "s", parts.ReasoningStreaming),
	})

	require.Len(t, groups, 1)
	group := groups[0].(ReasoningGroup)
	assert.True(t, group.IsStreaming)
	assert.True(t, group.DefaultOpen)

	// An empty trailing delta still decides the state.
	groups = Build([]parts.Part{
		reasoning("a", "s", parts.ReasoningStreaming),
		reasoning("  ", "s", parts.ReasoningDone),
	})
	require.Len(t, groups, 1)
	assert.Equal(t, "a", groups[0].(ReasoningGroup).Text)
	assert.False(t, groups[0].(ReasoningGroup).IsStreaming)
}

func TestBuildSplitsDifferentSignatures(t *testing.T) {
	groups := Build([]parts.Part{
		reasoning("a", "s1", parts.ReasoningDone),
		reasoning("b", "s2", parts.ReasoningDone),
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].(ReasoningGroup).Text)
	assert.Equal(t, "reasoning:s1:0", groups[0].(ReasoningGroup).GroupKey)
	assert.Equal(t, "b", groups[1].(ReasoningGroup).Text)
	assert.Equal(t, "reasoning:s2:1", groups[1].(ReasoningGroup).GroupKey)
}

func TestBuildSuppressesEmptyRuns(t *testing.T) {
	assert.Empty(t, Build([]parts.Part{reasoning("", "s", parts.ReasoningStreaming)}))

	groups := Build([]parts.Part{
		reasoning(" \n", "s", parts.ReasoningStreaming),
		parts.Text{Text: "answer"},
	})
	assert.Equal(t, []Group{TextGroup{Text: "answer"}}, groups)
}

func TestBuildTrimsAndSkipsBlankDeltas(t *testing.T) {
	groups := Build([]parts.Part{
		reasoning("  first  ", "s", parts.ReasoningDone),
		reasoning("", "s", parts.ReasoningDone),
		reasoning("\nsecond\n", "s", parts.ReasoningDone),
	})

	require.Len(t, groups, 1)
	assert.Equal(t, "first\n\nsecond", groups[0].(ReasoningGroup).Text)
}

func TestBuildNeverMergesAcrossGaps(t *testing.T) {
	groups := Build([]parts.Part{
		reasoning("one", "", parts.ReasoningDone),
		parts.Text{Text: "between"},
		reasoning("two", "", parts.ReasoningDone),
		reasoning("three", "", parts.ReasoningDone),
		reasoning("four", "s", parts.ReasoningDone),
		reasoning("five", "", parts.ReasoningDone),
	})

	require.Len(t, groups, 5)
	assert.Equal(t, ReasoningGroup{Text: "one", GroupKey: "reasoning:no-sig:0"}, groups[0])
	assert.Equal(t, TextGroup{Text: "between"}, groups[1])
	assert.Equal(t, ReasoningGroup{Text: "two\n\nthree", GroupKey: "reasoning:no-sig:2"}, groups[2])
	assert.Equal(t, ReasoningGroup{Text: "four", GroupKey: "reasoning:s:4"}, groups[3])
	assert.Equal(t, ReasoningGroup{Text: "five", GroupKey: "reasoning:no-sig:5"}, groups[4])
}

func TestBuildKeepsSameSignatureSeparateAcrossGaps(t *testing.T) {
	groups := Build([]parts.Part{
		reasoning("first", "s", parts.ReasoningDone),
		parts.Text{Text: "between"},
		reasoning("second", "s", parts.ReasoningStreaming),
	})

	require.Len(t, groups, 3)
	assert.Equal(t, ReasoningGroup{Text: "first", GroupKey: "reasoning:s:0"}, groups[0])
	assert.Equal(t, TextGroup{Text: "between"}, groups[1])
	assert.Equal(t, ReasoningGroup{Text: "second", IsStreaming: true, DefaultOpen: true, GroupKey: "reasoning:s:2"}, groups[2])
}

func TestBuildIsIdempotent(t *testing.T) {
	input := []parts.Part{
		reasoning("a", "s", parts.ReasoningStreaming),
		parts.Text{Text: "hi"},
		parts.Other{Type: "step-start"},
	}

	assert.Equal(t, Build(input), Build(input))
}

func TestBuildKeysStayStableAsRunGrows(t *testing.T) {
	first := []parts.Part{
		parts.Text{Text: "intro"},
		reasoning("a", "s", parts.ReasoningStreaming),
	}
	second := append(append([]parts.Part(nil), first...), reasoning("b", "s", parts.ReasoningStreaming))

	before := Build(first)
	after := Build(second)

	require.Len(t, before, 2)
	require.Len(t, after, 2)
	assert.Equal(t, before[1].(ReasoningGroup).GroupKey, after[1].(ReasoningGroup).GroupKey)
	assert.Equal(t, "a\n\nb", after[1].(ReasoningGroup).Text)
}

func TestBuildToleratesUnknownTypes(t *testing.T) {
	decoded, err := parts.Parse([]byte(`[{"type":"text","text":"hi"},{"type":"frobnicate"},{"type":"text","text":"bye"}]`))
	require.NoError(t, err)

	assert.Equal(t, []Group{
		TextGroup{Text: "hi"},
		UnknownGroup{},
		TextGroup{Text: "bye"},
	}, Build(decoded))
}

func TestBuildPassesToolErrorsThrough(t *testing.T) {
	tool := parts.ToolInvocation{Name: parts.WebSearchToolName, State: parts.ToolOutputError, Input: parts.WebSearchInput{Query: "x"}}

	groups := Build([]parts.Part{tool})
	require.Equal(t, []Group{ToolGroup{Tool: tool}}, groups)
	assert.Equal(t, parts.ToolOutputError, groups[0].(ToolGroup).Tool.State)
}

func TestBuildHandlesNilParts(t *testing.T) {
	assert.Empty(t, Build(nil))
	assert.Equal(t, []Group{UnknownGroup{}}, Build([]parts.Part{nil}))
}

func TestNeedsPlaceholder(t *testing.T) {
	assert.True(t, NeedsPlaceholder(Build([]parts.Part{reasoning("", "s", parts.ReasoningStreaming)})))
	assert.False(t, NeedsPlaceholder(Build([]parts.Part{parts.Text{Text: "x"}})))
}

func TestGroupsEncodeWithKind(t *testing.T) {
	encoded, err := json.Marshal(Build([]parts.Part{
		reasoning("r", "s", parts.ReasoningStreaming),
		parts.Text{Text: "t"},
		parts.ToolInvocation{Name: parts.WebSearchToolName, State: parts.ToolInputAvailable, Input: parts.WebSearchInput{Query: "q"}},
		parts.Other{Type: "file"},
	}))
	require.NoError(t, err)

	assert.JSONEq(t, `[
	  {"kind":"reasoning","text":"r","isStreaming":true,"defaultOpen":true,"groupKey":"reasoning:s:0"},
	  {"kind":"text","text":"t"},
	  {"kind":"tool","tool":{"type":"tool-web_search","state":"input-available","input":{"query":"q"}}},
	  {"kind":"unknown"}
	]`, string(encoded))
}
