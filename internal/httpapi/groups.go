package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"

	"speedchat/internal/grouping"
	"speedchat/internal/parts"
)

type groupsResponse struct {
	Groups      []grouping.Group `json:"groups"`
	Placeholder bool             `json:"placeholder"`
}

func newGroupsResponse(ps []parts.Part) groupsResponse {
	groups := grouping.Build(ps)
	return groupsResponse{Groups: groups, Placeholder: grouping.NeedsPlaceholder(groups)}
}

// GroupParts groups a parts array sent either bare or as {"parts": [...]}.
func (h Handler) GroupParts(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	payload := bytes.TrimSpace(raw)
	if len(payload) > 0 && payload[0] == '{' {
		var wrapped struct {
			Parts json.RawMessage `json:"parts"`
		}
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		payload = wrapped.Parts
	}

	ps, err := parts.Parse(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "parts must be a JSON array")
		return
	}
	writeJSON(w, http.StatusOK, newGroupsResponse(ps))
}
