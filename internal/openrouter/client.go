package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"speedchat/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

var ErrMissingAPIKey = errors.New("openrouter api key is not configured")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	ReasoningTokens  *int `json:"reasoningTokens,omitempty"`
	CostMicrosUSD    *int `json:"costMicrosUsd,omitempty"`
}

type ReasoningConfig struct {
	Effort string `json:"effort,omitempty"`
}

type StreamRequest struct {
	Model     string           `json:"model"`
	Messages  []Message        `json:"messages"`
	Reasoning *ReasoningConfig `json:"reasoning,omitempty"`
}

// ReasoningDelta is one reasoning detail chunk. ID correlates chunks of the
// same reasoning item and is empty when the provider sends none; Index is
// the detail's position within the item.
type ReasoningDelta struct {
	ID    string
	Index int
	Text  string
}

type streamAPIRequest struct {
	Model         string           `json:"model"`
	Messages      []Message        `json:"messages"`
	Reasoning     *ReasoningConfig `json:"reasoning,omitempty"`
	Stream        bool             `json:"stream"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type reasoningDetail struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Index   int    `json:"index"`
	Text    string `json:"text"`
	Summary string `json:"summary"`
}

// text returns the human-readable content of a detail. Encrypted details
// carry none.
func (d reasoningDetail) text() string {
	switch d.Type {
	case "reasoning.text":
		return d.Text
	case "reasoning.summary":
		return d.Summary
	default:
		return ""
	}
}

type completionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

type streamAPIUsage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens             int                      `json:"total_tokens"`
	CompletionTokensDetails *completionTokensDetails `json:"completion_tokens_details"`
	Cost                    json.RawMessage          `json:"cost"`
}

type apiError struct {
	Message string `json:"message"`
}

type streamAPIResponse struct {
	Choices []struct {
		Delta struct {
			Content          string            `json:"content"`
			ReasoningDetails []reasoningDetail `json:"reasoning_details"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *streamAPIUsage `json:"usage,omitempty"`
	Error *apiError       `json:"error,omitempty"`
}

type completionAPIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type upstreamStatusError struct {
	statusCode int
	body       string
}

func (e upstreamStatusError) Error() string {
	return fmt.Sprintf("openrouter returned %d: %s", e.statusCode, e.body)
}

// StatusCode returns the HTTP status of an upstream failure, or 0 when err
// did not come from a non-2xx response.
func StatusCode(err error) int {
	var upstreamErr upstreamStatusError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.statusCode
	}
	return 0
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.OpenRouterAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/"),
		httpClient: httpClient,
	}
}

// WithAPIKey returns a copy of c authenticating with key. A blank key keeps
// the configured one.
func (c Client) WithAPIKey(key string) Client {
	if trimmed := strings.TrimSpace(key); trimmed != "" {
		c.apiKey = trimmed
	}
	return c
}

func (c Client) StreamChatCompletion(
	ctx context.Context,
	req StreamRequest,
	onStart func() error,
	onDelta func(string) error,
	onReasoning func(ReasoningDelta) error,
	onUsage func(Usage) error,
) error {
	if err := c.validate(req.Model, req.Messages); err != nil {
		return err
	}

	var reasoning *ReasoningConfig
	if req.Reasoning != nil {
		effort := strings.TrimSpace(req.Reasoning.Effort)
		if effort != "" {
			reasoning = &ReasoningConfig{Effort: effort}
		}
	}

	resp, err := c.post(ctx, "text/event-stream", streamAPIRequest{
		Model:     strings.TrimSpace(req.Model),
		Messages:  req.Messages,
		Reasoning: reasoning,
		Stream:    true,
		StreamOptions: &streamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if onStart != nil {
		if err := onStart(); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		var parsed streamAPIResponse
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			continue
		}

		if parsed.Usage != nil && onUsage != nil {
			usage := Usage{
				PromptTokens:     parsed.Usage.PromptTokens,
				CompletionTokens: parsed.Usage.CompletionTokens,
				TotalTokens:      parsed.Usage.TotalTokens,
				CostMicrosUSD:    parseOptionalPriceMicros(parsed.Usage.Cost),
			}
			if parsed.Usage.CompletionTokensDetails != nil {
				reasoningTokens := parsed.Usage.CompletionTokensDetails.ReasoningTokens
				usage.ReasoningTokens = &reasoningTokens
			}
			if err := onUsage(usage); err != nil {
				return err
			}
		}

		if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
			return errors.New(strings.TrimSpace(parsed.Error.Message))
		}

		for _, choice := range parsed.Choices {
			// Reasoning arrives ahead of content within a chunk.
			for _, detail := range choice.Delta.ReasoningDetails {
				text := detail.text()
				if text == "" || onReasoning == nil {
					continue
				}
				if err := onReasoning(ReasoningDelta{ID: strings.TrimSpace(detail.ID), Index: detail.Index, Text: text}); err != nil {
					return err
				}
			}

			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			if onDelta != nil {
				if err := onDelta(delta); err != nil {
					return err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read openrouter stream: %w", err)
	}
	return nil
}

// Complete runs a non-streaming completion and returns the first choice.
func (c Client) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	if err := c.validate(model, messages); err != nil {
		return "", err
	}

	resp, err := c.post(ctx, "application/json", streamAPIRequest{
		Model:    strings.TrimSpace(model),
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed completionAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode openrouter completion: %w", err)
	}
	if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return "", errors.New(strings.TrimSpace(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("openrouter completion returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func (c Client) validate(model string, messages []Message) error {
	if strings.TrimSpace(c.apiKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(model) == "" {
		return errors.New("model is required")
	}
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	return nil
}

func (c Client) post(ctx context.Context, accept string, body streamAPIRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request openrouter: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, upstreamStatusError{
			statusCode: resp.StatusCode,
			body:       strings.TrimSpace(string(errBody)),
		}
	}
	return resp, nil
}

func parseOptionalPriceMicros(raw json.RawMessage) *int {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return nil
	}
	micros := parsePriceMicros(raw)
	return &micros
}

func parsePriceMicros(raw json.RawMessage) int {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return 0
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return priceStringToMicros(asString)
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		if asNumber < 0 {
			return 0
		}
		return int(math.Round(asNumber * 1_000_000))
	}

	return 0
}

func priceStringToMicros(raw string) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}

	if floatValue, err := strconv.ParseFloat(trimmed, 64); err == nil {
		if floatValue < 0 {
			return 0
		}
		return int(math.Round(floatValue * 1_000_000))
	}

	rat := new(big.Rat)
	if _, ok := rat.SetString(trimmed); !ok {
		return 0
	}
	if rat.Sign() < 0 {
		return 0
	}

	rat.Mul(rat, big.NewRat(1_000_000, 1))
	value, _ := rat.Float64()
	return int(math.Round(value))
}
