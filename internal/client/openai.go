package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openai/openai-go"
)

// CompletionRequest is the body of POST /v1/completions.
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// params converts the request for the SDK. MaxTokens and Temperature are
// always sent, zero included.
func (r CompletionRequest) params() openai.CompletionNewParams {
	return openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(r.Model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(r.Prompt)},
		MaxTokens:   openai.Int(int64(r.MaxTokens)),
		Temperature: openai.Float(r.Temperature),
	}
}

// CompletionChoice is one generated alternative.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Usage reports token accounting as returned by the server.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the body returned by POST /v1/completions.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// Text returns the first choice's text, or "" when there are no choices.
func (r *CompletionResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Text
}

func newCompletionResponse(c *openai.Completion) *CompletionResponse {
	resp := &CompletionResponse{
		ID:      c.ID,
		Model:   c.Model,
		Choices: make([]CompletionChoice, 0, len(c.Choices)),
	}
	for _, ch := range c.Choices {
		resp.Choices = append(resp.Choices, CompletionChoice{
			Index:        int(ch.Index),
			Text:         ch.Text,
			FinishReason: string(ch.FinishReason),
		})
	}
	if u := c.Usage; u.TotalTokens > 0 || u.CompletionTokens > 0 {
		resp.Usage = &Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		}
	}
	return resp
}

// ModelInfo is one entry of GET /v1/models.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
	MaxLen  int    `json:"max_model_len,omitempty"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Data []ModelInfo `json:"data"`
}

// Health checks GET /health. It returns nil only on 200 OK.
func (c *Client) Health(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
}

// ListModels returns the models served by GET /v1/models.
//
// vLLM adds max_model_len to each entry; it is read from the raw entry since
// the SDK type does not declare it.
func (c *Client) ListModels(ctx context.Context) (*ModelList, error) {
	page, err := c.api.Models.List(ctx)
	if err != nil {
		return nil, c.wrapError(ctx, err)
	}

	list := &ModelList{Data: make([]ModelInfo, 0, len(page.Data))}
	for _, m := range page.Data {
		info := ModelInfo{ID: m.ID, Object: string(m.Object), OwnedBy: m.OwnedBy}
		var extra struct {
			MaxLen int `json:"max_model_len"`
		}
		if raw := m.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &extra) == nil {
			info.MaxLen = extra.MaxLen
		}
		list.Data = append(list.Data, info)
	}
	return list, nil
}

// Complete sends a non-streaming completion request.
//
// Returns:
//   - The decoded response; it always has at least one choice
//   - *openai.Error for non-200 answers
//   - An error wrapping ErrDecode when the body is malformed or has no
//     choices
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	completion, err := c.api.Completions.New(ctx, req.params())
	if err != nil {
		return nil, c.wrapError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in completion response", ErrDecode)
	}
	return newCompletionResponse(completion), nil
}

// wrapError sorts an SDK error into a status, transport or decode failure.
func (c *Client) wrapError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	var urlErr *url.Error
	switch {
	case errors.As(err, &apiErr):
		return err
	case errors.As(err, &urlErr):
		return fmt.Errorf("cannot connect to vLLM server at %s: %w", c.baseURL, err)
	case ctx.Err() != nil:
		return fmt.Errorf("request to %s aborted: %w", c.baseURL, err)
	default:
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
}

// WaitReady polls /health until it answers 200, ctx ends, or the server
// returns a status other than 200 or 503.
//
// Parameters:
//   - interval: delay between polls
//
// Returns:
//   - nil once the server is healthy
//   - ctx.Err() if the context ends first
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := c.Health(ctx)
		if err == nil {
			return nil
		}

		var se *StatusError
		if errors.As(err, &se) && se.StatusCode != http.StatusServiceUnavailable {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
