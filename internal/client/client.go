// Package client provides an HTTP client for the vLLM OpenAI-compatible API.
//
// The client covers the endpoints exercised by the benchmark, the smoke
// checks and the chat command:
//   - GET /health
//   - GET /v1/models
//   - POST /v1/completions (plain and streaming)
//
// The /v1 endpoints go through the openai-go SDK with automatic retries
// disabled, so every request maps to exactly one HTTP exchange. Do sends raw
// bodies for checks that need the server to reject a malformed request.
//
// Every method takes a context; per-request deadlines come from the caller's
// context so one Client can be shared by many concurrent workers.
//
// Example usage:
//
//	c := client.NewClient("http://localhost:8000")
//	resp, err := c.Complete(ctx, client.CompletionRequest{
//	    Model:     "/models/qwen3-0.6b",
//	    Prompt:    "Hello",
//	    MaxTokens: 50,
//	})
package client

import (
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultBaseURL is the address the launcher binds by default.
const DefaultBaseURL = "http://localhost:8000"

// Client is the HTTP client for a vLLM server.
//
// All methods are safe for concurrent use.
type Client struct {
	// baseURL is the server root without a trailing slash
	// (e.g., "http://localhost:8000").
	baseURL string

	// httpClient is shared with the SDK client. It carries no timeout of its
	// own; deadlines come from request contexts.
	httpClient *http.Client

	// api talks to the /v1 endpoints.
	api openai.Client
}

// NewClient creates a client for the server at baseURL.
//
// Parameters:
//   - baseURL: server root (e.g., "http://localhost:8000"); empty uses
//     DefaultBaseURL
//
// Returns:
//   - A configured Client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	hc := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: hc,
		api: openai.NewClient(
			option.WithBaseURL(baseURL+"/v1/"),
			option.WithHTTPClient(hc),
			option.WithMaxRetries(0),
		),
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}
