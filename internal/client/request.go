package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go"
)

// ErrDecode is wrapped by errors for responses that cannot be parsed.
var ErrDecode = errors.New("malformed response")

// StatusError is returned when /health or a raw request answers with a
// non-200 status. The /v1 endpoints report *openai.Error instead.
type StatusError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the server's error message when the body carried one,
	// otherwise the raw body.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is
// neither a *StatusError nor an *openai.Error.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Response is an HTTP response read in full.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// Do sends a request and returns the response whatever its status.
//
// Use it when the status code itself is under test; the typed methods
// treat every non-200 answer as an error.
//
// Parameters:
//   - method: HTTP method (GET, POST, ...)
//   - path: endpoint path (e.g., "/v1/completions")
//   - reqBody: value serialized as JSON (nil for no body)
//
// Returns:
//   - The response with its body read
//   - An error if the request could not be sent or the body read
func (c *Client) Do(ctx context.Context, method, path string, reqBody interface{}) (*Response, error) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to vLLM server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// doRequest performs a request that must succeed with 200 OK.
//
// Parameters:
//   - method: HTTP method
//   - path: endpoint path
//   - reqBody: request body to serialize (nil for none)
//   - respBody: pointer receiving the decoded body (nil to ignore)
//
// Returns:
//   - nil on success
//   - *StatusError for non-200 answers
//   - an error wrapping ErrDecode if respBody cannot be decoded
//   - the transport error otherwise
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	resp, err := c.Do(ctx, method, path, reqBody)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return newStatusError(resp)
	}

	if respBody != nil {
		return resp.Decode(respBody)
	}
	return nil
}

// newStatusError extracts the server's error message from an OpenAI-style
// body: {"error": {"message": ...}}, {"message": ...} or {"detail": ...}.
func newStatusError(resp *Response) *StatusError {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  interface{}     `json:"detail"`
	}

	msg := string(bytes.TrimSpace(resp.Body))
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case len(body.Error) > 0 && json.Unmarshal(body.Error, &nested) == nil && nested.Message != "":
			msg = nested.Message
		case len(body.Error) > 0 && json.Unmarshal(body.Error, &flat) == nil && flat != "":
			msg = flat
		case body.Message != "":
			msg = body.Message
		case body.Detail != nil:
			msg = fmt.Sprint(body.Detail)
		}
	}

	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
