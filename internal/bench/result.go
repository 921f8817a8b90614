package bench

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"github.com/tsingmao/xw-vllm/internal/client"
)

// ErrorKind categorizes a failed request.
type ErrorKind string

const (
	// KindHTTPStatus is a response with a status other than 200.
	KindHTTPStatus ErrorKind = "http_status"

	// KindTimeout is a request that exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindTransport is a connection or protocol failure.
	KindTransport ErrorKind = "transport"

	// KindDecode is a 200 response whose body could not be used.
	KindDecode ErrorKind = "decode"
)

// Result is the outcome of one request.
type Result struct {
	Success bool `json:"success"`

	// Latency is the time from sending the request to reading the full
	// response or failing.
	Latency float64 `json:"latency_seconds"`

	// GeneratedTokens counts whitespace-separated words in the completion.
	GeneratedTokens int `json:"generated_tokens"`

	// StatusCode is 0 when no HTTP response was received.
	StatusCode int `json:"status_code,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// CountTokens approximates the generated token count by splitting on
// whitespace.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// newResult builds a Result from a completion outcome.
func newResult(latency float64, resp *client.CompletionResponse, err error) Result {
	if err == nil {
		return Result{
			Success:         true,
			Latency:         latency,
			GeneratedTokens: CountTokens(resp.Text()),
			StatusCode:      http.StatusOK,
		}
	}

	res := Result{Latency: latency, Error: err.Error()}

	var apiErr *openai.Error
	switch code := client.StatusCode(err); {
	case errors.As(err, &apiErr):
		res.ErrorKind = KindHTTPStatus
		res.StatusCode = apiErr.StatusCode
		res.Error = fmt.Sprintf("HTTP %d", apiErr.StatusCode)
	case code != 0:
		res.ErrorKind = KindHTTPStatus
		res.StatusCode = code
		res.Error = fmt.Sprintf("HTTP %d", code)
	case isTimeout(err):
		res.ErrorKind = KindTimeout
	case errors.Is(err, client.ErrDecode):
		res.ErrorKind = KindDecode
		res.StatusCode = http.StatusOK
	default:
		res.ErrorKind = KindTransport
	}

	return res
}

// isTimeout reports whether err came from an expired deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
