// Package smoke holds acceptance checks for a running vLLM server.
//
// The checks verify the server's HTTP contract, not logic owned by this
// repository: the health endpoint answers, at least one model is served,
// completions return text, and malformed requests are rejected. They run
// from the "smoke" command and from this package's tests when
// XW_VLLM_SMOKE_URL points at a live server.
package smoke

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tsingmao/xw-vllm/internal/client"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

// EnvURL names the server used by the live tests.
const EnvURL = "XW_VLLM_SMOKE_URL"

// DefaultModel is the model identifier sent by completion checks.
const DefaultModel = "/models/qwen3-0.6b"

// invalidModel is never served.
const invalidModel = "/invalid/model/path"

// Check is one named acceptance check.
type Check struct {
	Name    string
	Timeout time.Duration

	// run returns a short detail line on success.
	run func(ctx context.Context, s *Suite) (string, error)
}

// Result is the outcome of one check.
type Result struct {
	Name    string
	Passed  bool
	Detail  string
	Err     error
	Latency time.Duration
}

// Suite runs the checks against one server.
type Suite struct {
	client *client.Client
	model  string
}

// NewSuite creates a suite sending completions for model ("" uses
// DefaultModel).
func NewSuite(c *client.Client, model string) *Suite {
	if model == "" {
		model = DefaultModel
	}
	return &Suite{client: c, model: model}
}

// Checks returns the checks in execution order.
func (s *Suite) Checks() []Check {
	return []Check{
		{Name: "health", Timeout: 5 * time.Second, run: checkHealth},
		{Name: "models", Timeout: 10 * time.Second, run: checkModels},
		{Name: "simple_completion", Timeout: 30 * time.Second, run: checkSimpleCompletion},
		{Name: "temperature_effect", Timeout: 60 * time.Second, run: checkTemperature},
		{Name: "invalid_model", Timeout: 30 * time.Second, run: checkInvalidModel},
		{Name: "missing_prompt", Timeout: 30 * time.Second, run: checkMissingPrompt},
	}
}

// RunCheck runs a single check under its timeout.
func (s *Suite) RunCheck(ctx context.Context, check Check) Result {
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	start := time.Now()
	detail, err := check.run(ctx, s)
	res := Result{
		Name:    check.Name,
		Passed:  err == nil,
		Detail:  detail,
		Err:     err,
		Latency: time.Since(start),
	}

	if err != nil {
		logger.Error("Check %s failed: %v", check.Name, err)
	} else {
		logger.Debug("Check %s passed: %s", check.Name, detail)
	}
	return res
}

// Run executes every check; a failing check does not stop the others.
func (s *Suite) Run(ctx context.Context) []Result {
	checks := s.Checks()
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		results = append(results, s.RunCheck(ctx, check))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// PrintResults writes one line per check and a summary.
func PrintResults(w io.Writer, results []Result) {
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
			fmt.Fprintf(w, "✓ %-20s %6.3fs  %s\n", r.Name, r.Latency.Seconds(), r.Detail)
			continue
		}
		fmt.Fprintf(w, "✗ %-20s %6.3fs  %v\n", r.Name, r.Latency.Seconds(), r.Err)
	}
	fmt.Fprintf(w, "\n%d/%d checks passed\n", passed, len(results))
}

func checkHealth(ctx context.Context, s *Suite) (string, error) {
	if err := s.client.Health(ctx); err != nil {
		return "", err
	}
	return "health check passed", nil
}

func checkModels(ctx context.Context, s *Suite) (string, error) {
	list, err := s.client.ListModels(ctx)
	if err != nil {
		return "", err
	}
	if len(list.Data) == 0 {
		return "", fmt.Errorf("server lists no models")
	}
	return fmt.Sprintf("available models: %d (first: %s)", len(list.Data), list.Data[0].ID), nil
}

func checkSimpleCompletion(ctx context.Context, s *Suite) (string, error) {
	resp, err := s.client.Complete(ctx, client.CompletionRequest{
		Model:       s.model,
		Prompt:      "什么是人工智能？",
		MaxTokens:   50,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("completion returned empty text")
	}
	return fmt.Sprintf("generated %d characters", len([]rune(text))), nil
}

func checkTemperature(ctx context.Context, s *Suite) (string, error) {
	const prompt = "人工智能的未来发展方向是："

	for _, temp := range []float64{0.1, 1.0} {
		if _, err := s.client.Complete(ctx, client.CompletionRequest{
			Model:       s.model,
			Prompt:      prompt,
			MaxTokens:   50,
			Temperature: temp,
		}); err != nil {
			return "", fmt.Errorf("temperature %.1f: %w", temp, err)
		}
	}
	return "low (0.1) and high (1.0) temperature accepted", nil
}

func checkInvalidModel(ctx context.Context, s *Suite) (string, error) {
	resp, err := s.client.Do(ctx, http.MethodPost, "/v1/completions", map[string]interface{}{
		"model":      invalidModel,
		"prompt":     "测试",
		"max_tokens": 10,
	})
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError:
		return fmt.Sprintf("rejected with status %d", resp.StatusCode), nil
	default:
		return "", fmt.Errorf("expected status 400, 404 or 500 for unknown model, got %d", resp.StatusCode)
	}
}

func checkMissingPrompt(ctx context.Context, s *Suite) (string, error) {
	resp, err := s.client.Do(ctx, http.MethodPost, "/v1/completions", map[string]interface{}{
		"model":      s.model,
		"max_tokens": 10,
	})
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusBadRequest {
		return "", fmt.Errorf("expected status 400 for missing prompt, got %d", resp.StatusCode)
	}
	return "rejected with status 400", nil
}
