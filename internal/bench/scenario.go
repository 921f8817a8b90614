// Package bench is a load generator for an OpenAI-compatible completion
// endpoint.
//
// A Runner fires a fixed number of independent completion requests through a
// bounded worker pool, records one Result per request and hands the batch to
// Summarize, which computes the latency distribution and throughput of the
// successful requests. A single failed request never aborts the batch.
package bench

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for the bench command flags.
const (
	DefaultModel       = "/models/qwen3-0.6b"
	DefaultRequests    = 100
	DefaultConcurrency = 10
	DefaultTimeout     = 60 * time.Second
)

// ModeBoth selects every built-in scenario in order.
const ModeBoth = "both"

// Scenario is one benchmark workload.
type Scenario struct {
	// Name identifies the scenario in reports (e.g., "fast").
	Name string

	// Model is sent as the "model" field of every request.
	Model string

	Prompt      string
	MaxTokens   int
	Temperature float64

	// Requests is the number of requests to send.
	Requests int

	// Concurrency is the worker pool size.
	Concurrency int

	// Timeout bounds each request individually.
	Timeout time.Duration
}

// Validate checks that the scenario can be run.
func (s Scenario) Validate() error {
	if s.Requests <= 0 {
		return fmt.Errorf("requests must be positive, got %d", s.Requests)
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", s.Concurrency)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	return nil
}

// builtin holds the workloads of the two thinking modes. The fast prompt asks
// for a short answer, the slow prompt for a long explanation.
var builtin = map[string]Scenario{
	"fast": {
		Name:        "fast",
		Prompt:      "什么是人工智能？请简要回答。",
		MaxTokens:   50,
		Temperature: 0.7,
	},
	"slow": {
		Name:        "slow",
		Prompt:      "详细解释深度学习的工作原理，包括神经网络、反向传播和梯度下降等核心概念：",
		MaxTokens:   500,
		Temperature: 0.3,
	},
}

// Scenarios returns the built-in scenarios selected by mode.
//
// Parameters:
//   - mode: "fast", "slow" or "both" (fast then slow), case-insensitive
//
// Returns:
//   - Scenarios with Model, Requests, Concurrency and Timeout left zero for
//     the caller to fill in
//   - Error for an unknown mode
func Scenarios(mode string) ([]Scenario, error) {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case ModeBoth:
		return []Scenario{builtin["fast"], builtin["slow"]}, nil
	case "fast", "slow":
		return []Scenario{builtin[m]}, nil
	default:
		return nil, fmt.Errorf("unknown benchmark mode %q (expected fast, slow or both)", mode)
	}
}
