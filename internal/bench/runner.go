package bench

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tsingmao/xw-vllm/internal/client"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

// progressEvery is how often, in completed requests, progress is logged.
const progressEvery = 10

// Completer sends one completion request.
//
// *client.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req client.CompletionRequest) (*client.CompletionResponse, error)
}

// Batch is the raw outcome of one scenario run.
type Batch struct {
	Scenario Scenario

	// Results holds one entry per request in completion order.
	Results []Result

	// Elapsed spans the first dispatch to the last completion.
	Elapsed time.Duration
}

// Runner executes scenarios against a completion endpoint.
type Runner struct {
	completer Completer
}

// NewRunner creates a runner sending requests through c.
func NewRunner(c Completer) *Runner {
	return &Runner{completer: c}
}

// Run sends sc.Requests requests with at most sc.Concurrency in flight.
//
// Each request gets its own sc.Timeout deadline derived from ctx. Workers
// hand their results to a single collector goroutine, so no state is shared
// between workers. Cancelling ctx makes the remaining requests fail fast
// but still yields one Result per request.
//
// Returns:
//   - The batch with len(Results) == sc.Requests
//   - Error only if the scenario is invalid
func (r *Runner) Run(ctx context.Context, sc Scenario) (*Batch, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Running %s benchmark: %d requests, concurrency %d, max_tokens %d",
		sc.Name, sc.Requests, sc.Concurrency, sc.MaxTokens)

	results := make(chan Result)
	collected := make([]Result, 0, sc.Requests)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for res := range results {
			collected = append(collected, res)
			if n := len(collected); n%progressEvery == 0 || n == sc.Requests {
				logger.Info("Progress: %d/%d requests completed", n, sc.Requests)
			}
		}
	}()

	req := client.CompletionRequest{
		Model:       sc.Model,
		Prompt:      sc.Prompt,
		MaxTokens:   sc.MaxTokens,
		Temperature: sc.Temperature,
	}

	var g errgroup.Group
	g.SetLimit(sc.Concurrency)

	start := time.Now()
	for i := 0; i < sc.Requests; i++ {
		g.Go(func() error {
			results <- r.single(ctx, req, sc.Timeout)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	close(results)
	<-done

	return &Batch{Scenario: sc, Results: collected, Elapsed: elapsed}, nil
}

// single sends one request under its own deadline.
func (r *Runner) single(ctx context.Context, req client.CompletionRequest, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.completer.Complete(ctx, req)
	latency := time.Since(start).Seconds()

	res := newResult(latency, resp, err)
	if !res.Success {
		logger.Debug("Request failed (%s): %s", res.ErrorKind, res.Error)
	}
	return res
}
