package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xw-vllm/internal/bench"
	"github.com/tsingmao/xw-vllm/internal/client"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

// BenchOptions holds options for the bench command
type BenchOptions struct {
	*GlobalOptions

	// URL is the server base URL
	URL string

	// Mode selects the scenarios: fast, slow or both
	Mode string

	// Requests is the number of requests per scenario
	Requests int

	// Concurrency is the worker pool size
	Concurrency int

	// Output is an optional JSON report path
	Output string

	// Model is sent as the "model" field
	Model string

	// Timeout bounds each request
	Timeout time.Duration
}

// NewBenchCommand creates the bench command.
//
// The bench command sends a fixed number of completion requests to a running
// server through a bounded worker pool and prints latency, throughput and
// token statistics for each selected scenario.
//
// Usage:
//
//	xw-vllm bench [--url URL] [--mode fast|slow|both] [--requests N] [--concurrency N]
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for benchmarking
func NewBenchCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &BenchOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark a running vLLM server",
		Long: `Benchmark a running vLLM server with concurrent completion requests.

The fast scenario asks for a short answer (max_tokens 50, temperature 0.7),
the slow scenario for a long explanation (max_tokens 500, temperature 0.3).
Failed requests are counted by category and never abort the run.`,
		Example: `  # Run the fast scenario with defaults (100 requests, concurrency 10)
  xw-vllm bench

  # Run both scenarios and save the reports
  xw-vllm bench --mode both --requests 200 --concurrency 20 --output results.json

  # Benchmark a remote server
  xw-vllm bench --url http://10.0.0.5:8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", client.DefaultBaseURL,
		"API base URL")
	cmd.Flags().StringVar(&opts.Mode, "mode", "fast",
		"test mode: fast, slow or both")
	cmd.Flags().IntVar(&opts.Requests, "requests", bench.DefaultRequests,
		"number of requests per scenario")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", bench.DefaultConcurrency,
		"number of concurrent requests")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "",
		"write JSON results to this file")
	cmd.Flags().StringVar(&opts.Model, "model", bench.DefaultModel,
		"model identifier sent with each request")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", bench.DefaultTimeout,
		"per-request timeout")

	return cmd
}

// runBench executes the bench command logic.
func runBench(opts *BenchOptions, out io.Writer) error {
	scenarios, err := bench.Scenarios(opts.Mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := bench.NewRunner(getClient(opts.URL))
	reports := make(map[string]*bench.Report, len(scenarios))

	for _, sc := range scenarios {
		sc.Model = opts.Model
		sc.Requests = opts.Requests
		sc.Concurrency = opts.Concurrency
		sc.Timeout = opts.Timeout

		fmt.Fprintf(out, "\nTesting %s mode...\n", strings.ToUpper(sc.Name))

		batch, err := runner.Run(ctx, sc)
		if err != nil {
			return err
		}

		report, err := bench.Summarize(batch.Results, batch.Elapsed)
		if err != nil && !errors.Is(err, bench.ErrAllFailed) {
			return err
		}
		bench.PrintReport(out, sc.Name, report)
		reports[sc.Name] = report

		if ctx.Err() != nil {
			logger.Warn("Benchmark interrupted, skipping remaining scenarios")
			break
		}
	}

	if opts.Output != "" {
		if err := bench.WriteReports(opts.Output, reports); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nResults saved to %s\n", opts.Output)
	}

	return nil
}
