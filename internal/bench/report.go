package bench

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

const rule = "============================================================"

// PrintReport writes a human-readable report.
func PrintReport(w io.Writer, name string, r *Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Benchmark Results (%s)\n", name)
	fmt.Fprintln(w, rule)

	if r.Error != "" {
		fmt.Fprintf(w, "\n✗ %s (%d/%d failed)\n", r.Error, r.FailedRequests, r.TotalRequests)
		printFailures(w, r)
		fmt.Fprintln(w, rule)
		return
	}

	fmt.Fprintln(w, "\nRequest Statistics:")
	fmt.Fprintf(w, "  Total requests:      %d\n", r.TotalRequests)
	fmt.Fprintf(w, "  Successful:          %d\n", r.SuccessfulRequests)
	fmt.Fprintf(w, "  Failed:              %d\n", r.FailedRequests)
	fmt.Fprintf(w, "  Success rate:        %.2f%%\n", r.SuccessRate)
	printFailures(w, r)

	fmt.Fprintln(w, "\nPerformance Metrics:")
	fmt.Fprintf(w, "  Throughput:          %.2f req/s\n", r.Throughput)
	fmt.Fprintf(w, "  Total time:          %.2fs\n", r.TotalTime)

	lat := r.Latency
	fmt.Fprintln(w, "\nLatency Statistics (seconds):")
	fmt.Fprintf(w, "  Mean:                %.3fs\n", lat.Mean)
	fmt.Fprintf(w, "  Median:              %.3fs\n", lat.Median)
	fmt.Fprintf(w, "  Std Dev:             %.3fs\n", lat.Std)
	fmt.Fprintf(w, "  Min:                 %.3fs\n", lat.Min)
	fmt.Fprintf(w, "  Max:                 %.3fs\n", lat.Max)
	fmt.Fprintf(w, "  P50:                 %.3fs\n", lat.P50)
	fmt.Fprintf(w, "  P95:                 %.3fs\n", lat.P95)
	fmt.Fprintf(w, "  P99:                 %.3fs\n", lat.P99)

	fmt.Fprintln(w, "\nToken Statistics:")
	fmt.Fprintf(w, "  Total tokens:        %d\n", r.Tokens.Total)
	fmt.Fprintf(w, "  Tokens per request:  %.1f\n", r.Tokens.PerRequest)
	fmt.Fprintln(w, rule)
}

// printFailures lists failure counts by category, sorted by name.
func printFailures(w io.Writer, r *Report) {
	if len(r.Failures) == 0 {
		return
	}

	kinds := make([]string, 0, len(r.Failures))
	for kind := range r.Failures {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, r.Failures[ErrorKind(kind)]))
	}
	fmt.Fprintf(w, "  Failures:            %s\n", strings.Join(parts, ", "))
}

// EncodeReports renders reports keyed by scenario name as indented JSON.
func EncodeReports(reports map[string]*Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return nil, fmt.Errorf("failed to encode reports: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteReports saves reports keyed by scenario name to path.
func WriteReports(path string, reports map[string]*Report) error {
	data, err := EncodeReports(reports)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
