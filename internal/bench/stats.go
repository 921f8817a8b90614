package bench

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"
)

// ErrAllFailed is returned by Summarize when no request succeeded.
var ErrAllFailed = errors.New("all requests failed")

// Minimum sample counts for a binned percentile; smaller sets report the
// maximum instead.
const (
	minSamplesP95 = 20
	minSamplesP99 = 100
)

// LatencyStats describes the latency distribution of successful requests,
// in seconds.
type LatencyStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// TokenStats sums generated tokens over successful requests.
type TokenStats struct {
	Total      int     `json:"total"`
	PerRequest float64 `json:"per_request"`
}

// Report aggregates a batch. It is computed once after every request has
// completed.
type Report struct {
	// Error is set when no request succeeded.
	Error string `json:"error,omitempty"`

	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`

	// TotalTime is the wall-clock span of the batch in seconds.
	TotalTime float64 `json:"total_time"`

	// Throughput is successful requests per second of TotalTime.
	Throughput float64 `json:"throughput"`

	Latency LatencyStats `json:"latency"`
	Tokens  TokenStats   `json:"tokens"`

	// Failures counts failed requests by category.
	Failures map[ErrorKind]int `json:"failures,omitempty"`
}

// MarshalJSON drops the statistics of an all-failed report.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	if r.Error == "" {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		Error          string            `json:"error"`
		TotalRequests  int               `json:"total_requests"`
		FailedRequests int               `json:"failed_requests"`
		Failures       map[ErrorKind]int `json:"failures,omitempty"`
	}{r.Error, r.TotalRequests, r.FailedRequests, r.Failures})
}

// Summarize computes the report of a batch.
//
// Parameters:
//   - results: one Result per submitted request
//   - elapsed: wall-clock span from first dispatch to last completion
//
// Returns:
//   - The report; successful + failed always equals len(results)
//   - ErrAllFailed when nothing succeeded, together with a report carrying
//     only the counts
func Summarize(results []Result, elapsed time.Duration) (*Report, error) {
	report := &Report{TotalRequests: len(results)}

	var latencies []float64
	for _, res := range results {
		if !res.Success {
			if report.Failures == nil {
				report.Failures = make(map[ErrorKind]int)
			}
			report.Failures[res.ErrorKind]++
			continue
		}
		latencies = append(latencies, res.Latency)
		report.Tokens.Total += res.GeneratedTokens
	}

	report.SuccessfulRequests = len(latencies)
	report.FailedRequests = report.TotalRequests - report.SuccessfulRequests

	if len(latencies) == 0 {
		report.Error = "All requests failed"
		return report, ErrAllFailed
	}

	sort.Float64s(latencies)
	n := len(latencies)

	report.SuccessRate = float64(n) / float64(report.TotalRequests) * 100
	report.TotalTime = elapsed.Seconds()
	if report.TotalTime > 0 {
		report.Throughput = float64(n) / report.TotalTime
	}
	report.Tokens.PerRequest = float64(report.Tokens.Total) / float64(n)

	lat := &report.Latency
	lat.Mean = mean(latencies)
	lat.Median = median(latencies)
	lat.Std = stdev(latencies, lat.Mean)
	lat.Min = latencies[0]
	lat.Max = latencies[n-1]
	lat.P50 = lat.Median
	lat.P95 = percentile(latencies, 20, 19, minSamplesP95)
	lat.P99 = percentile(latencies, 100, 99, minSamplesP99)

	return report, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stdev is the sample standard deviation; a single sample has none.
func stdev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// percentile returns the i-th of the bins-1 cut points dividing sorted into
// bins equal-frequency groups, or the maximum when fewer than minSamples
// values are available.
func percentile(sorted []float64, bins, i, minSamples int) float64 {
	if len(sorted) < minSamples {
		return sorted[len(sorted)-1]
	}
	return quantile(sorted, bins, i)
}

// quantile computes the i-th cut point with the exclusive method: positions
// are spread over len(sorted)+1 slots and neighbors linearly interpolated.
func quantile(sorted []float64, bins, i int) float64 {
	n := len(sorted)
	m := n + 1

	j := i * m / bins
	if j < 1 {
		j = 1
	} else if j > n-1 {
		j = n - 1
	}
	delta := i*m - j*bins

	return (sorted[j-1]*float64(bins-delta) + sorted[j]*float64(delta)) / float64(bins)
}
