package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingmao/xw-vllm/internal/client"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

func stubScenario(requests, concurrency int) Scenario {
	sc, _ := Scenarios("fast")
	s := sc[0]
	s.Model = DefaultModel
	s.Requests = requests
	s.Concurrency = concurrency
	s.Timeout = 5 * time.Second
	return s
}

func writeCompletion(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func newStub(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.NewClient(srv.URL)
}

func TestRunFiveWordCompletions(t *testing.T) {
	logger.UseTestLogger(t)

	var inFlight, peak, calls atomic.Int32
	c := newStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		var req client.CompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		time.Sleep(10 * time.Millisecond)
		writeCompletion(w, `{"choices":[{"index":0,"text":"one two three four five"}]}`)
	})

	batch, err := NewRunner(c).Run(context.Background(), stubScenario(10, 2))
	require.NoError(t, err)
	require.Len(t, batch.Results, 10)
	assert.Positive(t, batch.Elapsed)

	report, err := Summarize(batch.Results, batch.Elapsed)
	require.NoError(t, err)

	assert.Equal(t, 100.0, report.SuccessRate)
	assert.Equal(t, 50, report.Tokens.Total)
	assert.Equal(t, 5.0, report.Tokens.PerRequest)
	assert.EqualValues(t, 10, calls.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunFailureCategories(t *testing.T) {
	logger.UseTestLogger(t)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    ErrorKind
		status  int
	}{
		{
			name: "non-200",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			kind:   KindHTTPStatus,
			status: http.StatusInternalServerError,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			},
			kind: KindTimeout,
		},
		{
			name: "decode",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeCompletion(w, `{"choices":[]}`)
			},
			kind:   KindDecode,
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := stubScenario(3, 3)
			sc.Timeout = 50 * time.Millisecond

			batch, err := NewRunner(newStub(t, tt.handler)).Run(context.Background(), sc)
			require.NoError(t, err)
			require.Len(t, batch.Results, 3)

			for _, res := range batch.Results {
				assert.False(t, res.Success)
				assert.Equal(t, tt.kind, res.ErrorKind)
				assert.Equal(t, tt.status, res.StatusCode)
				assert.NotEmpty(t, res.Error)
			}

			_, err = Summarize(batch.Results, batch.Elapsed)
			assert.ErrorIs(t, err, ErrAllFailed)
		})
	}
}

func TestRunTransportFailure(t *testing.T) {
	logger.UseTestLogger(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	batch, err := NewRunner(client.NewClient(url)).Run(context.Background(), stubScenario(2, 1))
	require.NoError(t, err)
	for _, res := range batch.Results {
		assert.Equal(t, KindTransport, res.ErrorKind)
		assert.Zero(t, res.StatusCode)
	}
}

func TestRunMixedOutcomes(t *testing.T) {
	logger.UseTestLogger(t)

	var n atomic.Int32
	c := newStub(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1)%4 == 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeCompletion(w, `{"choices":[{"index":0,"text":"a b"}]}`)
	})

	batch, err := NewRunner(c).Run(context.Background(), stubScenario(20, 4))
	require.NoError(t, err)

	report, err := Summarize(batch.Results, batch.Elapsed)
	require.NoError(t, err)
	assert.Equal(t, 20, report.SuccessfulRequests+report.FailedRequests)
	assert.Equal(t, 5, report.FailedRequests)
	assert.Equal(t, 5, report.Failures[KindHTTPStatus])
	assert.Equal(t, 30, report.Tokens.Total)
}

func TestNewResultAPIError(t *testing.T) {
	res := newResult(0.2, nil, fmt.Errorf("wrapped: %w", &openai.Error{StatusCode: http.StatusTooManyRequests}))

	assert.False(t, res.Success)
	assert.Equal(t, KindHTTPStatus, res.ErrorKind)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "HTTP 429", res.Error)
}

func TestRunInvalidScenario(t *testing.T) {
	r := NewRunner(client.NewClient(""))

	_, err := r.Run(context.Background(), stubScenario(0, 1))
	assert.Error(t, err)
	_, err = r.Run(context.Background(), stubScenario(1, 0))
	assert.Error(t, err)

	sc := stubScenario(1, 1)
	sc.Timeout = 0
	_, err = r.Run(context.Background(), sc)
	assert.Error(t, err)
}

func TestScenarios(t *testing.T) {
	both, err := Scenarios("BOTH")
	require.NoError(t, err)
	require.Len(t, both, 2)
	assert.Equal(t, "fast", both[0].Name)
	assert.Equal(t, 50, both[0].MaxTokens)
	assert.Equal(t, 0.7, both[0].Temperature)
	assert.Equal(t, "slow", both[1].Name)
	assert.Equal(t, 500, both[1].MaxTokens)
	assert.Equal(t, 0.3, both[1].Temperature)

	_, err = Scenarios("turbo")
	assert.Error(t, err)
}
