package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingmao/xw-vllm/internal/client"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

// stubServer emulates the parts of the vLLM API the checks touch.
func stubServer(t *testing.T, models []string) *client.Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		data := make([]map[string]string, 0, len(models))
		for _, id := range models {
			data = append(data, map[string]string{"id": id, "object": "model"})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data})
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, ok := req["prompt"]; !ok {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"object":"error","message":"prompt is required"}`)
			return
		}
		if req["model"] != DefaultModel {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"object":"error","message":"model does not exist"}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"index":0,"text":"人工智能是一门学科。"}]}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return client.NewClient(srv.URL)
}

func TestSuiteAgainstStub(t *testing.T) {
	logger.UseTestLogger(t)

	results := NewSuite(stubServer(t, []string{DefaultModel}), "").Run(context.Background())
	require.Len(t, results, 6)

	for _, r := range results {
		assert.True(t, r.Passed, "%s: %v", r.Name, r.Err)
	}
	assert.True(t, AllPassed(results))
	assert.Equal(t, "rejected with status 404", results[4].Detail)
}

func TestSuiteReportsEachFailure(t *testing.T) {
	logger.UseTestLogger(t)

	// no models listed, and completions for an unconfigured model are rejected
	results := NewSuite(stubServer(t, nil), "/models/other").Run(context.Background())
	require.Len(t, results, 6)

	passed := map[string]bool{}
	for _, r := range results {
		passed[r.Name] = r.Passed
	}
	assert.Equal(t, map[string]bool{
		"health":             true,
		"models":             false,
		"simple_completion":  false,
		"temperature_effect": false,
		"invalid_model":      true,
		"missing_prompt":     true,
	}, passed)
	assert.False(t, AllPassed(results))
}

func TestSuiteServerDown(t *testing.T) {
	logger.UseTestLogger(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	results := NewSuite(client.NewClient(url), "").Run(context.Background())
	for _, r := range results {
		assert.False(t, r.Passed, r.Name)
		assert.Error(t, r.Err)
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	PrintResults(&buf, []Result{
		{Name: "health", Passed: true, Detail: "ok"},
		{Name: "models", Err: fmt.Errorf("server lists no models")},
	})

	assert.Contains(t, buf.String(), "✓ health")
	assert.Contains(t, buf.String(), "✗ models")
	assert.Contains(t, buf.String(), "server lists no models")
	assert.Contains(t, buf.String(), "1/2 checks passed")
}

// TestLiveServer runs every check against the server named by
// XW_VLLM_SMOKE_URL.
func TestLiveServer(t *testing.T) {
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set", EnvURL)
	}
	logger.UseTestLogger(t)

	suite := NewSuite(client.NewClient(url), os.Getenv("XW_VLLM_SMOKE_MODEL"))
	for _, check := range suite.Checks() {
		t.Run(check.Name, func(t *testing.T) {
			res := suite.RunCheck(context.Background(), check)
			require.NoError(t, res.Err)
			t.Log(res.Detail)
		})
	}
}
