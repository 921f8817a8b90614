package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingmao/xw-vllm/internal/config"
	"github.com/tsingmao/xw-vllm/internal/device"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

func profileYAML(modelPath string, port int) string {
	return fmt.Sprintf(`
model:
  path: %s
  name: test-model
inference:
  device: npu
  device_id: 2
  max_model_len: 2048
  max_num_seqs: 8
  tensor_parallel_size: 2
generation:
  top_p: 0.9
server:
  host: 0.0.0.0
  port: %d
`, modelPath, port)
}

func writeProfile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger.UseTestLogger(t)

	cmd := NewXWVLLMCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "slow_mode.yaml", profileYAML("/models/qwen3-0.6b", 8000))

	out, err := execute(t, "validate", "--mode", "SLOW", "--config-dir", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ model.path")
	assert.Contains(t, out, "Address: http://localhost:8000")
	assert.Contains(t, out, `--override-generation-config "{\"top_p\":0.9}"`)
	assert.Contains(t, out, "python -m vllm.entrypoints.openai.api_server --model /models/qwen3-0.6b")
}

func TestValidateCommandReportsEveryFailure(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "bad.yaml", `
model: {path: ""}
inference: {device: npu, max_model_len: 0, max_num_seqs: 8}
server: {host: 0.0.0.0, port: 70000}
`)

	out, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "4 check(s) failed")

	for _, name := range []string{"generation", "model.path", "inference.max_model_len", "server.port"} {
		assert.Contains(t, out, "✗ "+name)
	}
}

func TestValidateCommandMissingProfile(t *testing.T) {
	_, err := execute(t, "validate", "--mode", "fast", "--config-dir", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "LOUD", "version")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    "+Version)
}

func TestDeviceIndices(t *testing.T) {
	tp := 4
	assert.Equal(t, []int{1}, deviceIndices(&config.InferenceConfig{DeviceID: 1}))
	assert.Equal(t, []int{2, 3, 4, 5}, deviceIndices(&config.InferenceConfig{DeviceID: 2, TensorParallelSize: &tp}))
}

func modelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"config.json", "tokenizer_config.json", "model.safetensors"} {
		content := "{}"
		if name == "config.json" {
			content = `{"architectures":["Qwen3ForCausalLM"],"model_type":"qwen3","max_position_embeddings":40960}`
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestPrepareLaunch(t *testing.T) {
	logger.UseTestLogger(t)
	t.Setenv("ASCEND_HOME", "/opt/ascend")

	model := modelDir(t)
	cfg, args, err := loadProfile(&ProfileOptions{
		ConfigPath: writeProfile(t, t.TempDir(), "p.yaml", profileYAML(model, 9000)),
	})
	require.NoError(t, err)

	spec, err := prepareLaunch(context.Background(), &ServeOptions{SkipDeviceCheck: true}, cfg, args)
	require.NoError(t, err)

	assert.Equal(t, args, spec.Args)
	assert.Equal(t, model, spec.ModelPath)
	assert.Equal(t, 9000, spec.Port)
	assert.Equal(t, []int{2, 3}, spec.DeviceIDs)

	id, ok := spec.Env.Get("ASCEND_DEVICE_ID")
	assert.True(t, ok)
	assert.Equal(t, "2", id)
	assert.Equal(t, "/opt/ascend", spec.Env.Home)
}

func TestPrepareLaunchLogsModelMetadata(t *testing.T) {
	logs := logger.ObserveLogs(t)

	model := modelDir(t)
	require.NoError(t, os.Remove(filepath.Join(model, "tokenizer_config.json")))
	cfg, args, err := loadProfile(&ProfileOptions{
		ConfigPath: writeProfile(t, t.TempDir(), "p.yaml", profileYAML(model, 9000)),
	})
	require.NoError(t, err)

	_, err = prepareLaunch(context.Background(), &ServeOptions{SkipDeviceCheck: true}, cfg, args)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessageSnippet("tokenizer_config.json").Len(), "missing metadata is reported once")
	assert.Equal(t, 1, logs.FilterMessage("Model test-model: architecture Qwen3ForCausalLM, type qwen3").Len())
}

func TestServeInterruptedDuringPreflight(t *testing.T) {
	logger.UseTestLogger(t)

	marker := filepath.Join(t.TempDir(), "started")
	cfg, args, err := loadProfile(&ProfileOptions{
		ConfigPath: writeProfile(t, t.TempDir(), "p.yaml", profileYAML(modelDir(t), 9000)),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = serve(ctx, &ServeOptions{Python: fakePython(t, "touch "+marker)}, cfg, args)
	assert.NoError(t, err)
	assert.NoFileExists(t, marker)
}

func TestPrepareLaunchRejectsModelWithoutWeights(t *testing.T) {
	logger.UseTestLogger(t)

	cfg, args, err := loadProfile(&ProfileOptions{
		ConfigPath: writeProfile(t, t.TempDir(), "p.yaml", profileYAML(t.TempDir(), 9000)),
	})
	require.NoError(t, err)

	_, err = prepareLaunch(context.Background(), &ServeOptions{SkipDeviceCheck: true}, cfg, args)
	assert.Error(t, err)
}

func TestPrepareLaunchUnsupportedDevice(t *testing.T) {
	logger.UseTestLogger(t)

	content := strings.Replace(profileYAML(modelDir(t), 9000), "device: npu", "device: tpu", 1)
	cfg, args, err := loadProfile(&ProfileOptions{
		ConfigPath: writeProfile(t, t.TempDir(), "p.yaml", content),
	})
	require.NoError(t, err)

	_, err = prepareLaunch(context.Background(), &ServeOptions{}, cfg, args)
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func fakePython(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestServeCommand(t *testing.T) {
	profile := writeProfile(t, t.TempDir(), "p.yaml", profileYAML(modelDir(t), 8123))

	_, err := execute(t, "serve", "--config", profile, "--skip-device-check",
		"--python", fakePython(t, "exit 0"))
	assert.NoError(t, err)

	_, err = execute(t, "serve", "--config", profile, "--skip-device-check",
		"--python", fakePython(t, "exit 4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 4")
}

func TestServeCommandInvalidProfileStartsNothing(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "started")
	profile := writeProfile(t, t.TempDir(), "p.yaml", `
model: {path: /m}
inference: {device: npu, max_model_len: 2048, max_num_seqs: 8}
generation: {}
`)

	_, err := execute(t, "serve", "--config", profile, "--skip-device-check", "--skip-model-check",
		"--python", fakePython(t, "touch "+marker))
	require.Error(t, err)
	assert.NoFileExists(t, marker)
}

func TestServeCommandRejectsUnknownMode(t *testing.T) {
	_, err := execute(t, "validate", "--mode", "turbo", "--config-dir", t.TempDir())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	dir := t.TempDir()
	writeProfile(t, dir, "fast_mode.yaml", profileYAML(modelDir(t), 8123))
	marker := filepath.Join(t.TempDir(), "started")

	_, err = execute(t, "serve", "--mode", "slwo", "--config-dir", dir, "--skip-device-check",
		"--python", fakePython(t, "touch "+marker))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), `"slwo"`)
	assert.NoFileExists(t, marker)
}

// completionStub answers every completion with five words, except prompts
// of the slow scenario, which get a 500.
func completionStub(t *testing.T, failSlow bool) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MaxTokens int `json:"max_tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if failSlow && req.MaxTokens == 500 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"choices":[{"index":0,"text":"one two three four five"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestBenchCommand(t *testing.T) {
	url := completionStub(t, true)
	output := filepath.Join(t.TempDir(), "results.json")

	out, err := execute(t, "bench", "--url", url, "--mode", "both",
		"--requests", "6", "--concurrency", "3", "--output", output)
	require.NoError(t, err)

	assert.Contains(t, out, "Testing FAST mode...")
	assert.Contains(t, out, "Testing SLOW mode...")
	assert.Contains(t, out, "Results saved to "+output)

	data, err := os.ReadFile(output)
	require.NoError(t, err)

	var saved map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, 100.0, saved["fast"]["success_rate"])
	assert.Equal(t, 30.0, saved["fast"]["tokens"].(map[string]interface{})["total"])
	assert.Equal(t, "All requests failed", saved["slow"]["error"])
	assert.Equal(t, 6.0, saved["slow"]["failed_requests"])
}

func TestBenchCommandRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "bench", "--mode", "medium")
	assert.Error(t, err)

	_, err = execute(t, "bench", "--url", completionStub(t, false), "--concurrency", "0")
	assert.Error(t, err)
}

func TestSmokeCommandFailsOnEmptyModelList(t *testing.T) {
	out, err := execute(t, "smoke", "--url", completionStub(t, false))

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, out, "✓ health")
	assert.Contains(t, out, "✗ models")
}

func TestChatCommands(t *testing.T) {
	var out bytes.Buffer
	s := &chatSession{model: "m", temperature: 0.7, maxTokens: 256, output: &out}

	assert.False(t, s.handleCommand("/set temperature 0.2"))
	assert.False(t, s.handleCommand("/set max-tokens 64"))
	assert.False(t, s.handleCommand("/set temperature 9"))
	assert.False(t, s.handleCommand("/bogus"))
	assert.Equal(t, 0.2, s.temperature)
	assert.Equal(t, 64, s.maxTokens)
	assert.Contains(t, out.String(), "Invalid temperature")
	assert.Contains(t, out.String(), "Unknown command: /bogus")

	assert.True(t, s.handleCommand("/quit"))
}

func TestPrintPCIDevices(t *testing.T) {
	devices := []device.PCIDevice{
		{BusAddress: "0000:00:1f.2", VendorID: "0x8086", DeviceID: "0xa102"},
		{BusAddress: "0000:82:00.0", VendorID: device.HuaweiVendorID, DeviceID: "0xd802"},
	}

	var npuOnly, all bytes.Buffer
	printPCIDevices(&npuOnly, devices, false)
	printPCIDevices(&all, devices, true)

	assert.Contains(t, npuOnly.String(), "Ascend 910B")
	assert.NotContains(t, npuOnly.String(), "0x8086")
	assert.Contains(t, npuOnly.String(), "Total: 1 Ascend NPU(s) found")
	assert.Contains(t, all.String(), "Total: 2 PCI device(s), 1 Ascend NPU(s)")
}

func TestPrintProbe(t *testing.T) {
	var out bytes.Buffer
	printProbe(&out, &device.Probe{
		Backend:   "ascend",
		Available: true,
		Count:     1,
		Devices:   []device.Info{{Index: 0, Name: "Ascend 910B", Location: "0000:82:00.0"}},
		Details:   map[string]string{"source": "pci"},
	})
	assert.Contains(t, out.String(), "Ascend 910B")
	assert.Contains(t, out.String(), "source: pci")
	assert.Contains(t, out.String(), "Total: 1 ascend device(s) detected")

	out.Reset()
	printProbe(&out, &device.Probe{Backend: "ascend"})
	assert.Equal(t, "No ascend devices detected on this system.\n", out.String())
}
