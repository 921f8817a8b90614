package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

// BuildArgs translates a validated profile into vLLM API server flags.
//
// The order is fixed so the same profile always yields the same list:
//
//	--model, --device, --max-model-len, --max-num-seqs, --dtype,
//	--gpu-memory-utilization, --tensor-parallel-size,
//	--enable-prefix-caching, --disable-log-requests,
//	--override-generation-config, --host, --port
//
// Optional flags appear only when their field is set; boolean flags only
// when true. A non-empty generation section is passed through as a JSON
// object with sorted keys.
//
// BuildArgs assumes cfg passed Validate. It only guards against missing
// sections and returns an error wrapping ErrInvalidConfig for them.
//
// Example:
//
//	args, err := config.BuildArgs(cfg)
//	// ["--model", "/models/m", "--device", "npu", "--max-model-len", "2048", ...]
func BuildArgs(cfg *Config) ([]string, error) {
	if cfg == nil || cfg.Model == nil || cfg.Inference == nil || cfg.Server == nil {
		return nil, fmt.Errorf("%w: model, inference and server sections are required", ErrInvalidConfig)
	}

	model := cfg.Model
	inf := cfg.Inference
	srv := cfg.Server

	args := []string{
		"--model", model.Path,
		"--device", inf.Device,
		"--max-model-len", strconv.Itoa(inf.MaxModelLen),
		"--max-num-seqs", strconv.Itoa(inf.MaxNumSeqs),
	}

	if model.Dtype != "" {
		args = append(args, "--dtype", model.Dtype)
	}
	if inf.GPUMemoryUtilization != nil {
		args = append(args, "--gpu-memory-utilization",
			strconv.FormatFloat(*inf.GPUMemoryUtilization, 'f', -1, 64))
	}
	if inf.TensorParallelSize != nil {
		args = append(args, "--tensor-parallel-size", strconv.Itoa(*inf.TensorParallelSize))
	}
	if inf.EnablePrefixCaching {
		args = append(args, "--enable-prefix-caching")
	}
	if inf.DisableLogRequests {
		args = append(args, "--disable-log-requests")
	}

	if len(cfg.Generation) > 0 {
		// encoding/json sorts map keys, which keeps the flag value stable
		data, err := json.Marshal(cfg.Generation)
		if err != nil {
			return nil, fmt.Errorf("%w: generation section is not JSON-encodable: %v", ErrInvalidConfig, err)
		}
		args = append(args, "--override-generation-config", string(data))
	}

	args = append(args,
		"--host", srv.Host,
		"--port", strconv.Itoa(srv.Port),
	)

	logger.Info("vLLM args: %s", strings.Join(args, " "))
	return args, nil
}
