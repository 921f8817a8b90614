// Package model checks that a model directory can be served by vLLM.
//
// The check is advisory with a single hard requirement: the directory must
// exist and hold at least one weight file. Missing tokenizer or config
// metadata only produces warnings, since vLLM can still resolve some of them
// from the weights or a remote hub.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

var (
	// ErrNotFound is returned when the model path does not exist or is not a
	// directory.
	ErrNotFound = errors.New("model path not found")

	// ErrNoWeights is returned when the directory holds no weight files.
	ErrNoWeights = errors.New("no model weight files found")
)

// MetadataFiles are expected next to the weights. Their absence is a warning.
var MetadataFiles = []string{"config.json", "tokenizer_config.json"}

// WeightExtensions are the file extensions recognized as model weights.
var WeightExtensions = []string{".bin", ".safetensors"}

// PathReport is the outcome of a successful path validation.
type PathReport struct {
	// Path is the validated directory.
	Path string

	// WeightFiles lists weight file names, sorted.
	WeightFiles []string

	// Warnings lists non-fatal problems such as missing metadata files.
	Warnings []string

	// Architecture and ModelType come from config.json when it is readable.
	Architecture string
	ModelType    string

	// MaxPositionEmbeddings is the context length declared by config.json,
	// or 0 when unknown.
	MaxPositionEmbeddings int
}

// ValidatePath checks a model directory.
//
// Parameters:
//   - dir: directory containing the model weights and tokenizer metadata
//
// Returns:
//   - A report listing weight files and warnings
//   - ErrNotFound if dir is missing or not a directory
//   - ErrNoWeights if no *.bin or *.safetensors file is present
func ValidatePath(dir string) (*PathReport, error) {
	info, err := os.Stat(dir)
	if err != nil {
		logger.Error("Model path does not exist: %s", dir)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if !info.IsDir() {
		logger.Error("Model path is not a directory: %s", dir)
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}

	report := &PathReport{Path: dir}

	for _, name := range MetadataFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			logger.Warn("Missing model file: %s", name)
			report.Warnings = append(report.Warnings, fmt.Sprintf("missing %s", name))
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read model directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isWeightFile(entry.Name()) {
			continue
		}
		report.WeightFiles = append(report.WeightFiles, entry.Name())
	}
	sort.Strings(report.WeightFiles)

	if len(report.WeightFiles) == 0 {
		logger.Error("No model weight files found in %s", dir)
		return nil, fmt.Errorf("%w in %s", ErrNoWeights, dir)
	}

	readModelConfig(dir, report)

	logger.Info("Model path validated: %s (%d weight files)", dir, len(report.WeightFiles))
	return report, nil
}

// isWeightFile reports whether name has a recognized weight extension.
func isWeightFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range WeightExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

// readModelConfig fills architecture details from config.json.
// A missing or malformed file leaves the fields empty.
func readModelConfig(dir string, report *PathReport) {
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return
	}

	var cfg struct {
		Architectures         []string `json:"architectures"`
		ModelType             string   `json:"model_type"`
		MaxPositionEmbeddings int      `json:"max_position_embeddings"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("Failed to parse config.json: %v", err)
		report.Warnings = append(report.Warnings, "config.json is not valid JSON")
		return
	}

	if len(cfg.Architectures) > 0 {
		report.Architecture = cfg.Architectures[0]
	}
	report.ModelType = cfg.ModelType
	report.MaxPositionEmbeddings = cfg.MaxPositionEmbeddings
}

// CheckContextLength returns a warning when maxModelLen exceeds the context
// length declared by the model, or "" when it fits or the limit is unknown.
func (r *PathReport) CheckContextLength(maxModelLen int) string {
	if r == nil || r.MaxPositionEmbeddings <= 0 || maxModelLen <= r.MaxPositionEmbeddings {
		return ""
	}
	return fmt.Sprintf("max_model_len %d exceeds max_position_embeddings %d of %s",
		maxModelLen, r.MaxPositionEmbeddings, r.Path)
}
