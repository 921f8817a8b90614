// Command xw-vllm launches, benchmarks and smoke-tests a vLLM-Ascend
// OpenAI-compatible inference server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tsingmao/xw-vllm/cmd/xw-vllm/app"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

func main() {
	cmd := app.NewXWVLLMCommand()
	err := cmd.Execute()
	logger.Sync()

	if err != nil {
		var exitErr *app.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
