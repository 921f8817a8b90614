package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/tsingmao/xw-vllm/internal/client"
	"github.com/tsingmao/xw-vllm/internal/smoke"
)

// ChatOptions holds options for the chat command
type ChatOptions struct {
	*GlobalOptions

	// URL is the server base URL
	URL string

	// Model is sent with every completion
	Model string

	// MaxTokens limits each answer
	MaxTokens int

	// Temperature is the sampling temperature
	Temperature float64
}

// NewChatCommand creates the chat command.
//
// chat opens an interactive prompt against a running server. Each line is
// sent as a streaming completion and the answer is printed as it arrives.
// Ctrl+C cancels the answer in progress; /quit or Ctrl+D exits.
func NewChatCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ChatOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive completion prompt",
		Example: `  # Chat with the local server
  xw-vllm chat

  # Longer answers with a lower temperature
  xw-vllm chat --max-tokens 500 --temperature 0.3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", client.DefaultBaseURL,
		"API base URL")
	cmd.Flags().StringVar(&opts.Model, "model", smoke.DefaultModel,
		"model identifier")
	cmd.Flags().IntVar(&opts.MaxTokens, "max-tokens", 256,
		"maximum tokens per answer")
	cmd.Flags().Float64Var(&opts.Temperature, "temperature", 0.7,
		"sampling temperature")

	return cmd
}

// chatSession holds the state of a chat session
type chatSession struct {
	client      *client.Client
	model       string
	temperature float64
	maxTokens   int
	output      io.Writer
}

func runChat(opts *ChatOptions) error {
	c := getClient(opts.URL)
	if err := c.Health(context.Background()); err != nil {
		return fmt.Errorf("server at %s is not ready: %w", c.BaseURL(), err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">>> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	session := &chatSession{
		client:      c,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		output:      rl.Stdout(),
	}

	fmt.Fprintf(session.output, "Connected to %s. Type /? for help.\n", c.BaseURL())

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			// io.EOF or other errors - exit
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if session.handleCommand(input) {
				return nil
			}
			continue
		}

		session.ask(input)
		rl.Refresh()
	}
}

// ask streams one completion; Ctrl+C cancels it.
func (s *chatSession) ask(prompt string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err := s.client.CompleteStream(ctx, client.CompletionRequest{
		Model:       s.model,
		Prompt:      prompt,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}, func(text string) {
		fmt.Fprint(s.output, text)
	})
	fmt.Fprintln(s.output)

	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(s.output, "Error: %v\n", err)
	}
}

// handleCommand processes slash commands.
// Returns true if the session should exit.
func (s *chatSession) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)

	switch parts[0] {
	case "/quit", "/exit":
		fmt.Fprintln(s.output, "Goodbye!")
		return true

	case "/h", "/?", "/help":
		fmt.Fprintln(s.output, "  /?                      Show this help")
		fmt.Fprintln(s.output, "  /quit                   Exit the chat session")
		fmt.Fprintln(s.output, "  /show                   Show current settings")
		fmt.Fprintln(s.output, "  /set temperature <0-2>  Set sampling temperature")
		fmt.Fprintln(s.output, "  /set max-tokens <n>     Set maximum tokens per answer")

	case "/show":
		fmt.Fprintf(s.output, "model: %s\ntemperature: %.2f\nmax-tokens: %d\n",
			s.model, s.temperature, s.maxTokens)

	case "/set":
		s.handleSet(parts[1:])

	default:
		fmt.Fprintf(s.output, "Unknown command: %s\n", parts[0])
	}

	return false
}

func (s *chatSession) handleSet(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.output, "Usage: /set <temperature|max-tokens> <value>")
		return
	}

	switch args[0] {
	case "temperature", "temp":
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil || v < 0 || v > 2 {
			fmt.Fprintln(s.output, "Invalid temperature. Must be between 0 and 2.")
			return
		}
		s.temperature = v
		fmt.Fprintf(s.output, "Temperature set to: %.2f\n", v)

	case "max-tokens", "max_tokens":
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 1 {
			fmt.Fprintln(s.output, "Invalid max-tokens. Must be a positive integer.")
			return
		}
		s.maxTokens = v
		fmt.Fprintf(s.output, "Max tokens set to: %d\n", v)

	default:
		fmt.Fprintf(s.output, "Unknown parameter: %s\n", args[0])
	}
}
