package client

import (
	"context"
	"strings"
)

// CompleteStream sends a streaming completion request and calls onText for
// every text fragment as it arrives.
//
// The server answers with Server-Sent Events, one "data: {...}" line per
// chunk, terminated by "data: [DONE]".
//
// Parameters:
//   - req: completion request
//   - onText: callback for each fragment (may be nil)
//
// Returns:
//   - The text received so far, complete unless err is set
//   - *openai.Error for non-200 answers, or a stream read error
func (c *Client) CompleteStream(ctx context.Context, req CompletionRequest, onText func(string)) (string, error) {
	stream := c.api.Completions.NewStreaming(ctx, req.params())
	defer stream.Close()

	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Text == "" {
			continue
		}

		fragment := chunk.Choices[0].Text
		text.WriteString(fragment)
		if onText != nil {
			onText(fragment)
		}
	}

	if err := stream.Err(); err != nil {
		return text.String(), c.wrapError(ctx, err)
	}
	return text.String(), nil
}
