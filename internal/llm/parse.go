package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownFences removes ```json fences some models wrap around
// JSON output despite instructions.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	} else {
		text = text[3:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// completeJSON runs a completion and decodes its output into out,
// retrying the whole call once when the response fails to decode.
// Malformed output is never fabricated around: the second failure
// surfaces as ErrMalformed.
func (c *Client) completeJSON(ctx context.Context, req CompletionRequest, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.Complete(ctx, req)
		if err != nil {
			// Transient failures already consumed their own retry
			// budget inside Complete.
			return err
		}

		raw := StripMarkdownFences(resp.Content)
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrMalformed, err)
			continue
		}
		return nil
	}
	return lastErr
}
