// Package tokens provides BPE-based token counting with a character fallback.
package tokens

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in text for one model family. The context store's
// estimator sums counts across messages; compaction thresholds are computed
// against the model's context window using these counts.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a counter for the given model name. Model families
// without a published tokenizer are approximated with GPT-4 encoding, which is
// close enough for budget decisions.
func NewCounter(model string) (*Counter, error) {
	tikModel := tokenizer.GPT4
	switch {
	case strings.HasPrefix(model, "gpt-4o"):
		tikModel = tokenizer.GPT4o
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		tikModel = tokenizer.GPT4
	default:
		// Claude, Gemini, Kimi and local models approximate with GPT-4 encoding.
		tikModel = tokenizer.GPT4
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}

	return &Counter{codec: codec}, nil
}

// NewFallbackCounter creates a counter that only uses the character heuristic.
// Useful when the BPE tables are unavailable and in tests that need
// deterministic counts.
func NewFallbackCounter() *Counter {
	return &Counter{}
}

// Count returns the number of tokens in text, falling back to the 4-chars-per-
// token heuristic when no codec is available or encoding fails.
func (c *Counter) Count(text string) int {
	if c.codec == nil {
		return len(text) / 4
	}

	count, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// WithinLimit reports whether text fits in limit tokens.
func (c *Counter) WithinLimit(text string, limit int) bool {
	return c.Count(text) <= limit
}
