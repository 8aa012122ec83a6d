// Package tokens estimates prompt sizes for the count_tokens endpoint.
package tokens

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"chatbridge/internal/models"
)

const encodingName = "cl100k_base"

// Counter estimates input tokens with the cl100k_base encoding. When the
// encoding cannot be loaded it falls back to four characters per token.
type Counter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger *slog.Logger
}

// NewCounter returns a counter that loads its encoding on first use.
func NewCounter(logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{logger: logger}
}

// CountText estimates the tokens in text.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			c.logger.Warn("tiktoken encoding unavailable, using length estimate", "encoding", encodingName, "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountRequest estimates the input tokens of a canonical request: the system
// prompt, every message, and the tool definitions.
func (c *Counter) CountRequest(req models.ChatRequest) int {
	var b strings.Builder
	b.WriteString(req.System)

	for _, msg := range req.Messages {
		if msg.Content.IsText() {
			writeLine(&b, msg.Content.Text())
			continue
		}
		for _, block := range msg.Content.Blocks() {
			switch blk := block.(type) {
			case models.TextBlock:
				writeLine(&b, blk.Text)
			case models.ToolUseBlock:
				writeLine(&b, blk.Name)
				writeLine(&b, string(blk.Input))
			case models.ToolResultBlock:
				writeLine(&b, blk.ResultText())
			case models.ThinkingBlock:
				writeLine(&b, blk.Thinking)
			}
		}
	}

	for _, tool := range req.Tools {
		writeLine(&b, tool.Name)
		writeLine(&b, tool.Description)
		writeLine(&b, string(tool.Parameters))
	}

	return c.CountText(b.String())
}

func writeLine(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(s)
}
