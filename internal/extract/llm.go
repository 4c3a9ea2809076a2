// Package extract asks a language model for an event's fields.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
	"github.com/sells-group/event-extractor/pkg/anthropic"
)

const systemPrompt = "You are an event data extractor. All date times should not include timezone. " +
	"Use a semicolon character ; to delimit different fields extracted. " +
	"Do not provide field names, just the extracted field."

// Options configures the extractor.
type Options struct {
	Model        string
	MaxTokens    int64
	MaxPageChars int
}

// Usage is called with the token usage of every successful call.
type Usage func(anthropic.TokenUsage)

// LLMExtractor turns page text into the schema's fields with one model call
// per attempt.
type LLMExtractor struct {
	client anthropic.Client
	opts   Options
	usage  Usage
}

// New creates an LLMExtractor.
func New(client anthropic.Client, opts Options, usage Usage) *LLMExtractor {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &LLMExtractor{client: client, opts: opts, usage: usage}
}

// Extract sends text to the model and returns exactly schema.Len() fields.
// Transport failures are tagged llm_transport_failure and a wrong field count
// field_count_mismatch; on a mismatch the parsed fields are still returned so
// the caller can keep the best partial record.
func (e *LLMExtractor) Extract(ctx context.Context, text string, schema *model.FieldSchema) ([]string, error) {
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: BuildPrompt(truncate(text, e.opts.MaxPageChars), schema)},
		},
	})
	if err != nil {
		return nil, resilience.Tag(resilience.KindLLMTransport, eris.Wrap(err, "extract: create message"))
	}

	resp.Usage.LogCost(e.opts.Model, "extract")
	if e.usage != nil {
		e.usage(resp.Usage)
	}

	fields := ParseFields(resp.Text())
	if len(fields) != schema.Len() {
		zap.L().Debug("extract: field count mismatch",
			zap.Int("want", schema.Len()),
			zap.Int("got", len(fields)),
		)
		return fields, resilience.Tag(resilience.KindFieldCount,
			eris.Errorf("extract: got %d fields, want %d", len(fields), schema.Len()))
	}
	return fields, nil
}

// BuildPrompt renders the user message for one extraction attempt.
func BuildPrompt(text string, schema *model.FieldSchema) string {
	return fmt.Sprintf(`Extract the following information from the event webpage content:
%s,
Use the semicolon character ; to delimit each of the fields.
THERE ARE %d FIELDS, SO THERE SHOULD BE %d VALUES.
The content of the webpage is:

---
%s
---`, strings.Join(schema.Prompts(), ","), schema.Len(), schema.Len(), text)
}

// ParseFields splits a semicolon-delimited response, removing embedded line
// breaks and surrounding spaces from each field.
func ParseFields(resp string) []string {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return nil
	}
	parts := strings.Split(resp, ";")
	out := make([]string, len(parts))
	for i, p := range parts {
		p = strings.NewReplacer("\r", "", "\n", "").Replace(p)
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
