// Package relevance rates extracted events against a term list in batches.
package relevance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/resilience"
	"github.com/sells-group/event-extractor/pkg/anthropic"
)

const systemPrompt = "You are a relevance checker. Use a semicolon character ; to delimit different fields extracted. " +
	"Do not provide field names, just the extracted field."

// Batch is one group of inputs sent in a single request. Ratings is set only
// when the response had exactly one rating per input.
type Batch struct {
	Start   int
	Inputs  []string
	Ratings []string
}

// Options configures a Classifier.
type Options struct {
	Model     string
	MaxTokens int64
	BatchSize int
	Attempts  int
	Delay     time.Duration
}

// Classifier rates texts for topical relevance.
type Classifier struct {
	client anthropic.Client
	terms  []string
	opts   Options
	usage  func(anthropic.TokenUsage)
	onFail func(batch int, err error)
}

// New creates a Classifier. usage and onFail may be nil.
func New(client anthropic.Client, terms []string, opts Options, usage func(anthropic.TokenUsage), onFail func(batch int, err error)) *Classifier {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 10
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &Classifier{client: client, terms: terms, opts: opts, usage: usage, onFail: onFail}
}

// Partition splits inputs into consecutive batches of at most size items.
func Partition(inputs []string, size int) []Batch {
	var out []Batch
	for start := 0; start < len(inputs); start += size {
		end := min(start+size, len(inputs))
		out = append(out, Batch{Start: start, Inputs: inputs[start:end]})
	}
	return out
}

// Classify returns one rating per input, in input order. If any batch
// exhausts its attempts the whole pass fails and no ratings are returned.
func (c *Classifier) Classify(ctx context.Context, inputs []string) ([]string, error) {
	batches := Partition(inputs, c.opts.BatchSize)
	ratings := make([]string, 0, len(inputs))

	for i := range batches {
		b := &batches[i]
		cfg := resilience.Fixed(c.opts.Attempts, c.opts.Delay)
		cfg.OnRetry = func(attempt int, err error) {
			zap.L().Warn("relevance: batch attempt failed",
				zap.Int("batch", i+1),
				zap.Int("of", len(batches)),
				zap.Int("attempt", attempt),
				zap.String("kind", string(resilience.KindOf(err))),
				zap.Error(err),
			)
			if c.onFail != nil {
				c.onFail(i, err)
			}
		}

		got, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]string, error) {
			return c.rateBatch(ctx, b.Inputs)
		})
		if err != nil {
			if c.onFail != nil {
				c.onFail(i, err)
			}
			return nil, eris.Wrapf(err, "relevance: batch %d of %d failed after %d attempts", i+1, len(batches), c.opts.Attempts)
		}
		b.Ratings = got
		ratings = append(ratings, got...)

		zap.L().Info("relevance: batch complete",
			zap.Int("batch", i+1),
			zap.Int("of", len(batches)),
			zap.Int("size", len(b.Inputs)),
		)
	}
	return ratings, nil
}

func (c *Classifier) rateBatch(ctx context.Context, inputs []string) ([]string, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		System:    systemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: BuildPrompt(inputs, c.terms)}},
	})
	if err != nil {
		return nil, resilience.Tag(resilience.KindLLMTransport, eris.Wrap(err, "relevance: create message"))
	}

	resp.Usage.LogCost(c.opts.Model, "relevance")
	if c.usage != nil {
		c.usage(resp.Usage)
	}

	ratings := ParseRatings(resp.Text())
	if len(ratings) != len(inputs) {
		return nil, resilience.Tag(resilience.KindBatchCardinality,
			eris.Errorf("relevance: got %d ratings for %d inputs", len(ratings), len(inputs)))
	}
	return ratings, nil
}

// BuildPrompt renders the rating request for one batch.
func BuildPrompt(inputs, terms []string) string {
	n := len(inputs)
	return fmt.Sprintf(`Check the event relevance. FOLLOW THESE INSTRUCTIONS:
For each of the following texts, give an INTEGER rating on a scale of 0-5 measuring how relevant the text is to the following terms: %s.
THERE ARE %d INPUTS, SO THERE SHOULD BE %d OUTPUTS!
The texts are:

---
%s
---`, strings.Join(terms, ", "), n, n, strings.Join(inputs, "\n---\n"))
}

// ParseRatings splits a semicolon-delimited response and trims each rating.
func ParseRatings(resp string) []string {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return nil
	}
	parts := strings.Split(resp, ";")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
