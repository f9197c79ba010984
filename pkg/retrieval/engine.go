// Package retrieval fetches knowledge-base context for a user question.
//
// The engine embeds the question, runs a similarity search, filters by a
// score threshold, and packs the surviving chunks into a token budget.
// Retrieval failures never fail the conversation: the engine degrades to
// an empty context block and logs a warning.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/metricsmith/sage/pkg/embedder"
	"github.com/metricsmith/sage/pkg/utils"
	"github.com/metricsmith/sage/pkg/vector"
)

const (
	contextHeader = "=== Relevant Context from Knowledge Base ==="
	contextFooter = "=== End of Context ==="
	chunkDivider  = "\n\n---\n\n"
)

// Chunk is one retrieved knowledge-base hit.
type Chunk struct {
	ID      string
	Content string
	Score   float32
	Source  string
}

// Result carries the formatted context block and the chunks behind it.
// Degraded is set when retrieval failed and the block is empty because
// of it, not because nothing matched.
type Result struct {
	Context  string
	Chunks   []Chunk
	Degraded bool
}

// Config tunes the engine.
type Config struct {
	// TopK candidates fetched from the store before filtering.
	TopK int `yaml:"top_k,omitempty"`

	// Threshold excludes weak matches. A chunk survives only when its
	// score is strictly greater than the threshold.
	Threshold float32 `yaml:"threshold,omitempty"`

	// TokenBudget caps the packed context size.
	TokenBudget int `yaml:"token_budget,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = 2000
	}
}

func (c *Config) Validate() error {
	if c.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0, 1]")
	}
	if c.TokenBudget < 0 {
		return fmt.Errorf("token_budget cannot be negative")
	}
	return nil
}

// Engine is the retrieval provider.
type Engine struct {
	embedder embedder.Embedder
	store    vector.Store
	counter  *utils.TokenCounter
	config   Config
	logger   *slog.Logger
}

func NewEngine(emb embedder.Embedder, store vector.Store, counter *utils.TokenCounter, cfg Config) (*Engine, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if counter == nil {
		return nil, fmt.Errorf("token counter is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}

	return &Engine{
		embedder: emb,
		store:    store,
		counter:  counter,
		config:   cfg,
		logger:   slog.Default(),
	}, nil
}

// Retrieve returns the context block for a question. The same question
// against an unchanged store yields the same block. Errors are returned
// only for context cancellation; everything else degrades.
func (e *Engine) Retrieve(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Result{}, nil
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return e.degrade(ctx, "embedding failed", err)
	}

	hits, err := e.store.Search(ctx, queryVec, e.config.TopK)
	if err != nil {
		return e.degrade(ctx, "vector search failed", err)
	}

	chunks := e.filter(hits)
	packed := e.pack(chunks)

	return &Result{
		Context: formatContext(packed),
		Chunks:  packed,
	}, nil
}

// degrade converts a retrieval failure into an empty, flagged result,
// unless the failure was our own cancellation.
func (e *Engine) degrade(ctx context.Context, msg string, err error) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.logger.Warn("retrieval degraded, continuing without context",
		"reason", msg, "error", err)
	return &Result{Degraded: true}, nil
}

// filter keeps hits scoring strictly above the threshold, ordered by
// descending score.
func (e *Engine) filter(hits []vector.Result) []Chunk {
	var chunks []Chunk
	for _, h := range hits {
		if h.Score > e.config.Threshold {
			chunks = append(chunks, Chunk{
				ID:      h.ID,
				Content: h.Content,
				Score:   h.Score,
				Source:  h.Metadata["source"],
			})
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	return chunks
}

// pack greedily accepts chunks in score order until the token budget is
// exhausted. A chunk that does not fit is skipped, not truncated; lower
// scored chunks may still fit after it.
func (e *Engine) pack(chunks []Chunk) []Chunk {
	budget := e.config.TokenBudget
	var packed []Chunk
	used := 0
	for _, c := range chunks {
		cost := e.counter.Count(c.Content)
		if used+cost > budget {
			continue
		}
		packed = append(packed, c)
		used += cost
	}
	return packed
}

// formatContext renders chunks as a labeled block. Empty input renders
// as an empty string, not an empty frame.
func formatContext(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}

	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		parts = append(parts, fmt.Sprintf("[Source %d] (similarity: %.2f)\n%s", i+1, c.Score, c.Content))
	}

	var sb strings.Builder
	sb.WriteString(contextHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(parts, chunkDivider))
	sb.WriteString("\n")
	sb.WriteString(contextFooter)
	return sb.String()
}
