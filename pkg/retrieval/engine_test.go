package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricsmith/sage/pkg/utils"
	"github.com/metricsmith/sage/pkg/vector"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }

type fakeStore struct {
	hits []vector.Result
	err  error
}

func (f *fakeStore) Upsert(ctx context.Context, docs []vector.Document) error { return nil }
func (f *fakeStore) Delete(ctx context.Context, id string) error              { return nil }
func (f *fakeStore) Close() error                                             { return nil }

func (f *fakeStore) Search(ctx context.Context, embedding []float32, topK int) ([]vector.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if topK > len(f.hits) {
		topK = len(f.hits)
	}
	return f.hits[:topK], nil
}

func newTestEngine(t *testing.T, store vector.Store, emb *fakeEmbedder, cfg Config) *Engine {
	t.Helper()
	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)
	engine, err := NewEngine(emb, store, counter, cfg)
	require.NoError(t, err)
	return engine
}

func TestRetrieveFiltersAndOrders(t *testing.T) {
	store := &fakeStore{hits: []vector.Result{
		{ID: "low", Content: "noise", Score: 0.50},
		{ID: "high", Content: "budget pacing guidance", Score: 0.92},
		{ID: "mid", Content: "bidding strategy notes", Score: 0.80},
	}}
	engine := newTestEngine(t, store, &fakeEmbedder{vec: []float32{1, 0}}, Config{Threshold: 0.7})

	result, err := engine.Retrieve(context.Background(), "how should I pace budget?")
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "high", result.Chunks[0].ID)
	assert.Equal(t, "mid", result.Chunks[1].ID)
	assert.False(t, result.Degraded)
	assert.Contains(t, result.Context, "[Source 1] (similarity: 0.92)")
	assert.Contains(t, result.Context, "=== Relevant Context from Knowledge Base ===")
	assert.Contains(t, result.Context, "=== End of Context ===")
}

func TestRetrieveThresholdIsStrict(t *testing.T) {
	store := &fakeStore{hits: []vector.Result{
		{ID: "exact", Content: "exactly at threshold", Score: 0.7},
		{ID: "above", Content: "just above", Score: 0.7000001},
	}}
	engine := newTestEngine(t, store, &fakeEmbedder{vec: []float32{1, 0}}, Config{Threshold: 0.7})

	result, err := engine.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "above", result.Chunks[0].ID)
}

func TestRetrieveNoMatchesReturnsEmptyBlock(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{}, &fakeEmbedder{vec: []float32{1, 0}}, Config{})

	result, err := engine.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, result.Context)
	assert.Empty(t, result.Chunks)
	assert.False(t, result.Degraded)
}

func TestRetrieveDegradesOnEmbedFailure(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{}, &fakeEmbedder{err: errors.New("upstream down")}, Config{})

	result, err := engine.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Context)
}

func TestRetrieveDegradesOnStoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	engine := newTestEngine(t, store, &fakeEmbedder{vec: []float32{1, 0}}, Config{})

	result, err := engine.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Context)
}

func TestRetrievePropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(t, &fakeStore{}, &fakeEmbedder{err: context.Canceled}, Config{})

	_, err := engine.Retrieve(ctx, "anything")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetrievePacksWithinTokenBudget(t *testing.T) {
	big := strings.Repeat("analytics report data ", 300)
	store := &fakeStore{hits: []vector.Result{
		{ID: "huge", Content: big, Score: 0.95},
		{ID: "small", Content: "short note", Score: 0.85},
	}}
	engine := newTestEngine(t, store, &fakeEmbedder{vec: []float32{1, 0}}, Config{TokenBudget: 50})

	result, err := engine.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	// The oversized top chunk is skipped; the smaller one still fits.
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "small", result.Chunks[0].ID)
}

func TestRetrieveIsIdempotent(t *testing.T) {
	store := &fakeStore{hits: []vector.Result{
		{ID: "a", Content: "stable content", Score: 0.9},
	}}
	engine := newTestEngine(t, store, &fakeEmbedder{vec: []float32{1, 0}}, Config{})

	first, err := engine.Retrieve(context.Background(), "same question")
	require.NoError(t, err)
	second, err := engine.Retrieve(context.Background(), "same question")
	require.NoError(t, err)
	assert.Equal(t, first.Context, second.Context)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{}, &fakeEmbedder{vec: []float32{1, 0}}, Config{})

	result, err := engine.Retrieve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, result.Context)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Threshold: 1.5}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())

	good := Config{}
	good.SetDefaults()
	assert.NoError(t, good.Validate())
	assert.Equal(t, 5, good.TopK)
	assert.InDelta(t, 0.7, good.Threshold, 1e-6)
	assert.Equal(t, 2000, good.TokenBudget)
}
