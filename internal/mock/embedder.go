package mock

import (
	"context"
	"hash/fnv"
	"sync"
)

// Embedder 是结果确定的 embedding.Client。
type Embedder struct {
	Dims int

	// CreateEmbeddingsFunc 不为空时替代默认的批量向量化。
	CreateEmbeddingsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	mu    sync.Mutex
	calls int
}

// NewEmbedder 创建输出指定维度向量的 Embedder。
func NewEmbedder(dims int) *Embedder {
	return &Embedder{Dims: dims}
}

func (e *Embedder) Model() string { return "mock-embedding" }

func (e *Embedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *Embedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.CreateEmbeddingsFunc != nil {
		return e.CreateEmbeddingsFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t, e.Dims)
	}
	return out, nil
}

// Calls 返回已处理的批次数。
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func vectorFor(text string, dims int) []float32 {
	if dims <= 0 {
		dims = 8
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	v := make([]float32, dims)
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32(seed%1000) / 1000.0
	}
	return v
}
