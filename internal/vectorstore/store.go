// Package vectorstore 把文本分块向量化后写入向量索引，并提供按文档清理和相似度检索。
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"studyforge-go/internal/model"
	"studyforge-go/pkg/embedding"
	"studyforge-go/pkg/log"
)

// Index 是向量索引后端，es.Index 和 pgvector.Store 都实现了它。
type Index interface {
	Upsert(ctx context.Context, chunk model.VectorChunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, vector []float32, userID uint, documentID string, k int) ([]model.SearchHit, error)
}

// ChunkMeta 是写入索引时附带的文档元数据。
type ChunkMeta struct {
	DocumentID string
	UserID     uint
}

// ProgressFunc 在每个分块写入后被调用。
type ProgressFunc func(done, total int)

// ChunkError 指出具体哪个分块失败。
type ChunkError struct {
	ChunkID int
	Op      string
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d %s failed: %v", e.ChunkID, e.Op, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Store 组合了 embedding 客户端和向量索引。
type Store struct {
	embedder  embedding.Client
	index     Index
	batchSize int
}

// NewStore 创建 Store，batchSize <= 0 时逐条向量化。
func NewStore(embedder embedding.Client, index Index, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Store{embedder: embedder, index: index, batchSize: batchSize}
}

// VectorID 返回分块在索引中的 ID。
func VectorID(documentID string, seq int) string {
	return fmt.Sprintf("%s_%d", documentID, seq)
}

// AddChunks 分批向量化并逐条写入索引。任何一块失败都会立即返回 *ChunkError，
// 已写入的分块由调用方通过 DeleteDocument 清理。
func (s *Store) AddChunks(ctx context.Context, meta ChunkMeta, chunks []string, onProgress ProgressFunc) error {
	total := len(chunks)
	done := 0
	for start := 0; start < total; start += s.batchSize {
		end := start + s.batchSize
		if end > total {
			end = total
		}

		vectors, err := s.embedder.CreateEmbeddings(ctx, chunks[start:end])
		if err != nil {
			return &ChunkError{ChunkID: start, Op: "embedding", Err: err}
		}
		if len(vectors) != end-start {
			return &ChunkError{ChunkID: start, Op: "embedding", Err: errors.New("embedding count mismatch")}
		}

		for i, vector := range vectors {
			seq := start + i
			vc := model.VectorChunk{
				VectorID:     VectorID(meta.DocumentID, seq),
				DocumentID:   meta.DocumentID,
				ChunkID:      seq,
				TextContent:  chunks[seq],
				Vector:       vector,
				ModelVersion: s.embedder.Model(),
				UserID:       meta.UserID,
			}
			if err := s.index.Upsert(ctx, vc); err != nil {
				return &ChunkError{ChunkID: seq, Op: "upsert", Err: err}
			}
			done++
			if onProgress != nil {
				onProgress(done, total)
			}
		}
	}
	log.Infof("[VectorStore] 文档 %s 共写入 %d 个分块", meta.DocumentID, total)
	return nil
}

// DeleteDocument 删除文档的全部分块。
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("删除文档 %s 的向量失败: %w", documentID, err)
	}
	return nil
}

// SimilaritySearch 对 query 向量化后在用户（和可选的文档）范围内做 kNN 检索。
func (s *Store) SimilaritySearch(ctx context.Context, query string, userID uint, k int, documentID string) ([]model.SearchHit, error) {
	if k <= 0 {
		k = 5
	}
	vector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	return s.index.Search(ctx, vector, userID, documentID, k)
}
