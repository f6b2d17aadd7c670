package mock

import (
	"context"
	"sort"
	"sync"

	"studyforge-go/internal/model"
)

// VectorIndex 是内存版的 vectorstore.Index。
type VectorIndex struct {
	mu      sync.Mutex
	entries map[string]model.VectorChunk
	deletes []string

	// UpsertFunc 在每次写入前调用，返回错误时放弃写入。
	UpsertFunc func(chunk model.VectorChunk) error
	// DeleteErr 在删除生效后由 DeleteByDocument 返回。
	DeleteErr error
}

// NewVectorIndex 创建一个空索引。
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{entries: make(map[string]model.VectorChunk)}
}

func (x *VectorIndex) Upsert(ctx context.Context, chunk model.VectorChunk) error {
	if x.UpsertFunc != nil {
		if err := x.UpsertFunc(chunk); err != nil {
			return err
		}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[chunk.VectorID] = chunk
	return nil
}

func (x *VectorIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, c := range x.entries {
		if c.DocumentID == documentID {
			delete(x.entries, id)
		}
	}
	x.deletes = append(x.deletes, documentID)
	return x.DeleteErr
}

func (x *VectorIndex) Search(ctx context.Context, vector []float32, userID uint, documentID string, k int) ([]model.SearchHit, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var hits []model.SearchHit
	for _, c := range x.entries {
		if c.UserID != userID || (documentID != "" && c.DocumentID != documentID) {
			continue
		}
		hits = append(hits, model.SearchHit{
			DocumentID:  c.DocumentID,
			ChunkID:     c.ChunkID,
			TextContent: c.TextContent,
			Score:       dot(vector, c.Vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count 返回文档已写入的分块数。
func (x *VectorIndex) Count(documentID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, c := range x.entries {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n
}

// Deletes 返回传给 DeleteByDocument 的文档 ID。
func (x *VectorIndex) Deletes() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.deletes...)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := 0; i < len(a) && i < len(b); i++ {
		s += float64(a[i] * b[i])
	}
	return s
}
