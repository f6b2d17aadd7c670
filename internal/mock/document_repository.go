package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studyforge-go/internal/model"
	"studyforge-go/internal/repository"
)

// DocumentRepository 是内存版的 repository.DocumentRepository，同时记录文档经过的每个阶段。
type DocumentRepository struct {
	mu      sync.Mutex
	docs    map[string]*model.Document
	history map[string][]model.Stage

	// MarkFailedFunc 不为空时替代 MarkFailed。
	MarkFailedFunc func(ctx context.Context, id, diagnostic string) error
}

var _ repository.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository 创建一个空仓库。
func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{
		docs:    make(map[string]*model.Document),
		history: make(map[string][]model.Stage),
	}
}

func (r *DocumentRepository) setStage(d *model.Document, s model.Stage) {
	d.ExtractionStage = s
	d.UpdatedAt = time.Now()
	r.history[d.ID] = append(r.history[d.ID], s)
}

// History 按顺序返回文档经过的阶段。
func (r *DocumentRepository) History(id string) []model.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Stage(nil), r.history[id]...)
}

// Snapshot 返回文档的副本，不存在时返回 nil。
func (r *DocumentRepository) Snapshot(id string) *model.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil
	}
	return clone(d)
}

// Count 返回文档数量。
func (r *DocumentRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

func clone(d *model.Document) *model.Document {
	c := *d
	if d.PayloadKey != nil {
		k := *d.PayloadKey
		c.PayloadKey = &k
	}
	return &c
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("duplicate document %s", doc.ID)
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if doc.ExtractionStage == "" {
		doc.ExtractionStage = model.StagePending
	}
	r.docs[doc.ID] = clone(doc)
	r.history[doc.ID] = []model.Stage{doc.ExtractionStage}
	return nil
}

func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	if d := r.Snapshot(id); d != nil {
		return d, nil
	}
	return nil, repository.ErrDocumentNotFound
}

func (r *DocumentRepository) FindByIDAndUser(ctx context.Context, id string, userID uint) (*model.Document, error) {
	d := r.Snapshot(id)
	if d == nil || d.UserID != userID {
		return nil, repository.ErrDocumentNotFound
	}
	return d, nil
}

func (r *DocumentRepository) FindByUserID(ctx context.Context, userID uint) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Document
	for _, d := range r.docs {
		if d.UserID == userID {
			c := clone(d)
			c.Content = ""
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *DocumentRepository) FindByStages(ctx context.Context, stages ...model.Stage) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Document
	for _, d := range r.docs {
		for _, s := range stages {
			if d.ExtractionStage == s {
				out = append(out, *clone(d))
				break
			}
		}
	}
	return out, nil
}

func (r *DocumentRepository) GetStatus(ctx context.Context, id string) (*model.DocumentStatus, error) {
	d, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.StatusOf(d), nil
}

func (r *DocumentRepository) TransitionStage(ctx context.Context, id string, from, to model.Stage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.ExtractionStage != from {
		return false, nil
	}
	r.setStage(d, to)
	return true, nil
}

func (r *DocumentRepository) UpdateStage(ctx context.Context, id string, stage model.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	r.setStage(d, stage)
	return nil
}

func (r *DocumentRepository) MarkCompleted(ctx context.Context, id string, c repository.Completion) error {
	if c.Content == "" {
		return fmt.Errorf("document %s has no content", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	if d.ExtractionStage.IsTerminal() {
		return repository.ErrStageConflict
	}
	d.Vectorized = true
	d.Content = c.Content
	d.PayloadKey = nil
	d.PageCount = c.PageCount
	d.ChunkCount = c.ChunkCount
	r.setStage(d, model.StageComplete)
	return nil
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, diagnostic string) error {
	if r.MarkFailedFunc != nil {
		return r.MarkFailedFunc(ctx, id, diagnostic)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	if d.ExtractionStage.IsTerminal() {
		return repository.ErrStageConflict
	}
	r.fail(d, diagnostic)
	return nil
}

func (r *DocumentRepository) fail(d *model.Document, diagnostic string) {
	d.Vectorized = false
	d.Content = model.FailedContentPrefix + diagnostic
	d.PayloadKey = nil
	d.ChunkCount = 0
	r.setStage(d, model.StageFailed)
}

func (r *DocumentRepository) ResetToPending(ctx context.Context, id string, from model.Stage, payloadKey string, fileSize int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.ExtractionStage != from {
		return false, nil
	}
	d.Vectorized = false
	d.Content = ""
	d.PayloadKey = &payloadKey
	d.FileSize = fileSize
	d.PageCount, d.ChunkCount = 0, 0
	r.setStage(d, model.StagePending)
	return true, nil
}

func (r *DocumentRepository) ForceStage(ctx context.Context, id string, stage model.Stage, diagnostic string) error {
	if stage == model.StageComplete {
		return fmt.Errorf("cannot force %s", stage)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	if stage == model.StageFailed {
		r.fail(d, diagnostic)
		return nil
	}
	d.Vectorized = false
	if stage == model.StagePending {
		d.Content = ""
	}
	r.setStage(d, stage)
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return repository.ErrDocumentNotFound
	}
	delete(r.docs, id)
	return nil
}
