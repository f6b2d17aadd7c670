// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"studyforge-go/internal/config"
	"studyforge-go/internal/model"
	"studyforge-go/internal/progress"
	"studyforge-go/internal/repository"
	"studyforge-go/pkg/chunk"
	"studyforge-go/pkg/log"
	"studyforge-go/pkg/storage"
	"studyforge-go/pkg/tasks"
)

const (
	defaultSearchK = 5
	maxSearchK     = 20
)

// Dispatcher 把抽取任务交给后台执行，本地协程池和 Kafka 生产者都实现了它。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.IngestTask) error
}

// JobMonitor 报告某个文档是否有任务正在运行。
type JobMonitor interface {
	IsRunning(documentID string) bool
}

// VectorSearcher 是文档服务用到的向量索引操作。
type VectorSearcher interface {
	DeleteDocument(ctx context.Context, documentID string) error
	SimilaritySearch(ctx context.Context, query string, userID uint, k int, documentID string) ([]model.SearchHit, error)
}

// DocumentDetail 是单个文档的详情，带上抽取结果或错误信息。
type DocumentDetail struct {
	*model.Document
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChunkQuery 是分块查询条件。
type ChunkQuery struct {
	Search    string
	MaxChunks int
}

// ChunkList 是分块查询结果。
type ChunkList struct {
	DocumentID string            `json:"documentId"`
	Total      int               `json:"total"`
	Chunks     []model.ChunkView `json:"chunks"`
}

// RecoverReport 汇总启动恢复的结果。
type RecoverReport struct {
	Interrupted  int `json:"interrupted"`
	Redispatched int `json:"redispatched"`
}

// DocumentService 接口定义了文档上传、查询和管理相关的业务操作。
type DocumentService interface {
	Submit(ctx context.Context, data []byte, fileName, contentType string, userID uint) (*model.Document, error)
	GetStatus(ctx context.Context, id string, userID uint) (*model.DocumentStatus, error)
	ForceStage(ctx context.Context, id string, stage model.Stage, errText string) (*model.DocumentStatus, error)
	ForceStageAsOwner(ctx context.Context, id string, userID uint, stage model.Stage, errText string) (*model.DocumentStatus, error)
	Retry(ctx context.Context, id string, userID uint, data []byte, fileName string) (*model.Document, error)
	Delete(ctx context.Context, id string, userID uint) error
	List(ctx context.Context, userID uint) ([]model.Document, error)
	Get(ctx context.Context, id string, userID uint) (*DocumentDetail, error)
	Chunks(ctx context.Context, id string, userID uint, q ChunkQuery) (*ChunkList, error)
	Search(ctx context.Context, id string, userID uint, query string, k int) ([]model.SearchHit, error)
	Recover(ctx context.Context) (*RecoverReport, error)
}

type documentService struct {
	repo       repository.DocumentRepository
	payloads   storage.PayloadStore
	dispatcher Dispatcher
	jobs       JobMonitor
	vectors    VectorSearcher
	registry   *progress.Registry
	events     progress.Publisher
	chunker    *chunk.Splitter
	maxBytes   int64
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	repo repository.DocumentRepository,
	payloads storage.PayloadStore,
	dispatcher Dispatcher,
	jobs JobMonitor,
	vectors VectorSearcher,
	registry *progress.Registry,
	events progress.Publisher,
	chunker *chunk.Splitter,
	cfg config.IngestConfig,
) DocumentService {
	return &documentService{
		repo:       repo,
		payloads:   payloads,
		dispatcher: dispatcher,
		jobs:       jobs,
		vectors:    vectors,
		registry:   registry,
		events:     events,
		chunker:    chunker,
		maxBytes:   cfg.MaxUploadBytes,
	}
}

func newPayloadKey(documentID string) string {
	return fmt.Sprintf("uploads/%s/%s.pdf", documentID, uuid.NewString())
}

// Submit 校验上传内容、暂存原始文件、创建 PENDING 记录并派发抽取任务。
// 校验失败不会创建任何记录；派发失败时记录被标记为 FAILED 并照常返回。
func (s *documentService) Submit(ctx context.Context, data []byte, fileName, contentType string, userID uint) (*model.Document, error) {
	if err := validatePDF(data, s.maxBytes); err != nil {
		return nil, err
	}

	safeName := sanitizeFileName(fileName)
	id := uuid.NewString()
	key := newPayloadKey(id)
	if contentType == "" {
		contentType = "application/pdf"
	}

	if err := s.payloads.Put(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("暂存上传文件失败: %w", err)
	}

	doc := &model.Document{
		ID:              id,
		UserID:          userID,
		Name:            displayName(safeName),
		FileName:        safeName,
		FileSize:        int64(len(data)),
		ContentType:     contentType,
		ExtractionStage: model.StagePending,
		PayloadKey:      &key,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		s.removePayload(ctx, key)
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	log.Infof("[DocumentService] 文档已创建, DocumentID: %s, FileName: %s, Size: %d, UserID: %d", id, safeName, len(data), userID)

	s.registry.Register(id, userID)
	s.dispatch(ctx, doc, key)
	return doc, nil
}

// dispatch 派发任务；失败时在请求路径上直接把文档标记为 FAILED。
func (s *documentService) dispatch(ctx context.Context, doc *model.Document, key string) {
	task := tasks.IngestTask{DocumentID: doc.ID, FileName: doc.FileName, UserID: doc.UserID, PayloadKey: key}
	err := s.dispatcher.Dispatch(ctx, task)
	if err == nil {
		return
	}

	log.Errorf("[DocumentService] 派发抽取任务失败, DocumentID: %s, Error: %v", doc.ID, err)
	diagnostic := "could not schedule extraction: " + err.Error()
	bg := context.WithoutCancel(ctx)
	if markErr := s.repo.MarkFailed(bg, doc.ID, diagnostic); markErr != nil {
		if errors.Is(markErr, repository.ErrStageConflict) {
			// 另一次派发的任务已经把文档处理到终态
			return
		}
		log.Errorf("[DocumentService] 标记文档失败状态出错, DocumentID: %s, Error: %v", doc.ID, markErr)
	}
	s.removePayload(bg, key)
	s.events.Publish(progress.Failed(doc.ID, diagnostic))

	doc.ExtractionStage = model.StageFailed
	doc.Vectorized = false
	doc.Content = model.FailedContentPrefix + diagnostic
	doc.PayloadKey = nil
}

// GetStatus 返回文档阶段，经由 Redis 缓存读取。
func (s *documentService) GetStatus(ctx context.Context, id string, userID uint) (*model.DocumentStatus, error) {
	status, err := s.repo.GetStatus(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if status.UserID != userID {
		return nil, ErrNotFound
	}
	return status, nil
}

// ForceStage 是管理员直接设置阶段的入口。
func (s *documentService) ForceStage(ctx context.Context, id string, stage model.Stage, errText string) (*model.DocumentStatus, error) {
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return s.forceStage(ctx, doc, stage, errText)
}

// ForceStageAsOwner 与 ForceStage 相同，但只允许操作自己的文档。
func (s *documentService) ForceStageAsOwner(ctx context.Context, id string, userID uint, stage model.Stage, errText string) (*model.DocumentStatus, error) {
	doc, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, translate(err)
	}
	return s.forceStage(ctx, doc, stage, errText)
}

// forceStage 不允许伪造 COMPLETE，也不允许干预正在运行的任务。
// 强制设置为 PENDING 会用仍然保留的原始文件重新派发；没有原始文件时应使用 Retry。
func (s *documentService) forceStage(ctx context.Context, doc *model.Document, stage model.Stage, errText string) (*model.DocumentStatus, error) {
	if stage == model.StageComplete {
		return nil, invalid("stage %s cannot be set manually", stage)
	}
	if s.jobs.IsRunning(doc.ID) {
		return nil, conflict("an extraction job is running for document %s", doc.ID)
	}
	if stage == model.StagePending && doc.PayloadKey == nil {
		return nil, conflict("document %s has no uploaded file to reprocess; use retry", doc.ID)
	}
	if stage == model.StageFailed && strings.TrimSpace(errText) == "" {
		errText = "marked as failed manually"
	}

	if err := s.repo.ForceStage(ctx, doc.ID, stage, errText); err != nil {
		return nil, translate(err)
	}
	log.Infof("[DocumentService] 文档阶段被手动设置, DocumentID: %s, %s -> %s", doc.ID, doc.ExtractionStage, stage)

	if err := s.vectors.DeleteDocument(ctx, doc.ID); err != nil {
		log.Warnf("[DocumentService] 清理文档向量失败, DocumentID: %s, Error: %v", doc.ID, err)
	}
	switch stage {
	case model.StageFailed:
		if doc.PayloadKey != nil {
			s.removePayload(ctx, *doc.PayloadKey)
		}
		s.events.Publish(progress.Failed(doc.ID, errText))
	case model.StagePending:
		s.registry.Register(doc.ID, doc.UserID)
		doc.ExtractionStage = model.StagePending
		s.dispatch(ctx, doc, *doc.PayloadKey)
	}
	return s.repo.GetStatus(ctx, doc.ID)
}

// Retry 用重新上传的文件把 FAILED 文档重置为 PENDING 并重新派发。
func (s *documentService) Retry(ctx context.Context, id string, userID uint, data []byte, fileName string) (*model.Document, error) {
	doc, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, translate(err)
	}
	if doc.ExtractionStage != model.StageFailed {
		return nil, conflict("only failed documents can be retried, document %s is %s", id, doc.ExtractionStage)
	}
	if err := validatePDF(data, s.maxBytes); err != nil {
		return nil, err
	}

	key := newPayloadKey(id)
	if err := s.payloads.Put(ctx, key, data, doc.ContentType); err != nil {
		return nil, fmt.Errorf("暂存上传文件失败: %w", err)
	}
	ok, err := s.repo.ResetToPending(ctx, id, model.StageFailed, key, int64(len(data)))
	if err != nil || !ok {
		s.removePayload(ctx, key)
		if err != nil {
			return nil, translate(err)
		}
		return nil, conflict("document %s changed stage during retry", id)
	}
	log.Infof("[DocumentService] 文档重新处理, DocumentID: %s, 新文件: %s", id, sanitizeFileName(fileName))

	doc, err = s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	s.registry.Register(id, userID)
	s.dispatch(ctx, doc, key)
	return doc, nil
}

// Delete 删除文档记录，再尽力清理向量、原始文件和归属关系。
func (s *documentService) Delete(ctx context.Context, id string, userID uint) error {
	doc, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return translate(err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return translate(err)
	}
	if err := s.vectors.DeleteDocument(ctx, id); err != nil {
		log.Warnf("[DocumentService] 删除文档向量失败, DocumentID: %s, Error: %v", id, err)
	}
	if doc.PayloadKey != nil {
		s.removePayload(ctx, *doc.PayloadKey)
	}
	s.registry.Unregister(id)
	log.Infof("[DocumentService] 文档已删除, DocumentID: %s, UserID: %d", id, userID)
	return nil
}

// List 返回用户的全部文档（不含正文）。
func (s *documentService) List(ctx context.Context, userID uint) ([]model.Document, error) {
	docs, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return docs, nil
}

// Get 返回文档详情：完成时带正文，失败时带错误信息。
func (s *documentService) Get(ctx context.Context, id string, userID uint) (*DocumentDetail, error) {
	doc, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, translate(err)
	}
	detail := &DocumentDetail{Document: doc}
	switch doc.ExtractionStage {
	case model.StageComplete:
		detail.Content = doc.Content
	case model.StageFailed:
		detail.Error = doc.ErrorText()
	}
	return detail, nil
}

// Chunks 对已落库的正文重新切块，可按关键字过滤并限制数量。
func (s *documentService) Chunks(ctx context.Context, id string, userID uint, q ChunkQuery) (*ChunkList, error) {
	doc, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, translate(err)
	}
	if doc.ExtractionStage != model.StageComplete {
		return nil, conflict("document %s is %s, chunks are available once processing completes", id, doc.ExtractionStage)
	}

	parts, err := s.chunker.Split(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("切分文档内容失败: %w", err)
	}
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	views := make([]model.ChunkView, 0, len(parts))
	for i, part := range parts {
		if needle != "" && !strings.Contains(strings.ToLower(part), needle) {
			continue
		}
		views = append(views, model.ChunkView{
			Index:     i,
			Content:   part,
			Length:    utf8.RuneCountInString(part),
			WordCount: len(strings.Fields(part)),
		})
	}
	total := len(views)
	if q.MaxChunks > 0 && len(views) > q.MaxChunks {
		views = views[:q.MaxChunks]
	}
	return &ChunkList{DocumentID: id, Total: total, Chunks: views}, nil
}

// Search 在单个已向量化的文档中做相似度检索。
func (s *documentService) Search(ctx context.Context, id string, userID uint, query string, k int) ([]model.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("query must not be empty")
	}
	doc, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, translate(err)
	}
	if !doc.Vectorized {
		return nil, conflict("document %s is not vectorized yet", id)
	}
	if k <= 0 {
		k = defaultSearchK
	}
	if k > maxSearchK {
		k = maxSearchK
	}
	hits, err := s.vectors.SimilaritySearch(ctx, query, userID, k, id)
	if err != nil {
		return nil, fmt.Errorf("相似度检索失败: %w", err)
	}
	if hits == nil {
		hits = []model.SearchHit{}
	}
	return hits, nil
}

// Recover 在启动时处理上次进程遗留的文档：
// 停在中间阶段的文档标记为 FAILED，仍有原始文件的 PENDING 文档重新派发。
func (s *documentService) Recover(ctx context.Context) (*RecoverReport, error) {
	report := &RecoverReport{}

	stuck, err := s.repo.FindByStages(ctx, model.StagePDFParse, model.StagePerPage, model.StageChunking, model.StageVectorizing)
	if err != nil {
		return nil, fmt.Errorf("查询中断的文档失败: %w", err)
	}
	for i := range stuck {
		doc := &stuck[i]
		if s.jobs.IsRunning(doc.ID) {
			continue
		}
		if err := s.repo.MarkFailed(ctx, doc.ID, "processing was interrupted by a server restart"); err != nil {
			log.Errorf("[DocumentService] 标记中断文档失败, DocumentID: %s, Error: %v", doc.ID, err)
			continue
		}
		if err := s.vectors.DeleteDocument(ctx, doc.ID); err != nil {
			log.Warnf("[DocumentService] 清理中断文档向量失败, DocumentID: %s, Error: %v", doc.ID, err)
		}
		if doc.PayloadKey != nil {
			s.removePayload(ctx, *doc.PayloadKey)
		}
		report.Interrupted++
	}

	pending, err := s.repo.FindByStages(ctx, model.StagePending)
	if err != nil {
		return nil, fmt.Errorf("查询待处理文档失败: %w", err)
	}
	for i := range pending {
		doc := &pending[i]
		if doc.PayloadKey == nil {
			if err := s.repo.MarkFailed(ctx, doc.ID, "uploaded file is no longer available"); err != nil {
				log.Errorf("[DocumentService] 标记文档失败状态出错, DocumentID: %s, Error: %v", doc.ID, err)
			}
			report.Interrupted++
			continue
		}
		s.registry.Register(doc.ID, doc.UserID)
		s.dispatch(ctx, doc, *doc.PayloadKey)
		report.Redispatched++
	}

	log.Infof("[DocumentService] 启动恢复完成, 中断: %d, 重新派发: %d", report.Interrupted, report.Redispatched)
	return report, nil
}

func (s *documentService) removePayload(ctx context.Context, key string) {
	if err := s.payloads.Remove(ctx, key); err != nil {
		log.Warnf("[DocumentService] 删除原始文件失败, Key: %s, Error: %v", key, err)
	}
}

func translate(err error) error {
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return ErrNotFound
	}
	return err
}
