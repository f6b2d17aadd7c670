// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studyforge-go/internal/model"
)

// ErrDocumentNotFound 表示文档不存在（或不属于当前用户）。
var ErrDocumentNotFound = errors.New("document not found")

// ErrStageConflict 表示文档已经处于终态，条件写入没有生效。
var ErrStageConflict = errors.New("document already reached a terminal stage")

// openStages 是允许被 MarkCompleted/MarkFailed 覆盖的阶段。
var openStages = []model.Stage{
	model.StagePending,
	model.StagePDFParse,
	model.StagePerPage,
	model.StageChunking,
	model.StageVectorizing,
}

// Completion 是任务成功时一次性写入的字段。
type Completion struct {
	Content    string
	PageCount  int
	ChunkCount int
}

// DocumentRepository 接口定义了文档记录的持久化操作。
// 阶段字段只允许通过 TransitionStage/UpdateStage/MarkCompleted/MarkFailed/ResetToPending/ForceStage 修改。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	FindByIDAndUser(ctx context.Context, id string, userID uint) (*model.Document, error)
	FindByUserID(ctx context.Context, userID uint) ([]model.Document, error)
	FindByStages(ctx context.Context, stages ...model.Stage) ([]model.Document, error)
	GetStatus(ctx context.Context, id string) (*model.DocumentStatus, error)

	// TransitionStage 仅当当前阶段为 from 时切换到 to，返回是否切换成功。
	TransitionStage(ctx context.Context, id string, from, to model.Stage) (bool, error)
	UpdateStage(ctx context.Context, id string, stage model.Stage) error
	// MarkCompleted 和 MarkFailed 只在文档尚未进入终态时生效，否则返回 ErrStageConflict。
	MarkCompleted(ctx context.Context, id string, c Completion) error
	MarkFailed(ctx context.Context, id string, diagnostic string) error
	// ResetToPending 仅当当前阶段为 from 时重置为 PENDING，并挂上新的原始文件。
	ResetToPending(ctx context.Context, id string, from model.Stage, payloadKey string, fileSize int64) (bool, error)
	ForceStage(ctx context.Context, id string, stage model.Stage, diagnostic string) error
	Delete(ctx context.Context, id string) error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一条新的文档记录。
func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// FindByID 根据文档 ID 检索文档记录。
func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

// FindByIDAndUser 根据文档 ID 和所属用户检索文档记录。
func (r *documentRepository) FindByIDAndUser(ctx context.Context, id string, userID uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

// FindByUserID 查找指定用户的所有文档，最新的在前。
func (r *documentRepository) FindByUserID(ctx context.Context, userID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Omit("content").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&docs).Error
	return docs, err
}

// FindByStages 查找处于给定阶段的所有文档，启动恢复时使用。
func (r *documentRepository) FindByStages(ctx context.Context, stages ...model.Stage) ([]model.Document, error) {
	var docs []model.Document
	if len(stages) == 0 {
		return docs, nil
	}
	err := r.db.WithContext(ctx).Omit("content").Where("extraction_stage IN ?", stages).Find(&docs).Error
	return docs, err
}

// GetStatus 读取文档的阶段视图。
func (r *documentRepository) GetStatus(ctx context.Context, id string) (*model.DocumentStatus, error) {
	doc, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.StatusOf(doc), nil
}

// TransitionStage 以 compare-and-set 的方式切换阶段。
func (r *documentRepository) TransitionStage(ctx context.Context, id string, from, to model.Stage) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND extraction_stage = ?", id, from).
		Update("extraction_stage", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateStage 无条件更新阶段字段。
func (r *documentRepository) UpdateStage(ctx context.Context, id string, stage model.Stage) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Update("extraction_stage", stage)
	return affected(res)
}

// MarkCompleted 在一次写入中落库抽取结果并清空原始文件引用。
func (r *documentRepository) MarkCompleted(ctx context.Context, id string, c Completion) error {
	if c.Content == "" {
		return fmt.Errorf("文档 %s 内容为空，不能标记为完成", id)
	}
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND extraction_stage IN ?", id, openStages).
		Updates(map[string]interface{}{
			"extraction_stage": model.StageComplete,
			"vectorized":       true,
			"content":          c.Content,
			"payload_key":      gorm.Expr("NULL"),
			"page_count":       c.PageCount,
			"chunk_count":      c.ChunkCount,
		})
	return r.guarded(ctx, id, res)
}

// MarkFailed 在一次写入中标记失败、记录诊断信息并清空原始文件引用。
// 已经是 COMPLETE 或 FAILED 的文档不会被覆盖。
func (r *documentRepository) MarkFailed(ctx context.Context, id string, diagnostic string) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND extraction_stage IN ?", id, openStages).
		Updates(failedUpdates(diagnostic))
	return r.guarded(ctx, id, res)
}

func failedUpdates(diagnostic string) map[string]interface{} {
	return map[string]interface{}{
		"extraction_stage": model.StageFailed,
		"vectorized":       false,
		"content":          model.FailedContentPrefix + diagnostic,
		"payload_key":      gorm.Expr("NULL"),
		"chunk_count":      0,
	}
}

// ResetToPending 把文档重置为 PENDING 以便重新处理。
func (r *documentRepository) ResetToPending(ctx context.Context, id string, from model.Stage, payloadKey string, fileSize int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND extraction_stage = ?", id, from).
		Updates(map[string]interface{}{
			"extraction_stage": model.StagePending,
			"vectorized":       false,
			"content":          "",
			"payload_key":      payloadKey,
			"file_size":        fileSize,
			"page_count":       0,
			"chunk_count":      0,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ForceStage 是管理/恢复路径，不检查当前阶段。
// 强制设置为 FAILED 时写入与 MarkFailed 相同的字段；其他阶段只清除 vectorized 标记。
func (r *documentRepository) ForceStage(ctx context.Context, id string, stage model.Stage, diagnostic string) error {
	if stage == model.StageComplete {
		return fmt.Errorf("不能强制设置为 %s", stage)
	}
	updates := map[string]interface{}{
		"extraction_stage": stage,
		"vectorized":       false,
	}
	switch stage {
	case model.StageFailed:
		updates = failedUpdates(diagnostic)
	case model.StagePending:
		updates["content"] = ""
	}
	res := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Updates(updates)
	return affected(res)
}

// Delete 删除文档记录。
func (r *documentRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{})
	return affected(res)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrDocumentNotFound
	}
	return err
}

// guarded 区分条件写入未生效的两种原因：文档不存在，或已进入终态。
func (r *documentRepository) guarded(ctx context.Context, id string, res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrDocumentNotFound
	}
	return ErrStageConflict
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
