// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"fmt"
	"strings"
	"time"
)

// Stage 是文档抽取流水线的阶段。
type Stage string

const (
	StagePending     Stage = "PENDING"
	StagePDFParse    Stage = "PDF_PARSE"
	StagePerPage     Stage = "PER_PAGE"
	StageChunking    Stage = "CHUNKING"
	StageVectorizing Stage = "VECTORIZING"
	StageComplete    Stage = "COMPLETE"
	StageFailed      Stage = "FAILED"
)

// AllStages 按流水线顺序列出所有阶段。
var AllStages = []Stage{
	StagePending, StagePDFParse, StagePerPage, StageChunking, StageVectorizing, StageComplete, StageFailed,
}

// IsTerminal 判断阶段是否为终态。
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed
}

// IsWorking 判断阶段是否表示任务正在推进中。
func (s Stage) IsWorking() bool {
	switch s {
	case StagePDFParse, StagePerPage, StageChunking, StageVectorizing:
		return true
	}
	return false
}

// ParseStage 把字符串（大小写不敏感）解析为 Stage。
func ParseStage(s string) (Stage, error) {
	candidate := Stage(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range AllStages {
		if st == candidate {
			return st, nil
		}
	}
	return "", fmt.Errorf("未知的阶段: %q", s)
}

// FailedContentPrefix 是失败文档 content 字段的固定前缀。
const FailedContentPrefix = "Processing failed: "

// Document 定义了 documents 表的 ORM 模型。
// PayloadKey 指向对象存储中的原始 PDF，任务结束后置空。
type Document struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index" json:"userId"`
	Name            string    `gorm:"type:varchar(255);not null" json:"name"`
	FileName        string    `gorm:"type:varchar(128);not null" json:"fileName"`
	FileSize        int64     `gorm:"not null" json:"fileSize"`
	ContentType     string    `gorm:"type:varchar(100)" json:"contentType"`
	ExtractionStage Stage     `gorm:"type:varchar(16);not null;default:PENDING;index" json:"extractionStage"`
	Vectorized      bool      `gorm:"not null;default:false" json:"vectorized"`
	Content         string    `gorm:"type:longtext" json:"-"`
	PayloadKey      *string   `gorm:"type:varchar(255)" json:"-"`
	PageCount       int       `gorm:"not null;default:0" json:"pageCount"`
	ChunkCount      int       `gorm:"not null;default:0" json:"chunkCount"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// ErrorText 返回失败文档的诊断信息，非失败状态返回空串。
func (d *Document) ErrorText() string {
	if d.ExtractionStage != StageFailed {
		return ""
	}
	return strings.TrimPrefix(d.Content, FailedContentPrefix)
}

// DocumentStatus 是阶段查询接口返回的只读视图。
type DocumentStatus struct {
	ID              string    `json:"id"`
	UserID          uint      `json:"userId"`
	ExtractionStage Stage     `json:"extractionStage"`
	Vectorized      bool      `json:"vectorized"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       LocalTime `json:"createdAt"`
	UpdatedAt       LocalTime `json:"updatedAt"`
}

// StatusOf 由文档记录生成状态视图。
func StatusOf(d *Document) *DocumentStatus {
	return &DocumentStatus{
		ID:              d.ID,
		UserID:          d.UserID,
		ExtractionStage: d.ExtractionStage,
		Vectorized:      d.Vectorized,
		Error:           d.ErrorText(),
		CreatedAt:       LocalTime(d.CreatedAt),
		UpdatedAt:       LocalTime(d.UpdatedAt),
	}
}
