package pipeline

import (
	"errors"
	"fmt"

	"studyforge-go/internal/model"
)

var (
	// ErrNotPending 表示文档不处于 PENDING，任务不会启动。
	ErrNotPending = errors.New("document is not pending")
	// ErrJobInProgress 表示同一文档已有任务在运行。
	ErrJobInProgress = errors.New("extraction job already running for document")
)

// ExtractionError 表示无法从 PDF 中得到有效文本。
type ExtractionError struct {
	Stage model.Stage
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError 表示向量化或写入向量索引失败。
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("vectorization failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
