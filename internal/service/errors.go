package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示文档不存在或不属于当前用户。
	ErrNotFound = errors.New("document not found")
	// ErrConflict 表示文档当前阶段不允许该操作。
	ErrConflict = errors.New("document state conflict")
)

// ValidationError 表示请求参数或上传内容不合法，不会产生任何记录。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
