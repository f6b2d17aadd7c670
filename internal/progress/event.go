// Package progress 提供进程内的进度事件总线和文档归属表。
package progress

import (
	"time"

	"studyforge-go/internal/model"
)

// Kind 是进度事件的类型。
type Kind string

const (
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Event 是一次流水线进度通知，只存在于内存中。
type Event struct {
	Kind       Kind
	DocumentID string
	Stage      model.Stage
	Percent    int
	Message    string
	Error      string
	Timestamp  time.Time
}

// IsTerminal 判断事件是否代表任务结束。
func (e Event) IsTerminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// Progress 构造一个 progress 事件，percent 会被限制在 [0, 100]。
func Progress(documentID string, stage model.Stage, percent int, message string) Event {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return Event{
		Kind:       KindProgress,
		DocumentID: documentID,
		Stage:      stage,
		Percent:    percent,
		Message:    message,
		Timestamp:  time.Now(),
	}
}

// Complete 构造一个 complete 事件。
func Complete(documentID string) Event {
	return Event{
		Kind:       KindComplete,
		DocumentID: documentID,
		Stage:      model.StageComplete,
		Percent:    100,
		Timestamp:  time.Now(),
	}
}

// Failed 构造一个 error 事件。
func Failed(documentID string, errText string) Event {
	return Event{
		Kind:       KindError,
		DocumentID: documentID,
		Stage:      model.StageFailed,
		Error:      errText,
		Timestamp:  time.Now(),
	}
}
