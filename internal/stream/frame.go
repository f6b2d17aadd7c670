// Package stream 把进度总线上的事件推送到每个用户唯一的实时连接上。
package stream

import (
	"time"

	"studyforge-go/internal/model"
	"studyforge-go/internal/progress"
)

// 帧类型
const (
	FrameConnected = "connected"
	FrameProgress  = "progress"
	FrameComplete  = "complete"
	FrameError     = "error"
	FrameHeartbeat = "heartbeat"
)

// Frame 是写到客户端的一条消息。
type Frame struct {
	Type       string      `json:"type"`
	DocumentID string      `json:"documentId,omitempty"`
	Stage      model.Stage `json:"stage,omitempty"`
	Percent    *int        `json:"percent,omitempty"`
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Sink 是一条实时连接的写端，由 SSE 或 WebSocket 实现。
type Sink interface {
	Send(Frame) error
}

// SinkFunc 让普通函数实现 Sink。
type SinkFunc func(Frame) error

func (f SinkFunc) Send(fr Frame) error { return f(fr) }

func connectedFrame() Frame {
	return Frame{Type: FrameConnected, Message: "stream connection established", Timestamp: time.Now()}
}

func heartbeatFrame() Frame {
	return Frame{Type: FrameHeartbeat, Timestamp: time.Now()}
}

// FrameFromEvent 把总线事件转换成客户端帧。
func FrameFromEvent(ev progress.Event) Frame {
	switch ev.Kind {
	case progress.KindComplete:
		return Frame{Type: FrameComplete, DocumentID: ev.DocumentID, Timestamp: ev.Timestamp}
	case progress.KindError:
		return Frame{Type: FrameError, DocumentID: ev.DocumentID, Error: ev.Error, Timestamp: ev.Timestamp}
	default:
		percent := ev.Percent
		return Frame{
			Type:       FrameProgress,
			DocumentID: ev.DocumentID,
			Stage:      ev.Stage,
			Percent:    &percent,
			Message:    ev.Message,
			Timestamp:  ev.Timestamp,
		}
	}
}
