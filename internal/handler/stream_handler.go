package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"studyforge-go/internal/stream"
	"studyforge-go/pkg/log"
	"studyforge-go/pkg/token"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// StreamHandler 负责实时进度推送连接（SSE 与 WebSocket）。
type StreamHandler struct {
	mux        *stream.Multiplexer
	jwtManager *token.JWTManager
}

// NewStreamHandler 创建一个新的 StreamHandler。
func NewStreamHandler(mux *stream.Multiplexer, jwtManager *token.JWTManager) *StreamHandler {
	return &StreamHandler{mux: mux, jwtManager: jwtManager}
}

// Events 以 Server-Sent Events 推送当前用户全部文档的进度。
func (h *StreamHandler) Events(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	sink := stream.SinkFunc(func(fr stream.Frame) error {
		if err := sse.Encode(c.Writer, sse.Event{Data: fr}); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})

	log.Infof("[StreamHandler] SSE 连接已建立, UserID: %d", userID)
	err := h.mux.Serve(c.Request.Context(), userID, sink)
	logStreamEnd("SSE", userID, err)
}

// WebSocket 以 WebSocket 推送进度，token 放在路径中。
func (h *StreamHandler) WebSocket(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		respond(c, http.StatusUnauthorized, "无效的 token", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// 读循环只用于感知客户端关闭
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := stream.SinkFunc(func(fr stream.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(fr)
	})

	log.Infof("[StreamHandler] WebSocket 连接已建立, UserID: %d", claims.UserID)
	err = h.mux.Serve(ctx, claims.UserID, sink)
	logStreamEnd("WebSocket", claims.UserID, err)

	reason := "stream closed"
	if err != nil {
		reason = err.Error()
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func logStreamEnd(kind string, userID uint, err error) {
	switch {
	case err == nil:
		log.Infof("[StreamHandler] %s 连接已断开, UserID: %d", kind, userID)
	case errors.Is(err, stream.ErrSuperseded):
		log.Infof("[StreamHandler] %s 连接被新连接取代, UserID: %d", kind, userID)
	default:
		log.Warnf("[StreamHandler] %s 连接异常结束, UserID: %d, Error: %v", kind, userID, err)
	}
}
