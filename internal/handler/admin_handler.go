package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studyforge-go/internal/model"
	"studyforge-go/internal/progress"
	"studyforge-go/internal/service"
	"studyforge-go/internal/stream"
	"studyforge-go/pkg/log"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	docService service.DocumentService
	registry   *progress.Registry
	mux        *stream.Multiplexer
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(docService service.DocumentService, registry *progress.Registry, mux *stream.Multiplexer) *AdminHandler {
	return &AdminHandler{docService: docService, registry: registry, mux: mux}
}

// ForceStage 直接设置任意文档的阶段。
func (h *AdminHandler) ForceStage(c *gin.Context) {
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("ForceStage: Invalid request payload, error: %v", err)
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	stage, err := model.ParseStage(req.Stage)
	if err != nil {
		respond(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	status, err := h.docService.ForceStage(c.Request.Context(), c.Param("id"), stage, req.Error)
	if err != nil {
		respondError(c, err, "更新文档阶段失败")
		return
	}
	respond(c, http.StatusOK, "文档阶段已更新", status)
}

// Recover 手动触发一次遗留文档恢复。
func (h *AdminHandler) Recover(c *gin.Context) {
	report, err := h.docService.Recover(c.Request.Context())
	if err != nil {
		respondError(c, err, "恢复失败")
		return
	}
	respond(c, http.StatusOK, "恢复完成", report)
}

// Streams 返回当前的归属表和连接情况，用于排查推送问题。
func (h *AdminHandler) Streams(c *gin.Context) {
	entries := h.registry.Entries()
	owners := make(map[uint]bool)
	for _, owner := range entries {
		owners[owner] = h.mux.Connected(owner)
	}
	respond(c, http.StatusOK, "success", gin.H{
		"trackedDocuments": len(entries),
		"owners":           owners,
	})
}
