package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studyforge-go/internal/model"
	"studyforge-go/internal/service"
)

// DocumentHandler 负责处理所有与文档查询和管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// StageRequest 是手动设置阶段的请求体。
type StageRequest struct {
	Stage string `json:"stage" binding:"required"`
	Error string `json:"error"`
}

// List 返回当前用户的文档列表。
func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	docs, err := h.docService.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "获取文档列表失败")
		return
	}
	respond(c, http.StatusOK, "获取文档列表成功", docs)
}

// Get 返回单个文档详情。
func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	detail, err := h.docService.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err, "获取文档失败")
		return
	}
	respond(c, http.StatusOK, "success", detail)
}

// Status 返回文档当前的抽取阶段。
func (h *DocumentHandler) Status(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	status, err := h.docService.GetStatus(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err, "获取文档状态失败")
		return
	}
	respond(c, http.StatusOK, "success", status)
}

// UpdateStage 允许文档所有者手动设置阶段。
func (h *DocumentHandler) UpdateStage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	stage, err := model.ParseStage(req.Stage)
	if err != nil {
		respond(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	status, err := h.docService.ForceStageAsOwner(c.Request.Context(), c.Param("id"), userID, stage, req.Error)
	if err != nil {
		respondError(c, err, "更新文档阶段失败")
		return
	}
	respond(c, http.StatusOK, "文档阶段已更新", status)
}

// Delete 删除文档及其向量。
func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.docService.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err, "删除文档失败")
		return
	}
	respond(c, http.StatusOK, "文档删除成功", nil)
}

// Chunks 返回文档正文的分块，支持 search 过滤和 max 限制。
func (h *DocumentHandler) Chunks(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	maxChunks, _ := strconv.Atoi(c.Query("max"))
	list, err := h.docService.Chunks(c.Request.Context(), c.Param("id"), userID, service.ChunkQuery{
		Search:    c.Query("search"),
		MaxChunks: maxChunks,
	})
	if err != nil {
		respondError(c, err, "获取文档分块失败")
		return
	}
	respond(c, http.StatusOK, "success", list)
}
