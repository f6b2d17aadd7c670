package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyforge-go/internal/service"
	"studyforge-go/pkg/log"
)

// multipartOverhead 是表单边界等额外字节的余量。
const multipartOverhead = 1 << 20

// UploadHandler 负责处理 PDF 上传和失败后的重新上传。
type UploadHandler struct {
	docService service.DocumentService
	maxBytes   int64
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(docService service.DocumentService, maxBytes int64) *UploadHandler {
	return &UploadHandler{docService: docService, maxBytes: maxBytes}
}

// readUpload 读取表单中的 file 字段，最多读取 maxBytes+1 字节，超限由 service 层判定。
func (h *UploadHandler) readUpload(c *gin.Context) ([]byte, string, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, "", "", fmt.Errorf("缺少上传文件: %w", err)
	}
	f, err := fileHeader.Open()
	if err != nil {
		return nil, "", "", fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		return nil, "", "", fmt.Errorf("读取上传文件失败: %w", err)
	}
	return data, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), nil
}

// Upload 处理 PDF 上传：同步校验并创建记录，抽取在后台进行。
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	data, fileName, contentType, err := h.readUpload(c)
	if err != nil {
		log.Warnf("[UploadHandler] 上传请求无效, UserID: %d, Error: %v", userID, err)
		respond(c, http.StatusBadRequest, "请通过 file 字段上传 PDF 文件", nil)
		return
	}

	doc, err := h.docService.Submit(c.Request.Context(), data, fileName, contentType, userID)
	if err != nil {
		respondError(c, err, "上传失败")
		return
	}
	respond(c, http.StatusCreated, "文件已接收，正在后台处理", doc)
}

// Retry 用重新上传的文件重新处理失败的文档。
func (h *UploadHandler) Retry(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	data, fileName, _, err := h.readUpload(c)
	if err != nil {
		respond(c, http.StatusBadRequest, "请通过 file 字段上传 PDF 文件", nil)
		return
	}

	doc, err := h.docService.Retry(c.Request.Context(), c.Param("id"), userID, data, fileName)
	if err != nil {
		respondError(c, err, "重新处理失败")
		return
	}
	respond(c, http.StatusAccepted, "文档已重新排队处理", doc)
}
