package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studyforge-go/internal/service"
	"studyforge-go/pkg/log"
)

// SearchHandler 结构体定义了文档内相似度检索的处理器。
type SearchHandler struct {
	docService service.DocumentService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(docService service.DocumentService) *SearchHandler {
	return &SearchHandler{docService: docService}
}

// Search 在单个文档中检索与 q 最相似的分块。
func (h *SearchHandler) Search(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	query := c.Query("q")
	k, err := strconv.Atoi(c.DefaultQuery("k", "5"))
	if err != nil || k <= 0 {
		k = 5
	}

	hits, err := h.docService.Search(c.Request.Context(), c.Param("id"), userID, query, k)
	if err != nil {
		respondError(c, err, "搜索失败")
		return
	}
	log.Infof("[SearchHandler] 检索成功, DocumentID: %s, query: '%s', 返回 %d 条结果", c.Param("id"), query, len(hits))
	respond(c, http.StatusOK, "success", hits)
}
