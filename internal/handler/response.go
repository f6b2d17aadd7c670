// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyforge-go/internal/middleware"
	"studyforge-go/internal/service"
	"studyforge-go/pkg/log"
)

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// respondError 把 service 层错误映射为 HTTP 状态码。
func respondError(c *gin.Context, err error, fallback string) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		respond(c, http.StatusBadRequest, validationErr.Message, nil)
	case errors.Is(err, service.ErrNotFound):
		respond(c, http.StatusNotFound, "文档不存在", nil)
	case errors.Is(err, service.ErrConflict):
		respond(c, http.StatusConflict, err.Error(), nil)
	default:
		log.Errorf("[Handler] %s %s: %v", c.Request.Method, c.FullPath(), err)
		respond(c, http.StatusInternalServerError, fallback, nil)
	}
}

// currentUserID 返回当前登录用户的 ID，缺失时直接写入 500 响应。
func currentUserID(c *gin.Context) (uint, bool) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		respond(c, http.StatusInternalServerError, "无法获取用户信息", nil)
		return 0, false
	}
	return claims.UserID, true
}
