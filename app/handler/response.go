package handler

import (
	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应格式，与前端约定为 {"error": "..."}
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitResponse 创建任务后的响应
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// abortWithError 写入错误响应并终止后续处理
func abortWithError(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{Error: message})
}
