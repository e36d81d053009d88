package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler 健康检查
type HealthHandler struct {
	ffmpegAvailable func() bool
}

// NewHealthHandler 创建健康检查处理器，ffmpegAvailable 可以为 nil
func NewHealthHandler(ffmpegAvailable func() bool) *HealthHandler {
	return &HealthHandler{ffmpegAvailable: ffmpegAvailable}
}

// Health 返回服务与 ffmpeg 的可用状态
func (h *HealthHandler) Health(c *gin.Context) {
	available := h.ffmpegAvailable != nil && h.ffmpegAvailable()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"ffmpeg": available,
	})
}

// Test 连通性测试接口
func (h *HealthHandler) Test(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "API is working"})
}
