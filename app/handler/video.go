package handler

import (
	"errors"
	"mondain/app/logger"
	"mondain/app/model"
	"mondain/app/service"
	"mondain/app/storage"
	"net/http"

	"github.com/gin-gonic/gin"
)

// VideoHandler 视频转码任务处理器
type VideoHandler struct {
	jobs          *service.JobService
	files         *storage.Manager
	logger        *logger.Logger
	maxUploadSize int64
}

// NewVideoHandler 创建视频转码任务处理器，maxUploadSize 为请求体上限（字节）
func NewVideoHandler(jobs *service.JobService, files *storage.Manager, log *logger.Logger, maxUploadSize int64) *VideoHandler {
	return &VideoHandler{
		jobs:          jobs,
		files:         files,
		logger:        log,
		maxUploadSize: maxUploadSize,
	}
}

// Process 上传视频并创建完整转码任务
func (h *VideoHandler) Process(c *gin.Context) {
	h.submit(c, model.JobKindVideo)
}

// ConvertToGif 上传视频并创建 GIF 转换任务
func (h *VideoHandler) ConvertToGif(c *gin.Context) {
	h.submit(c, model.JobKindGif)
}

func (h *VideoHandler) submit(c *gin.Context, kind model.JobKind) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	file, err := c.FormFile("video")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "上传文件过大")
			return
		}
		abortWithError(c, http.StatusBadRequest, model.ErrMissingUpload.Error())
		return
	}

	settings, err := model.ParseSettings(c.PostForm("settings"), kind)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	staged, err := h.files.SaveUpload(file)
	if err != nil {
		h.logger.Errorf("保存上传文件失败: %v", err)
		abortWithError(c, http.StatusInternalServerError, "保存上传文件失败")
		return
	}

	job, err := h.jobs.Submit(kind, staged, settings)
	if err != nil {
		if rmErr := h.files.RemoveStaged(staged.Path); rmErr != nil {
			h.logger.Warnf("清理暂存文件失败: %v", rmErr)
		}
		if errors.Is(err, service.ErrServiceStopped) {
			abortWithError(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Errorf("创建转码任务失败: %v", err)
		abortWithError(c, http.StatusInternalServerError, "创建转码任务失败")
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{ID: job.ID, Status: string(job.Status)})
}

// GetJob 查询任务状态，供前端轮询
func (h *VideoHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusNotFound, model.ErrJobNotFound.Error())
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob 取消进行中的任务
func (h *VideoHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.jobs.Cancel(id); err != nil {
		switch {
		case errors.Is(err, model.ErrJobNotFound):
			abortWithError(c, http.StatusNotFound, model.ErrJobNotFound.Error())
		case errors.Is(err, model.ErrJobFinished):
			abortWithError(c, http.StatusConflict, err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	job, err := h.jobs.Get(id)
	if err != nil {
		abortWithError(c, http.StatusNotFound, model.ErrJobNotFound.Error())
		return
	}
	c.JSON(http.StatusOK, SubmitResponse{ID: job.ID, Status: string(job.Status)})
}

// Download 从输出目录返回文件
func (h *VideoHandler) Download(c *gin.Context) {
	path, err := h.files.ResolveOutput(c.Param("filename"))
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidFileName):
			abortWithError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, model.ErrFileNotFound):
			abortWithError(c, http.StatusNotFound, model.ErrFileNotFound.Error())
		default:
			h.logger.Errorf("解析下载文件失败: %v", err)
			abortWithError(c, http.StatusInternalServerError, "读取文件失败")
		}
		return
	}
	c.File(path)
}

// Stats 返回各状态的任务数量
func (h *VideoHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.Stats())
}
