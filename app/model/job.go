package model

import (
	"fmt"
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobKind 任务类型
type JobKind string

const (
	JobKindVideo JobKind = "video" // 完整视频重编码 + 缩略图
	JobKindGif   JobKind = "gif"   // 截取前2秒生成循环 GIF
)

// DownloadRoute 输出文件的下载路由前缀
const DownloadRoute = "/api/video/download/"

// Job 一次转码请求从提交到终态的完整记录
type Job struct {
	ID           string      `json:"id"`
	Kind         JobKind     `json:"type"`
	Status       JobStatus   `json:"status"`
	Settings     GifSettings `json:"settings"`
	FileSize     int64       `json:"fileSize"`
	Error        *string     `json:"error"`
	StartTime    int64       `json:"startTime"`         // 毫秒时间戳
	EndTime      *int64      `json:"endTime,omitempty"` // 进入终态前为空
	DownloadURL  *string     `json:"downloadUrl"`
	ThumbnailURL *string     `json:"thumbnailUrl"`

	InputPath     string `json:"-"`
	OutputFile    string `json:"-"`
	ThumbnailFile string `json:"-"`
}

// NewJob 创建处于 processing 状态的任务
func NewJob(id string, kind JobKind, settings GifSettings, fileSize int64, inputPath string, now time.Time) Job {
	output, thumb := OutputNames(id, kind)
	return Job{
		ID:            id,
		Kind:          kind,
		Status:        JobStatusProcessing,
		Settings:      settings,
		FileSize:      fileSize,
		StartTime:     now.UnixMilli(),
		InputPath:     inputPath,
		OutputFile:    output,
		ThumbnailFile: thumb,
	}
}

// OutputNames 根据任务ID生成输出文件名和缩略图文件名，GIF 任务以自身作为缩略图
func OutputNames(id string, kind JobKind) (output, thumbnail string) {
	if kind == JobKindGif {
		name := id + ".gif"
		return name, name
	}
	return id + ".mp4", id + "_thumb.gif"
}

// IsTerminal 是否已进入终态
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Complete processing -> completed
func (j *Job) Complete(outputSize int64, at time.Time) error {
	if j.IsTerminal() {
		return fmt.Errorf("%w: %s 当前状态 %s", ErrJobFinished, j.ID, j.Status)
	}
	downloadURL := DownloadRoute + j.OutputFile
	thumbnailURL := DownloadRoute + j.ThumbnailFile
	end := at.UnixMilli()

	j.Status = JobStatusCompleted
	j.FileSize = outputSize
	j.DownloadURL = &downloadURL
	j.ThumbnailURL = &thumbnailURL
	j.Error = nil
	j.EndTime = &end
	return nil
}

// Fail processing -> failed
func (j *Job) Fail(message string, at time.Time) error {
	if j.IsTerminal() {
		return fmt.Errorf("%w: %s 当前状态 %s", ErrJobFinished, j.ID, j.Status)
	}
	if message == "" {
		message = "未知错误"
	}
	end := at.UnixMilli()

	j.Status = JobStatusFailed
	j.Error = &message
	j.DownloadURL = nil
	j.ThumbnailURL = nil
	j.EndTime = &end
	return nil
}
