package model

import (
	"time"
)

// JobRecord 终态任务的归档记录，进程重启后仍可查询
type JobRecord struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Kind          string    `gorm:"size:16;not null"`
	Status        string    `gorm:"size:16;not null;index"`
	FPS           int       `gorm:"column:fps"`
	Compression   int       `gorm:"column:compression"`
	Width         int       `gorm:"column:width"`
	FileSize      int64     `gorm:"column:file_size"`
	ErrorMsg      string    `gorm:"type:text"`
	StartTime     int64     `gorm:"not null"`
	EndTime       int64     `gorm:"index"`
	OutputFile    string    `gorm:"size:255"`
	ThumbnailFile string    `gorm:"size:255"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定表名
func (JobRecord) TableName() string {
	return "jobs"
}

// NewJobRecord 由终态任务生成归档记录
func NewJobRecord(job Job) JobRecord {
	rec := JobRecord{
		ID:            job.ID,
		Kind:          string(job.Kind),
		Status:        string(job.Status),
		FPS:           job.Settings.FPS,
		Compression:   job.Settings.Compression,
		Width:         job.Settings.Width,
		FileSize:      job.FileSize,
		StartTime:     job.StartTime,
		OutputFile:    job.OutputFile,
		ThumbnailFile: job.ThumbnailFile,
	}
	if job.Error != nil {
		rec.ErrorMsg = *job.Error
	}
	if job.EndTime != nil {
		rec.EndTime = *job.EndTime
	}
	return rec
}

// ToJob 还原为任务记录，下载链接仅在 completed 状态下生成
func (r JobRecord) ToJob() Job {
	job := Job{
		ID:     r.ID,
		Kind:   JobKind(r.Kind),
		Status: JobStatus(r.Status),
		Settings: GifSettings{
			FPS:         r.FPS,
			Compression: r.Compression,
			Width:       r.Width,
		},
		FileSize:      r.FileSize,
		StartTime:     r.StartTime,
		OutputFile:    r.OutputFile,
		ThumbnailFile: r.ThumbnailFile,
	}
	if r.EndTime != 0 {
		end := r.EndTime
		job.EndTime = &end
	}

	switch job.Status {
	case JobStatusCompleted:
		downloadURL := DownloadRoute + r.OutputFile
		thumbnailURL := DownloadRoute + r.ThumbnailFile
		job.DownloadURL = &downloadURL
		job.ThumbnailURL = &thumbnailURL
	case JobStatusFailed:
		msg := r.ErrorMsg
		if msg == "" {
			msg = "未知错误"
		}
		job.Error = &msg
	}
	return job
}
