package model

import "errors"

var (
	ErrJobNotFound     = errors.New("任务不存在")
	ErrJobFinished     = errors.New("任务已结束")
	ErrFileNotFound    = errors.New("文件不存在")
	ErrInvalidFileName = errors.New("非法的文件名")
	ErrInvalidSettings = errors.New("转码参数格式错误")
	ErrMissingUpload   = errors.New("未提供视频文件")
	ErrUnsupportedKind = errors.New("不支持的任务类型")
)
