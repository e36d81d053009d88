package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	maxFPS         = 60
	maxCompression = 51 // libx264 CRF 上限
	minWidth       = 16
	maxWidth       = 3840
)

// GifSettings 转码参数，高度由 ffmpeg 按比例推导
type GifSettings struct {
	FPS         int `json:"fps"`
	Compression int `json:"compression"`
	Width       int `json:"width"`
}

// DefaultSettings 返回指定任务类型的默认参数
func DefaultSettings(kind JobKind) GifSettings {
	if kind == JobKindGif {
		return GifSettings{FPS: 15, Compression: 10, Width: 400}
	}
	return GifSettings{FPS: 15, Compression: 23, Width: 640}
}

// settingsInput 客户端提交的原始参数，字段均可省略
type settingsInput struct {
	FPS         *float64 `json:"fps"`
	Compression *float64 `json:"compression"`
	Width       *float64 `json:"width"`
}

// ParseSettings 解析表单中的 settings JSON 并应用默认值。
// 空字符串视为未提供参数；格式错误返回 ErrInvalidSettings。
func ParseSettings(raw string, kind JobKind) (GifSettings, error) {
	defaults := DefaultSettings(kind)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaults, nil
	}

	var in settingsInput
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(&in); err != nil {
		return GifSettings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if dec.More() {
		return GifSettings{}, fmt.Errorf("%w: settings 后存在多余内容", ErrInvalidSettings)
	}

	settings := GifSettings{
		FPS:         pick(in.FPS, defaults.FPS),
		Compression: pick(in.Compression, defaults.Compression),
		Width:       pick(in.Width, defaults.Width),
	}
	return settings.Normalize(kind), nil
}

// Normalize 将非正数替换为默认值并把数值限制在 ffmpeg 可接受的范围内
func (s GifSettings) Normalize(kind JobKind) GifSettings {
	defaults := DefaultSettings(kind)
	if s.FPS <= 0 {
		s.FPS = defaults.FPS
	}
	if s.Compression <= 0 {
		s.Compression = defaults.Compression
	}
	if s.Width <= 0 {
		s.Width = defaults.Width
	}

	s.FPS = min(s.FPS, maxFPS)
	s.Compression = min(s.Compression, maxCompression)
	// libx264 要求偶数宽度
	s.Width = max(min(s.Width, maxWidth)&^1, minWidth)
	return s
}

func pick(v *float64, fallback int) int {
	if v == nil || *v < 1 {
		return fallback
	}
	// 超大数值直接交给 Normalize 截断，避免 float 转 int 溢出
	if *v > float64(maxWidth) {
		return maxWidth + 1
	}
	return int(*v)
}
