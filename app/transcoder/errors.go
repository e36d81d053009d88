package transcoder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTimeout     = errors.New("转码超时")
	ErrCanceled    = errors.New("转码已取消")
	ErrEmptyOutput = errors.New("输出文件为空")
)

// TranscodeError ffmpeg 执行失败，携带步骤、退出码和 stderr 尾部
type TranscodeError struct {
	Step     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	msg := fmt.Sprintf("ffmpeg %s 步骤失败", e.Step)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf("（退出码 %d）", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if detail := lastLines(e.Stderr, 5); detail != "" {
		msg += "\n" + detail
	}
	return msg
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// lastLines 取 stderr 最后几行非空内容，ffmpeg 的真正错误通常在末尾
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			kept = append(kept, line)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}
