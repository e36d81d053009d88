package transcoder

import (
	"context"
	"errors"
	"fmt"
	"mondain/app/config"
	"mondain/app/logger"
	"mondain/app/model"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// gifDuration GIF 只截取输入的前 2 秒
const gifDuration = "2"

// waitDelay 进程被终止后等待输出管道关闭的最长时间
const waitDelay = 5 * time.Second

// Request 一次转码调用的输入
type Request struct {
	JobID         string
	Kind          model.JobKind
	InputPath     string
	OutputDir     string
	OutputFile    string
	ThumbnailFile string
	Settings      model.GifSettings
}

// Result 转码成功后的产物
type Result struct {
	OutputPath    string
	ThumbnailPath string
	OutputSize    int64
	Stdout        string
	Stderr        string
}

// FFmpeg 通过参数列表调用 ffmpeg，不经过 shell
type FFmpeg struct {
	binary      string
	timeout     time.Duration
	outputLimit int
	log         *logger.Logger
}

// New 创建 ffmpeg 调用器
func New(cfg config.TranscodeConfig, log *logger.Logger) *FFmpeg {
	limit := cfg.OutputLimit
	if limit <= 0 {
		limit = 8192
	}
	return &FFmpeg{
		binary:      cfg.FFmpegPath,
		timeout:     cfg.Timeout,
		outputLimit: limit,
		log:         log,
	}
}

// Available 检查 ffmpeg 是否可执行
func (f *FFmpeg) Available() bool {
	if _, err := exec.LookPath(f.binary); err != nil {
		return false
	}
	return true
}

// Transcode 执行一次转码，超时或取消时终止外部进程
func (f *FFmpeg) Transcode(ctx context.Context, req Request) (*Result, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	outputPath := filepath.Join(req.OutputDir, req.OutputFile)
	thumbnailPath := filepath.Join(req.OutputDir, req.ThumbnailFile)

	var steps []step
	switch req.Kind {
	case model.JobKindVideo:
		steps = []step{
			{name: "thumbnail", args: ThumbnailArgs(req.InputPath, thumbnailPath, req.Settings)},
			{name: "video", args: VideoArgs(req.InputPath, outputPath, req.Settings)},
		}
	case model.JobKindGif:
		steps = []step{
			{name: "gif", args: GifArgs(req.InputPath, outputPath, req.Settings)},
		}
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedKind, req.Kind)
	}

	result := &Result{OutputPath: outputPath, ThumbnailPath: thumbnailPath}
	for _, s := range steps {
		stdout, stderr, err := f.run(ctx, req.JobID, s)
		result.Stdout, result.Stderr = stdout, stderr
		if err != nil {
			f.removePartial(outputPath, thumbnailPath)
			return nil, err
		}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		f.removePartial(outputPath, thumbnailPath)
		return nil, &TranscodeError{Step: steps[len(steps)-1].name, ExitCode: 0, Err: fmt.Errorf("读取输出文件失败: %w", err)}
	}
	if info.Size() == 0 {
		f.removePartial(outputPath, thumbnailPath)
		return nil, &TranscodeError{Step: steps[len(steps)-1].name, ExitCode: 0, Stderr: result.Stderr, Err: ErrEmptyOutput}
	}
	result.OutputSize = info.Size()
	return result, nil
}

type step struct {
	name string
	args []string
}

// run 执行单个 ffmpeg 进程，分别捕获 stdout 和 stderr
func (f *FFmpeg) run(ctx context.Context, jobID string, s step) (string, string, error) {
	stdout := newTailBuffer(f.outputLimit)
	stderr := newTailBuffer(f.outputLimit)

	cmd := exec.CommandContext(ctx, f.binary, s.args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	f.log.Debugf("执行 ffmpeg: JobID=%s, 步骤=%s, 参数=%q", jobID, s.name, s.args)
	start := time.Now()
	err := cmd.Run()
	f.log.Debugf("ffmpeg 结束: JobID=%s, 步骤=%s, 耗时=%v", jobID, s.name, time.Since(start))

	if err == nil {
		return stdout.String(), stderr.String(), nil
	}

	terr := &TranscodeError{Step: s.name, ExitCode: -1, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		terr.ExitCode = exitErr.ExitCode()
	}
	// 上下文结束优先于退出码，进程被 kill 时退出码没有意义
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		terr.Err = ErrTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		terr.Err = ErrCanceled
	}
	return stdout.String(), stderr.String(), terr
}

// removePartial 删除失败时残留的输出文件
func (f *FFmpeg) removePartial(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			f.log.Warnf("删除残留输出文件失败: %s, 错误: %v", p, err)
		}
	}
}

func baseArgs(input string) []string {
	return []string{"-hide_banner", "-nostdin", "-y", "-i", input}
}

// ThumbnailArgs 抽取首帧作为缩略图
func ThumbnailArgs(input, output string, s model.GifSettings) []string {
	return append(baseArgs(input),
		"-vf", "scale="+strconv.Itoa(s.Width)+":-2",
		"-frames:v", "1",
		output,
	)
}

// VideoArgs 按帧率、宽度和 CRF 重新编码完整视频
func VideoArgs(input, output string, s model.GifSettings) []string {
	return append(baseArgs(input),
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-2", s.FPS, s.Width),
		"-c:v", "libx264",
		"-crf", strconv.Itoa(s.Compression),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		output,
	)
}

// GifArgs 截取前 2 秒生成循环 GIF，使用 lanczos 缩放
func GifArgs(input, output string, s model.GifSettings) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-t", gifDuration,
		"-i", input,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", s.FPS, s.Width),
		"-loop", "0",
		output,
	}
}
