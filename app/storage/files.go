package storage

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"mondain/app/config"
	"mondain/app/logger"
	"mondain/app/model"
	"mondain/app/utils/pathhelper"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StagedUpload 已写入暂存目录的上传文件
type StagedUpload struct {
	Path string
	Size int64
}

// Manager 管理上传暂存目录和输出目录
type Manager struct {
	uploadDir string
	outputDir string
	log       *logger.Logger
}

// NewManager 创建文件管理器，目录统一转换为绝对路径，避免 ffmpeg 把文件名当作参数或协议解析
func NewManager(cfg config.StorageConfig, log *logger.Logger) (*Manager, error) {
	uploadDir, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("解析上传目录失败: %w", err)
	}
	outputDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("解析输出目录失败: %w", err)
	}
	return &Manager{uploadDir: uploadDir, outputDir: outputDir, log: log}, nil
}

func (m *Manager) UploadDir() string { return m.uploadDir }

func (m *Manager) OutputDir() string { return m.outputDir }

// EnsureDirs 创建暂存目录和输出目录，已存在时不做任何改动
func (m *Manager) EnsureDirs() error {
	for _, dir := range []string{m.uploadDir, m.outputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// PurgeStaging 清理上次运行遗留的暂存文件，重启后未完成的任务不会恢复。
// 只删除 SaveUpload 生成的 <uuid><ext> 文件，目录中的其他文件保持不动。
func (m *Manager) PurgeStaging() int {
	entries, err := os.ReadDir(m.uploadDir)
	if err != nil {
		m.log.Warnf("读取暂存目录失败: %v", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isStagedName(entry.Name()) {
			continue
		}
		path := filepath.Join(m.uploadDir, entry.Name())
		if err := os.Remove(path); err != nil {
			m.log.Warnf("删除遗留暂存文件失败: %s, 错误: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.Infof("清理了 %d 个遗留的暂存文件", removed)
	}
	return removed
}

// isStagedName 判断文件名是否由 SaveUpload 生成
func isStagedName(name string) bool {
	ext := filepath.Ext(name)
	if ext != "" && pathhelper.SafeExt(name) != ext {
		return false
	}
	id := strings.TrimSuffix(name, ext)
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// SaveUpload 将上传文件以随机文件名写入暂存目录
func (m *Manager) SaveUpload(file *multipart.FileHeader) (StagedUpload, error) {
	src, err := file.Open()
	if err != nil {
		return StagedUpload{}, fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer src.Close()

	path := filepath.Join(m.uploadDir, uuid.NewString()+pathhelper.SafeExt(file.Filename))
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return StagedUpload{}, fmt.Errorf("创建暂存文件失败: %w", err)
	}

	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return StagedUpload{}, fmt.Errorf("写入暂存文件失败: %w", err)
	}

	return StagedUpload{Path: path, Size: size}, nil
}

// RemoveStaged 删除暂存文件，文件已不存在时视为成功
func (m *Manager) RemoveStaged(path string) error {
	if !pathhelper.IsSubPath(path, m.uploadDir) {
		return fmt.Errorf("%w: 不在暂存目录内 %s", model.ErrInvalidFileName, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ResolveOutput 将文件名解析为输出目录中的绝对路径，拒绝任何越界访问
func (m *Manager) ResolveOutput(name string) (string, error) {
	if !pathhelper.IsPlainFileName(name) {
		return "", model.ErrInvalidFileName
	}

	path := filepath.Join(m.outputDir, name)
	if !pathhelper.IsSubPath(path, m.outputDir) {
		return "", model.ErrInvalidFileName
	}

	// 符号链接可能指向输出目录以外
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", model.ErrFileNotFound
		}
		return "", err
	}
	realDir, err := filepath.EvalSymlinks(m.outputDir)
	if err != nil {
		return "", err
	}
	if !pathhelper.IsSubPath(resolved, realDir) {
		return "", model.ErrInvalidFileName
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return "", model.ErrFileNotFound
	}
	return resolved, nil
}

// SweepOutputs 删除修改时间早于 cutoff 的输出文件
func (m *Manager) SweepOutputs(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return 0, fmt.Errorf("读取输出目录失败: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.outputDir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Warnf("删除过期输出文件失败: %s, 错误: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
