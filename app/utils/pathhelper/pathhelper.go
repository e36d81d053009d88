package pathhelper

import (
	"path/filepath"
	"regexp"
	"strings"
)

// 扩展名只允许字母和数字
var extPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,10}$`)

// IsSubPath 检查 path 是否位于 dir 之内（不含 dir 本身）
func IsSubPath(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// IsPlainFileName 检查是否为不含目录成分的单个文件名
func IsPlainFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}

// SafeExt 返回规范化后的扩展名，不合法时返回空字符串
func SafeExt(filename string) string {
	ext := filepath.Ext(filename)
	if !extPattern.MatchString(ext) {
		return ""
	}
	return strings.ToLower(ext)
}
