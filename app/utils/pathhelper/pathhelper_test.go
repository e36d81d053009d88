package pathhelper

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSubPath(t *testing.T) {
	dir := filepath.FromSlash("/srv/output")

	assert.True(t, IsSubPath(filepath.FromSlash("/srv/output/a.mp4"), dir))
	assert.True(t, IsSubPath(filepath.FromSlash("/srv/output/nested/a.mp4"), dir))
	assert.False(t, IsSubPath(dir, dir))
	assert.False(t, IsSubPath(filepath.FromSlash("/srv/output/../secret"), dir))
	assert.False(t, IsSubPath(filepath.FromSlash("/srv/outputs/a.mp4"), dir))
	assert.False(t, IsSubPath(filepath.FromSlash("/etc/passwd"), dir))
	assert.True(t, IsSubPath(filepath.FromSlash("/srv/output/..a.mp4"), dir))
}

func TestIsPlainFileName(t *testing.T) {
	for _, name := range []string{"a.mp4", "abc_thumb.gif", "..a", "x"} {
		assert.True(t, IsPlainFileName(name), name)
	}
	for _, name := range []string{"", ".", "..", "../a", "a/b", `a\b`, "/etc/passwd", "a\x00b"} {
		assert.False(t, IsPlainFileName(name), name)
	}
}

func TestSafeExt(t *testing.T) {
	assert.Equal(t, ".mp4", SafeExt("clip.MP4"))
	assert.Equal(t, ".mov", SafeExt("my video.mov"))
	assert.Equal(t, "", SafeExt("noext"))
	assert.Equal(t, "", SafeExt(`evil.mp4"; rm -rf`))
	assert.Equal(t, "", SafeExt("a.verylongextension"))
	assert.Equal(t, "", SafeExt("a.m p4"))
}
