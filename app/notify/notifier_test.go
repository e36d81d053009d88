package notify

import (
	"context"
	"mondain/app/config"
	"mondain/app/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDisabled(t *testing.T) {
	n := New(config.RedisConfig{Enabled: false, Addr: "localhost:6379"})
	_, ok := n.(Nop)
	assert.True(t, ok)
	assert.NoError(t, n.Publish(context.Background(), model.Job{ID: "a"}))
	assert.NoError(t, n.Close())
}

func TestNewEnabled(t *testing.T) {
	n := New(config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1", Channel: "mondain:jobs"})
	r, ok := n.(*Redis)
	assert.True(t, ok)
	assert.Equal(t, "mondain:jobs", r.channel)

	// 不可达的 Redis 只返回错误，不会阻塞调用方
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, r.Publish(ctx, model.Job{ID: "a"}))
	assert.NoError(t, r.Close())
}
