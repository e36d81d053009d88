package notify

import (
	"context"
	"encoding/json"
	"mondain/app/config"
	"mondain/app/model"

	"github.com/redis/go-redis/v9"
)

// Notifier 任务状态变更推送，轮询仍是基础契约，推送失败不影响任务
type Notifier interface {
	Publish(ctx context.Context, job model.Job) error
	Close() error
}

// New 根据配置返回 Redis 推送或空实现
func New(cfg config.RedisConfig) Notifier {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewRedis(cfg)
}

// Nop 不推送任何消息
type Nop struct{}

func (Nop) Publish(context.Context, model.Job) error { return nil }

func (Nop) Close() error { return nil }

// Redis 通过 pub/sub 频道发布任务快照
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(cfg config.RedisConfig) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
	}
}

// Publish 发布任务的 JSON 快照，与轮询接口返回的结构一致
func (r *Redis) Publish(ctx context.Context, job model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Ping 检查 Redis 连接
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
