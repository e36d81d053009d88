package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Retention RetentionConfig `mapstructure:"retention"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`            // debug, release 或 test
	AllowedOrigins []string `mapstructure:"allowed_origins"` // "*" 表示允许任意来源
	MaxUploadMB    int64    `mapstructure:"max_upload_mb"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	Dir        string `mapstructure:"dir"`         // 日志文件目录
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

// StorageConfig 上传暂存目录与输出目录
type StorageConfig struct {
	UploadDir string `mapstructure:"upload_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// TranscodeConfig 外部转码进程配置
type TranscodeConfig struct {
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
	Timeout       time.Duration `mapstructure:"timeout"`        // 单个任务的最长执行时间，0 表示不限制
	MaxConcurrent int           `mapstructure:"max_concurrent"` // 同时运行的转码进程数
	OutputLimit   int           `mapstructure:"output_limit"`   // stdout/stderr 各保留的字节数
}

// JobsConfig 内存任务表配置
type JobsConfig struct {
	TTL             time.Duration `mapstructure:"ttl"` // 终态任务在内存中保留的时间，0 表示永久保留
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RetentionConfig 输出文件保留策略
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

func Load() *Config {
	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := Validate(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "3001")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:8080", "http://localhost:3000"})
	viper.SetDefault("server.max_upload_mb", 512)

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.dir", "data/logs")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("storage.upload_dir", "uploads/temp")
	viper.SetDefault("storage.output_dir", "uploads/output")

	viper.SetDefault("transcode.ffmpeg_path", "ffmpeg")
	viper.SetDefault("transcode.timeout", "10m")
	viper.SetDefault("transcode.max_concurrent", 2)
	viper.SetDefault("transcode.output_limit", 8192)

	viper.SetDefault("jobs.ttl", "24h")
	viper.SetDefault("jobs.cleanup_interval", "10m")

	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.path", "data/mondain.db")

	viper.SetDefault("retention.enabled", false)
	viper.SetDefault("retention.schedule", "@every 1h")
	viper.SetDefault("retention.max_age", "168h")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.channel", "mondain:jobs")
}

// Validate 验证配置的有效性
func Validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Storage.UploadDir == "" || config.Storage.OutputDir == "" {
		return fmt.Errorf("上传目录和输出目录必须设置")
	}
	if filepath.Clean(config.Storage.UploadDir) == filepath.Clean(config.Storage.OutputDir) {
		return fmt.Errorf("上传目录与输出目录不能相同: %s", config.Storage.UploadDir)
	}
	if config.Transcode.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg 路径未设置")
	}
	if config.Transcode.MaxConcurrent < 1 {
		return fmt.Errorf("transcode.max_concurrent 必须大于 0，当前为 %d", config.Transcode.MaxConcurrent)
	}
	if config.Transcode.Timeout < 0 {
		return fmt.Errorf("transcode.timeout 不能为负数")
	}
	if config.Retention.Enabled && config.Retention.Schedule == "" {
		return fmt.Errorf("启用保留策略时必须设置 retention.schedule")
	}
	// 输出文件不能早于内存中仍可见的任务被删除
	if config.Retention.Enabled && config.Retention.MaxAge > 0 {
		if config.Jobs.TTL <= 0 {
			return fmt.Errorf("启用保留策略时 jobs.ttl 不能为 0，否则已完成任务会一直引用被清理的文件")
		}
		if config.Retention.MaxAge < config.Jobs.TTL {
			return fmt.Errorf("retention.max_age (%v) 不能小于 jobs.ttl (%v)", config.Retention.MaxAge, config.Jobs.TTL)
		}
	}
	if config.Database.Enabled && config.Database.Path == "" {
		return fmt.Errorf("启用数据库时必须设置 database.path")
	}
	return nil
}
