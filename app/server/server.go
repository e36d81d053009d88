package server

import (
	"context"
	"errors"
	"fmt"
	"mondain/app/config"
	"mondain/app/database"
	"mondain/app/handler"
	"mondain/app/logger"
	"mondain/app/middleware"
	"mondain/app/notify"
	"mondain/app/service"
	"mondain/app/storage"
	"mondain/app/store"
	"mondain/app/transcoder"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config    *config.Config
	Logger    *logger.Logger
	gin       *gin.Engine
	http      *http.Server
	files     *storage.Manager
	ffmpeg    *transcoder.FFmpeg
	jobs      *service.JobService
	retention *service.RetentionService
	notifier  notify.Notifier
}

// New 创建一个新的 Server 实例，数据库需已通过 database.Init 初始化
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	files, err := storage.NewManager(cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	if err := files.EnsureDirs(); err != nil {
		return nil, err
	}
	files.PurgeStaging()

	jobStore := store.NewJobStore(cfg.Jobs.TTL, cfg.Jobs.CleanupInterval, database.GetDB(), log)
	ffmpeg := transcoder.New(cfg.Transcode, log)
	if !ffmpeg.Available() {
		log.Warnf("未找到 ffmpeg 可执行文件: %s，转码任务将会失败", cfg.Transcode.FFmpegPath)
	}
	notifier := notify.New(cfg.Redis)

	s := &Server{
		Config: cfg,
		Logger: log,
		gin:    router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		files:     files,
		ffmpeg:    ffmpeg,
		jobs:      service.NewJobService(cfg.Transcode, jobStore, ffmpeg, files, notifier, log),
		retention: service.NewRetentionService(cfg.Retention, files, jobStore, log),
		notifier:  notifier,
	}

	s.setupRoutes()
	return s, nil
}

// Handler 返回路由，供测试直接挂载
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start 启动服务器
func (s *Server) Start() error {
	if err := s.retention.Start(); err != nil {
		return err
	}
	if r, ok := s.notifier.(*notify.Redis); ok {
		if err := r.Ping(context.Background()); err != nil {
			s.Logger.Warnf("Redis 连接失败，任务状态推送将不可用: %v", err)
		}
	}

	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown 依次停止接收请求、结束转码任务、关闭依赖
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("关闭 HTTP 服务失败: %w", err))
	}
	s.retention.Stop()
	if err := s.jobs.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("关闭 Redis 连接失败: %w", err))
	}
	if err := database.Close(); err != nil {
		errs = append(errs, fmt.Errorf("关闭数据库连接失败: %w", err))
	}
	return errors.Join(errs...)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	videoHandler := handler.NewVideoHandler(s.jobs, s.files, s.Logger, s.Config.Server.MaxUploadMB<<20)
	healthHandler := handler.NewHealthHandler(s.ffmpeg.Available)

	s.gin.Use(middleware.CORS(s.Config.Server.AllowedOrigins))

	s.gin.GET("/health", healthHandler.Health)

	api := s.gin.Group("/api")
	api.GET("/health", healthHandler.Health)
	api.GET("/test", healthHandler.Test)

	video := api.Group("/video")
	{
		video.POST("/process", videoHandler.Process)
		video.POST("/convert-to-gif", videoHandler.ConvertToGif)
		video.GET("/jobs/:id", videoHandler.GetJob)
		video.DELETE("/jobs/:id", videoHandler.CancelJob)
		video.GET("/download/:filename", videoHandler.Download)
		video.GET("/stats", videoHandler.Stats)
	}
}
