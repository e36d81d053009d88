package service

import (
	"fmt"
	"mondain/app/config"
	"mondain/app/logger"
	"mondain/app/storage"
	"mondain/app/store"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionService 定期清理过期的输出文件和归档记录
type RetentionService struct {
	cfg     config.RetentionConfig
	files   *storage.Manager
	store   *store.JobStore
	log     *logger.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	now     func() time.Time
}

// SweepReport 单次清理结果
type SweepReport struct {
	Files   int
	Records int64
}

// NewRetentionService 创建保留策略服务
func NewRetentionService(cfg config.RetentionConfig, files *storage.Manager, st *store.JobStore, log *logger.Logger) *RetentionService {
	return &RetentionService{
		cfg:   cfg,
		files: files,
		store: st,
		log:   log,
		cron:  cron.New(),
		now:   time.Now,
	}
}

// Start 按计划启动定时清理，未启用时直接返回
func (s *RetentionService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled || s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.log.Errorf("定时清理失败: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("解析清理计划失败 %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.log.Infof("输出文件保留策略已启动: 计划=%s, 保留时长=%v", s.cfg.Schedule, s.cfg.MaxAge)
	return nil
}

// Stop 停止定时器并等待正在执行的清理结束
func (s *RetentionService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("输出文件保留策略已停止")
}

// Sweep 执行一次清理
func (s *RetentionService) Sweep() (SweepReport, error) {
	var report SweepReport
	if s.cfg.MaxAge <= 0 {
		return report, nil
	}
	cutoff := s.now().Add(-s.cfg.MaxAge)

	files, err := s.files.SweepOutputs(cutoff)
	if err != nil {
		return report, err
	}
	report.Files = files

	records, err := s.store.PurgeArchive(cutoff)
	if err != nil {
		return report, fmt.Errorf("清理归档记录失败: %w", err)
	}
	report.Records = records

	if report.Files > 0 || report.Records > 0 {
		s.log.Infof("清理了 %d 个过期输出文件, %d 条归档记录（早于 %s）",
			report.Files, report.Records, cutoff.Format("2006-01-02 15:04:05"))
	}
	return report, nil
}
