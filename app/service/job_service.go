package service

import (
	"context"
	"errors"
	"fmt"
	"mondain/app/config"
	"mondain/app/logger"
	"mondain/app/model"
	"mondain/app/notify"
	"mondain/app/storage"
	"mondain/app/store"
	"mondain/app/transcoder"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrServiceStopped 服务已停止，不再接收新任务
var ErrServiceStopped = errors.New("转码服务已停止")

// notifyTimeout 单次状态推送的超时时间
const notifyTimeout = 3 * time.Second

// Transcoder 外部转码调用
type Transcoder interface {
	Transcode(ctx context.Context, req transcoder.Request) (*transcoder.Result, error)
}

// jobHandle 后台任务句柄，可取消、可等待
type jobHandle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	canceled bool
}

// JobService 任务编排：创建任务、异步执行转码、维护状态并清理暂存文件
type JobService struct {
	store      *store.JobStore
	transcoder Transcoder
	files      *storage.Manager
	notifier   notify.Notifier
	log        *logger.Logger
	workers    chan struct{} // 控制同时运行的转码进程数
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	handles    map[string]*jobHandle
	stopped    bool
	now        func() time.Time
}

// NewJobService 创建任务编排服务
func NewJobService(cfg config.TranscodeConfig, st *store.JobStore, tc Transcoder, files *storage.Manager, notifier notify.Notifier, log *logger.Logger) *JobService {
	ctx, cancel := context.WithCancel(context.Background())

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	return &JobService{
		store:      st,
		transcoder: tc,
		files:      files,
		notifier:   notifier,
		log:        log,
		workers:    make(chan struct{}, maxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
		handles:    make(map[string]*jobHandle),
		now:        time.Now,
	}
}

// Submit 创建 processing 状态的任务并立即返回，转码在后台执行
func (s *JobService) Submit(kind model.JobKind, upload storage.StagedUpload, settings model.GifSettings) (model.Job, error) {
	if kind != model.JobKindVideo && kind != model.JobKindGif {
		return model.Job{}, fmt.Errorf("%w: %s", model.ErrUnsupportedKind, kind)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return model.Job{}, ErrServiceStopped
	}

	job := model.NewJob(uuid.NewString(), kind, settings, upload.Size, upload.Path, s.now())
	s.store.Put(job)

	ctx, cancel := context.WithCancel(s.ctx)
	handle := &jobHandle{cancel: cancel, done: make(chan struct{})}
	s.handles[job.ID] = handle
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info("任务已创建",
		zap.String("job_id", job.ID),
		zap.String("type", string(kind)),
		zap.Int64("file_size", upload.Size),
		zap.Any("settings", settings))

	go s.run(ctx, job, handle)
	return job, nil
}

// Get 查询任务状态
func (s *JobService) Get(id string) (model.Job, error) {
	return s.store.Get(id)
}

// Done 返回任务结束信号，任务已结束或不存在时返回 false
func (s *JobService) Done(id string) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	return handle.done, true
}

// Cancel 终止正在进行的任务，任务随后进入 failed 状态
func (s *JobService) Cancel(id string) error {
	s.mu.Lock()
	handle, ok := s.handles[id]
	if ok {
		handle.canceled = true
	}
	s.mu.Unlock()

	if !ok {
		if _, err := s.store.Get(id); err != nil {
			return err
		}
		return model.ErrJobFinished
	}
	// 句柄释放前任务可能已经进入终态
	if job, err := s.store.Get(id); err == nil && job.IsTerminal() {
		return model.ErrJobFinished
	}

	handle.cancel()
	s.log.Info("已请求取消任务", zap.String("job_id", id))
	return nil
}

// Stats 内存中各状态的任务数量
func (s *JobService) Stats() map[model.JobStatus]int {
	return s.store.Stats()
}

// Stop 拒绝新任务，取消所有进行中的任务并等待它们进入终态
func (s *JobService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("转码服务已停止")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待转码任务结束超时: %w", ctx.Err())
	}
}

// run 后台执行单个任务，无论结果如何都以终态结束
func (s *JobService) run(ctx context.Context, job model.Job, handle *jobHandle) {
	defer s.wg.Done()
	defer close(handle.done)
	defer func() {
		s.mu.Lock()
		delete(s.handles, job.ID)
		s.mu.Unlock()
		handle.cancel()
	}()

	// processing 状态的推送在后台发出，且先于终态
	s.publish(job)

	log := s.log.WithJob(job.ID)
	start := time.Now()

	result, err := s.execute(ctx, job)
	if err != nil {
		if s.wasCanceled(handle) && errors.Is(err, transcoder.ErrCanceled) {
			err = fmt.Errorf("任务已被取消: %w", err)
		}
		log.Warn("❌ 转码失败", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		s.fail(job.ID, err.Error())
		// 先记录失败再清理，清理卡住也不影响客户端看到失败状态
		s.cleanup(job)
		return
	}

	s.cleanup(job)
	s.complete(job.ID, result.OutputSize)
	log.Info("✅ 转码完成",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("output_size", result.OutputSize))
}

// execute 等待空闲槽位后调用转码器，panic 会被转换为错误
func (s *JobService) execute(ctx context.Context, job model.Job) (result *transcoder.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("转码过程发生 panic", zap.String("job_id", job.ID), zap.Any("panic", r), zap.Stack("stack"))
			result, err = nil, fmt.Errorf("内部错误: %v", r)
		}
	}()

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		return nil, fmt.Errorf("等待转码槽位时: %w", transcoder.ErrCanceled)
	}

	return s.transcoder.Transcode(ctx, transcoder.Request{
		JobID:         job.ID,
		Kind:          job.Kind,
		InputPath:     job.InputPath,
		OutputDir:     s.files.OutputDir(),
		OutputFile:    job.OutputFile,
		ThumbnailFile: job.ThumbnailFile,
		Settings:      job.Settings,
	})
}

func (s *JobService) complete(id string, outputSize int64) {
	job, err := s.store.Update(id, func(job *model.Job) error {
		return job.Complete(outputSize, s.now())
	})
	if err != nil {
		s.log.Errorf("更新任务为完成状态失败: JobID=%s, 错误: %v", id, err)
		return
	}
	s.publish(job)
}

func (s *JobService) fail(id, message string) {
	job, err := s.store.Update(id, func(job *model.Job) error {
		return job.Fail(message, s.now())
	})
	if err != nil {
		s.log.Errorf("更新任务为失败状态失败: JobID=%s, 错误: %v", id, err)
		return
	}
	s.publish(job)
}

// cleanup 删除暂存的上传文件，失败只记录日志
func (s *JobService) cleanup(job model.Job) {
	if err := s.files.RemoveStaged(job.InputPath); err != nil {
		s.log.Warnf("清理暂存文件失败: JobID=%s, 文件=%s, 错误: %v", job.ID, job.InputPath, err)
	}
}

func (s *JobService) publish(job model.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.Publish(ctx, job); err != nil {
		s.log.Warnf("推送任务状态失败: JobID=%s, 状态=%s, 错误: %v", job.ID, job.Status, err)
	}
}

func (s *JobService) wasCanceled(handle *jobHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return handle.canceled
}
