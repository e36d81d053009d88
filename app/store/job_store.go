package store

import (
	"errors"
	"mondain/app/logger"
	"mondain/app/model"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobStore 任务表：进行中的任务常驻内存，终态任务按 TTL 淘汰，
// 配置了归档数据库时终态任务同时写入数据库。
type JobStore struct {
	cache   *cache.Cache
	ttl     time.Duration
	archive *gorm.DB
	log     *logger.Logger
	mu      sync.Mutex // 保证 Update 的读改写是原子的
}

// NewJobStore 创建任务表，ttl <= 0 表示终态任务永不淘汰，archive 可以为 nil
func NewJobStore(ttl, cleanupInterval time.Duration, archive *gorm.DB, log *logger.Logger) *JobStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &JobStore{
		cache:   cache.New(ttl, cleanupInterval),
		ttl:     ttl,
		archive: archive,
		log:     log,
	}
}

// Put 插入或覆盖任务
func (s *JobStore) Put(job model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(job)
}

func (s *JobStore) put(job model.Job) {
	if !job.IsTerminal() {
		s.cache.Set(job.ID, job, cache.NoExpiration)
		return
	}

	s.cache.Set(job.ID, job, s.ttl)
	s.archiveJob(job)
}

// Get 查询任务，内存中不存在时回退到归档数据库
func (s *JobStore) Get(id string) (model.Job, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(model.Job), nil
	}
	if s.archive == nil {
		return model.Job{}, model.ErrJobNotFound
	}

	var rec model.JobRecord
	if err := s.archive.Where("id = ?", id).First(&rec).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Errorf("查询归档任务失败: ID=%s, 错误: %v", id, err)
		}
		return model.Job{}, model.ErrJobNotFound
	}
	return rec.ToJob(), nil
}

// Update 原子地修改内存中的任务，fn 返回错误时不写回
func (s *JobStore) Update(id string, fn func(job *model.Job) error) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(id)
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	job := v.(model.Job)
	if err := fn(&job); err != nil {
		return v.(model.Job), err
	}
	s.put(job)
	return job, nil
}

// Stats 按状态统计内存中的任务数量
func (s *JobStore) Stats() map[model.JobStatus]int {
	stats := map[model.JobStatus]int{
		model.JobStatusProcessing: 0,
		model.JobStatusCompleted:  0,
		model.JobStatusFailed:     0,
	}
	for _, item := range s.cache.Items() {
		stats[item.Object.(model.Job).Status]++
	}
	return stats
}

// PurgeArchive 删除结束时间早于 cutoff 的归档记录
func (s *JobStore) PurgeArchive(cutoff time.Time) (int64, error) {
	if s.archive == nil {
		return 0, nil
	}
	result := s.archive.Where("end_time < ?", cutoff.UnixMilli()).Delete(&model.JobRecord{})
	return result.RowsAffected, result.Error
}

// archiveJob 写入归档数据库，失败只记录日志
func (s *JobStore) archiveJob(job model.Job) {
	if s.archive == nil {
		return
	}
	rec := model.NewJobRecord(job)
	err := s.archive.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		s.log.Errorf("归档任务失败: ID=%s, 错误: %v", job.ID, err)
	}
}
