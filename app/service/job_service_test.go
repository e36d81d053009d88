package service

import (
	"context"
	"errors"
	"fmt"
	"mondain/app/config"
	"mondain/app/logger"
	"mondain/app/model"
	"mondain/app/storage"
	"mondain/app/store"
	"mondain/app/transcoder"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTranscoder 按 fn 执行，未设置时写出输出文件并成功返回
type fakeTranscoder struct {
	fn func(ctx context.Context, req transcoder.Request) (*transcoder.Result, error)
}

func (f *fakeTranscoder) Transcode(ctx context.Context, req transcoder.Request) (*transcoder.Result, error) {
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return writeOutputs(req)
}

func writeOutputs(req transcoder.Request) (*transcoder.Result, error) {
	output := filepath.Join(req.OutputDir, req.OutputFile)
	thumb := filepath.Join(req.OutputDir, req.ThumbnailFile)
	if err := os.WriteFile(thumb, []byte("GIF89a"), 0644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(output, []byte("encoded-output"), 0644); err != nil {
		return nil, err
	}
	return &transcoder.Result{OutputPath: output, ThumbnailPath: thumb, OutputSize: int64(len("encoded-output"))}, nil
}

// blockUntilCanceled 模拟长时间运行的 ffmpeg
func blockUntilCanceled(ctx context.Context, _ transcoder.Request) (*transcoder.Result, error) {
	<-ctx.Done()
	return nil, &transcoder.TranscodeError{Step: "video", ExitCode: -1, Err: transcoder.ErrCanceled}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.JobStatus
}

func (n *recordingNotifier) Publish(_ context.Context, job model.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, job.Status)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) statuses() []model.JobStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.JobStatus(nil), n.events...)
}

type fixture struct {
	svc      *JobService
	files    *storage.Manager
	notifier *recordingNotifier
}

func newFixture(t *testing.T, tc Transcoder, maxConcurrent int) *fixture {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewManager(config.StorageConfig{
		UploadDir: filepath.Join(root, "temp"),
		OutputDir: filepath.Join(root, "output"),
	}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, files.EnsureDirs())

	notifier := &recordingNotifier{}
	st := store.NewJobStore(time.Hour, 0, nil, logger.NewNop())
	svc := NewJobService(config.TranscodeConfig{MaxConcurrent: maxConcurrent}, st, tc, files, notifier, logger.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return &fixture{svc: svc, files: files, notifier: notifier}
}

var uploadSeq atomic.Int64

// stage 在暂存目录写入一个上传文件
func (f *fixture) stage(t *testing.T) storage.StagedUpload {
	t.Helper()
	path := filepath.Join(f.files.UploadDir(), fmt.Sprintf("upload-%d.mp4", uploadSeq.Add(1)))
	require.NoError(t, os.WriteFile(path, []byte("raw-video-bytes"), 0644))
	return storage.StagedUpload{Path: path, Size: int64(len("raw-video-bytes"))}
}

func (f *fixture) wait(t *testing.T, id string) model.Job {
	t.Helper()
	if done, ok := f.svc.Done(id); ok {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("任务 %s 未在限定时间内结束", id)
		}
	}
	job, err := f.svc.Get(id)
	require.NoError(t, err)
	return job
}

func TestSubmitReturnsProcessingJob(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, &fakeTranscoder{fn: func(ctx context.Context, req transcoder.Request) (*transcoder.Result, error) {
		<-release
		return writeOutputs(req)
	}}, 1)
	defer close(release)

	job, err := f.svc.Submit(model.JobKindVideo, f.stage(t), model.DefaultSettings(model.JobKindVideo))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.NotEmpty(t, job.ID)
	assert.Nil(t, job.DownloadURL)
	assert.Nil(t, job.Error)

	stored, err := f.svc.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, stored.Status)
}

func TestSubmitCompletesJob(t *testing.T) {
	f := newFixture(t, &fakeTranscoder{}, 2)
	upload := f.stage(t)

	job, err := f.svc.Submit(model.JobKindVideo, upload, model.DefaultSettings(model.JobKindVideo))
	require.NoError(t, err)

	done := f.wait(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	require.NotNil(t, done.DownloadURL)
	require.NotNil(t, done.ThumbnailURL)
	assert.Equal(t, "/api/video/download/"+job.ID+".mp4", *done.DownloadURL)
	assert.Equal(t, "/api/video/download/"+job.ID+"_thumb.gif", *done.ThumbnailURL)
	assert.Nil(t, done.Error)
	require.NotNil(t, done.EndTime)
	assert.GreaterOrEqual(t, *done.EndTime, done.StartTime)
	assert.Equal(t, job.StartTime, done.StartTime)

	assert.NoFileExists(t, upload.Path)
	assert.FileExists(t, filepath.Join(f.files.OutputDir(), job.ID+".mp4"))
	assert.Equal(t, []model.JobStatus{model.JobStatusProcessing, model.JobStatusCompleted}, f.notifier.statuses())
}

func TestGifJobUsesOutputAsThumbnail(t *testing.T) {
	f := newFixture(t, &fakeTranscoder{}, 1)
	job, err := f.svc.Submit(model.JobKindGif, f.stage(t), model.DefaultSettings(model.JobKindGif))
	require.NoError(t, err)

	done := f.wait(t, job.ID)
	require.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, *done.DownloadURL, *done.ThumbnailURL)
	assert.Equal(t, model.DefaultSettings(model.JobKindGif), done.Settings)
}

func TestTranscodeFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t, &fakeTranscoder{fn: func(context.Context, transcoder.Request) (*transcoder.Result, error) {
		return nil, &transcoder.TranscodeError{
			Step:     "video",
			ExitCode: 1,
			Stderr:   "moov atom not found",
			Err:      errors.New("exit status 1"),
		}
	}}, 1)
	upload := f.stage(t)

	job, err := f.svc.Submit(model.JobKindVideo, upload, model.DefaultSettings(model.JobKindVideo))
	require.NoError(t, err)

	done := f.wait(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "moov atom not found")
	assert.Nil(t, done.DownloadURL)
	assert.Nil(t, done.ThumbnailURL)
	require.NotNil(t, done.EndTime)
	assert.NoFileExists(t, upload.Path)
}

func TestPanicMarksJobFailed(t *testing.T) {
	f := newFixture(t, &fakeTranscoder{fn: func(context.Context, transcoder.Request) (*transcoder.Result, error) {
		panic("codec table corrupted")
	}}, 1)
	upload := f.stage(t)

	job, err := f.svc.Submit(model.JobKindGif, upload, model.DefaultSettings(model.JobKindGif))
	require.NoError(t, err)

	done := f.wait(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "codec table corrupted")
	assert.NoFileExists(t, upload.Path)

	// 工作槽位已释放，后续任务仍可执行
	f.svc.transcoder = &fakeTranscoder{}
	next, err := f.svc.Submit(model.JobKindGif, f.stage(t), model.DefaultSettings(model.JobKindGif))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, f.wait(t, next.ID).Status)
}

func TestSubmitRejectsUnsupportedKind(t *testing.T) {
	f := newFixture(t, &fakeTranscoder{}, 1)
	_, err := f.svc.Submit(model.JobKind("audio"), f.stage(t), model.GifSettings{})
	assert.True(t, errors.Is(err, model.ErrUnsupportedKind))
}

func TestCancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, &fakeTranscoder{fn: func(ctx context.Context, req transcoder.Request) (*transcoder.Result, error) {
		close(started)
		return blockUntilCanceled(ctx, req)
	}}, 1)
	upload := f.stage(t)

	job, err := f.svc.Submit(model.JobKindVideo, upload, model.DefaultSettings(model.JobKindVideo))
	require.NoError(t, err)
	<-started

	require.NoError(t, f.svc.Cancel(job.ID))
	done := f.wait(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "任务已被取消")
	assert.NoFileExists(t, upload.Path)

	assert.True(t, errors.Is(f.svc.Cancel(job.ID), model.ErrJobFinished))
	assert.True(t, errors.Is(f.svc.Cancel("does-not-exist"), model.ErrJobNotFound))
}

func TestMaxConcurrentTranscodes(t *testing.T) {
	var active, peak int32
	release := make(chan struct{})
	f := newFixture(t, &fakeTranscoder{fn: func(ctx context.Context, req transcoder.Request) (*transcoder.Result, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return writeOutputs(req)
	}}, 2)

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := f.svc.Submit(model.JobKindGif, f.stage(t), model.DefaultSettings(model.JobKindGif))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&active) == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))

	stats := f.svc.Stats()
	assert.Equal(t, 5, stats[model.JobStatusProcessing])

	close(release)
	for _, id := range ids {
		assert.Equal(t, model.JobStatusCompleted, f.wait(t, id).Status)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 5, f.svc.Stats()[model.JobStatusCompleted])
}

func TestJobsAreIndependent(t *testing.T) {
	f := newFixture(t, &fakeTranscoder{fn: func(ctx context.Context, req transcoder.Request) (*transcoder.Result, error) {
		if req.Kind == model.JobKindVideo {
			return nil, errors.New("corrupt input")
		}
		return writeOutputs(req)
	}}, 4)

	bad, err := f.svc.Submit(model.JobKindVideo, f.stage(t), model.DefaultSettings(model.JobKindVideo))
	require.NoError(t, err)
	good, err := f.svc.Submit(model.JobKindGif, f.stage(t), model.DefaultSettings(model.JobKindGif))
	require.NoError(t, err)
	assert.NotEqual(t, bad.ID, good.ID)

	assert.Equal(t, model.JobStatusFailed, f.wait(t, bad.ID).Status)
	assert.Equal(t, model.JobStatusCompleted, f.wait(t, good.ID).Status)
}

func TestStopCancelsRunningJobsAndRejectsNewOnes(t *testing.T) {
	started := make(chan struct{}, 1)
	f := newFixture(t, &fakeTranscoder{fn: func(ctx context.Context, req transcoder.Request) (*transcoder.Result, error) {
		started <- struct{}{}
		return blockUntilCanceled(ctx, req)
	}}, 1)

	job, err := f.svc.Submit(model.JobKindVideo, f.stage(t), model.DefaultSettings(model.JobKindVideo))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Stop(ctx))

	stopped, err := f.svc.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stopped.Status)

	_, err = f.svc.Submit(model.JobKindGif, f.stage(t), model.DefaultSettings(model.JobKindGif))
	assert.True(t, errors.Is(err, ErrServiceStopped))
	assert.NoError(t, f.svc.Stop(ctx))
}

// stalledNotifier 模拟无响应的 Redis，直到 release 关闭或超时才返回
type stalledNotifier struct {
	recordingNotifier
	release chan struct{}
}

func (n *stalledNotifier) Publish(ctx context.Context, job model.Job) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return n.recordingNotifier.Publish(ctx, job)
}

func TestSubmitDoesNotWaitForNotifier(t *testing.T) {
	f := newFixture(t, &fakeTranscoder{}, 1)
	notifier := &stalledNotifier{release: make(chan struct{})}
	f.svc.notifier = notifier

	start := time.Now()
	job, err := f.svc.Submit(model.JobKindGif, f.stage(t), model.DefaultSettings(model.JobKindGif))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.Less(t, elapsed, 200*time.Millisecond)

	close(notifier.release)
	assert.Equal(t, model.JobStatusCompleted, f.wait(t, job.ID).Status)
	assert.Equal(t, []model.JobStatus{model.JobStatusProcessing, model.JobStatusCompleted}, notifier.statuses())
}
