package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

// FanoutWorker 推模式扇出引擎
// 从 fanout_jobs 领取任务，按 fan_id 游标分页枚举粉丝，批量写时间线
// 唯一键 (user_id, post_id) 是防重投的唯一串行化点，重复冲突按成功处理
type FanoutWorker struct {
	fanRepo      repository.FanRepository
	timelineRepo repository.TimelineRepository
	jobRepo      repository.FanoutJobRepository

	workers         int
	pageSize        int
	pageParallelism int
	claimLimit      int
	pollInterval    time.Duration
	limiter         *rate.Limiter // 写入限速，保护存储；nil 不限速

	metricsCh chan time.Duration // publish -> done 延迟
}

func NewFanoutWorker(
	fanRepo repository.FanRepository,
	timelineRepo repository.TimelineRepository,
	jobRepo repository.FanoutJobRepository,
	workers, pageSize, pageParallelism, claimLimit int,
	pollInterval time.Duration,
	writeRatePerSec int,
) *FanoutWorker {
	if workers <= 0 {
		workers = 4
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	if pageParallelism <= 0 {
		pageParallelism = 4
	}
	if claimLimit <= 0 {
		claimLimit = 64
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	var limiter *rate.Limiter
	if writeRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(writeRatePerSec), writeRatePerSec)
	}
	return &FanoutWorker{
		fanRepo:         fanRepo,
		timelineRepo:    timelineRepo,
		jobRepo:         jobRepo,
		workers:         workers,
		pageSize:        pageSize,
		pageParallelism: pageParallelism,
		claimLimit:      claimLimit,
		pollInterval:    pollInterval,
		limiter:         limiter,
		metricsCh:       make(chan time.Duration, 65536),
	}
}

func (w *FanoutWorker) Metrics() <-chan time.Duration { return w.metricsCh }

// Start 启动若干 worker 轮询领取任务，返回停止函数
func (w *FanoutWorker) Start() func(context.Context) error {
	stop := make(chan struct{})
	for i := 0; i < w.workers; i++ {
		go w.loop(stop)
	}
	return func(ctx context.Context) error { close(stop); return nil }
}

func (w *FanoutWorker) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.ProcessOnce(context.Background()); err != nil {
				logger.Warn("fanout tick failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 领取一批任务并逐个投递，导出供测试与基准调用
func (w *FanoutWorker) ProcessOnce(ctx context.Context) error {
	batch, err := w.jobRepo.Claim(ctx, w.claimLimit)
	if err != nil {
		return err
	}
	for _, job := range batch {
		if err := w.deliver(ctx, job); err != nil {
			// 任务保持 processing，停滞后由 reconciler 置回 pending 从断点续传
			logger.Warn("fanout delivery interrupted",
				zap.String("job", job.ID), zap.String("post", job.PostID), zap.Error(err))
			continue
		}
	}
	return nil
}

// deliver 执行一个任务的全部投递，幂等可重入
// 页按 fan_id 升序派发，断点仅在整波页落盘后单调推进
func (w *FanoutWorker) deliver(ctx context.Context, job *model.FanoutJob) error {
	if job.Mode == model.FanoutModePull {
		// 拉模式在发布时已终态，防御领到的脏数据
		return w.jobRepo.MarkDone(ctx, job.ID)
	}

	cursor := job.Checkpoint
	if cursor == "" {
		// 首轮先投作者自己的时间线
		if _, err := w.insertEntries(ctx, job, []string{job.AuthorID}); err != nil {
			return err
		}
	}

	for {
		// 取消检查：删帖会把任务置 cancelled，停止派发新页，在途写入不回滚
		cur, err := w.jobRepo.Get(ctx, job.ID)
		if err != nil {
			return err
		}
		if cur == nil || cur.Status != model.FanoutStatusProcessing {
			return nil
		}

		pages, next, err := w.fetchWave(ctx, job.AuthorID, cursor)
		if err != nil {
			return err
		}
		if len(pages) == 0 {
			break
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int64
			firstErr error
		)
		for _, page := range pages {
			wg.Add(1)
			go func(fans []string) {
				defer wg.Done()
				n, err := w.insertEntries(ctx, job, fans)
				mu.Lock()
				defer mu.Unlock()
				inserted += n
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}(page)
		}
		wg.Wait()
		if firstErr != nil {
			return firstErr
		}

		cursor = next
		if err := w.jobRepo.SaveCheckpoint(ctx, job.ID, cursor, inserted); err != nil {
			return err
		}
		if len(pages[len(pages)-1]) < w.pageSize {
			break
		}
	}

	if err := w.jobRepo.MarkDone(ctx, job.ID); err != nil {
		return err
	}
	if !job.CreatedAt.IsZero() {
		select {
		case w.metricsCh <- time.Since(job.CreatedAt):
		default:
		}
	}
	return nil
}

// fetchWave 从 cursor 顺序取最多 pageParallelism 页粉丝，返回新游标
func (w *FanoutWorker) fetchWave(ctx context.Context, authorID, cursor string) ([][]string, string, error) {
	var pages [][]string
	for i := 0; i < w.pageParallelism; i++ {
		fans, err := w.fanRepo.ListFansAfter(ctx, authorID, cursor, w.pageSize)
		if err != nil {
			return nil, "", err
		}
		if len(fans) == 0 {
			break
		}
		page := make([]string, len(fans))
		for j, f := range fans {
			page[j] = f.FanID
		}
		pages = append(pages, page)
		cursor = page[len(page)-1]
		if len(fans) < w.pageSize {
			break
		}
	}
	return pages, cursor, nil
}

func (w *FanoutWorker) insertEntries(ctx context.Context, job *model.FanoutJob, owners []string) (int64, error) {
	if w.limiter != nil {
		if err := w.limiter.WaitN(ctx, len(owners)); err != nil {
			return 0, err
		}
	}
	entries := make([]model.TimelineEntry, len(owners))
	for i, owner := range owners {
		entries[i] = model.TimelineEntry{
			UserID:    owner,
			PostID:    job.PostID,
			AuthorID:  job.AuthorID,
			CreatedAt: job.CreatedAt, // 与帖子同一发布时刻，保证读端排序一致
		}
	}
	var n int64
	err := withRetry(ctx, 3, 100*time.Millisecond, func() error {
		var err error
		n, err = w.timelineRepo.BulkInsert(ctx, entries)
		return err
	})
	return n, err
}

// withRetry 有界指数退避，只用于存储瞬时错误
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(base << i):
		}
	}
	return err
}
