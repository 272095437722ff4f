package service

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

// Reconciler 一致性修复：
//  1. 停滞的 pending/processing 任务置回 pending，worker 从断点续传
//  2. 回查最近完成的推模式任务，条目数少于预期的重新入队
//  3. 已取消（删帖）任务的时间线条目限批级联删除
//
// 跨表引用没有外键约束，靠这个显式修复环维持最终一致
type Reconciler struct {
	jobRepo      repository.FanoutJobRepository
	timelineRepo repository.TimelineRepository

	interval    time.Duration
	staleAfter  time.Duration
	auditWindow time.Duration
	maxAttempts int
	purgeBatch  int
}

// Report 单轮修复结果
type Report struct {
	Requeued     int64 // 重新入队的任务数
	Failed       int64 // 超过重试上限放弃的任务数
	Audited      int64 // 回查的已完成任务数
	Repaired     int64 // 回查发现不完整而重新入队的任务数
	PurgedJobs   int64 // 完成级联清理的任务数
	EntriesFreed int64 // 级联删除的条目数
}

func NewReconciler(
	jobRepo repository.FanoutJobRepository,
	timelineRepo repository.TimelineRepository,
	interval, staleAfter, auditWindow time.Duration,
	maxAttempts, purgeBatch int,
) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	if auditWindow <= 0 {
		auditWindow = 10 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if purgeBatch <= 0 {
		purgeBatch = 1000
	}
	return &Reconciler{
		jobRepo:      jobRepo,
		timelineRepo: timelineRepo,
		interval:     interval,
		staleAfter:   staleAfter,
		auditWindow:  auditWindow,
		maxAttempts:  maxAttempts,
		purgeBatch:   purgeBatch,
	}
}

// Run 周期执行直到 ctx 结束
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if err != nil {
				logger.Warn("reconcile cycle failed", zap.Error(err))
				continue
			}
			if report.Requeued+report.Failed+report.Repaired+report.EntriesFreed > 0 {
				logger.Info("reconcile cycle",
					zap.Int64("requeued", report.Requeued),
					zap.Int64("failed", report.Failed),
					zap.Int64("repaired", report.Repaired),
					zap.Int64("entries_freed", report.EntriesFreed))
			}
		}
	}
}

// RunOnce 执行一轮修复并返回报告
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	if err := r.requeueStale(ctx, &report); err != nil {
		return report, err
	}
	if err := r.auditRecentDone(ctx, &report); err != nil {
		return report, err
	}
	if err := r.purgeCancelled(ctx, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Reconciler) requeueStale(ctx context.Context, report *Report) error {
	stale, err := r.jobRepo.ListStale(ctx, time.Now().Add(-r.staleAfter), r.purgeBatch)
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}
	for _, job := range stale {
		if job.Attempts >= r.maxAttempts {
			if err := r.jobRepo.Fail(ctx, job.ID); err != nil {
				return err
			}
			report.Failed++
			// 放弃重试，只告警留痕
			logger.Error("fanout job gave up after max attempts",
				zap.String("job", job.ID), zap.String("post", job.PostID), zap.Int("attempts", job.Attempts))
			sentry.CaptureException(fmt.Errorf("fanout job %s for post %s inconsistent after %d attempts", job.ID, job.PostID, job.Attempts))
			continue
		}
		if err := r.jobRepo.Requeue(ctx, job.ID); err != nil {
			return err
		}
		report.Requeued++
	}
	return nil
}

// auditRecentDone 比对预期粉丝数与实际写入条目数，发现中途崩溃漏投的任务
func (r *Reconciler) auditRecentDone(ctx context.Context, report *Report) error {
	done, err := r.jobRepo.ListDoneSince(ctx, time.Now().Add(-r.auditWindow), r.purgeBatch)
	if err != nil {
		return fmt.Errorf("list done jobs: %w", err)
	}
	for _, job := range done {
		report.Audited++
		entries, err := r.timelineRepo.CountByPost(ctx, job.PostID)
		if err != nil {
			return err
		}
		// 条目含作者自投一条，完整时 entries >= expected
		if entries >= job.Expected {
			continue
		}
		if job.Attempts >= r.maxAttempts {
			if err := r.jobRepo.Fail(ctx, job.ID); err != nil {
				return err
			}
			report.Failed++
			continue
		}
		if err := r.jobRepo.Requeue(ctx, job.ID); err != nil {
			return err
		}
		report.Repaired++
		logger.Warn("incomplete fanout requeued",
			zap.String("post", job.PostID), zap.Int64("entries", entries), zap.Int64("expected", job.Expected))
	}
	return nil
}

// purgeCancelled 删帖的级联清理，限批避免长事务
func (r *Reconciler) purgeCancelled(ctx context.Context, report *Report) error {
	cancelled, err := r.jobRepo.ListByStatus(ctx, model.FanoutStatusCancelled, r.purgeBatch)
	if err != nil {
		return fmt.Errorf("list cancelled jobs: %w", err)
	}
	for _, job := range cancelled {
		for {
			n, err := r.timelineRepo.DeleteByPost(ctx, job.PostID, r.purgeBatch)
			if err != nil {
				return fmt.Errorf("purge timeline entries: %w", err)
			}
			report.EntriesFreed += n
			if n < int64(r.purgeBatch) {
				break
			}
		}
		if err := r.jobRepo.UpdateStatus(ctx, job.ID, model.FanoutStatusPurged); err != nil {
			return err
		}
		report.PurgedJobs++
	}
	return nil
}
