package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

type replicateAction int

const (
	actionAdd replicateAction = iota + 1
	actionRemove
)

type replicateJob struct {
	action replicateAction
	userID string
	fanID  string
	enqAt  time.Time
}

// FanReplicator 把关注边异步冗余到 fans 表（扇出按 fans 表游标遍历）
type FanReplicator struct {
	fanRepo repository.FanRepository
	counter *FollowerCounter
	ch      chan replicateJob
}

func NewFanReplicator(fanRepo repository.FanRepository, counter *FollowerCounter, queueSize int) *FanReplicator {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &FanReplicator{fanRepo: fanRepo, counter: counter, ch: make(chan replicateJob, queueSize)}
}

func (r *FanReplicator) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-r.ch:
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					var err error
					switch job.action {
					case actionAdd:
						err = r.fanRepo.Create(ctx, job.userID, job.fanID)
					case actionRemove:
						err = r.fanRepo.Delete(ctx, job.userID, job.fanID)
					}
					if err != nil {
						logger.Warn("fan replicate failed",
							zap.String("user", job.userID), zap.String("fan", job.fanID), zap.Error(err))
					} else if r.counter != nil {
						r.counter.Invalidate(ctx, job.userID)
					}
					cancel()
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		// 等待队列自然排空一小段时间
		timeout := time.After(2 * time.Second)
		for {
			select {
			case <-timeout:
				return nil
			default:
				if len(r.ch) == 0 {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

// Drain 同步消费完当前队列（测试用）
func (r *FanReplicator) Drain(ctx context.Context) {
	for {
		select {
		case job := <-r.ch:
			switch job.action {
			case actionAdd:
				_ = r.fanRepo.Create(ctx, job.userID, job.fanID)
			case actionRemove:
				_ = r.fanRepo.Delete(ctx, job.userID, job.fanID)
			}
			if r.counter != nil {
				r.counter.Invalidate(ctx, job.userID)
			}
		default:
			return
		}
	}
}

func (r *FanReplicator) EnqueueAdd(userID, fanID string) {
	select {
	case r.ch <- replicateJob{action: actionAdd, userID: userID, fanID: fanID, enqAt: time.Now()}:
	default:
		logger.Warn("replicator queue full, drop add", zap.String("user", userID), zap.String("fan", fanID))
	}
}

func (r *FanReplicator) EnqueueRemove(userID, fanID string) {
	select {
	case r.ch <- replicateJob{action: actionRemove, userID: userID, fanID: fanID, enqAt: time.Now()}:
	default:
		logger.Warn("replicator queue full, drop remove", zap.String("user", userID), zap.String("fan", fanID))
	}
}

// QueueLen 返回当前队列长度（采样值）
func (r *FanReplicator) QueueLen() int { return len(r.ch) }
