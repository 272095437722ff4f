package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/timeline-engine/config"
	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/internal/service"
	"github.com/d60-Lab/timeline-engine/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

// 读路径基准：一个普通作者走推模式、一个大 V 走拉模式，测归并读的延迟
func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	must(0, db.AutoMigrate(&model.User{}, &model.Post{}, &model.Follow{}, &model.Fan{}, &model.TimelineEntry{}, &model.FanoutJob{}))

	READS := 200
	if s := os.Getenv("READS"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			READS = v
		}
	}

	_ = db.Exec("TRUNCATE TABLE user_timeline, fanout_jobs, posts, fans, follows, users RESTART IDENTITY CASCADE").Error

	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	postRepo := repository.NewPostRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)
	jobRepo := repository.NewFanoutJobRepository(db)
	// 阈值压到 100，让 celeb 作者直接进入拉模式
	counter := service.NewFollowerCounter(fanRepo, nil, time.Minute, 100)
	publisher := service.NewPublisher(db, postRepo, jobRepo, counter)
	reader := service.NewTimelineService(timelineRepo, postRepo, followRepo, counter, nil)

	ctx := context.Background()
	viewer := model.User{ID: "viewer", Username: "viewer", Email: "viewer@example.com", Password: "p"}
	normal := model.User{ID: "normal", Username: "normal", Email: "normal@example.com", Password: "p"}
	celeb := model.User{ID: "celeb", Username: "celeb", Email: "celeb@example.com", Password: "p"}
	_ = db.Create(&viewer).Error
	_ = db.Create(&normal).Error
	_ = db.Create(&celeb).Error

	_ = followRepo.Create(ctx, viewer.ID, normal.ID)
	_ = fanRepo.Create(ctx, normal.ID, viewer.ID)
	_ = followRepo.Create(ctx, viewer.ID, celeb.ID)
	for i := 0; i < 200; i++ {
		id := uuid.New().String()
		_ = db.Create(&model.User{ID: id, Username: "f" + id[:8], Email: id[:8] + "@example.com", Password: "p"}).Error
		_ = fanRepo.Create(ctx, celeb.ID, id)
	}

	worker := service.NewFanoutWorker(fanRepo, timelineRepo, jobRepo, 4, 500, 4, 64, 20*time.Millisecond, 0)
	stop := worker.Start()
	defer stop(context.Background())

	for i := 0; i < 100; i++ {
		_ = must(publisher.Publish(ctx, normal.ID, fmt.Sprintf("normal %d", i)))
		_ = must(publisher.Publish(ctx, celeb.ID, fmt.Sprintf("celeb %d", i)))
	}
	time.Sleep(2 * time.Second) // 等扇出落地

	reads := make([]time.Duration, 0, READS)
	for i := 0; i < READS; i++ {
		st := time.Now()
		posts, err := reader.GetTimeline(ctx, viewer.ID, time.Time{}, 50)
		if err != nil {
			panic(err)
		}
		if i == 0 {
			fmt.Printf("first read: %d posts\n", len(posts))
		}
		reads = append(reads, time.Since(st))
	}

	var sum time.Duration
	for _, d := range reads {
		sum += d
	}
	fmt.Printf("READS=%d\n", READS)
	fmt.Printf("Merged timeline read: avg=%v p95=%v p99=%v\n", sum/time.Duration(len(reads)), pct(reads, 0.95), pct(reads, 0.99))
}
