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

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	must(0, db.AutoMigrate(&model.User{}, &model.Post{}, &model.Follow{}, &model.Fan{}, &model.TimelineEntry{}, &model.FanoutJob{}))

	N := envInt("N", 20000)          // author 的粉丝数
	POSTS := envInt("POSTS", 100)    // 发布帖数
	WORKERS := envInt("WORKERS", 8)  // 扇出 worker 数
	PAGE := envInt("PAGE", 500)      // 每页粉丝数
	PAR := envInt("PAR", 4)          // 单任务页并发
	CLAIM := envInt("CLAIM", 64)     // 每轮领取任务数

	// clean tables for a reproducible run (ok for local bench)
	_ = db.Exec("TRUNCATE TABLE user_timeline, fanout_jobs, posts, fans, follows, users RESTART IDENTITY CASCADE").Error

	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	postRepo := repository.NewPostRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)
	jobRepo := repository.NewFanoutJobRepository(db)
	counter := service.NewFollowerCounter(fanRepo, nil, time.Minute, cfg.Fanout.CelebrityThreshold)
	publisher := service.NewPublisher(db, postRepo, jobRepo, counter)

	// seed one author and N fans
	author := model.User{ID: "author0", Username: "author0", Email: "author0@example.com", Password: "p"}
	_ = db.Where("id = ?", author.ID).FirstOrCreate(&author).Error
	users := make([]model.User, N)
	for i := 0; i < N; i++ {
		id := uuid.New().String()
		users[i] = model.User{ID: id, Username: "u" + id[:8], Email: id[:8] + "@example.com", Password: "p"}
	}
	_ = db.CreateInBatches(&users, 1000).Error
	for i := 0; i < N; i++ {
		_ = followRepo.Create(context.Background(), users[i].ID, author.ID)
	}
	for i := 0; i < N; i++ {
		_ = fanRepo.Create(context.Background(), author.ID, users[i].ID)
	}

	worker := service.NewFanoutWorker(fanRepo, timelineRepo, jobRepo, WORKERS, PAGE, PAR, CLAIM, 20*time.Millisecond, 0)
	stop := worker.Start()
	defer stop(context.Background())

	pubDurations := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		_, err := publisher.Publish(context.Background(), author.ID, fmt.Sprintf("hello %d", i))
		if err != nil {
			panic(err)
		}
		pubDurations = append(pubDurations, time.Since(st))
	}

	// collect landing metrics
	land := make([]time.Duration, 0, POSTS)
	timeout := time.After(2 * time.Minute)
	for len(land) < POSTS {
		select {
		case d := <-worker.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for fanout metrics: got=%d want=%d\n", len(land), POSTS)
			goto PRINT
		}
	}

PRINT:
	var pubSum time.Duration
	for _, d := range pubDurations {
		pubSum += d
	}
	fmt.Printf("N=%d POSTS=%d WORKERS=%d PAGE=%d PAR=%d CLAIM=%d\n", N, POSTS, WORKERS, PAGE, PAR, CLAIM)
	fmt.Printf("Publish tx latency: avg=%v p95=%v p99=%v\n", pubSum/time.Duration(len(pubDurations)), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	var landSum time.Duration
	for _, d := range land {
		landSum += d
	}
	if len(land) > 0 {
		fmt.Printf("Fanout landing (publish->done): samples=%d avg=%v p95=%v p99=%v\n", len(land), landSum/time.Duration(len(land)), pct(land, 0.95), pct(land, 0.99))
	}

	// measure one fan's timeline read (seek first page)
	if len(users) > 0 {
		st := time.Now()
		var rows []model.TimelineEntry
		_ = db.Where("user_id = ?", users[0].ID).Order("created_at DESC, post_id DESC").Limit(50).Find(&rows).Error
		fmt.Printf("Timeline read (fan0, limit=50): %v, rows=%d\n", time.Since(st), len(rows))
	}
}
