// 清扫器入口：独立于 API 进程的过期房间兜底清理。
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Raunak1404/Codosphere-sub001/internal/appconfig"
	"github.com/Raunak1404/Codosphere-sub001/internal/matchmaking"
	"github.com/Raunak1404/Codosphere-sub001/internal/repository"
	"github.com/Raunak1404/Codosphere-sub001/internal/sweeper"
	"github.com/Raunak1404/Codosphere-sub001/pkg/observability"
)

func main() {
	cfg, cfgPath, err := appconfig.Load()
	if err != nil {
		observability.Fatal("加载配置失败", "path", cfgPath, "error", err)
	}
	if cfgPath != "" {
		slog.Info("已加载配置", "path", cfgPath)
	}
	if cfg != nil {
		appconfig.SetEnvIfEmptyInt("REDIS_POOL_SIZE", cfg.Redis.PoolSize)
		appconfig.SetEnvIfEmptyInt("REDIS_MIN_IDLE_CONNS", cfg.Redis.MinIdleConns)
		appconfig.SetEnvIfEmptyInt("REDIS_DIAL_TIMEOUT_MS", cfg.Redis.DialTimeoutMs)
		appconfig.SetEnvIfEmptyInt("REDIS_READ_TIMEOUT_MS", cfg.Redis.ReadTimeoutMs)
		appconfig.SetEnvIfEmptyInt("REDIS_WRITE_TIMEOUT_MS", cfg.Redis.WriteTimeoutMs)

		appconfig.SetEnvIfEmpty("REDIS_URL", cfg.Sweeper.RedisURL)
		appconfig.SetEnvIfEmptyBool("SWEEPER_ENABLED", cfg.Sweeper.Enabled)
		appconfig.SetEnvIfEmptyInt("SWEEPER_INTERVAL_SEC", cfg.Sweeper.IntervalSec)
		appconfig.SetEnvIfEmptyBool("SWEEPER_DRY_RUN", cfg.Sweeper.DryRun)
		appconfig.SetEnvIfEmptyInt("SWEEPER_METRICS_PORT", cfg.Sweeper.MetricsPort)
		appconfig.SetEnvIfEmpty("SERVICE_NAME", cfg.Sweeper.Metrics.ServiceName)
		appconfig.SetEnvIfEmpty("INSTANCE_ID", cfg.Sweeper.Metrics.InstanceID)

		appconfig.SetEnvIfEmptyInt("MM_ROOM_TTL_SEC", cfg.Matchmaking.RoomTTLSec)
		appconfig.SetEnvIfEmptyInt("MM_ROOM_SCAN_LIMIT", cfg.Matchmaking.RoomScanLimit)
		appconfig.SetEnvIfEmptyInt("MM_TXN_MAX_ATTEMPTS", cfg.Matchmaking.TxnMaxAttempts)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("收到退出信号，准备关闭")
		cancel()
	}()

	redisClient := repository.NewRedisClient(redisURL)
	if err := redisClient.Ping(ctx); err != nil {
		observability.Fatal("连接 Redis 失败", "error", err)
	}
	defer redisClient.Close()

	logger := observability.Logger()
	docs := repository.NewDocStore(redisClient, logger)
	rooms := repository.NewRoomStore(redisClient, docs)
	matches := repository.NewMatchStore(redisClient, docs)
	policy := matchmaking.LoadPolicy()

	// 清扫器只删房间，不碰题目目录，选题入口永远不会被走到
	queue := matchmaking.NewQueueManager(docs, rooms, matches, nil, policy, logger)

	sweepCfg := sweeper.LoadConfig()
	go sweeper.StartLoop(ctx, sweepCfg, queue, rooms, policy)

	metricsPort := 9092
	if v := os.Getenv("SWEEPER_METRICS_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &metricsPort)
	}
	observability.StartMetricsServer(fmt.Sprintf(":%d", metricsPort))

	slog.Info(
		"sweeper 已启动",
		"enabled", sweepCfg.Enabled,
		"interval", sweepCfg.Interval.String(),
		"dry_run", sweepCfg.DryRun,
		"room_ttl", policy.RoomTTL.String(),
	)

	<-ctx.Done()
	slog.Info("清扫器已退出")
}
