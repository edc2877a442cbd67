/**
 * @file loop.go
 * @brief 过期房间清扫循环 (API 进程顺手清理之外的独立兜底)
 */
package sweeper

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Raunak1404/Codosphere-sub001/internal/matchmaking"
	"github.com/Raunak1404/Codosphere-sub001/internal/repository"
)

const (
	sweepResultOK      = "ok"
	sweepResultSkipped = "skipped"
	sweepResultError   = "error"

	sweepReasonDisabled     = "disabled"
	sweepReasonDryRun       = "dry_run"
	sweepReasonListFailed   = "list_failed"
	sweepReasonDeleteFailed = "delete_failed"
	sweepReasonDeleted      = "deleted"
	sweepReasonNothing      = "nothing_to_do"
)

const (
	defaultSweepIntervalSec = 60
)

// Config 清扫循环配置
type Config struct {
	Enabled  bool
	Interval time.Duration
	DryRun   bool
}

// LoadConfig 读取清扫配置 (环境变量)
func LoadConfig() Config {
	return Config{
		Enabled:  getEnvBool("SWEEPER_ENABLED", true),
		Interval: time.Duration(getEnvInt("SWEEPER_INTERVAL_SEC", defaultSweepIntervalSec)) * time.Second,
		DryRun:   getEnvBool("SWEEPER_DRY_RUN", false),
	}
}

// StartLoop 清扫循环，阻塞直到 ctx 取消。
// 每轮先估算过期房间数，dry-run 模式只记日志不删除。
func StartLoop(ctx context.Context, cfg Config, queue *matchmaking.QueueManager, rooms *repository.RoomStore, policy matchmaking.Policy) {
	logger := slog.With("component", "sweeper", "loop", "expired_rooms")
	if !cfg.Enabled {
		logger.Info("清扫循环已禁用", "event", "sweep_disabled")
		ObserveSweepResult(sweepResultSkipped, sweepReasonDisabled)
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	logger.Info(
		"清扫循环已启动",
		"event", "sweep_started",
		"interval", cfg.Interval.String(),
		"room_ttl", policy.RoomTTL.String(),
		"dry_run", cfg.DryRun,
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("清扫循环退出", "event", "sweep_stopped")
			return
		case <-ticker.C:
			runSweepCycle(ctx, cfg, queue, rooms, policy, logger)
		}
	}
}

func runSweepCycle(ctx context.Context, cfg Config, queue *matchmaking.QueueManager, rooms *repository.RoomStore, policy matchmaking.Policy, logger *slog.Logger) {
	start := time.Now()
	defer func() {
		sweepCycleDuration.Observe(time.Since(start).Seconds())
	}()

	cutoff := time.Now().UnixMilli() - policy.RoomTTL.Milliseconds()
	candidates, err := rooms.ExpiredWaitingRoomIDs(ctx, cutoff)
	if err != nil {
		ObserveSweepResult(sweepResultError, sweepReasonListFailed)
		logger.Error("扫描过期房间失败", "event", "sweep_plan", "result", sweepResultError, "error", err)
		return
	}

	logger.Info(
		"清扫计划",
		"event", "sweep_plan",
		"cutoff", cutoff,
		"estimated_rooms", len(candidates),
		"dry_run", cfg.DryRun,
	)

	if len(candidates) == 0 {
		ObserveSweepResult(sweepResultOK, sweepReasonNothing)
		return
	}
	if cfg.DryRun {
		ObserveSweepResult(sweepResultSkipped, sweepReasonDryRun)
		return
	}

	deleted, err := queue.CleanupExpiredRooms(ctx)
	if err != nil {
		ObserveSweepResult(sweepResultError, sweepReasonDeleteFailed)
		logger.Error("删除过期房间失败", "event", "sweep_delete", "result", sweepResultError, "error", err)
		return
	}

	sweepDeletedRooms.Add(float64(deleted))
	ObserveSweepResult(sweepResultOK, sweepReasonDeleted)
	logger.Info("清扫完成", "event", "sweep_delete", "result", sweepResultOK, "deleted", deleted)
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
