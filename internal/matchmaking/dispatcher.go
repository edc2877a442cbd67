/**
 * @file dispatcher.go
 * @brief 进程内后台任务派发 (对局完结后的计分与房间收尾)
 */
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
)

// 任务类型
const (
	TaskAwardStats  = "award_stats"  // 给胜者记分
	TaskRoomCleanup = "room_cleanup" // 删除对局关联的房间
)

// 任务执行结果 (指标标签)
const (
	taskResultOK      = "ok"
	taskResultRetry   = "retry"
	taskResultDropped = "dropped"
)

const (
	defaultDispatchIntervalMs   = 500
	defaultDispatchMaxAttempts  = 8
	defaultDispatchBackoffMs    = 1000
	defaultDispatchBackoffCapMs = 60000
)

// Task 一条待执行的后台任务。提交事务成功后入队，至少执行一次；
// 执行体都是幂等的，重复跑无害。
type Task struct {
	Kind      string
	MatchID   string
	WinnerID  string
	LoserID   string
	NotBefore int64 // epoch ms, 到点才执行
	Attempts  int
}

// StatsUpdater 计分入口 (对局维度恰好记一次)
type StatsUpdater interface {
	AwardMatchPoints(ctx context.Context, matchID, winnerID, loserID string) (*AwardResult, error)
}

// RoomJanitor 房间收尾入口
type RoomJanitor interface {
	DeleteRoomForMatch(ctx context.Context, matchID string) error
}

// Dispatcher 进程内任务队列。挂掉会丢任务，这是接受的取舍:
// 计分有 pointsAwarded 标记兜底对账，房间有 TTL 清理兜底。
type Dispatcher struct {
	stats   StatsUpdater
	janitor RoomJanitor
	logger  *slog.Logger

	interval    time.Duration
	maxAttempts int
	backoff     time.Duration
	backoffCap  time.Duration

	mu      sync.Mutex
	pending []Task
}

// NewDispatcher 创建任务派发器
func NewDispatcher(stats StatsUpdater, janitor RoomJanitor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		stats:       stats,
		janitor:     janitor,
		logger:      logger,
		interval:    time.Duration(getEnvInt("MM_DISPATCH_INTERVAL_MS", defaultDispatchIntervalMs)) * time.Millisecond,
		maxAttempts: getEnvInt("MM_DISPATCH_MAX_ATTEMPTS", defaultDispatchMaxAttempts),
		backoff:     time.Duration(getEnvInt("MM_DISPATCH_BACKOFF_MS", defaultDispatchBackoffMs)) * time.Millisecond,
		backoffCap:  time.Duration(getEnvInt("MM_DISPATCH_BACKOFF_CAP_MS", defaultDispatchBackoffCapMs)) * time.Millisecond,
	}
}

// Enqueue 入队一条任务 (非阻塞，可在请求路径上调用)
func (d *Dispatcher) Enqueue(task Task) {
	d.mu.Lock()
	d.pending = append(d.pending, task)
	dispatcherPending.Set(float64(len(d.pending)))
	d.mu.Unlock()
}

// Run 派发循环，阻塞直到 ctx 取消。
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("任务派发循环启动", "interval", d.interval.String(), "max_attempts", d.maxAttempts)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("任务派发循环退出")
			return
		case <-ticker.C:
			d.RunDue(ctx)
		}
	}
}

// RunDue 执行所有到点的任务一轮。失败的任务按指数退避重新入队，
// 超过次数上限后丢弃并记日志。
func (d *Dispatcher) RunDue(ctx context.Context) {
	now := time.Now().UnixMilli()

	d.mu.Lock()
	var due, rest []Task
	for _, task := range d.pending {
		if task.NotBefore <= now {
			due = append(due, task)
		} else {
			rest = append(rest, task)
		}
	}
	d.pending = rest
	dispatcherPending.Set(float64(len(d.pending)))
	d.mu.Unlock()

	for _, task := range due {
		if err := d.execute(ctx, task); err != nil {
			if errors.Is(err, common.ErrNonRetryable) {
				dispatcherTaskTotal.WithLabelValues(task.Kind, taskResultDropped).Inc()
				d.logger.Error("任务永久失败，丢弃",
					"kind", task.Kind, "match_id", task.MatchID, "error", err)
				continue
			}
			task.Attempts++
			if task.Attempts >= d.maxAttempts {
				dispatcherTaskTotal.WithLabelValues(task.Kind, taskResultDropped).Inc()
				d.logger.Error("任务重试次数耗尽，丢弃",
					"kind", task.Kind, "match_id", task.MatchID, "attempts", task.Attempts, "error", err)
				continue
			}
			delay := d.backoff << uint(task.Attempts-1)
			if delay > d.backoffCap {
				delay = d.backoffCap
			}
			task.NotBefore = now + delay.Milliseconds()
			dispatcherTaskTotal.WithLabelValues(task.Kind, taskResultRetry).Inc()
			d.logger.Warn("任务执行失败，稍后重试",
				"kind", task.Kind, "match_id", task.MatchID, "attempts", task.Attempts, "delay", delay.String(), "error", err)
			d.Enqueue(task)
			continue
		}
		dispatcherTaskTotal.WithLabelValues(task.Kind, taskResultOK).Inc()
	}
}

func (d *Dispatcher) execute(ctx context.Context, task Task) error {
	switch task.Kind {
	case TaskAwardStats:
		_, err := d.stats.AwardMatchPoints(ctx, task.MatchID, task.WinnerID, task.LoserID)
		return err
	case TaskRoomCleanup:
		return d.janitor.DeleteRoomForMatch(ctx, task.MatchID)
	default:
		return fmt.Errorf("未知任务类型 %s: %w", task.Kind, common.ErrNonRetryable)
	}
}

// PendingCount 当前待执行任务数 (测试与健康检查用)
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
