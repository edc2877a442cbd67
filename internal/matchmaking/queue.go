/**
 * @file queue.go
 * @brief 配对队列: 等待房间的加入/创建/取消/清理
 */
package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/Raunak1404/Codosphere-sub001/internal/repository"
	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
	"github.com/google/uuid"
)

// 入队结果
const (
	OutcomeMatched = "matched"
	OutcomeWaiting = "waiting"
)

// JoinResult 入队调用的返回值。
// Outcome=matched 时 MatchID 非空；Rejoined 表示撞上了自己的未完结对局，
// 没有新建任何文档，调用方应直接把用户送回对局页。
type JoinResult struct {
	Outcome  string `json:"outcome"`
	RoomID   string `json:"room_id,omitempty"`
	MatchID  string `json:"match_id,omitempty"`
	Rejoined bool   `json:"rejoined,omitempty"`
}

// ProblemCatalog 题目来源 (配对成功时随机选一题)
type ProblemCatalog interface {
	RandomProblemID(ctx context.Context) (int, error)
}

// QueueManager 配对队列。
// 所有入队/取消路径都在同一个乐观事务框架下竞争 QueueLockKey，
// 锁文档本身不承载语义，被 WATCH 的读写冲突才是互斥机制。
type QueueManager struct {
	docs    *repository.DocStore
	rooms   *repository.RoomStore
	matches *repository.MatchStore
	catalog ProblemCatalog
	policy  Policy
	logger  *slog.Logger
}

// NewQueueManager 创建配对队列
func NewQueueManager(docs *repository.DocStore, rooms *repository.RoomStore, matches *repository.MatchStore, catalog ProblemCatalog, policy Policy, logger *slog.Logger) *QueueManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueManager{
		docs:    docs,
		rooms:   rooms,
		matches: matches,
		catalog: catalog,
		policy:  policy,
		logger:  logger,
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// JoinQueue 用户入队。流程:
//  1. 顺手清理过期房间 (尽力而为，失败不阻断入队)
//  2. 未完结对局检查: 新鲜对局直接送回去；残留对局先判负关闭再继续
//  3. 已在等待房间里的重复入队按原房间返回 waiting
//  4. 事务内 FIFO 扫描等待房间: 有别人的房间就配对建局，否则自建房间等待
func (q *QueueManager) JoinQueue(ctx context.Context, userID string) (*JoinResult, error) {
	start := time.Now()
	result, err := q.joinQueue(ctx, userID)
	queueJoinDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		queueJoinTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if result.Rejoined {
		queueJoinTotal.WithLabelValues("rejoined").Inc()
	} else {
		queueJoinTotal.WithLabelValues(result.Outcome).Inc()
	}
	return result, nil
}

func (q *QueueManager) joinQueue(ctx context.Context, userID string) (*JoinResult, error) {
	if deleted, err := q.CleanupExpiredRooms(ctx); err != nil {
		q.logger.Warn("入队前清理过期房间失败", "user_id", userID, "error", err)
	} else if deleted > 0 {
		q.logger.Info("入队前清理过期房间", "user_id", userID, "deleted", deleted)
	}

	// 未完结对局: 新鲜的回去继续打，残留的判负关闭
	activeID, err := q.matches.ActiveMatchID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("读取用户未完结对局失败: %w", err)
	}
	if activeID != "" {
		result, handled, err := q.handleActiveMatch(ctx, userID, activeID)
		if err != nil {
			return nil, err
		}
		if handled {
			return result, nil
		}
	}

	// 已经在排队: 重复入队幂等地返回原房间
	roomID, err := q.rooms.UserRoomID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("读取用户房间映射失败: %w", err)
	}
	if roomID != "" {
		room, ok, err := q.rooms.Get(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("读取房间 %s 失败: %w", roomID, err)
		}
		if ok && room.Status == model.RoomWaiting && room.Contains(userID) {
			return &JoinResult{Outcome: OutcomeWaiting, RoomID: roomID}, nil
		}
		// 悬空映射 (房间已被清理)，清掉后正常走入队
		if err := q.rooms.ClearUserRoom(ctx, userID); err != nil {
			q.logger.Warn("清理悬空房间映射失败", "user_id", userID, "room_id", roomID, "error", err)
		}
	}

	return q.joinOrCreate(ctx, userID)
}

// handleActiveMatch 处理入队时发现的未完结对局。
// handled=true 表示入队流程到此为止 (用户被送回对局)；
// 残留对局被关闭后返回 handled=false，入队继续。
func (q *QueueManager) handleActiveMatch(ctx context.Context, userID, matchID string) (*JoinResult, bool, error) {
	match, ok, err := q.matches.Get(ctx, matchID)
	if err != nil {
		return nil, false, fmt.Errorf("读取对局 %s 失败: %w", matchID, err)
	}
	if !ok || match.Status == model.MatchStatusCompleted {
		// active 映射已经失效，清掉继续入队
		if err := q.matches.ClearActiveMatch(ctx, userID); err != nil {
			q.logger.Warn("清理悬空对局映射失败", "user_id", userID, "match_id", matchID, "error", err)
		}
		return nil, false, nil
	}

	age := time.Duration(nowMs()-match.StartTime) * time.Millisecond
	if age < q.policy.StaleMatchAge {
		q.logger.Info("用户已有进行中的对局，直接返回", "user_id", userID, "match_id", matchID)
		return &JoinResult{Outcome: OutcomeMatched, MatchID: matchID, Rejoined: true}, true, nil
	}

	// 残留对局: 重新入队视同放弃旧局，判对手胜
	if err := q.closeStaleMatch(ctx, userID, matchID); err != nil {
		return nil, false, fmt.Errorf("关闭残留对局 %s 失败: %w", matchID, err)
	}
	return nil, false, nil
}

// closeStaleMatch 把残留对局按弃权完结 (winner=对手, forfeitedBy=重新入队者)。
// 残留关闭不派发计分任务，离场玩家不该因超时白拿一分。
func (q *QueueManager) closeStaleMatch(ctx context.Context, userID, matchID string) error {
	matchKey := q.matches.Key(matchID)
	err := q.docs.RunTxn(ctx, []string{matchKey}, func(t *repository.Txn) error {
		match, ok, err := q.matches.TxnGet(t, matchID)
		if err != nil {
			return err
		}
		if !ok || match.Status == model.MatchStatusCompleted {
			return nil // 并发路径已处理
		}
		match.Status = model.MatchStatusCompleted
		match.Winner = match.Opponent(userID)
		match.ForfeitedBy = userID
		match.EndTime = nowMs()
		return q.matches.TxnPut(t, match, repository.ChangeModified)
	})
	if err != nil {
		return err
	}
	matchCompletedTotal.WithLabelValues(completedReasonStale).Inc()

	// 配套的房间已不在等待索引上，TTL 清理够不到，这里顺手收掉
	if err := q.DeleteRoomForMatch(ctx, matchID); err != nil {
		q.logger.Warn("删除残留对局的房间失败", "match_id", matchID, "error", err)
	}
	q.logger.Info("残留对局已按弃权关闭", "match_id", matchID, "forfeited_by", userID)
	return nil
}

// joinOrCreate 核心配对事务。
// WATCH 锁键保证并发入队互相冲突串行化；候选房间逐个补 WATCH 后再读，
// 防止「读到等待房间 -> 清理协程删掉它 -> 双写成功」的窗口。
func (q *QueueManager) joinOrCreate(ctx context.Context, userID string) (*JoinResult, error) {
	var result JoinResult

	err := q.docs.RunTxn(ctx, []string{common.QueueLockKey}, func(t *repository.Txn) error {
		result = JoinResult{}

		candidates, err := q.rooms.TxnWaitingRoomIDs(t, q.policy.RoomScanLimit)
		if err != nil {
			return err
		}

		for _, roomID := range candidates {
			roomKey := q.rooms.Key(roomID)
			if err := t.Watch(roomKey); err != nil {
				return err
			}
			room, ok, err := q.rooms.TxnGet(t, roomID)
			if err != nil {
				return err
			}
			// 索引比文档后删，可能扫到尸体；自己的房间不能自配
			if !ok || room.Status != model.RoomWaiting || room.Contains(userID) {
				continue
			}
			return q.txnPair(ctx, t, room, userID, &result)
		}

		return q.txnCreateRoom(t, userID, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// txnPair 把用户配进 room，并在同一事务里创建对局
func (q *QueueManager) txnPair(ctx context.Context, t *repository.Txn, room *model.WaitingRoom, userID string, result *JoinResult) error {
	problemID, err := q.catalog.RandomProblemID(ctx)
	if err != nil {
		return fmt.Errorf("选题失败: %w", err)
	}

	now := nowMs()
	match := &model.Match{
		ID:          uuid.NewString(),
		Player1:     room.Players[0],
		Player2:     userID,
		ProblemID:   problemID,
		StartTime:   now,
		Status:      model.MatchStatusMatched,
		Submissions: map[string]model.Submission{},
	}

	room.Players = append(room.Players, userID)
	room.Status = model.RoomMatched
	room.ProblemID = problemID
	room.MatchID = match.ID

	if err := q.matches.TxnPut(t, match, repository.ChangeCreated); err != nil {
		return err
	}
	if err := q.rooms.TxnPut(t, room, repository.ChangeModified); err != nil {
		return err
	}
	q.txnTouchLock(t, userID, now)

	result.Outcome = OutcomeMatched
	result.RoomID = room.ID
	result.MatchID = match.ID
	q.logger.Info("配对成功", "room_id", room.ID, "match_id", match.ID,
		"player1", match.Player1, "player2", match.Player2, "problem_id", problemID)
	return nil
}

// txnCreateRoom 没有可配对的房间时自建一个等待房间
func (q *QueueManager) txnCreateRoom(t *repository.Txn, userID string, result *JoinResult) error {
	now := nowMs()
	room := &model.WaitingRoom{
		ID:        uuid.NewString(),
		Players:   []string{userID},
		Status:    model.RoomWaiting,
		CreatedAt: now,
	}
	if err := q.rooms.TxnPut(t, room, repository.ChangeCreated); err != nil {
		return err
	}
	q.txnTouchLock(t, userID, now)

	result.Outcome = OutcomeWaiting
	result.RoomID = room.ID
	q.logger.Info("创建等待房间", "room_id", room.ID, "user_id", userID)
	return nil
}

// txnTouchLock 重写锁文档。所有入队/取消事务都写这个键，
// 配合入口处的 WATCH 让并发配对严格串行。
func (q *QueueManager) txnTouchLock(t *repository.Txn, userID string, now int64) {
	_ = t.SetJSON(common.QueueLockKey, &model.QueueLock{LastUpdated: now, LastUser: userID})
}

// CancelQueue 取消排队。还在等待的房间直接删掉；
// 取消和配对撞车时 (房间已 matched) 只把自己从 players 里摘掉，对局本身不受影响。
func (q *QueueManager) CancelQueue(ctx context.Context, userID string) (bool, error) {
	roomID, err := q.rooms.UserRoomID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("读取用户房间映射失败: %w", err)
	}
	if roomID == "" {
		return false, nil
	}

	cancelled := false
	roomKey := q.rooms.Key(roomID)
	err = q.docs.RunTxn(ctx, []string{common.QueueLockKey, roomKey}, func(t *repository.Txn) error {
		cancelled = false
		room, ok, err := q.rooms.TxnGet(t, roomID)
		if err != nil {
			return err
		}
		if !ok || !room.Contains(userID) {
			return nil
		}
		switch room.Status {
		case model.RoomWaiting:
			if err := q.rooms.TxnDelete(t, room); err != nil {
				return err
			}
		case model.RoomMatched:
			kept := make([]string, 0, len(room.Players))
			for _, p := range room.Players {
				if p != userID {
					kept = append(kept, p)
				}
			}
			room.Players = kept
			if err := q.rooms.TxnPut(t, room, repository.ChangeModified); err != nil {
				return err
			}
		default:
			return nil
		}
		q.txnTouchLock(t, userID, nowMs())
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !cancelled {
		// 映射指向已删除或不含本人的房间，留着没意义
		if err := q.rooms.ClearUserRoom(ctx, userID); err != nil {
			q.logger.Warn("清理悬空房间映射失败", "user_id", userID, "room_id", roomID, "error", err)
		}
		return false, nil
	}
	if err := q.rooms.ClearUserRoom(ctx, userID); err != nil {
		q.logger.Warn("清理用户房间映射失败", "user_id", userID, "room_id", roomID, "error", err)
	}
	q.logger.Info("取消排队", "user_id", userID, "room_id", roomID)
	return true, nil
}

// CleanupExpiredRooms 删除创建时间早于 TTL 的等待房间，返回删除数。
// 逐房间开事务: 扫描到提交之间房间可能已被配走，事务内复核后才删。
func (q *QueueManager) CleanupExpiredRooms(ctx context.Context) (int, error) {
	cutoff := nowMs() - q.policy.RoomTTL.Milliseconds()
	ids, err := q.rooms.ExpiredWaitingRoomIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, roomID := range ids {
		roomKey := q.rooms.Key(roomID)
		removed := false
		err := q.docs.RunTxn(ctx, []string{roomKey}, func(t *repository.Txn) error {
			removed = false
			room, ok, err := q.rooms.TxnGet(t, roomID)
			if err != nil {
				return err
			}
			if !ok || room.Status != model.RoomWaiting || room.CreatedAt >= cutoff {
				return nil
			}
			if err := q.rooms.TxnDelete(t, room); err != nil {
				return err
			}
			removed = true
			return nil
		})
		if err != nil {
			q.logger.Warn("删除过期房间失败", "room_id", roomID, "error", err)
			continue
		}
		if removed {
			deleted++
			roomsExpiredTotal.Inc()
		}
	}
	return deleted, nil
}

// DeleteRoomForMatch 删除对局关联的 matched 房间 (配对成功、双方都
// 拿到通知之后的收尾)。找不到房间视为已清理，不算错误。
func (q *QueueManager) DeleteRoomForMatch(ctx context.Context, matchID string) error {
	roomID, err := q.rooms.RoomIDForMatch(ctx, matchID)
	if err != nil {
		return fmt.Errorf("读取对局房间映射失败: %w", err)
	}
	if roomID == "" {
		return nil
	}

	roomKey := q.rooms.Key(roomID)
	return q.docs.RunTxn(ctx, []string{roomKey}, func(t *repository.Txn) error {
		room, ok, err := q.rooms.TxnGet(t, roomID)
		if err != nil || !ok {
			return err
		}
		return q.rooms.TxnDelete(t, room)
	})
}
