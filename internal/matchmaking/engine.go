/**
 * @file engine.go
 * @brief 对局生命周期: 提交、弃权、胜负判定、订阅
 */
package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/Raunak1404/Codosphere-sub001/internal/repository"
	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
)

const defaultRecentLimit = 10

// TaskSink 后台任务入口 (对局完结后派发计分和房间收尾)
type TaskSink interface {
	Enqueue(task Task)
}

// SubmitResult 提交调用的返回值。
// AlreadySubmitted 表示该用户早有提交，本次未写入任何东西。
type SubmitResult struct {
	Match            *model.Match `json:"match"`
	AlreadySubmitted bool         `json:"already_submitted,omitempty"`
}

// ForfeitResult 弃权调用的返回值。
// AlreadyCompleted 表示对局早已完结，本次未写入任何东西。
type ForfeitResult struct {
	Match            *model.Match `json:"match"`
	AlreadyCompleted bool         `json:"already_completed,omitempty"`
}

// MatchEngine 对局引擎。对局文档的全部状态转移都走这里的事务，
// 完结时恰好一次地向 sink 派发计分和房间收尾任务。
type MatchEngine struct {
	rdb     *repository.RedisClient
	docs    *repository.DocStore
	matches *repository.MatchStore
	sink    TaskSink
	policy  Policy
	logger  *slog.Logger
}

// NewMatchEngine 创建对局引擎
func NewMatchEngine(rdb *repository.RedisClient, docs *repository.DocStore, matches *repository.MatchStore, sink TaskSink, policy Policy, logger *slog.Logger) *MatchEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchEngine{
		rdb:     rdb,
		docs:    docs,
		matches: matches,
		sink:    sink,
		policy:  policy,
		logger:  logger,
	}
}

// SubmitSolution 记录一次提交。
// 同一用户的重复提交返回当前对局状态，不覆盖首次提交；
// 第二份提交落盘的那个事务同时判出胜负并完结对局。
func (e *MatchEngine) SubmitSolution(ctx context.Context, userID, matchID string, sub model.Submission) (*SubmitResult, error) {
	if sub.SubmissionTime == 0 {
		sub.SubmissionTime = nowMs()
	}

	var result SubmitResult
	completedNow := false

	matchKey := e.matches.Key(matchID)
	err := e.docs.RunTxn(ctx, []string{matchKey}, func(t *repository.Txn) error {
		result = SubmitResult{}
		completedNow = false

		match, ok, err := e.matches.TxnGet(t, matchID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMatchNotFound
		}
		if !match.IsParticipant(userID) {
			return ErrNotParticipant
		}
		result.Match = match

		if match.Status == model.MatchStatusCompleted {
			result.AlreadySubmitted = true
			return nil
		}
		if _, dup := match.Submissions[userID]; dup {
			result.AlreadySubmitted = true
			return nil
		}

		match.Submissions[userID] = sub
		if match.BothSubmitted() {
			match.Status = model.MatchStatusCompleted
			match.Winner = decideWinner(match)
			match.EndTime = nowMs()
			completedNow = true
		} else {
			match.Status = model.MatchStatusInProgress
		}
		return e.matches.TxnPut(t, match, repository.ChangeModified)
	})
	if err != nil {
		return nil, err
	}

	if completedNow {
		matchCompletedTotal.WithLabelValues(completedReasonSubmissions).Inc()
		e.dispatchCompletion(result.Match)
		e.logger.Info("对局完结", "match_id", matchID, "winner", result.Match.Winner, "reason", completedReasonSubmissions)
	}
	return &result, nil
}

// ForfeitMatch 弃权。对手判胜并正常计分；对已完结对局重复弃权是幂等空操作。
func (e *MatchEngine) ForfeitMatch(ctx context.Context, userID, matchID string) (*ForfeitResult, error) {
	var result ForfeitResult
	completedNow := false

	matchKey := e.matches.Key(matchID)
	err := e.docs.RunTxn(ctx, []string{matchKey}, func(t *repository.Txn) error {
		result = ForfeitResult{}
		completedNow = false

		match, ok, err := e.matches.TxnGet(t, matchID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMatchNotFound
		}
		if !match.IsParticipant(userID) {
			return ErrNotParticipant
		}
		result.Match = match

		if match.Status == model.MatchStatusCompleted {
			result.AlreadyCompleted = true
			return nil
		}

		match.Status = model.MatchStatusCompleted
		match.Winner = match.Opponent(userID)
		match.ForfeitedBy = userID
		match.EndTime = nowMs()
		completedNow = true
		return e.matches.TxnPut(t, match, repository.ChangeModified)
	})
	if err != nil {
		return nil, err
	}

	if completedNow {
		matchCompletedTotal.WithLabelValues(completedReasonForfeit).Inc()
		e.dispatchCompletion(result.Match)
		e.logger.Info("对局完结", "match_id", matchID, "winner", result.Match.Winner,
			"forfeited_by", userID, "reason", completedReasonForfeit)
	}
	return &result, nil
}

// dispatchCompletion 对局完结后派发后续任务。
// 只由把状态翻成 completed 的那条事务路径调用，保证每局最多一套任务。
func (e *MatchEngine) dispatchCompletion(match *model.Match) {
	e.sink.Enqueue(Task{
		Kind:     TaskAwardStats,
		MatchID:  match.ID,
		WinnerID: match.Winner,
		LoserID:  match.Opponent(match.Winner),
	})
	e.sink.Enqueue(Task{
		Kind:      TaskRoomCleanup,
		MatchID:   match.ID,
		NotBefore: nowMs() + e.policy.RoomDeleteGrace.Milliseconds(),
	})
}

// decideWinner 胜负判定: 通过用例多者胜；打平时先提交者胜；
// 连提交时间都相同时判 player1 (配对时的先来者)。
func decideWinner(m *model.Match) string {
	s1, s2 := m.Submissions[m.Player1], m.Submissions[m.Player2]
	if s1.TestCasesPassed != s2.TestCasesPassed {
		if s1.TestCasesPassed > s2.TestCasesPassed {
			return m.Player1
		}
		return m.Player2
	}
	if s1.SubmissionTime != s2.SubmissionTime {
		if s1.SubmissionTime < s2.SubmissionTime {
			return m.Player1
		}
		return m.Player2
	}
	return m.Player1
}

// GetMatch 读取一局。对局不存在返回 ErrMatchNotFound。
func (e *MatchEngine) GetMatch(ctx context.Context, matchID string) (*model.Match, error) {
	match, ok, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMatchNotFound
	}
	return match, nil
}

// RecentMatches 用户最近完结的对局，按开始时间新到旧。
func (e *MatchEngine) RecentMatches(ctx context.Context, userID string, limit int) ([]*model.Match, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return e.matches.RecentCompleted(ctx, userID, limit)
}

// SubscribeToMatch 订阅一局的后续变更。返回只收该局更新的通道和
// 幂等的退订函数；退订后通道关闭。慢消费者会被丢帧而不是阻塞提交路径。
func (e *MatchEngine) SubscribeToMatch(ctx context.Context, matchID string) (<-chan *model.Match, func(), error) {
	pubsub := e.rdb.Subscribe(ctx, common.EventsChannel)
	// 订阅握手失败要在这里暴露，而不是等首条消息
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("订阅变更频道失败: %w", err)
	}

	out := make(chan *model.Match, 16)
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev repository.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				e.logger.Warn("解析变更事件失败", "error", err)
				continue
			}
			if ev.Collection != common.CollectionMatches || ev.DocID != matchID {
				continue
			}
			var match model.Match
			if err := json.Unmarshal(ev.Doc, &match); err != nil {
				e.logger.Warn("解析对局文档失败", "match_id", matchID, "error", err)
				continue
			}
			if match.Submissions == nil {
				match.Submissions = map[string]model.Submission{}
			}
			select {
			case out <- &match:
			default:
				e.logger.Warn("订阅通道已满，丢弃一帧", "match_id", matchID)
			}
		}
	}()

	// ctx 取消时兜底退订，防止调用方忘了收尾
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return out, unsubscribe, nil
}
