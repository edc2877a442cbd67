/**
 * @file stats.go
 * @brief 排位计分: 每局恰好记一次分
 */
package matchmaking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/Raunak1404/Codosphere-sub001/internal/repository"
	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
)

// AwardResult 计分调用的结果
type AwardResult struct {
	Success          bool // 本次调用真的写了统计
	AlreadyProcessed bool // 这局早已记过分 (或被并发调用抢先)
}

// statsPersistence 统计落库入口 (PostgreSQL)
type statsPersistence interface {
	ApplyMatchResult(ctx context.Context, winnerID, loserID string, points int) error
}

// RankStatsUpdater 恰好一次的计分实现。
// 先在对局文档上用事务把 pointsAwarded 从 false 翻成 true (抢占标记)，
// 抢到的调用才去写 PostgreSQL。并发重复调用会在抢标记那一步落空。
type RankStatsUpdater struct {
	docs    *repository.DocStore
	matches *repository.MatchStore
	stats   statsPersistence
	policy  Policy
	logger  *slog.Logger
}

// NewRankStatsUpdater 创建计分器
func NewRankStatsUpdater(docs *repository.DocStore, matches *repository.MatchStore, stats statsPersistence, policy Policy, logger *slog.Logger) *RankStatsUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &RankStatsUpdater{
		docs:    docs,
		matches: matches,
		stats:   stats,
		policy:  policy,
		logger:  logger,
	}
}

// AwardMatchPoints 给一局的胜者记分。
// 对同一局并发或重复调用，恰好一个会真正落库，其余返回 AlreadyProcessed。
func (u *RankStatsUpdater) AwardMatchPoints(ctx context.Context, matchID, winnerID, loserID string) (*AwardResult, error) {
	claimed, err := u.claim(ctx, matchID, winnerID)
	if err != nil {
		statsAwardTotal.WithLabelValues("claim_error").Inc()
		return nil, err
	}
	if !claimed {
		statsAwardTotal.WithLabelValues("already_processed").Inc()
		return &AwardResult{AlreadyProcessed: true}, nil
	}

	if err := u.stats.ApplyMatchResult(ctx, winnerID, loserID, u.policy.RankPointsPerWin); err != nil {
		// 落库失败就把标记还回去，让重试路径还有机会；
		// 还不回去也只是少记一次分，留给对账处理。
		u.unclaim(ctx, matchID)
		statsAwardTotal.WithLabelValues("persist_error").Inc()
		return nil, fmt.Errorf("写入排位统计失败: %w", err)
	}

	statsAwardTotal.WithLabelValues("awarded").Inc()
	u.logger.Info("排位计分完成", "match_id", matchID, "winner", winnerID, "points", u.policy.RankPointsPerWin)
	return &AwardResult{Success: true}, nil
}

// claim 抢占 pointsAwarded 标记。返回 false 表示已被处理过。
func (u *RankStatsUpdater) claim(ctx context.Context, matchID, winnerID string) (bool, error) {
	claimed := false
	matchKey := u.matches.Key(matchID)
	err := u.docs.RunTxn(ctx, []string{matchKey}, func(t *repository.Txn) error {
		claimed = false
		match, ok, err := u.matches.TxnGet(t, matchID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMatchNotFound
		}
		if match.Status != model.MatchStatusCompleted {
			return fmt.Errorf("对局 %s 尚未完结，不能计分", matchID)
		}
		if match.PointsAwarded {
			return nil
		}
		if match.Winner != winnerID {
			// 重试也不会让胜者变回来，直接让派发器丢弃
			return fmt.Errorf("计分任务与对局记录的胜者不一致 (%s vs %s): %w", winnerID, match.Winner, common.ErrNonRetryable)
		}
		match.PointsAwarded = true
		claimed = true
		return u.matches.TxnPut(t, match, repository.ChangeModified)
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// unclaim 落库失败后的尽力回滚
func (u *RankStatsUpdater) unclaim(ctx context.Context, matchID string) {
	matchKey := u.matches.Key(matchID)
	err := u.docs.RunTxn(ctx, []string{matchKey}, func(t *repository.Txn) error {
		match, ok, err := u.matches.TxnGet(t, matchID)
		if err != nil || !ok {
			return err
		}
		if !match.PointsAwarded {
			return nil
		}
		match.PointsAwarded = false
		return u.matches.TxnPut(t, match, repository.ChangeModified)
	})
	if err != nil {
		u.logger.Error("回滚计分标记失败，需要人工对账", "match_id", matchID, "error", err)
	}
}
