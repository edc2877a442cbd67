package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/jackc/pgx/v5"
)

// ApplyMatchResult 把一场对局结果落到双方的排位统计上:
// 胜者 +points 分 +1 胜场，败者 +1 负场，双方场次 +1，段位按总分重算。
// 本函数不做重复调用防护——每场对局至多触发一次由对局文档的
// pointsAwarded 标记保证 (见 matchmaking.RankStatsUpdater)。
func (db *PostgresDB) ApplyMatchResult(ctx context.Context, winnerID, loserID string, points int) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("开启排位事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := applyStatsDelta(ctx, tx, winnerID, points, 1, 0); err != nil {
		return fmt.Errorf("更新胜者 %s 排位失败: %w", winnerID, err)
	}
	if err := applyStatsDelta(ctx, tx, loserID, 0, 0, 1); err != nil {
		return fmt.Errorf("更新败者 %s 排位失败: %w", loserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("提交排位事务失败: %w", err)
	}
	return nil
}

func applyStatsDelta(ctx context.Context, tx pgx.Tx, userID string, points, wins, losses int) error {
	query := `
		INSERT INTO user_stats (user_id, rank_points, rank_title, wins, losses, games_played, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, now())
		ON CONFLICT (user_id) DO UPDATE SET
			rank_points  = user_stats.rank_points + EXCLUDED.rank_points,
			wins         = user_stats.wins + EXCLUDED.wins,
			losses       = user_stats.losses + EXCLUDED.losses,
			games_played = user_stats.games_played + 1,
			updated_at   = now()
		RETURNING rank_points
	`
	var total int
	if err := tx.QueryRow(ctx, query,
		userID, points, model.RankTitleFor(points), wins, losses,
	).Scan(&total); err != nil {
		return err
	}

	// 段位由累计总分决定，插入分支里的初值只在首场时成立
	_, err := tx.Exec(ctx,
		`UPDATE user_stats SET rank_title = $2 WHERE user_id = $1`,
		userID, model.RankTitleFor(total),
	)
	return err
}

// GetUserStats 读取单个用户的排位统计；没有记录时返回 (nil, nil)。
func (db *PostgresDB) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	query := `
		SELECT user_id, rank_points, rank_title, wins, losses, games_played
		FROM user_stats
		WHERE user_id = $1
	`
	var s model.UserStats
	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.RankPoints, &s.RankTitle, &s.Wins, &s.Losses, &s.GamesPlayed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
