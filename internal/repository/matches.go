package repository

import (
	"context"
	"sort"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
	"github.com/redis/go-redis/v9"
)

// MatchStore 对局集合。文档本体在 mm:match:<id>；每个玩家另有
// 按 startTime 排序的对局索引 (历史查询用) 和一个指向未完结对局的 active 键。
type MatchStore struct {
	rdb  *RedisClient
	docs *DocStore
}

// NewMatchStore 创建对局集合访问层
func NewMatchStore(rdb *RedisClient, docs *DocStore) *MatchStore {
	return &MatchStore{rdb: rdb, docs: docs}
}

// Key 对局文档键
func (s *MatchStore) Key(matchID string) string {
	return common.MatchKeyPrefix + matchID
}

func userMatchesKey(userID string) string {
	return common.UserMatchesKeyPrefix + userID
}

func userActiveMatchKey(userID string) string {
	return common.UserActiveMatchKeyPrefix + userID
}

// TxnGet 事务内读取对局
func (s *MatchStore) TxnGet(t *Txn, matchID string) (*model.Match, bool, error) {
	var match model.Match
	ok, err := t.GetJSON(s.Key(matchID), &match)
	if err != nil || !ok {
		return nil, false, err
	}
	if match.Submissions == nil {
		match.Submissions = map[string]model.Submission{}
	}
	return &match, true, nil
}

// TxnPut 事务内写入对局并维护索引:
// 创建时登记双方的历史索引和 active 键；完结时摘掉 active 键。
func (s *MatchStore) TxnPut(t *Txn, match *model.Match, kind string) error {
	if err := t.SetJSON(s.Key(match.ID), match); err != nil {
		return err
	}
	if kind == ChangeCreated {
		t.ZAdd(userMatchesKey(match.Player1), float64(match.StartTime), match.ID)
		t.ZAdd(userMatchesKey(match.Player2), float64(match.StartTime), match.ID)
		t.SetString(userActiveMatchKey(match.Player1), match.ID)
		t.SetString(userActiveMatchKey(match.Player2), match.ID)
	}
	if match.Status == model.MatchStatusCompleted {
		t.Del(userActiveMatchKey(match.Player1), userActiveMatchKey(match.Player2))
	}
	return t.EmitDoc(common.CollectionMatches, match.ID, kind, match)
}

// Get 事务外读取对局
func (s *MatchStore) Get(ctx context.Context, matchID string) (*model.Match, bool, error) {
	var match model.Match
	ok, err := s.docs.GetJSON(ctx, s.Key(matchID), &match)
	if err != nil || !ok {
		return nil, false, err
	}
	if match.Submissions == nil {
		match.Submissions = map[string]model.Submission{}
	}
	return &match, true, nil
}

// ActiveMatchID 用户未完结对局的 ID；没有时返回空串。
func (s *MatchStore) ActiveMatchID(ctx context.Context, userID string) (string, error) {
	val, err := s.rdb.Get(ctx, userActiveMatchKey(userID))
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// ClearActiveMatch 清除失效的 active 映射
func (s *MatchStore) ClearActiveMatch(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, userActiveMatchKey(userID))
}

// RecentCompleted 用户最近完结的对局，按 startTime 新到旧，最多 limit 条。
// 索引分数就是 startTime，倒序取出后再按分数过滤掉未完结的即可。
func (s *MatchStore) RecentCompleted(ctx context.Context, userID string, limit int) ([]*model.Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	// 多取一截：索引里可能还混着未完结对局
	ids, err := s.rdb.ZRevRange(ctx, userMatchesKey(userID), 0, int64(limit*2))
	if err != nil {
		return nil, err
	}

	matches := make([]*model.Match, 0, limit)
	for _, id := range ids {
		match, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || match.Status != model.MatchStatusCompleted {
			continue
		}
		matches = append(matches, match)
		if len(matches) >= limit {
			break
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartTime > matches[j].StartTime
	})
	return matches, nil
}
