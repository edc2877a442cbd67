package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
	"github.com/redis/go-redis/v9"
)

// RoomStore 等待房间集合。文档本体放在 mm:room:<id>，
// 等待中的房间同时挂在按 createdAt 排序的 ZSET 索引上 (FIFO 扫描用)。
type RoomStore struct {
	rdb  *RedisClient
	docs *DocStore
}

// NewRoomStore 创建房间集合访问层
func NewRoomStore(rdb *RedisClient, docs *DocStore) *RoomStore {
	return &RoomStore{rdb: rdb, docs: docs}
}

// Key 房间文档键
func (s *RoomStore) Key(roomID string) string {
	return common.RoomKeyPrefix + roomID
}

func userRoomKey(userID string) string {
	return common.UserRoomKeyPrefix + userID
}

func matchRoomKey(matchID string) string {
	return common.MatchRoomKeyPrefix + matchID
}

// TxnGet 事务内读取房间。被并发清理删掉的房间返回 (nil, false, nil)。
func (s *RoomStore) TxnGet(t *Txn, roomID string) (*model.WaitingRoom, bool, error) {
	var room model.WaitingRoom
	ok, err := t.GetJSON(s.Key(roomID), &room)
	if err != nil || !ok {
		return nil, false, err
	}
	return &room, true, nil
}

// TxnPut 事务内写入房间并维护索引:
//   - waiting 房间挂上 FIFO 索引和占用者的 user->room 映射
//   - matched 房间摘下 FIFO 索引并登记 match->room 反查映射
func (s *RoomStore) TxnPut(t *Txn, room *model.WaitingRoom, kind string) error {
	if err := t.SetJSON(s.Key(room.ID), room); err != nil {
		return err
	}
	switch room.Status {
	case model.RoomWaiting:
		t.ZAdd(common.WaitingRoomIndexKey, float64(room.CreatedAt), room.ID)
		for _, p := range room.Players {
			t.SetString(userRoomKey(p), room.ID)
		}
	case model.RoomMatched:
		t.ZRem(common.WaitingRoomIndexKey, room.ID)
		if room.MatchID != "" {
			t.SetString(matchRoomKey(room.MatchID), room.ID)
		}
	}
	return t.EmitDoc(common.CollectionRooms, room.ID, kind, room)
}

// TxnDelete 事务内删除房间及其全部索引项。
// user->room 映射按值比对后才删: 玩家可能已经重新排队，
// 映射指向新房间时不能被旧房间的延迟清理误删。
func (s *RoomStore) TxnDelete(t *Txn, room *model.WaitingRoom) error {
	keys := []string{s.Key(room.ID)}
	for _, p := range room.Players {
		key := userRoomKey(p)
		if err := t.Watch(key); err != nil {
			return err
		}
		current, ok, err := t.GetString(key)
		if err != nil {
			return err
		}
		if ok && current == room.ID {
			keys = append(keys, key)
		}
	}
	if room.MatchID != "" {
		keys = append(keys, matchRoomKey(room.MatchID))
	}
	t.Del(keys...)
	t.ZRem(common.WaitingRoomIndexKey, room.ID)
	return t.EmitDoc(common.CollectionRooms, room.ID, ChangeRemoved, room)
}

// TxnWaitingRoomIDs 事务内按 createdAt 升序读取最多 limit 个等待房间 ID
func (s *RoomStore) TxnWaitingRoomIDs(t *Txn, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	return t.ZRange(common.WaitingRoomIndexKey, 0, int64(limit-1))
}

// Get 事务外读取房间
func (s *RoomStore) Get(ctx context.Context, roomID string) (*model.WaitingRoom, bool, error) {
	var room model.WaitingRoom
	ok, err := s.docs.GetJSON(ctx, s.Key(roomID), &room)
	if err != nil || !ok {
		return nil, false, err
	}
	return &room, true, nil
}

// UserRoomID 用户当前占用的房间 ID；没有时返回空串。
func (s *RoomStore) UserRoomID(ctx context.Context, userID string) (string, error) {
	val, err := s.rdb.Get(ctx, userRoomKey(userID))
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// ClearUserRoom 清除失效的 user->room 映射 (指向已删除房间时)
func (s *RoomStore) ClearUserRoom(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, userRoomKey(userID))
}

// RoomIDForMatch 对局关联的房间 ID；没有时返回空串。
func (s *RoomStore) RoomIDForMatch(ctx context.Context, matchID string) (string, error) {
	val, err := s.rdb.Get(ctx, matchRoomKey(matchID))
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// ExpiredWaitingRoomIDs 创建时间早于 cutoff (epoch ms) 的等待房间 ID
func (s *RoomStore) ExpiredWaitingRoomIDs(ctx context.Context, cutoff int64) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, common.WaitingRoomIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("读取过期房间索引失败: %w", err)
	}
	return ids, nil
}
