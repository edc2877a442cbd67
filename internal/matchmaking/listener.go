/**
 * @file listener.go
 * @brief 配对结果监听: 排队用户等待「配上了」通知
 */
package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/Raunak1404/Codosphere-sub001/internal/repository"
	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
)

// MatchFound 配对成功通知
type MatchFound struct {
	MatchID string       `json:"match_id"`
	RoomID  string       `json:"room_id,omitempty"`
	Match   *model.Match `json:"match"`
}

// MatchListener 给排队中的用户推送配对结果。
// 同一个结果有两条到达路径: 对局创建事件，以及房间翻成 matched 的事件。
// 谁先到谁算数，按 matchID 去重，每局最多通知一次。
type MatchListener struct {
	rdb     *repository.RedisClient
	rooms   *repository.RoomStore
	matches *repository.MatchStore
	janitor RoomJanitor
	policy  Policy
	logger  *slog.Logger
}

// NewMatchListener 创建配对监听器
func NewMatchListener(rdb *repository.RedisClient, rooms *repository.RoomStore, matches *repository.MatchStore, janitor RoomJanitor, policy Policy, logger *slog.Logger) *MatchListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchListener{
		rdb:     rdb,
		rooms:   rooms,
		matches: matches,
		janitor: janitor,
		policy:  policy,
		logger:  logger,
	}
}

// ListenForMatch 监听 userID 的配对结果。
// 返回通知通道和幂等退订函数。订阅建立后会先补查一次 active 映射，
// 覆盖「配对发生在订阅建立之前」的窗口；通知送达后按宽限期延迟删房间。
func (l *MatchListener) ListenForMatch(ctx context.Context, userID string) (<-chan MatchFound, func(), error) {
	pubsub := l.rdb.Subscribe(ctx, common.EventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("订阅变更频道失败: %w", err)
	}

	out := make(chan MatchFound, 4)
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}

	var mu sync.Mutex
	seen := map[string]bool{}

	deliver := func(matchID, roomID string, match *model.Match) {
		mu.Lock()
		if seen[matchID] {
			mu.Unlock()
			return
		}
		seen[matchID] = true
		mu.Unlock()

		select {
		case out <- MatchFound{MatchID: matchID, RoomID: roomID, Match: match}:
		default:
			l.logger.Warn("配对通知通道已满，丢弃", "user_id", userID, "match_id", matchID)
		}

		// 双方都有机会收完通知之后再把房间收掉
		time.AfterFunc(l.policy.RoomDeleteGrace, func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := l.janitor.DeleteRoomForMatch(cleanupCtx, matchID); err != nil {
				l.logger.Warn("配对后删除房间失败", "match_id", matchID, "error", err)
			}
		})
	}

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			l.handleEvent(userID, msg.Payload, deliver)
		}
	}()

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	// 补查: 订阅建立前配对可能已经完成
	l.pollActive(ctx, userID, deliver)

	return out, unsubscribe, nil
}

func (l *MatchListener) handleEvent(userID, payload string, deliver func(matchID, roomID string, match *model.Match)) {
	var ev repository.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.logger.Warn("解析变更事件失败", "error", err)
		return
	}

	switch ev.Collection {
	case common.CollectionMatches:
		if ev.Kind != repository.ChangeCreated {
			return
		}
		var match model.Match
		if err := json.Unmarshal(ev.Doc, &match); err != nil {
			l.logger.Warn("解析对局文档失败", "doc_id", ev.DocID, "error", err)
			return
		}
		if !match.IsParticipant(userID) {
			return
		}
		deliver(match.ID, "", &match)

	case common.CollectionRooms:
		var room model.WaitingRoom
		if err := json.Unmarshal(ev.Doc, &room); err != nil {
			l.logger.Warn("解析房间文档失败", "doc_id", ev.DocID, "error", err)
			return
		}
		if room.Status != model.RoomMatched || room.MatchID == "" || !room.Contains(userID) {
			return
		}
		match, ok, err := l.matches.Get(context.Background(), room.MatchID)
		if err != nil || !ok {
			l.logger.Warn("房间已配对但读取对局失败", "room_id", room.ID, "match_id", room.MatchID, "error", err)
			return
		}
		deliver(room.MatchID, room.ID, match)
	}
}

// pollActive 订阅建立后的一次性补查
func (l *MatchListener) pollActive(ctx context.Context, userID string, deliver func(matchID, roomID string, match *model.Match)) {
	matchID, err := l.matches.ActiveMatchID(ctx, userID)
	if err != nil {
		l.logger.Warn("补查未完结对局失败", "user_id", userID, "error", err)
		return
	}
	if matchID == "" {
		return
	}
	match, ok, err := l.matches.Get(ctx, matchID)
	if err != nil || !ok {
		return
	}
	roomID, err := l.rooms.RoomIDForMatch(ctx, matchID)
	if err != nil {
		roomID = ""
	}
	deliver(matchID, roomID, match)
}
