package common

const (
	// 文档键前缀 (Redis 即文档库: 每个文档一个 JSON 键)
	RoomKeyPrefix  = "mm:room:"
	MatchKeyPrefix = "mm:match:"

	// 索引键
	WaitingRoomIndexKey      = "mm:rooms:waiting"  // ZSET: member=roomID, score=createdAt(ms)
	UserRoomKeyPrefix        = "mm:user:room:"     // string: userID -> roomID
	UserMatchesKeyPrefix     = "mm:user:matches:"  // ZSET: member=matchID, score=startTime(ms)
	UserActiveMatchKeyPrefix = "mm:user:active:"   // string: userID -> matchID
	MatchRoomKeyPrefix       = "mm:matchroom:"     // string: matchID -> roomID (不与 mm:match:* 文档键空间重叠)

	// QueueLockKey 全局锁文档。内容仅供排障；每个入队事务都 WATCH 并重写它，
	// 用乐观冲突把并发配对决策串行化。
	QueueLockKey = "mm:queue:lock"

	// EventsChannel 变更事件 Pub/Sub 频道 (提交成功后发布)
	EventsChannel = "mm:events"

	// 集合名 (变更事件里用)
	CollectionRooms   = "rooms"
	CollectionMatches = "matches"

	// RateLimitKeyPrefix 入队限流固定窗口计数键
	RateLimitKeyPrefix = "mm:rate_limit:"
)
