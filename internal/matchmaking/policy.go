package matchmaking

import "time"

// 策略常量的默认值。阈值没有严格推导，只保证「足够大，
// 不会把进行中的对局误判成残留」；全部可由部署配置覆盖。
const (
	defaultRoomTTLSec        = 600 // 等待房间过期时间
	defaultStaleMatchSec     = 120 // 超过该时长的未完结对局视为残留
	defaultRoomScanLimit     = 10  // 入队事务一次最多扫描的等待房间数
	defaultRoomDeleteGraceMs = 3000
	defaultRankPointsPerWin  = 1
)

// Policy 配对策略常量
type Policy struct {
	RoomTTL          time.Duration
	StaleMatchAge    time.Duration
	RoomScanLimit    int
	RoomDeleteGrace  time.Duration
	RankPointsPerWin int
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() Policy {
	return Policy{
		RoomTTL:          defaultRoomTTLSec * time.Second,
		StaleMatchAge:    defaultStaleMatchSec * time.Second,
		RoomScanLimit:    defaultRoomScanLimit,
		RoomDeleteGrace:  defaultRoomDeleteGraceMs * time.Millisecond,
		RankPointsPerWin: defaultRankPointsPerWin,
	}
}

// LoadPolicy 读取策略常量 (环境变量覆盖默认值)
func LoadPolicy() Policy {
	return Policy{
		RoomTTL:          time.Duration(getEnvInt("MM_ROOM_TTL_SEC", defaultRoomTTLSec)) * time.Second,
		StaleMatchAge:    time.Duration(getEnvInt("MM_STALE_MATCH_SEC", defaultStaleMatchSec)) * time.Second,
		RoomScanLimit:    getEnvInt("MM_ROOM_SCAN_LIMIT", defaultRoomScanLimit),
		RoomDeleteGrace:  time.Duration(getEnvInt("MM_ROOM_DELETE_GRACE_MS", defaultRoomDeleteGraceMs)) * time.Millisecond,
		RankPointsPerWin: getEnvInt("MM_RANK_POINTS_PER_WIN", defaultRankPointsPerWin),
	}
}
