package model

// RoomStatus 等待房间状态
type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomMatched RoomStatus = "matched"
	RoomExpired RoomStatus = "expired"
)

// MatchStatus 对局状态。completed 为终态，不再转移。
type MatchStatus string

const (
	MatchStatusMatched    MatchStatus = "matched"     // 已创建，无提交
	MatchStatusInProgress MatchStatus = "in_progress" // 恰有一方提交
	MatchStatusCompleted  MatchStatus = "completed"   // 双方提交完毕，或一方弃权
)

// WaitingRoom 等待房间: 1 人等待配对，配成后变 matched 并指向对局。
// 不变式: status=waiting 时 players 恰好 1 人；waiting->matched 与对局创建在同一事务里发生。
type WaitingRoom struct {
	ID        string     `json:"id"`
	Players   []string   `json:"players"`
	Status    RoomStatus `json:"status"`
	CreatedAt int64      `json:"created_at"` // epoch ms
	ProblemID int        `json:"problem_id,omitempty"`
	MatchID   string     `json:"match_id,omitempty"`
}

// Contains 判断用户是否在房间里
func (r *WaitingRoom) Contains(userID string) bool {
	for _, p := range r.Players {
		if p == userID {
			return true
		}
	}
	return false
}

// Submission 一次对局内的提交 (嵌在 Match.Submissions 里)
type Submission struct {
	Code            string `json:"code"`
	Language        string `json:"language"`
	SubmissionTime  int64  `json:"submission_time"` // epoch ms
	TestCasesPassed int    `json:"test_cases_passed"`
	TotalTestCases  int    `json:"total_test_cases"`
}

// Match 1v1 对局文档。
// 不变式: winner 已设置 <=> status=completed；pointsAwarded 只能 false->true 一次。
type Match struct {
	ID            string                `json:"id"`
	Player1       string                `json:"player1"`
	Player2       string                `json:"player2"`
	ProblemID     int                   `json:"problem_id"`
	StartTime     int64                 `json:"start_time"` // epoch ms
	EndTime       int64                 `json:"end_time,omitempty"`
	Status        MatchStatus           `json:"status"`
	Submissions   map[string]Submission `json:"submissions"`
	Winner        string                `json:"winner,omitempty"`
	ForfeitedBy   string                `json:"forfeited_by,omitempty"`
	PointsAwarded bool                  `json:"points_awarded"`
}

// IsParticipant 判断用户是否是对局双方之一
func (m *Match) IsParticipant(userID string) bool {
	return userID == m.Player1 || userID == m.Player2
}

// Opponent 返回对手的用户 ID；userID 不是参赛者时返回空串。
func (m *Match) Opponent(userID string) string {
	switch userID {
	case m.Player1:
		return m.Player2
	case m.Player2:
		return m.Player1
	default:
		return ""
	}
}

// BothSubmitted 双方是否都已提交
func (m *Match) BothSubmitted() bool {
	_, ok1 := m.Submissions[m.Player1]
	_, ok2 := m.Submissions[m.Player2]
	return ok1 && ok2
}

// QueueLock 锁文档内容。字段仅供排障，读写本身才是互斥机制。
type QueueLock struct {
	LastUpdated int64  `json:"last_updated"`
	LastUser    string `json:"last_user"`
}

// UserStats 排位统计 (PostgreSQL user_stats 表)
type UserStats struct {
	UserID      string `json:"user_id" db:"user_id"`
	RankPoints  int    `json:"rank_points" db:"rank_points"`
	RankTitle   string `json:"rank_title" db:"rank_title"`
	Wins        int    `json:"wins" db:"wins"`
	Losses      int    `json:"losses" db:"losses"`
	GamesPlayed int    `json:"games_played" db:"games_played"`
}

// 段位阈值 (按总分)
const (
	RankTitleBronze   = "Bronze"
	RankTitleSilver   = "Silver"
	RankTitleGold     = "Gold"
	RankTitlePlatinum = "Platinum"
	RankTitleDiamond  = "Diamond"
)

// RankTitleFor 由总分推算段位
func RankTitleFor(points int) string {
	switch {
	case points >= 100:
		return RankTitleDiamond
	case points >= 50:
		return RankTitlePlatinum
	case points >= 25:
		return RankTitleGold
	case points >= 10:
		return RankTitleSilver
	default:
		return RankTitleBronze
	}
}
