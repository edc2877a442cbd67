package matchmaking

import "errors"

var (
	// ErrMatchNotFound 引用的对局已不存在 (例如清理先行一步)。
	// 调用方应把它展示成「对局已结束」而不是当系统故障。
	ErrMatchNotFound = errors.New("match not found")

	// ErrNotParticipant 操作者不是对局双方之一。永远向上抛，不得吞掉。
	ErrNotParticipant = errors.New("user is not a participant of this match")
)
