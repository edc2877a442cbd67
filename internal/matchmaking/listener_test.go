package matchmaking

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func newListenerStack(t *testing.T, policy Policy) (*testStack, *MatchListener) {
	t.Helper()
	s := newTestStack(t, policy)
	listener := NewMatchListener(s.rdb, s.rooms, s.matches, s.queue, policy, slog.Default())
	return s, listener
}

func TestListenForMatch_NotifiesOnceWhenPaired(t *testing.T) {
	policy := DefaultPolicy()
	policy.RoomDeleteGrace = 50 * time.Millisecond
	s, listener := newListenerStack(t, policy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	joined, err := s.queue.JoinQueue(ctx, "alice")
	if err != nil {
		t.Fatalf("alice join: %v", err)
	}

	found, unsubscribe, err := listener.ListenForMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer unsubscribe()

	paired, err := s.queue.JoinQueue(ctx, "bob")
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}

	var notification MatchFound
	select {
	case notification = <-found:
	case <-time.After(2 * time.Second):
		t.Fatal("no match notification received")
	}
	if notification.MatchID != paired.MatchID {
		t.Fatalf("wrong match id: got %s want %s", notification.MatchID, paired.MatchID)
	}
	if notification.Match == nil || !notification.Match.IsParticipant("alice") {
		t.Fatalf("notification must carry the match doc: %+v", notification)
	}

	// 对局创建事件和房间翻转事件都会到达，但只允许通知一次
	select {
	case extra := <-found:
		t.Fatalf("duplicate notification: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}

	// 宽限期过后房间被收走
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := s.rooms.Get(ctx, joined.RoomID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("room not cleaned up after grace period")
		}
		time.Sleep(20 * time.Millisecond)
	}

	unsubscribe()
	unsubscribe() // 幂等
}

func TestListenForMatch_BackfillsExistingMatch(t *testing.T) {
	s, listener := newListenerStack(t, DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 配对发生在订阅建立之前
	matchID := pairUsers(t, s, "alice", "bob")

	found, unsubscribe, err := listener.ListenForMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer unsubscribe()

	select {
	case notification := <-found:
		if notification.MatchID != matchID {
			t.Fatalf("wrong match id: got %s want %s", notification.MatchID, matchID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("startup poll must surface the existing match")
	}
}

func TestListenForMatch_IgnoresOtherUsersMatches(t *testing.T) {
	s, listener := newListenerStack(t, DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	found, unsubscribe, err := listener.ListenForMatch(ctx, "carol")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer unsubscribe()

	pairUsers(t, s, "alice", "bob")

	select {
	case notification := <-found:
		t.Fatalf("carol must not be notified about others' matches: %+v", notification)
	case <-time.After(300 * time.Millisecond):
	}
}
