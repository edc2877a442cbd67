package matchmaking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

type fakeStatsPersistence struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeStatsPersistence) ApplyMatchResult(ctx context.Context, winnerID, loserID string, points int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("database is down")
	}
	f.calls++
	return nil
}

func (f *fakeStatsPersistence) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newStatsStack(t *testing.T) (*testStack, *RankStatsUpdater, *fakeStatsPersistence, string) {
	t.Helper()
	s := newTestStack(t, DefaultPolicy())
	sink := &recordSink{}
	engine := NewMatchEngine(s.rdb, s.docs, s.matches, sink, s.policy, slog.Default())

	matchID := pairUsers(t, s, "alice", "bob")
	if _, err := engine.ForfeitMatch(context.Background(), "bob", matchID); err != nil {
		t.Fatalf("forfeit: %v", err)
	}

	persistence := &fakeStatsPersistence{}
	updater := NewRankStatsUpdater(s.docs, s.matches, persistence, s.policy, slog.Default())
	return s, updater, persistence, matchID
}

func TestAwardMatchPoints_ExactlyOnceUnderConcurrency(t *testing.T) {
	_, updater, persistence, matchID := newStatsStack(t)
	ctx := context.Background()
	const callers = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	awarded, alreadyProcessed := 0, 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := updater.AwardMatchPoints(ctx, matchID, "alice", "bob")
			if err != nil {
				t.Errorf("AwardMatchPoints: %v", err)
				return
			}
			mu.Lock()
			if result.Success {
				awarded++
			}
			if result.AlreadyProcessed {
				alreadyProcessed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if awarded != 1 {
		t.Fatalf("expected exactly one successful award, got %d", awarded)
	}
	if alreadyProcessed != callers-1 {
		t.Fatalf("expected %d already-processed results, got %d", callers-1, alreadyProcessed)
	}
	if persistence.callCount() != 1 {
		t.Fatalf("persistence must be hit exactly once, got %d", persistence.callCount())
	}
}

func TestAwardMatchPoints_RepeatedCallIsNoOp(t *testing.T) {
	_, updater, persistence, matchID := newStatsStack(t)
	ctx := context.Background()

	first, err := updater.AwardMatchPoints(ctx, matchID, "alice", "bob")
	if err != nil {
		t.Fatalf("first award: %v", err)
	}
	if !first.Success {
		t.Fatal("first award must succeed")
	}

	second, err := updater.AwardMatchPoints(ctx, matchID, "alice", "bob")
	if err != nil {
		t.Fatalf("second award: %v", err)
	}
	if !second.AlreadyProcessed || second.Success {
		t.Fatalf("second award must be a no-op, got %+v", second)
	}
	if persistence.callCount() != 1 {
		t.Fatalf("persistence hit %d times, want 1", persistence.callCount())
	}
}

func TestAwardMatchPoints_UnclaimsOnPersistFailure(t *testing.T) {
	s, updater, persistence, matchID := newStatsStack(t)
	ctx := context.Background()

	persistence.fail = true
	if _, err := updater.AwardMatchPoints(ctx, matchID, "alice", "bob"); err == nil {
		t.Fatal("expected error when persistence fails")
	}

	// 标记被还回去，重试路径还有机会
	match, ok, err := s.matches.Get(ctx, matchID)
	if err != nil || !ok {
		t.Fatalf("match read: ok=%v err=%v", ok, err)
	}
	if match.PointsAwarded {
		t.Fatal("pointsAwarded must be rolled back after persist failure")
	}

	persistence.fail = false
	retry, err := updater.AwardMatchPoints(ctx, matchID, "alice", "bob")
	if err != nil {
		t.Fatalf("retry award: %v", err)
	}
	if !retry.Success {
		t.Fatalf("retry must succeed, got %+v", retry)
	}
	if persistence.callCount() != 1 {
		t.Fatalf("persistence hit %d times, want 1", persistence.callCount())
	}
}

func TestAwardMatchPoints_RejectsUnfinishedMatch(t *testing.T) {
	s := newTestStack(t, DefaultPolicy())
	matchID := pairUsers(t, s, "alice", "bob")

	persistence := &fakeStatsPersistence{}
	updater := NewRankStatsUpdater(s.docs, s.matches, persistence, s.policy, slog.Default())

	if _, err := updater.AwardMatchPoints(context.Background(), matchID, "alice", "bob"); err == nil {
		t.Fatal("award on unfinished match must fail")
	}
	if persistence.callCount() != 0 {
		t.Fatalf("persistence must not be hit, got %d", persistence.callCount())
	}
}

func TestAwardMatchPoints_MissingMatch(t *testing.T) {
	s := newTestStack(t, DefaultPolicy())
	persistence := &fakeStatsPersistence{}
	updater := NewRankStatsUpdater(s.docs, s.matches, persistence, s.policy, slog.Default())

	_, err := updater.AwardMatchPoints(context.Background(), "no-such-match", "alice", "bob")
	if !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}

	// 点数发放完后对局文档被清理也不该崩: 已处理即幂等成功
	if _, err := updater.AwardMatchPoints(context.Background(), "no-such-match", "alice", "bob"); err == nil {
		t.Fatal("missing match must keep failing, reconciliation handles it")
	}
}
