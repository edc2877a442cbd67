package sweeper

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Raunak1404/Codosphere-sub001/internal/matchmaking"
	"github.com/Raunak1404/Codosphere-sub001/internal/model"
	"github.com/Raunak1404/Codosphere-sub001/internal/repository"
	"github.com/alicebob/miniredis/v2"
)

type fixedCatalog struct{}

func (fixedCatalog) RandomProblemID(ctx context.Context) (int, error) { return 1, nil }

func seedStack(t *testing.T, policy matchmaking.Policy) (*matchmaking.QueueManager, *repository.RoomStore, *repository.DocStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := repository.NewRedisClient(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	docs := repository.NewDocStore(rdb, slog.Default())
	rooms := repository.NewRoomStore(rdb, docs)
	matches := repository.NewMatchStore(rdb, docs)
	queue := matchmaking.NewQueueManager(docs, rooms, matches, fixedCatalog{}, policy, slog.Default())
	return queue, rooms, docs
}

func seedExpiredRoom(t *testing.T, docs *repository.DocStore, rooms *repository.RoomStore, roomID string, age time.Duration) {
	t.Helper()
	room := &model.WaitingRoom{
		ID:        roomID,
		Players:   []string{"alice"},
		Status:    model.RoomWaiting,
		CreatedAt: time.Now().Add(-age).UnixMilli(),
	}
	err := docs.RunTxn(context.Background(), nil, func(tx *repository.Txn) error {
		return rooms.TxnPut(tx, room, repository.ChangeCreated)
	})
	if err != nil {
		t.Fatalf("seed room: %v", err)
	}
}

func TestRunSweepCycle_DeletesExpiredRooms(t *testing.T) {
	policy := matchmaking.DefaultPolicy()
	policy.RoomTTL = 100 * time.Millisecond
	queue, rooms, docs := seedStack(t, policy)
	ctx := context.Background()

	seedExpiredRoom(t, docs, rooms, "room-stale", time.Minute)

	cfg := Config{Enabled: true, Interval: time.Second, DryRun: false}
	runSweepCycle(ctx, cfg, queue, rooms, policy, slog.Default())

	if _, ok, _ := rooms.Get(ctx, "room-stale"); ok {
		t.Fatal("expired room must be deleted by the sweep")
	}
}

func TestRunSweepCycle_DryRunKeepsRooms(t *testing.T) {
	policy := matchmaking.DefaultPolicy()
	policy.RoomTTL = 100 * time.Millisecond
	queue, rooms, docs := seedStack(t, policy)
	ctx := context.Background()

	seedExpiredRoom(t, docs, rooms, "room-stale", time.Minute)

	cfg := Config{Enabled: true, Interval: time.Second, DryRun: true}
	runSweepCycle(ctx, cfg, queue, rooms, policy, slog.Default())

	if _, ok, _ := rooms.Get(ctx, "room-stale"); !ok {
		t.Fatal("dry-run sweep must not delete rooms")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SWEEPER_ENABLED", "false")
	t.Setenv("SWEEPER_INTERVAL_SEC", "7")
	t.Setenv("SWEEPER_DRY_RUN", "yes")

	cfg := LoadConfig()
	if cfg.Enabled {
		t.Fatal("expected disabled")
	}
	if cfg.Interval != 7*time.Second {
		t.Fatalf("interval: got %s", cfg.Interval)
	}
	if !cfg.DryRun {
		t.Fatal("expected dry run")
	}
}
