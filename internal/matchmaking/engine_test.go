package matchmaking

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Raunak1404/Codosphere-sub001/internal/model"
)

type recordSink struct {
	mu    sync.Mutex
	tasks []Task
}

func (s *recordSink) Enqueue(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

func (s *recordSink) byKind(kind string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, task := range s.tasks {
		if task.Kind == kind {
			out = append(out, task)
		}
	}
	return out
}

func newEngineStack(t *testing.T, policy Policy) (*testStack, *MatchEngine, *recordSink) {
	t.Helper()
	s := newTestStack(t, policy)
	sink := &recordSink{}
	engine := NewMatchEngine(s.rdb, s.docs, s.matches, sink, policy, slog.Default())
	return s, engine, sink
}

func pairUsers(t *testing.T, s *testStack, p1, p2 string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := s.queue.JoinQueue(ctx, p1); err != nil {
		t.Fatalf("%s join: %v", p1, err)
	}
	result, err := s.queue.JoinQueue(ctx, p2)
	if err != nil {
		t.Fatalf("%s join: %v", p2, err)
	}
	if result.Outcome != OutcomeMatched {
		t.Fatalf("pairing failed: %+v", result)
	}
	return result.MatchID
}

func TestSubmitSolution_BothSubmissionsCompleteMatch(t *testing.T) {
	s, engine, sink := newEngineStack(t, DefaultPolicy())
	ctx := context.Background()
	matchID := pairUsers(t, s, "alice", "bob")

	first, err := engine.SubmitSolution(ctx, "alice", matchID, model.Submission{
		Code: "print(1)", Language: "python", TestCasesPassed: 10, TotalTestCases: 10,
	})
	if err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if first.Match.Status != model.MatchStatusInProgress {
		t.Fatalf("expected in_progress after first submission, got %s", first.Match.Status)
	}
	if first.Match.Winner != "" {
		t.Fatalf("no winner before completion, got %q", first.Match.Winner)
	}

	second, err := engine.SubmitSolution(ctx, "bob", matchID, model.Submission{
		Code: "print(2)", Language: "python", TestCasesPassed: 7, TotalTestCases: 10,
	})
	if err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if second.Match.Status != model.MatchStatusCompleted {
		t.Fatalf("expected completed, got %s", second.Match.Status)
	}
	if second.Match.Winner != "alice" {
		t.Fatalf("expected alice to win on more passes, got %q", second.Match.Winner)
	}
	if second.Match.EndTime == 0 {
		t.Fatal("completion must stamp endTime")
	}

	awards := sink.byKind(TaskAwardStats)
	if len(awards) != 1 {
		t.Fatalf("expected exactly one award task, got %d", len(awards))
	}
	if awards[0].WinnerID != "alice" || awards[0].LoserID != "bob" || awards[0].MatchID != matchID {
		t.Fatalf("unexpected award task: %+v", awards[0])
	}
	if cleanups := sink.byKind(TaskRoomCleanup); len(cleanups) != 1 {
		t.Fatalf("expected exactly one cleanup task, got %d", len(cleanups))
	}

	// 完结后双方 active 映射被摘掉
	for _, uid := range []string{"alice", "bob"} {
		active, err := s.matches.ActiveMatchID(ctx, uid)
		if err != nil {
			t.Fatalf("ActiveMatchID(%s): %v", uid, err)
		}
		if active != "" {
			t.Fatalf("active mapping for %s should be cleared, got %q", uid, active)
		}
	}
}

func TestSubmitSolution_DuplicateIsIgnored(t *testing.T) {
	s, engine, _ := newEngineStack(t, DefaultPolicy())
	ctx := context.Background()
	matchID := pairUsers(t, s, "alice", "bob")

	if _, err := engine.SubmitSolution(ctx, "alice", matchID, model.Submission{
		Code: "v1", Language: "go", TestCasesPassed: 5, TotalTestCases: 10,
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	dup, err := engine.SubmitSolution(ctx, "alice", matchID, model.Submission{
		Code: "v2", Language: "go", TestCasesPassed: 10, TotalTestCases: 10,
	})
	if err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	if !dup.AlreadySubmitted {
		t.Fatal("duplicate submission must be flagged")
	}
	if dup.Match.Submissions["alice"].Code != "v1" {
		t.Fatalf("first submission must not be overwritten, got %q", dup.Match.Submissions["alice"].Code)
	}
}

func TestDecideWinner_DeterministicAcrossOrder(t *testing.T) {
	ctx := context.Background()

	subAlice := model.Submission{Code: "a", Language: "go", TestCasesPassed: 8, TotalTestCases: 10, SubmissionTime: 5000}
	subBob := model.Submission{Code: "b", Language: "go", TestCasesPassed: 8, TotalTestCases: 10, SubmissionTime: 4000}

	// 同样的两份提交，不管谁先落盘，胜者必须一致 (平分时先提交者胜)
	for name, order := range map[string][2]string{
		"alice_first": {"alice", "bob"},
		"bob_first":   {"bob", "alice"},
	} {
		s, engine, _ := newEngineStack(t, DefaultPolicy())
		matchID := pairUsers(t, s, "alice", "bob")

		subs := map[string]model.Submission{"alice": subAlice, "bob": subBob}
		var last *SubmitResult
		for _, uid := range order {
			result, err := engine.SubmitSolution(ctx, uid, matchID, subs[uid])
			if err != nil {
				t.Fatalf("%s: submit %s: %v", name, uid, err)
			}
			last = result
		}
		if last.Match.Winner != "bob" {
			t.Fatalf("%s: expected bob (earlier submission) to win, got %q", name, last.Match.Winner)
		}
	}
}

func TestDecideWinner_FullTieFallsBackToPlayer1(t *testing.T) {
	match := &model.Match{
		Player1: "alice",
		Player2: "bob",
		Submissions: map[string]model.Submission{
			"alice": {TestCasesPassed: 5, SubmissionTime: 1000},
			"bob":   {TestCasesPassed: 5, SubmissionTime: 1000},
		},
	}
	if winner := decideWinner(match); winner != "alice" {
		t.Fatalf("full tie must fall back to player1, got %q", winner)
	}
}

func TestForfeitMatch(t *testing.T) {
	s, engine, sink := newEngineStack(t, DefaultPolicy())
	ctx := context.Background()
	matchID := pairUsers(t, s, "alice", "bob")

	result, err := engine.ForfeitMatch(ctx, "bob", matchID)
	if err != nil {
		t.Fatalf("forfeit: %v", err)
	}
	if result.Match.Status != model.MatchStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Match.Status)
	}
	if result.Match.Winner != "alice" || result.Match.ForfeitedBy != "bob" {
		t.Fatalf("forfeit outcome wrong: winner=%s forfeitedBy=%s", result.Match.Winner, result.Match.ForfeitedBy)
	}

	again, err := engine.ForfeitMatch(ctx, "alice", matchID)
	if err != nil {
		t.Fatalf("second forfeit: %v", err)
	}
	if !again.AlreadyCompleted {
		t.Fatal("forfeit on completed match must be a no-op")
	}
	if again.Match.Winner != "alice" {
		t.Fatalf("winner must not change on repeated forfeit, got %q", again.Match.Winner)
	}

	if awards := sink.byKind(TaskAwardStats); len(awards) != 1 {
		t.Fatalf("expected exactly one award task, got %d", len(awards))
	}
}

func TestSubmitAfterCompletionReturnsFinalState(t *testing.T) {
	s, engine, _ := newEngineStack(t, DefaultPolicy())
	ctx := context.Background()
	matchID := pairUsers(t, s, "alice", "bob")

	if _, err := engine.ForfeitMatch(ctx, "bob", matchID); err != nil {
		t.Fatalf("forfeit: %v", err)
	}

	late, err := engine.SubmitSolution(ctx, "bob", matchID, model.Submission{
		Code: "late", Language: "go", TestCasesPassed: 10, TotalTestCases: 10,
	})
	if err != nil {
		t.Fatalf("late submit: %v", err)
	}
	if !late.AlreadySubmitted {
		t.Fatal("late submission must be flagged as no-op")
	}
	if late.Match.Winner != "alice" {
		t.Fatalf("completed match must not change, got winner %q", late.Match.Winner)
	}
}

func TestSubmitSolution_Errors(t *testing.T) {
	s, engine, _ := newEngineStack(t, DefaultPolicy())
	ctx := context.Background()

	if _, err := engine.SubmitSolution(ctx, "alice", "no-such-match", model.Submission{Code: "x", Language: "go"}); err != ErrMatchNotFound {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}

	matchID := pairUsers(t, s, "alice", "bob")
	if _, err := engine.SubmitSolution(ctx, "mallory", matchID, model.Submission{Code: "x", Language: "go"}); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := engine.ForfeitMatch(ctx, "mallory", matchID); err != ErrNotParticipant {
		t.Fatalf("forfeit: expected ErrNotParticipant, got %v", err)
	}
}

func TestRecentMatches(t *testing.T) {
	s, engine, _ := newEngineStack(t, DefaultPolicy())
	ctx := context.Background()
	matchID := pairUsers(t, s, "alice", "bob")

	// 未完结时不出现在历史里
	matches, err := engine.RecentMatches(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("RecentMatches: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("in-flight match must not appear in history, got %d", len(matches))
	}

	if _, err := engine.ForfeitMatch(ctx, "bob", matchID); err != nil {
		t.Fatalf("forfeit: %v", err)
	}

	matches, err = engine.RecentMatches(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("RecentMatches after completion: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != matchID {
		t.Fatalf("expected completed match in history, got %+v", matches)
	}
}

func TestSubscribeToMatch_DeliversUpdates(t *testing.T) {
	s, engine, _ := newEngineStack(t, DefaultPolicy())
	ctx := context.Background()
	matchID := pairUsers(t, s, "alice", "bob")

	updates, unsubscribe, err := engine.SubscribeToMatch(ctx, matchID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if _, err := engine.SubmitSolution(ctx, "alice", matchID, model.Submission{
		Code: "x", Language: "go", TestCasesPassed: 3, TotalTestCases: 10,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case match := <-updates:
		if match.ID != matchID || match.Status != model.MatchStatusInProgress {
			t.Fatalf("unexpected update: %+v", match)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update received after submission")
	}

	// 退订是幂等的
	unsubscribe()
	unsubscribe()
}
