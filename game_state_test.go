package main

import (
	"errors"
	"testing"
)

func lineDesign() TrialDesign {
	return TrialDesign{
		MapID:       "test",
		FirstStart:  Position{7, 2},
		SecondStart: Position{2, 7},
		Goals:       []Position{{7, 7}, {0, 0}},
	}
}

func TestApplyMoveRejectsLatchedActorWithoutMutation(t *testing.T) {
	gs, err := newGameState(TrialDesign{
		MapID:       "latched",
		FirstStart:  Position{0, 0},
		SecondStart: Position{4, 4},
		Goals:       []Position{{0, 1}, {4, 0}},
	}, 5, 0)
	if err != nil {
		t.Fatalf("newGameState error: %v", err)
	}
	res, err := gs.applyMove(RoleFirst, DirRight)
	if err != nil || res.ReachedGoal != 0 {
		t.Fatalf("first move = %+v, %v; want reach goal 0", res, err)
	}

	before := gs.snapshot()
	beforeTraj := len(gs.actors[0].trajectory)
	_, err = gs.applyMove(RoleFirst, DirDown)
	if !errors.Is(err, ErrGoalLatched) {
		t.Fatalf("move after latch err=%v, want ErrGoalLatched", err)
	}
	after := gs.snapshot()
	if after.MoveCount != before.MoveCount || after.First != before.First || len(gs.actors[0].trajectory) != beforeTraj {
		t.Fatalf("rejected move mutated state: before=%+v after=%+v", before, after)
	}
}

func TestBlockedMoveCountsAsStay(t *testing.T) {
	gs, _ := newGameState(lineDesign(), 15, 0)
	gs.actors[0].pos = Position{0, 14}
	res, err := gs.applyMove(RoleFirst, DirUp)
	if err != nil {
		t.Fatalf("applyMove error: %v", err)
	}
	if res.Executed != DirStay || res.To != (Position{0, 14}) {
		t.Fatalf("blocked move = %+v, want stay", res)
	}
	if gs.moveCount != 1 {
		t.Fatalf("moveCount = %d, want 1", gs.moveCount)
	}
}

func TestFinishedSameAndDifferentGoals(t *testing.T) {
	gs, _ := newGameState(lineDesign(), 15, 3)
	gs.actors[0].reached = 1
	if _, done := gs.finished(50); done {
		t.Fatalf("trial finished with one actor still walking")
	}
	gs.actors[1].reached = 1
	out, done := gs.finished(50)
	if !done || !out.BothReachedSameGoal || out.TrialIndex != 3 {
		t.Fatalf("finished = %+v %t, want same-goal success", out, done)
	}
	gs.actors[1].reached = 0
	out, _ = gs.finished(50)
	if out.BothReachedSameGoal {
		t.Fatalf("different goals reported as same")
	}
}

func TestFinishedMoveCeiling(t *testing.T) {
	gs, _ := newGameState(lineDesign(), 15, 0)
	gs.moveCount = 3
	if _, done := gs.finished(3); done {
		t.Fatalf("trial ended at the move ceiling, want after it")
	}
	gs.moveCount = 4
	out, done := gs.finished(3)
	if !done || !out.TimedOut {
		t.Fatalf("finished = %+v %t, want timeout", out, done)
	}
}

func TestConflictAndSingleInjection(t *testing.T) {
	gs, _ := newGameState(lineDesign(), 15, 0)
	gs.condition = CondEqual
	if _, ok := gs.conflict(1); ok {
		t.Fatalf("conflict before any move")
	}
	mustMove(t, gs, RoleFirst, DirRight)
	mustMove(t, gs, RoleSecond, DirDown)
	idx, ok := gs.conflict(1)
	if !ok || idx != 0 {
		t.Fatalf("conflict = %d %t, want goal 0", idx, ok)
	}
	g := gs.injectGoal(Position{3, 3})
	if g.Index != 2 || len(gs.goals) != 3 {
		t.Fatalf("injected goal = %+v, goals=%d", g, len(gs.goals))
	}
	if _, ok := gs.conflict(1); ok {
		t.Fatalf("conflict reported after injection latch")
	}
}

func TestNewGameStateValidatesDesign(t *testing.T) {
	d := lineDesign()
	d.Walls = []Position{d.FirstStart}
	if _, err := newGameState(d, 15, 0); err == nil {
		t.Fatalf("expected error for start on a wall")
	}
	d = lineDesign()
	d.Goals = nil
	if _, err := newGameState(d, 15, 0); err == nil {
		t.Fatalf("expected error for design without goals")
	}
}

func mustMove(t *testing.T, gs *GameState, role Role, dir Direction) moveResult {
	t.Helper()
	res, err := gs.applyMove(role, dir)
	if err != nil {
		t.Fatalf("applyMove(%s, %s) error: %v", role, dir, err)
	}
	return res
}
