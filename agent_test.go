package main

import "testing"

func agentSnapshot(t *testing.T, design TrialDesign) Snapshot {
	t.Helper()
	gs, err := newGameState(design, 15, 0)
	if err != nil {
		t.Fatalf("newGameState: %v", err)
	}
	return gs.snapshot()
}

func TestGreedyAgentHeadsForJointGoal(t *testing.T) {
	snap := agentSnapshot(t, TrialDesign{
		MapID:       "agent",
		FirstStart:  Position{7, 7},
		SecondStart: Position{7, 10},
		Goals:       []Position{{7, 12}, {0, 0}},
	})
	dir, ok := greedyAgent{}.NextMove(snap, RoleFirst)
	if !ok || dir != DirRight {
		t.Fatalf("NextMove = %s %t, want right", dir, ok)
	}
}

func TestGreedyAgentStepsAroundWall(t *testing.T) {
	snap := agentSnapshot(t, TrialDesign{
		MapID:       "wall",
		FirstStart:  Position{7, 7},
		SecondStart: Position{0, 0},
		Goals:       []Position{{7, 10}},
		Walls:       []Position{{7, 8}},
	})
	dir, ok := greedyAgent{}.NextMove(snap, RoleFirst)
	if !ok || dir == DirRight || dir == DirStay {
		t.Fatalf("NextMove = %s %t, want a detour", dir, ok)
	}
}

func TestGreedyAgentIdleOnceLatched(t *testing.T) {
	snap := agentSnapshot(t, TrialDesign{
		MapID:       "done",
		FirstStart:  Position{7, 7},
		SecondStart: Position{0, 0},
		Goals:       []Position{{5, 5}},
	})
	snap.Second.ReachedGoal = 0
	if _, ok := (greedyAgent{}).NextMove(snap, RoleSecond); ok {
		t.Fatalf("latched agent still moving")
	}
}
