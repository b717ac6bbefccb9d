package main

import (
	"fmt"
)

type Role string

const (
	RoleFirst  Role = "first"
	RoleSecond Role = "second"
)

var roles = [2]Role{RoleFirst, RoleSecond}

func (r Role) index() int {
	if r == RoleSecond {
		return 1
	}
	return 0
}

func (r Role) partner() Role {
	if r == RoleSecond {
		return RoleFirst
	}
	return RoleSecond
}

func (r Role) valid() bool {
	return r == RoleFirst || r == RoleSecond
}

// Goal indices are stable once assigned; new goals are appended.
type Goal struct {
	Index int      `json:"index"`
	Pos   Position `json:"pos"`
}

// TrialDesign is what the design source hands over for one trial.
type TrialDesign struct {
	MapID       string            `json:"mapId"`
	FirstStart  Position          `json:"firstStart"`
	SecondStart Position          `json:"secondStart"`
	Goals       []Position        `json:"goals"`
	Walls       []Position        `json:"walls,omitempty"`
	Condition   DistanceCondition `json:"distanceCondition"`
}

type actorState struct {
	pos        Position
	trajectory []Position
	reached    int
}

// GameState is the authoritative per-trial state of a session. Only the owning session's
// loop touches it.
type GameState struct {
	trialIndex        int
	grid              Grid
	actors            [2]actorState
	goals             []Goal
	moveCount         int
	conflictResolved  bool
	condition         DistanceCondition
	mapID             string
	injected          *Goal
	injectionFailures int // distinct conflicted goals whose injection failed
}

type moveResult struct {
	Role        Role      `json:"role"`
	Requested   Direction `json:"requested"`
	Executed    Direction `json:"executed"`
	From        Position  `json:"from"`
	To          Position  `json:"to"`
	ReachedGoal int       `json:"reachedGoal"`
}

func newGameState(design TrialDesign, gridSize, trialIndex int) (*GameState, error) {
	grid, err := newGrid(gridSize, design.Walls)
	if err != nil {
		return nil, fmt.Errorf("design %s: %w", design.MapID, err)
	}
	if len(design.Goals) == 0 {
		return nil, fmt.Errorf("design %s: no goals", design.MapID)
	}
	for _, start := range []Position{design.FirstStart, design.SecondStart} {
		if !grid.walkable(start) {
			return nil, fmt.Errorf("design %s: start %s not walkable", design.MapID, start)
		}
	}
	gs := &GameState{
		trialIndex: trialIndex,
		grid:       grid,
		condition:  design.Condition,
		mapID:      design.MapID,
	}
	if gs.condition == "" {
		gs.condition = CondNone
	}
	for i, p := range design.Goals {
		if !grid.walkable(p) {
			return nil, fmt.Errorf("design %s: goal %s not walkable", design.MapID, p)
		}
		gs.goals = append(gs.goals, Goal{Index: i, Pos: p})
	}
	starts := [2]Position{design.FirstStart, design.SecondStart}
	for i := range gs.actors {
		gs.actors[i] = actorState{pos: starts[i], trajectory: []Position{starts[i]}, reached: noIntent}
	}
	return gs, nil
}

// applyMove validates and applies one move. A latched actor is rejected without any
// mutation; a blocked move still counts as a move and leaves the actor in place.
func (gs *GameState) applyMove(role Role, want Direction) (moveResult, error) {
	a := &gs.actors[role.index()]
	if a.reached != noIntent {
		return moveResult{}, fmt.Errorf("%w: %s on goal %d", ErrGoalLatched, role, a.reached)
	}
	executed, next := resolveMove(gs.grid, a.pos, want)
	res := moveResult{Role: role, Requested: want, Executed: executed, From: a.pos, To: next, ReachedGoal: noIntent}
	a.pos = next
	a.trajectory = append(a.trajectory, next)
	gs.moveCount++
	if idx := gs.goalAt(next); idx != noIntent {
		a.reached = idx
		res.ReachedGoal = idx
	}
	return res, nil
}

func (gs *GameState) goalAt(p Position) int {
	for _, g := range gs.goals {
		if g.Pos == p {
			return g.Index
		}
	}
	return noIntent
}

// finished evaluates the trial-end predicate.
func (gs *GameState) finished(maxMoves int) (TrialOutcome, bool) {
	first, second := gs.actors[0].reached, gs.actors[1].reached
	out := TrialOutcome{
		TrialIndex:        gs.trialIndex,
		StepCountAtEnd:    gs.moveCount,
		FirstGoal:         first,
		SecondGoal:        second,
		GoalInjected:      gs.injected != nil,
		InjectionFailures: gs.injectionFailures,
		Condition:         gs.condition,
	}
	if first != noIntent && second != noIntent {
		out.BothReachedSameGoal = first == second
		return out, true
	}
	if maxMoves > 0 && gs.moveCount > maxMoves {
		out.TimedOut = true
		return out, true
	}
	return out, false
}

// timeoutOutcome ends the trial regardless of goal state.
func (gs *GameState) timeoutOutcome() TrialOutcome {
	out, _ := gs.finished(0)
	if gs.actors[0].reached == noIntent || gs.actors[1].reached == noIntent {
		out.TimedOut = true
		out.BothReachedSameGoal = false
	}
	return out
}

func (gs *GameState) intentOf(role Role, window int) int {
	a := gs.actors[role.index()]
	if a.reached != noIntent {
		return a.reached
	}
	return inferIntent(a.trajectory, gs.goals, window)
}

// conflict reports the goal both actors converge on, if any and if no goal has been
// injected yet this trial.
func (gs *GameState) conflict(window int) (int, bool) {
	if gs.conflictResolved {
		return noIntent, false
	}
	first := gs.intentOf(RoleFirst, window)
	second := gs.intentOf(RoleSecond, window)
	if first == noIntent || first != second {
		return noIntent, false
	}
	return first, true
}

func (gs *GameState) injectGoal(p Position) Goal {
	g := Goal{Index: len(gs.goals), Pos: p}
	gs.goals = append(gs.goals, g)
	gs.conflictResolved = true
	gs.injected = &g
	return g
}

func (gs *GameState) position(role Role) Position {
	return gs.actors[role.index()].pos
}

type ActorView struct {
	Position    Position `json:"position"`
	ReachedGoal int      `json:"reachedGoal"`
}

// Snapshot is the immutable view broadcast to both actors.
type Snapshot struct {
	TrialIndex              int               `json:"trialIndex"`
	MapID                   string            `json:"mapId"`
	Grid                    Grid              `json:"grid"`
	First                   ActorView         `json:"first"`
	Second                  ActorView         `json:"second"`
	Goals                   []Goal            `json:"goals"`
	MoveCount               int               `json:"moveCount"`
	ConflictAlreadyResolved bool              `json:"conflictAlreadyResolved"`
	DistanceCondition       DistanceCondition `json:"distanceCondition"`
}

func (gs *GameState) snapshot() Snapshot {
	return Snapshot{
		TrialIndex:              gs.trialIndex,
		MapID:                   gs.mapID,
		Grid:                    gs.grid,
		First:                   ActorView{Position: gs.actors[0].pos, ReachedGoal: gs.actors[0].reached},
		Second:                  ActorView{Position: gs.actors[1].pos, ReachedGoal: gs.actors[1].reached},
		Goals:                   append([]Goal(nil), gs.goals...),
		MoveCount:               gs.moveCount,
		ConflictAlreadyResolved: gs.conflictResolved,
		DistanceCondition:       gs.condition,
	}
}
