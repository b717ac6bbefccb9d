package main

// MoveProducer plays an actor automatically. It sees the same Snapshot a human client
// does and its moves go through the same validated path.
type MoveProducer interface {
	NextMove(snap Snapshot, self Role) (Direction, bool)
}

// greedyAgent heads for the goal with the lowest joint distance to both actors and chases
// it along the longer axis first.
type greedyAgent struct{}

func (greedyAgent) NextMove(snap Snapshot, self Role) (Direction, bool) {
	me, other := snap.First, snap.Second
	if self == RoleSecond {
		me, other = snap.Second, snap.First
	}
	if me.ReachedGoal != noIntent || len(snap.Goals) == 0 {
		return "", false
	}

	target := snap.Goals[0].Pos
	best, bestOwn := -1, -1
	for _, g := range snap.Goals {
		own := manhattan(me.Position, g.Pos)
		joint := own + manhattan(other.Position, g.Pos)
		if best == -1 || joint < best || (joint == best && own < bestOwn) {
			best, bestOwn, target = joint, own, g.Pos
		}
	}

	dr := target.Row - me.Position.Row
	dc := target.Col - me.Position.Col
	var candidates []Direction
	vertical := DirDown
	if dr < 0 {
		vertical = DirUp
	}
	horizontal := DirRight
	if dc < 0 {
		horizontal = DirLeft
	}
	if absInt(dr) >= absInt(dc) {
		if dr != 0 {
			candidates = append(candidates, vertical)
		}
		if dc != 0 {
			candidates = append(candidates, horizontal)
		}
	} else {
		candidates = append(candidates, horizontal)
		if dr != 0 {
			candidates = append(candidates, vertical)
		}
	}
	for _, d := range candidates {
		if snap.Grid.walkable(me.Position.step(d)) {
			return d, true
		}
	}
	for _, d := range []Direction{DirUp, DirDown, DirLeft, DirRight} {
		if snap.Grid.walkable(me.Position.step(d)) {
			return d, true
		}
	}
	return "", false
}
