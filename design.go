package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed designs/maps.json
var embeddedDesigns []byte

type SessionKind string

const (
	Kind2P2G SessionKind = "2P2G"
	Kind2P3G SessionKind = "2P3G"
)

func parseSessionKind(raw string) (SessionKind, error) {
	k := SessionKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch k {
	case Kind2P2G, Kind2P3G:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// injects reports whether trials of this kind may receive a third goal.
func (k SessionKind) injects() bool {
	return k == Kind2P3G
}

// DesignSource supplies initial positions, goals and the distance condition per trial.
type DesignSource interface {
	Design(sessionID string, kind SessionKind, trialIndex int) (TrialDesign, error)
}

type mapDesignSource struct {
	maps map[SessionKind][]TrialDesign
}

func loadEmbeddedDesigns(gridSize int) (*mapDesignSource, error) {
	return parseDesigns(embeddedDesigns, gridSize)
}

func parseDesigns(raw []byte, gridSize int) (*mapDesignSource, error) {
	var byKind map[SessionKind][]TrialDesign
	if err := json.Unmarshal(raw, &byKind); err != nil {
		return nil, fmt.Errorf("decode designs: %w", err)
	}
	for kind, list := range byKind {
		if _, err := parseSessionKind(string(kind)); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("designs for %s are empty", kind)
		}
		for _, d := range list {
			if _, err := newGameState(d, gridSize, 0); err != nil {
				return nil, fmt.Errorf("designs for %s: %w", kind, err)
			}
		}
	}
	return &mapDesignSource{maps: byKind}, nil
}

// Design cycles through the kind's maps in order. 2P3G trials get a distance condition
// derived from the session id and trial index, so every replica agrees on it.
func (s *mapDesignSource) Design(sessionID string, kind SessionKind, trialIndex int) (TrialDesign, error) {
	list := s.maps[kind]
	if len(list) == 0 {
		return TrialDesign{}, fmt.Errorf("%w: no designs for %s", ErrUnknownKind, kind)
	}
	d := list[trialIndex%len(list)]
	d.Goals = append([]Position(nil), d.Goals...)
	d.Walls = append([]Position(nil), d.Walls...)
	d.Condition = CondNone
	if kind.injects() {
		d.Condition = conditionFor(sessionID, trialIndex)
	}
	return d, nil
}

func conditionFor(sessionID string, trialIndex int) DistanceCondition {
	h := stringHash(fmt.Sprintf("%s_%d", sessionID, trialIndex))
	return allConditions[h%int64(len(allConditions))]
}

// stringHash is the 31-multiplier 32-bit string hash, made non-negative.
func stringHash(s string) int64 {
	var h int32
	for _, c := range s {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}
