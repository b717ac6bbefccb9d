package main

// StoppingRule bounds how many trials a pair must complete.
type StoppingRule struct {
	Enabled                      bool
	MinTrialsBeforeCheck         int
	ConsecutiveSuccessesRequired int
	MaxTrials                    int
}

// TrialOutcome is appended to a session's history when a trial ends.
type TrialOutcome struct {
	TrialIndex          int               `json:"trialIndex"`
	BothReachedSameGoal bool              `json:"bothReachedSameGoal"`
	StepCountAtEnd      int               `json:"stepCountAtEnd"`
	TimedOut            bool              `json:"timedOut"`
	FirstGoal           int               `json:"firstGoal"`
	SecondGoal          int               `json:"secondGoal"`
	GoalInjected        bool              `json:"goalInjected"`
	InjectionFailures   int               `json:"injectionFailures"` // failed conflicts, not attempts
	Condition           DistanceCondition `json:"distanceCondition"`
}

func (o TrialOutcome) success() bool {
	return o.BothReachedSameGoal && !o.TimedOut
}

// shouldContinue reports whether another trial is required. It reads nothing but its
// arguments. With the rule disabled exactly MaxTrials trials run.
func shouldContinue(history []TrialOutcome, rule StoppingRule) bool {
	n := len(history)
	if !rule.Enabled {
		return n < rule.MaxTrials
	}
	if n < rule.MinTrialsBeforeCheck {
		return true
	}
	if n >= rule.MaxTrials {
		return false
	}
	return trailingSuccesses(history) < rule.ConsecutiveSuccessesRequired
}

func trailingSuccesses(history []TrialOutcome) int {
	run := 0
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].success() {
			break
		}
		run++
	}
	return run
}
