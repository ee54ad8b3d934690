// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"github.com/pkg/errors"
)

// State is a stage of a release run.
type State int

const (
	Init State = iota
	ConfiguringTarget
	BuildingTarget
	CollectingArtifacts
	Archiving
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case ConfiguringTarget:
		return "configuring"
	case BuildingTarget:
		return "building"
	case CollectingArtifacts:
		return "collecting"
	case Archiving:
		return "archiving"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Transition validates a move from one state to the next and returns the new state.
func Transition(from, to State) (State, error) {
	if from.Terminal() {
		return from, errors.Errorf("invalid transition %s -> %s: %s is terminal", from, to, from)
	}
	if to == Failed {
		return to, nil
	}
	ok := false
	switch from {
	case Init:
		ok = to == ConfiguringTarget
	case ConfiguringTarget:
		ok = to == BuildingTarget
	case BuildingTarget:
		ok = to == CollectingArtifacts
	case CollectingArtifacts:
		ok = to == Archiving
	case Archiving:
		ok = to == ConfiguringTarget || to == Done
	}
	if !ok {
		return from, errors.Errorf("invalid transition %s -> %s", from, to)
	}
	return to, nil
}
