// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package attempt

import "fmt"

// State is the lifecycle position of an attempt.
type State int

const (
	StateCreated State = iota + 1
	StateRunning
	StateAwaitingCommit
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateAwaitingCommit:
		return "awaiting_commit"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// validTransitions defines the allowed state transitions for attempts.
// Aborted is reachable from every non-terminal state.
var validTransitions = map[State]map[State]bool{
	StateCreated: {
		StateRunning: true,
		StateAborted: true,
	},
	StateRunning: {
		StateAwaitingCommit: true,
		StateAborted:        true,
	},
	StateAwaitingCommit: {
		StateCommitted: true,
		StateAborted:   true,
	},
}

// ErrInvalidTransition is returned when an attempt state transition is not allowed.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid attempt state transition: %s -> %s", e.From, e.To)
}

// transition returns the state after moving from to to, or an error if the
// move is not allowed.
func transition(from, to State) (State, error) {
	targets, ok := validTransitions[from]
	if !ok || !targets[to] {
		return from, &ErrInvalidTransition{From: from, To: to}
	}
	return to, nil
}
