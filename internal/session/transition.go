package session

import (
	"time"

	"github.com/templui/tracker/internal/model"
)

// Snapshot is the engine state at one instant.
type Snapshot struct {
	State  State
	Cause  Cause
	Stamps model.SessionStamps
}

type InputKind int

const (
	InputSignedIn InputKind = iota
	InputRecovered
	InputActivity
	InputTick
	InputSignedOut
	InputTornDown
)

// Input drives Transition.
type Input struct {
	Kind        InputKind
	PrincipalID string
	Stamps      *model.SessionStamps // InputRecovered only
}

// Transition is the session state machine. It is pure: the same snapshot,
// time and input always give the same result.
func Transition(s Snapshot, now time.Time, in Input, p Policy) Snapshot {
	contextID := s.Stamps.ContextID

	switch in.Kind {
	case InputSignedIn:
		if s.State.Live() && s.Stamps.PrincipalID == in.PrincipalID {
			return s
		}
		return Snapshot{
			State: StateActive,
			Stamps: model.SessionStamps{
				ContextID:    contextID,
				PrincipalID:  in.PrincipalID,
				SessionStart: now,
				LastActivity: now,
			},
		}

	case InputRecovered:
		if in.Stamps == nil {
			return Transition(s, now, Input{Kind: InputSignedIn, PrincipalID: in.PrincipalID}, p)
		}
		stamps := *in.Stamps
		stamps.ContextID = contextID
		if stamps.LastActivity.Before(stamps.SessionStart) {
			stamps.LastActivity = stamps.SessionStart
		}
		state, cause := p.Evaluate(stamps, now)
		return Snapshot{State: state, Cause: cause, Stamps: stamps}

	case InputActivity:
		if !s.State.Live() {
			return s
		}
		// Activity that arrives after a limit passed does not revive the session.
		if state, cause := p.Evaluate(s.Stamps, now); state == StateExpired {
			s.State, s.Cause = state, cause
			return s
		}
		if now.After(s.Stamps.LastActivity) {
			s.Stamps.LastActivity = now
		}
		s.State, s.Cause = p.Evaluate(s.Stamps, now)
		return s

	case InputTick:
		if !s.State.Live() {
			return s
		}
		s.State, s.Cause = p.Evaluate(s.Stamps, now)
		return s

	case InputSignedOut:
		return Snapshot{State: StateInactive, Stamps: model.SessionStamps{ContextID: contextID}}

	case InputTornDown:
		if s.State != StateExpired {
			return s
		}
		return Snapshot{State: StateInactive, Stamps: model.SessionStamps{ContextID: contextID}}
	}

	return s
}
