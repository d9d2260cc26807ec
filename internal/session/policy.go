package session

import (
	"math"
	"time"

	"github.com/templui/tracker/internal/model"
)

const (
	SessionTimeout    = 2 * time.Hour
	InactivityTimeout = 30 * time.Minute

	expiryWarning     = 10 * time.Minute
	inactivityWarning = 5 * time.Minute
)

// Policy holds the two session limits and the warning band before each.
type Policy struct {
	SessionTimeout    time.Duration
	InactivityTimeout time.Duration
	ExpiryWarning     time.Duration
	InactivityWarning time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		SessionTimeout:    SessionTimeout,
		InactivityTimeout: InactivityTimeout,
		ExpiryWarning:     expiryWarning,
		InactivityWarning: inactivityWarning,
	}
}

type State int

const (
	StateInactive State = iota
	StateActive
	StateExpiring
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateExpiring:
		return "expiring"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether a session is running: Active or inside a warning band.
func (s State) Live() bool {
	return s == StateActive || s == StateExpiring
}

// Cause names why a session ended.
type Cause string

const (
	CauseNone     Cause = ""
	CauseExpired  Cause = "session-expired"
	CauseInactive Cause = "session-inactive"
)

// Evaluate classifies stamps at now. The absolute ceiling wins over
// inactivity, and a limit counts as exceeded once elapsed reaches it.
func (p Policy) Evaluate(stamps model.SessionStamps, now time.Time) (State, Cause) {
	untilExpiry := p.untilExpiry(stamps, now)
	untilInactivity := p.untilInactivity(stamps, now)

	if untilExpiry <= 0 {
		return StateExpired, CauseExpired
	}
	if untilInactivity <= 0 {
		return StateExpired, CauseInactive
	}
	if untilExpiry <= p.ExpiryWarning || untilInactivity <= p.InactivityWarning {
		return StateExpiring, CauseNone
	}
	return StateActive, CauseNone
}

func (p Policy) untilExpiry(stamps model.SessionStamps, now time.Time) time.Duration {
	return p.SessionTimeout - now.Sub(stamps.SessionStart)
}

func (p Policy) untilInactivity(stamps model.SessionStamps, now time.Time) time.Duration {
	return p.InactivityTimeout - now.Sub(stamps.LastActivity)
}

// untilWarning is the time left before the nearer warning band opens and
// the limit that band belongs to.
func (p Policy) untilWarning(stamps model.SessionStamps, now time.Time) (time.Duration, Cause) {
	expiry := p.untilExpiry(stamps, now) - p.ExpiryWarning
	inactivity := p.untilInactivity(stamps, now) - p.InactivityWarning
	if expiry <= inactivity {
		return expiry, CauseExpired
	}
	return inactivity, CauseInactive
}

// Info is the read-only countdown view of a session.
type Info struct {
	State                    State      `json:"state"`
	PrincipalID              string     `json:"principalId,omitempty"`
	SessionStart             *time.Time `json:"sessionStart,omitempty"`
	LastActivity             *time.Time `json:"lastActivity,omitempty"`
	SessionDurationMinutes   int        `json:"sessionDurationMinutes"`
	TimeSinceActivityMinutes int        `json:"timeSinceActivityMinutes"`
	MinutesUntilExpiry       int        `json:"minutesUntilExpiry"`
	MinutesUntilInactivity   int        `json:"minutesUntilInactivity"`
	ShowExpiryWarning        bool       `json:"showExpiryWarning"`
	ShowInactivityWarning    bool       `json:"showInactivityWarning"`
}

// Info derives the countdowns from stamps at now. Nothing is cached.
func (p Policy) Info(stamps model.SessionStamps, now time.Time) Info {
	state, _ := p.Evaluate(stamps, now)
	start := stamps.SessionStart
	last := stamps.LastActivity
	untilExpiry := p.untilExpiry(stamps, now)
	untilInactivity := p.untilInactivity(stamps, now)

	return Info{
		State:                    state,
		PrincipalID:              stamps.PrincipalID,
		SessionStart:             &start,
		LastActivity:             &last,
		SessionDurationMinutes:   floorMinutes(now.Sub(start)),
		TimeSinceActivityMinutes: floorMinutes(now.Sub(last)),
		MinutesUntilExpiry:       floorMinutes(untilExpiry),
		MinutesUntilInactivity:   floorMinutes(untilInactivity),
		ShowExpiryWarning:        state.Live() && untilExpiry <= p.ExpiryWarning,
		ShowInactivityWarning:    state.Live() && untilInactivity <= p.InactivityWarning,
	}
}

func floorMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Minutes()))
}
