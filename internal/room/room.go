// Package room implements the room lifecycle state machine: creation, join,
// leave, and close operations over a room's membership sets, with atomic
// check-then-act transitions against PostgreSQL. A room ends (is_end) the
// moment any member leaves and deactivates (is_active=false) once every
// member, owner included, has closed it.
package room

import (
	"time"
)

// State is a derived view over the room's boolean flags; it is never stored.
type State string

const (
	StateOpen   State = "open"   // created, no participants yet
	StateActive State = "active" // at least one participant, not ended
	StateEnded  State = "ended"  // someone left; no further joins
	StateClosed State = "closed" // everyone closed; room is inert
)

// Room is a bounded conversation session with one owner and a capped set of
// participants. Membership is expressed purely through the three sets; the
// owner is implicitly a member for every membership check.
type Room struct {
	ID                       string
	Name                     string
	OwnerID                  string
	Participants             []string
	LeftMembers              []string
	ClosedMembers            []string
	MaxParticipants          int
	IsPrivate                bool
	IsExcludeDifferentGender bool
	CreatedAt                time.Time
	IsEnd                    bool
	IsActive                 bool
}

// State derives the lifecycle state from the stored flags.
func (r *Room) State() State {
	switch {
	case !r.IsActive:
		return StateClosed
	case r.IsEnd:
		return StateEnded
	case len(r.Participants) > 0:
		return StateActive
	default:
		return StateOpen
	}
}

// IsMember reports whether the account is the owner or a participant. Left
// and closed members still count: leaving does not revoke membership, it only
// ends the talk.
func (r *Room) IsMember(accountID string) bool {
	if r.OwnerID == accountID {
		return true
	}
	return r.IsParticipant(accountID)
}

// IsParticipant reports whether the account is in the participant set.
func (r *Room) IsParticipant(accountID string) bool {
	for _, id := range r.Participants {
		if id == accountID {
			return true
		}
	}
	return false
}
