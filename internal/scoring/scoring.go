// Package scoring awards experience when a room deactivates and derives
// account levels from accumulated experience on a cubic curve.
package scoring

import (
	"context"
	"log"

	"github.com/roomtalk/chat-app/internal/account"
	"github.com/roomtalk/chat-app/internal/room"
)

// BaseExp is the experience earned per closed talk against one counterpart.
const BaseExp = 2

// CalcExp computes the experience one member earns against a single
// counterpart. A block in either direction voids the talk; a counterpart who
// favorited the member doubles it.
func CalcExp(blocked, favorited bool) int {
	if blocked {
		return 0
	}
	if favorited {
		return BaseExp * 2
	}
	return BaseExp
}

// LevelInfo derives the level reached at the given total experience, the
// experience the next level costs, and the experience earned since the
// current level was reached. Going from level n to n+1 costs (n+1) cubed,
// so level 2 lands at 8 total experience and level 3 at 35.
func LevelInfo(exp int) (level, nextCost, progress int) {
	level = 1
	reached := 0
	for {
		nextCost = cube(level + 1)
		if exp < reached+nextCost {
			return level, nextCost, exp - reached
		}
		reached += nextCost
		level++
	}
}

func cube(n int) int {
	return n * n * n
}

// ParticipantLimit is the room capacity an owner of the given level may
// configure. Reaching level 2 unlocks two-participant rooms.
func ParticipantLimit(level int) int {
	if level >= 2 {
		return 2
	}
	return 1
}

// Accounts is the slice of the account store the scoring service needs.
type Accounts interface {
	Relationship(ctx context.Context, subjectID, otherID string) (blocked, favorited bool, err error)
	GrantTalkCredit(ctx context.Context, accountID string, asOwner bool, exp int) (*account.Account, error)
	SetLevel(ctx context.Context, accountID string, level int) error
}

// Service runs the scoring pass triggered by room deactivation.
type Service struct {
	accounts Accounts
}

// NewService creates a scoring service over the given account store.
func NewService(accounts Accounts) *Service {
	return &Service{accounts: accounts}
}

// OnRoomDeactivated credits every member of the room. The owner earns
// experience against each participant and each participant earns it against
// the owner; levels are recomputed from the new totals. Failures are logged
// per member so one bad account cannot starve the rest.
func (s *Service) OnRoomDeactivated(ctx context.Context, r *room.Room) {
	ownerExp := 0
	for _, participantID := range r.Participants {
		exp, err := s.expFor(ctx, r.OwnerID, participantID)
		if err != nil {
			log.Printf("scoring: relationship %s/%s: %v", r.OwnerID, participantID, err)
		} else {
			ownerExp += exp
		}

		participantExp, err := s.expFor(ctx, participantID, r.OwnerID)
		if err != nil {
			log.Printf("scoring: relationship %s/%s: %v", participantID, r.OwnerID, err)
			continue
		}
		s.credit(ctx, participantID, false, participantExp)
	}

	// The owner is credited once per room, not once per participant. A room
	// that deactivated without ever having a participant still counts as an
	// owned talk, just without experience.
	s.credit(ctx, r.OwnerID, true, ownerExp)
}

func (s *Service) expFor(ctx context.Context, subjectID, otherID string) (int, error) {
	blocked, favorited, err := s.accounts.Relationship(ctx, subjectID, otherID)
	if err != nil {
		return 0, err
	}
	return CalcExp(blocked, favorited), nil
}

func (s *Service) credit(ctx context.Context, accountID string, asOwner bool, exp int) {
	a, err := s.accounts.GrantTalkCredit(ctx, accountID, asOwner, exp)
	if err != nil {
		log.Printf("scoring: credit %s: %v", accountID, err)
		return
	}

	level, _, _ := LevelInfo(a.Exp)
	if level != a.Level {
		if err := s.accounts.SetLevel(ctx, accountID, level); err != nil {
			log.Printf("scoring: set level for %s: %v", accountID, err)
		}
	}
}
