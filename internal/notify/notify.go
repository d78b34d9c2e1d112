// Package notify fans lifecycle and message events out as push notifications.
// Dispatch is fire-and-forget: callers never wait on the push provider, and a
// provider outage only costs notifications, never chat delivery.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/roomtalk/chat-app/internal/account"
	"github.com/roomtalk/chat-app/internal/metrics"
	"github.com/roomtalk/chat-app/internal/room"
)

// Event kinds, used as the metrics label and in logs.
const (
	EventMessageSent        = "message_sent"
	EventParticipantJoined  = "participant_joined"
	EventPrivateRoomCreated = "private_room_created"
	EventTalkEnded          = "talk_ended"
	EventThanks             = "thanks"
)

// Provider delivers a single push notification to a device.
type Provider interface {
	Push(ctx context.Context, deviceToken, title, body string, badge int) error
}

// Accounts is the slice of the account store the dispatcher needs.
type Accounts interface {
	Get(ctx context.Context, accountID string) (*account.Account, error)
	FavoritesOf(ctx context.Context, accountID string) ([]account.Account, error)
}

// UnreadCounter supplies the badge number: total unread messages across all
// of a recipient's rooms.
type UnreadCounter interface {
	UnreadTotal(ctx context.Context, accountID string) (int, error)
}

// Dispatcher builds notification payloads per event and hands them to the
// provider. It implements the room manager's Notifier contract.
type Dispatcher struct {
	provider Provider
	accounts Accounts
	unread   UnreadCounter
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(provider Provider, accounts Accounts, unread UnreadCounter) *Dispatcher {
	return &Dispatcher{provider: provider, accounts: accounts, unread: unread}
}

// MessageSent notifies every member of the room except the sender about a new
// chat message. The body quotes the message; the badge carries the
// recipient's total unread count.
func (d *Dispatcher) MessageSent(ctx context.Context, r *room.Room, senderID, senderName, text string) {
	if text == "" {
		return
	}
	body := fmt.Sprintf("%s: %s", senderName, text)
	for _, memberID := range members(r) {
		if memberID == senderID {
			continue
		}
		d.deliver(memberID, EventMessageSent, "", body, true)
	}
}

// ParticipantJoined notifies the owner that someone entered their room. When
// the join started the talk, the body says so.
func (d *Dispatcher) ParticipantJoined(ctx context.Context, r *room.Room, joinerID string, shouldStart bool) {
	joiner, err := d.accounts.Get(ctx, joinerID)
	if err != nil {
		log.Printf("notify: load joiner %s: %v", joinerID, err)
		return
	}

	body := fmt.Sprintf("%s joined %s.", joiner.Name, r.Name)
	if shouldStart {
		body = fmt.Sprintf("%s joined %s. Your talk can begin!", joiner.Name, r.Name)
	}
	d.deliver(r.OwnerID, EventParticipantJoined, "", body, false)
}

// PrivateRoomCreated notifies everyone who favorited the owner that a new
// private room is open.
func (d *Dispatcher) PrivateRoomCreated(ctx context.Context, r *room.Room) {
	owner, err := d.accounts.Get(ctx, r.OwnerID)
	if err != nil {
		log.Printf("notify: load owner %s: %v", r.OwnerID, err)
		return
	}
	favorites, err := d.accounts.FavoritesOf(ctx, r.OwnerID)
	if err != nil {
		log.Printf("notify: favorites of %s: %v", r.OwnerID, err)
		return
	}

	body := fmt.Sprintf("%s created a private room!", owner.Name)
	for _, fav := range favorites {
		d.deliver(fav.ID, EventPrivateRoomCreated, "", body, false)
	}
}

// TalkEnded notifies every member that the talk is over.
func (d *Dispatcher) TalkEnded(ctx context.Context, r *room.Room) {
	body := fmt.Sprintf("Your talk in %s has ended.", r.Name)
	for _, memberID := range members(r) {
		d.deliver(memberID, EventTalkEnded, "", body, false)
	}
}

// Thanks notifies an account that another member thanked them after a talk.
func (d *Dispatcher) Thanks(ctx context.Context, fromName, toID string) {
	body := fmt.Sprintf("%s sent you thanks!", fromName)
	d.deliver(toID, EventThanks, "", body, false)
}

// deliver resolves the recipient's device token and badge and pushes in a
// background goroutine. Recipients without a push registration are skipped.
func (d *Dispatcher) deliver(recipientID, event, title, body string, withBadge bool) {
	go func() {
		ctx := context.Background()

		recipient, err := d.accounts.Get(ctx, recipientID)
		if err != nil {
			log.Printf("notify: load recipient %s: %v", recipientID, err)
			return
		}
		if recipient.DeviceToken == "" {
			return
		}

		badge := 0
		if withBadge && d.unread != nil {
			badge, err = d.unread.UnreadTotal(ctx, recipientID)
			if err != nil {
				log.Printf("notify: unread total for %s: %v", recipientID, err)
				badge = 0
			}
		}

		if err := d.provider.Push(ctx, recipient.DeviceToken, title, body, badge); err != nil {
			log.Printf("notify: push %s to %s failed: %v", event, recipientID, err)
			return
		}
		metrics.NotificationsTotal.WithLabelValues(event).Inc()
	}()
}

// members lists the owner plus every participant.
func members(r *room.Room) []string {
	ids := make([]string, 0, len(r.Participants)+1)
	ids = append(ids, r.OwnerID)
	ids = append(ids, r.Participants...)
	return ids
}
