package room

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/roomtalk/chat-app/internal/message"
	"github.com/roomtalk/chat-app/internal/moderation"
	"github.com/roomtalk/chat-app/internal/protocol"
)

// DefaultMaxParticipants is used when a create request does not specify a
// participant limit. One participant plus the owner makes a private talk.
const DefaultMaxParticipants = 1

// Broadcaster fans a prepared wire frame out to every connection subscribed
// to the room.
type Broadcaster interface {
	PublishRoom(roomID string, data []byte) error
}

// MessagePersister stores system-generated leave messages.
type MessagePersister interface {
	Persist(ctx context.Context, m *message.Message) error
}

// Notifier delivers push notifications for lifecycle events. Implementations
// are fire-and-forget; the manager never waits on them.
type Notifier interface {
	ParticipantJoined(ctx context.Context, r *Room, joinerID string, shouldStart bool)
	PrivateRoomCreated(ctx context.Context, r *Room)
	TalkEnded(ctx context.Context, r *Room)
}

// Scorer is invoked once per room, by the close call that deactivated it.
type Scorer interface {
	OnRoomDeactivated(ctx context.Context, r *Room)
}

// ManagerDeps bundles the manager's collaborators. Store is required; the
// rest may be nil, which disables the corresponding side effect.
type ManagerDeps struct {
	Store       Store
	Messages    MessagePersister
	Broadcaster Broadcaster
	Notifier    Notifier
	Scorer      Scorer
	WordLists   *moderation.WordLists
	Alerts      moderation.AlertSink
}

// Manager drives room lifecycle transitions and their side effects. State
// transitions are the store's job and are atomic; side effects (broadcasts,
// leave messages, notifications, scoring) run after the transition committed
// and are logged rather than propagated on failure, so a push outage can
// never roll back a leave.
type Manager struct {
	store       Store
	messages    MessagePersister
	broadcaster Broadcaster
	notifier    Notifier
	scorer      Scorer
	lists       *moderation.WordLists
	alerts      moderation.AlertSink
}

// NewManager creates a room manager from its dependencies.
func NewManager(deps ManagerDeps) *Manager {
	lists := deps.WordLists
	if lists == nil {
		// No lists means name screening degrades to a pass-through.
		lists = &moderation.WordLists{}
	}
	return &Manager{
		store:       deps.Store,
		messages:    deps.Messages,
		broadcaster: deps.Broadcaster,
		notifier:    deps.Notifier,
		scorer:      deps.Scorer,
		lists:       lists,
		alerts:      deps.Alerts,
	}
}

// CreateParams are the caller-supplied fields for a new room.
type CreateParams struct {
	OwnerID                  string
	OwnerName                string
	Name                     string
	MaxParticipants          int
	IsPrivate                bool
	IsExcludeDifferentGender bool
}

// Create screens the room name, persists the room, and notifies the owner's
// favorites when the room is private. A taboo name rejects the create; a
// warning name passes but still raises an alert.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Room, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("room: name must not be empty")
	}
	if params.MaxParticipants <= 0 {
		params.MaxParticipants = DefaultMaxParticipants
	}

	checker := moderation.NewChecker(m.lists, m.alerts,
		params.OwnerID, params.OwnerName, "", params.Name)
	if result := checker.CheckRoomName(params.Name); result.Decision == moderation.DecisionTaboo {
		return nil, conflictInappropriateName(result.MatchedWord)
	}

	r := &Room{
		ID:                       uuid.NewString(),
		Name:                     params.Name,
		OwnerID:                  params.OwnerID,
		MaxParticipants:          params.MaxParticipants,
		IsPrivate:                params.IsPrivate,
		IsExcludeDifferentGender: params.IsExcludeDifferentGender,
	}
	if err := m.store.Create(ctx, r); err != nil {
		return nil, err
	}

	if r.IsPrivate && m.notifier != nil {
		m.notifier.PrivateRoomCreated(ctx, r)
	}
	return r, nil
}

// Get loads a room snapshot.
func (m *Manager) Get(ctx context.Context, roomID string) (*Room, error) {
	return m.store.Get(ctx, roomID)
}

// ActiveRoomFor returns the account's current room, or nil when the account
// is not in one.
func (m *Manager) ActiveRoomFor(ctx context.Context, accountID string) (*Room, error) {
	return m.store.ActiveRoomFor(ctx, accountID)
}

// Join adds the account to the room and notifies the owner. ShouldStartTalk
// on the result tells the joiner's client whether the talk just became live.
func (m *Manager) Join(ctx context.Context, roomID, accountID string) (JoinResult, error) {
	result, err := m.store.Join(ctx, roomID, accountID)
	if err != nil {
		return JoinResult{}, err
	}

	if m.notifier != nil {
		m.notifier.ParticipantJoined(ctx, result.Room, accountID, result.ShouldStartTalk)
	}
	return result, nil
}

// Leave removes the account from the active talk. The departure is announced
// to the room as a system leave message, and the call that ends the room also
// broadcasts the end_talk event and notifies offline members.
func (m *Manager) Leave(ctx context.Context, roomID, accountID, accountName string) (LeaveResult, error) {
	result, err := m.store.Leave(ctx, roomID, accountID)
	if err != nil {
		return LeaveResult{}, err
	}

	m.announceLeave(ctx, result.Room, accountID, accountName)

	// A room nobody ever joined ends silently; there is no audience for the
	// event.
	if result.Ended && len(result.Room.Participants) > 0 {
		m.broadcastEndTalk(result.Room)
		if m.notifier != nil {
			m.notifier.TalkEnded(ctx, result.Room)
		}
	}
	return result, nil
}

// Close marks the room closed for the account. The call that deactivates the
// room triggers scoring for every member.
func (m *Manager) Close(ctx context.Context, roomID, accountID string) (CloseResult, error) {
	result, err := m.store.Close(ctx, roomID, accountID)
	if err != nil {
		return CloseResult{}, err
	}

	if result.Deactivated && m.scorer != nil {
		m.scorer.OnRoomDeactivated(ctx, result.Room)
	}
	return result, nil
}

// announceLeave persists and broadcasts the system leave message. Leave
// messages skip the moderation gate; their text is generated, not typed.
func (m *Manager) announceLeave(ctx context.Context, r *Room, accountID, accountName string) {
	if accountName == "" {
		accountName = "A member"
	}
	msg := &message.Message{
		ID:             uuid.NewString(),
		RoomID:         r.ID,
		SenderID:       accountID,
		Text:           fmt.Sprintf("%s left the room.", accountName),
		IsLeaveMessage: true,
	}

	if m.messages != nil {
		if err := m.messages.Persist(ctx, msg); err != nil {
			log.Printf("room: failed to persist leave message for %s: %v", r.ID, err)
			return
		}
	}

	if m.broadcaster == nil {
		return
	}
	frame, err := protocol.NewServerMessage(protocol.TypeChatMessageEvent, protocol.ChatMessageEventMsg{
		RoomID:  r.ID,
		Message: msg.Data(),
	})
	if err != nil {
		log.Printf("room: failed to encode leave message for %s: %v", r.ID, err)
		return
	}
	if err := m.broadcaster.PublishRoom(r.ID, frame); err != nil {
		log.Printf("room: failed to broadcast leave message for %s: %v", r.ID, err)
	}
}

// broadcastEndTalk pushes the end_talk event with the post-transition room
// snapshot to every subscribed connection.
func (m *Manager) broadcastEndTalk(r *Room) {
	if m.broadcaster == nil {
		return
	}
	frame, err := protocol.NewServerMessage(protocol.TypeEndTalk, protocol.EndTalkMsg{
		Room: r.Proto(),
	})
	if err != nil {
		log.Printf("room: failed to encode end_talk for %s: %v", r.ID, err)
		return
	}
	if err := m.broadcaster.PublishRoom(r.ID, frame); err != nil {
		log.Printf("room: failed to broadcast end_talk for %s: %v", r.ID, err)
	}
}

// Proto renders the room in its wire form.
func (r *Room) Proto() *protocol.RoomData {
	return &protocol.RoomData{
		ID:                       r.ID,
		Name:                     r.Name,
		OwnerID:                  r.OwnerID,
		ParticipantIDs:           r.Participants,
		LeftMemberIDs:            r.LeftMembers,
		ClosedMemberIDs:          r.ClosedMembers,
		MaxParticipants:          r.MaxParticipants,
		IsPrivate:                r.IsPrivate,
		IsExcludeDifferentGender: r.IsExcludeDifferentGender,
		CreatedAt:                r.CreatedAt.Format(protocol.TimeLayout),
		IsEnd:                    r.IsEnd,
		IsActive:                 r.IsActive,
	}
}
