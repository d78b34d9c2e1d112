package room

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roomtalk/chat-app/internal/message"
	"github.com/roomtalk/chat-app/internal/moderation"
	"github.com/roomtalk/chat-app/internal/protocol"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

// memStore mirrors the transactional store semantics in memory so manager
// side effects can be exercised without PostgreSQL.
type memStore struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[string]*Room)}
}

func (s *memStore) Create(ctx context.Context, r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rooms {
		if existing.OwnerID == r.OwnerID && !existing.IsEnd {
			return conflictDuplicateOpenRoom()
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.IsActive = true
	s.rooms[r.ID] = r
	return nil
}

func (s *memStore) Get(ctx context.Context, roomID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *memStore) ActiveRoomFor(ctx context.Context, accountID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if !r.IsActive || contains(r.ClosedMembers, accountID) {
			continue
		}
		if r.OwnerID == accountID || r.IsParticipant(accountID) {
			return r, nil
		}
	}
	return nil, nil
}

func (s *memStore) Join(ctx context.Context, roomID, accountID string) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return JoinResult{}, ErrNotFound
	}
	if r.IsEnd {
		return JoinResult{}, conflictRoomEnded()
	}
	if r.OwnerID == accountID {
		return JoinResult{}, conflictOwnerJoin()
	}
	if r.IsParticipant(accountID) {
		return JoinResult{}, conflictAlreadyParticipant()
	}
	if len(r.Participants) >= r.MaxParticipants {
		return JoinResult{}, conflictRoomFull(r.MaxParticipants)
	}
	r.Participants = append(r.Participants, accountID)
	return JoinResult{Room: r, ShouldStartTalk: len(r.Participants) == 1}, nil
}

func (s *memStore) Leave(ctx context.Context, roomID, accountID string) (LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return LeaveResult{}, ErrNotFound
	}
	if !r.IsMember(accountID) {
		return LeaveResult{}, ErrNotMember
	}
	if !contains(r.LeftMembers, accountID) {
		r.LeftMembers = append(r.LeftMembers, accountID)
	}
	result := LeaveResult{Room: r}
	if !r.IsEnd {
		r.IsEnd = true
		result.Ended = true
	}
	return result, nil
}

func (s *memStore) Close(ctx context.Context, roomID, accountID string) (CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return CloseResult{}, ErrNotFound
	}
	if !r.IsMember(accountID) {
		return CloseResult{}, ErrNotMember
	}
	if !contains(r.ClosedMembers, accountID) {
		r.ClosedMembers = append(r.ClosedMembers, accountID)
	}
	result := CloseResult{Room: r}
	if r.IsActive && len(r.ClosedMembers) == len(r.Participants)+1 {
		r.IsActive = false
		result.Deactivated = true
	}
	return result, nil
}

type memBroadcaster struct {
	mu     sync.Mutex
	frames []broadcastFrame
}

type broadcastFrame struct {
	roomID string
	data   []byte
}

func (b *memBroadcaster) PublishRoom(roomID string, data []byte) error {
	b.mu.Lock()
	b.frames = append(b.frames, broadcastFrame{roomID, data})
	b.mu.Unlock()
	return nil
}

func (b *memBroadcaster) typesSent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var types []string
	for _, f := range b.frames {
		var env struct {
			Type string `json:"type"`
		}
		json.Unmarshal(f.data, &env)
		types = append(types, env.Type)
	}
	return types
}

type memPersister struct {
	mu       sync.Mutex
	messages []*message.Message
}

func (p *memPersister) Persist(ctx context.Context, m *message.Message) error {
	p.mu.Lock()
	p.messages = append(p.messages, m)
	p.mu.Unlock()
	return nil
}

type memNotifier struct {
	mu             sync.Mutex
	joined         []string // joiner ids
	shouldStart    []bool
	privateCreated []string // room ids
	talkEnded      []string // room ids
}

func (n *memNotifier) ParticipantJoined(ctx context.Context, r *Room, joinerID string, shouldStart bool) {
	n.mu.Lock()
	n.joined = append(n.joined, joinerID)
	n.shouldStart = append(n.shouldStart, shouldStart)
	n.mu.Unlock()
}

func (n *memNotifier) PrivateRoomCreated(ctx context.Context, r *Room) {
	n.mu.Lock()
	n.privateCreated = append(n.privateCreated, r.ID)
	n.mu.Unlock()
}

func (n *memNotifier) TalkEnded(ctx context.Context, r *Room) {
	n.mu.Lock()
	n.talkEnded = append(n.talkEnded, r.ID)
	n.mu.Unlock()
}

type memScorer struct {
	mu    sync.Mutex
	rooms []string
}

func (s *memScorer) OnRoomDeactivated(ctx context.Context, r *Room) {
	s.mu.Lock()
	s.rooms = append(s.rooms, r.ID)
	s.mu.Unlock()
}

type testHarness struct {
	manager     *Manager
	store       *memStore
	broadcaster *memBroadcaster
	persister   *memPersister
	notifier    *memNotifier
	scorer      *memScorer
}

func newHarness() *testHarness {
	h := &testHarness{
		store:       newMemStore(),
		broadcaster: &memBroadcaster{},
		persister:   &memPersister{},
		notifier:    &memNotifier{},
		scorer:      &memScorer{},
	}
	h.manager = NewManager(ManagerDeps{
		Store:       h.store,
		Messages:    h.persister,
		Broadcaster: h.broadcaster,
		Notifier:    h.notifier,
		Scorer:      h.scorer,
		WordLists:   &moderation.WordLists{Taboo: []string{"drug"}, Warning: []string{"knife"}},
	})
	return h
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_DefaultsParticipantLimit(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, err := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "tea time"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if r.MaxParticipants != DefaultMaxParticipants {
		t.Errorf("MaxParticipants = %d, want %d", r.MaxParticipants, DefaultMaxParticipants)
	}
	if r.ID == "" {
		t.Error("expected a generated room id")
	}
	if !r.IsActive || r.IsEnd {
		t.Errorf("new room flags: is_active=%v is_end=%v", r.IsActive, r.IsEnd)
	}
}

func TestCreate_RejectsTabooName(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "drug deals"})
	ce, ok := IsConflict(err)
	if !ok {
		t.Fatalf("expected conflict, got %v", err)
	}
	if ce.Kind != ConflictInappropriateName {
		t.Errorf("conflict kind = %q, want %q", ce.Kind, ConflictInappropriateName)
	}
	if len(h.store.rooms) != 0 {
		t.Error("rejected room must not be persisted")
	}
}

func TestCreate_WarningNamePasses(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "knife sharpening tips"}); err != nil {
		t.Fatalf("warning name must not reject the create: %v", err)
	}
}

func TestCreate_SecondOpenRoomConflicts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "first"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	_, err := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "second"})
	ce, ok := IsConflict(err)
	if !ok || ce.Kind != ConflictDuplicateOpenRoom {
		t.Fatalf("expected duplicate open room conflict, got %v", err)
	}
}

func TestCreate_PrivateRoomNotifies(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, err := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "just us", IsPrivate: true})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if len(h.notifier.privateCreated) != 1 || h.notifier.privateCreated[0] != r.ID {
		t.Errorf("private created notifications: %v", h.notifier.privateCreated)
	}

	// Public rooms do not trigger the notification.
	h2 := newHarness()
	h2.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "open house"})
	if len(h2.notifier.privateCreated) != 0 {
		t.Error("public room must not notify favorites")
	}
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoin_FirstParticipantStartsTalk(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, _ := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "room", MaxParticipants: 2})

	result, err := h.manager.Join(ctx, r.ID, "alice")
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if !result.ShouldStartTalk {
		t.Error("first join must start the talk")
	}

	result, err = h.manager.Join(ctx, r.ID, "bob")
	if err != nil {
		t.Fatalf("second Join() error: %v", err)
	}
	if result.ShouldStartTalk {
		t.Error("second join must not start the talk")
	}

	if len(h.notifier.joined) != 2 {
		t.Fatalf("expected 2 join notifications, got %d", len(h.notifier.joined))
	}
	if !h.notifier.shouldStart[0] || h.notifier.shouldStart[1] {
		t.Errorf("shouldStart flags: %v", h.notifier.shouldStart)
	}
}

func TestJoin_Conflicts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, _ := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "room", MaxParticipants: 1})
	h.manager.Join(ctx, r.ID, "alice")

	cases := []struct {
		name      string
		accountID string
		kind      string
	}{
		{"owner joins own room", "owner", ConflictOwnerJoin},
		{"already a participant", "alice", ConflictAlreadyParticipant},
		{"room full", "bob", ConflictRoomFull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.manager.Join(ctx, r.ID, tc.accountID)
			ce, ok := IsConflict(err)
			if !ok || ce.Kind != tc.kind {
				t.Fatalf("expected %q conflict, got %v", tc.kind, err)
			}
		})
	}

	if _, err := h.manager.Join(ctx, "missing", "carol"); err != ErrNotFound {
		t.Errorf("join missing room: %v", err)
	}
}

func TestJoin_EndedRoomConflicts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, _ := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "room", MaxParticipants: 2})
	h.manager.Join(ctx, r.ID, "alice")
	h.manager.Leave(ctx, r.ID, "alice", "Alice")

	_, err := h.manager.Join(ctx, r.ID, "bob")
	ce, ok := IsConflict(err)
	if !ok || ce.Kind != ConflictRoomEnded {
		t.Fatalf("expected ended conflict, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Leave
// ---------------------------------------------------------------------------

func TestLeave_AnnouncesAndEndsOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, _ := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "room", MaxParticipants: 2})
	h.manager.Join(ctx, r.ID, "alice")
	h.manager.Join(ctx, r.ID, "bob")

	result, err := h.manager.Leave(ctx, r.ID, "alice", "Alice")
	if err != nil {
		t.Fatalf("Leave() error: %v", err)
	}
	if !result.Ended {
		t.Error("first leave must end the room")
	}

	// A leave message was persisted, bypassing moderation.
	if len(h.persister.messages) != 1 {
		t.Fatalf("expected 1 leave message, got %d", len(h.persister.messages))
	}
	lm := h.persister.messages[0]
	if !lm.IsLeaveMessage || lm.SenderID != "alice" || !strings.Contains(lm.Text, "Alice") {
		t.Errorf("leave message: %+v", lm)
	}

	// Both the leave message and end_talk were broadcast.
	types := h.broadcaster.typesSent()
	if len(types) != 2 || types[0] != protocol.TypeChatMessageEvent || types[1] != protocol.TypeEndTalk {
		t.Errorf("broadcast types: %v", types)
	}
	if len(h.notifier.talkEnded) != 1 {
		t.Errorf("talk ended notifications: %v", h.notifier.talkEnded)
	}

	// Second leave announces but does not end again.
	result, err = h.manager.Leave(ctx, r.ID, "bob", "Bob")
	if err != nil {
		t.Fatalf("second Leave() error: %v", err)
	}
	if result.Ended {
		t.Error("room must only end once")
	}
	types = h.broadcaster.typesSent()
	if types[len(types)-1] != protocol.TypeChatMessageEvent {
		t.Errorf("second leave broadcast types: %v", types)
	}
	if len(h.notifier.talkEnded) != 1 {
		t.Error("second leave must not notify talk ended again")
	}
}

func TestLeave_UnjoinedRoomEndsSilently(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, _ := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "room"})

	result, err := h.manager.Leave(ctx, r.ID, "owner", "Owner")
	if err != nil {
		t.Fatalf("Leave() error: %v", err)
	}
	if !result.Ended {
		t.Error("owner leave must still end the room")
	}

	for _, sent := range h.broadcaster.typesSent() {
		if sent == protocol.TypeEndTalk {
			t.Error("end_talk must not be broadcast to a room nobody joined")
		}
	}
	if len(h.notifier.talkEnded) != 0 {
		t.Errorf("talk ended notifications: %v", h.notifier.talkEnded)
	}
}

func TestLeave_NonMemberRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, _ := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "room"})
	if _, err := h.manager.Leave(ctx, r.ID, "stranger", "X"); err != ErrNotMember {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
	if len(h.persister.messages) != 0 {
		t.Error("rejected leave must not persist a message")
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestClose_DeactivatesWhenEveryoneClosed(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	r, _ := h.manager.Create(ctx, CreateParams{OwnerID: "owner", Name: "room", MaxParticipants: 2})
	h.manager.Join(ctx, r.ID, "alice")
	h.manager.Join(ctx, r.ID, "bob")

	result, err := h.manager.Close(ctx, r.ID, "alice")
	if err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if result.Deactivated {
		t.Error("room must stay active while others have not closed")
	}

	h.manager.Close(ctx, r.ID, "bob")
	result, err = h.manager.Close(ctx, r.ID, "owner")
	if err != nil {
		t.Fatalf("owner Close() error: %v", err)
	}
	if !result.Deactivated {
		t.Error("last close must deactivate the room")
	}
	if result.Room.IsActive {
		t.Error("deactivated room must have is_active=false")
	}

	// Scoring ran exactly once, triggered by the deactivating close.
	if len(h.scorer.rooms) != 1 || h.scorer.rooms[0] != r.ID {
		t.Errorf("scoring calls: %v", h.scorer.rooms)
	}

	// A repeated close is idempotent and never re-triggers scoring.
	if _, err := h.manager.Close(ctx, r.ID, "owner"); err != nil {
		t.Fatalf("repeated Close() error: %v", err)
	}
	if len(h.scorer.rooms) != 1 {
		t.Error("scoring must run once per room")
	}
}
