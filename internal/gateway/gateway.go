// Package gateway ties the WebSocket transport to the application services:
// it owns the auth handshake, the per-connection moderation gate, message
// persistence and fan-out, and the delivery-mark operations. One Gateway
// instance serves every connection on a server.
package gateway

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/roomtalk/chat-app/internal/account"
	"github.com/roomtalk/chat-app/internal/auth"
	"github.com/roomtalk/chat-app/internal/message"
	"github.com/roomtalk/chat-app/internal/metrics"
	"github.com/roomtalk/chat-app/internal/moderation"
	"github.com/roomtalk/chat-app/internal/protocol"
	"github.com/roomtalk/chat-app/internal/ratelimit"
	"github.com/roomtalk/chat-app/internal/room"
	"github.com/roomtalk/chat-app/internal/ws"
)

// handlerTimeout bounds the backend work done for a single client envelope.
const handlerTimeout = 5 * time.Second

// Rooms is the room lifecycle surface the gateway needs.
type Rooms interface {
	Create(ctx context.Context, params room.CreateParams) (*room.Room, error)
	Get(ctx context.Context, roomID string) (*room.Room, error)
	ActiveRoomFor(ctx context.Context, accountID string) (*room.Room, error)
	Join(ctx context.Context, roomID, accountID string) (room.JoinResult, error)
	Leave(ctx context.Context, roomID, accountID, accountName string) (room.LeaveResult, error)
	Close(ctx context.Context, roomID, accountID string) (room.CloseResult, error)
}

// Messages is the message persistence and delivery-mark surface.
type Messages interface {
	Persist(ctx context.Context, m *message.Message) error
	MarkStored(ctx context.Context, messageID, accountID string) error
	MarkStoredByRoom(ctx context.Context, roomID, accountID string) error
	MarkReadAll(ctx context.Context, roomID, accountID string) error
	Backlog(ctx context.Context, roomID, accountID string) ([]message.Message, error)
}

// Accounts is the account lookup and ban-flag surface.
type Accounts interface {
	Get(ctx context.Context, accountID string) (*account.Account, error)
	SetBanned(ctx context.Context, accountID string, banned bool) error
}

// Sessions tracks authenticated connections in Redis.
type Sessions interface {
	Create(ctx context.Context, accountID, name, roomID string) error
	Touch(ctx context.Context, accountID string) error
	Delete(ctx context.Context, accountID string) error
}

// Bans is the freeze cache consulted on every handshake and written by the
// moderation gate.
type Bans interface {
	IsFrozen(ctx context.Context, accountID string) (frozen bool, reason string, err error)
	Freeze(ctx context.Context, accountID, reason string) error
}

// Broker fans prepared wire frames out across the fleet and routes them back
// to subscribed connections. Subscriptions are keyed per connection, so two
// sockets for the same account never share or steal a subscription.
type Broker interface {
	PublishRoom(roomID string, data []byte) error
	SubscribeToRoom(roomID, connID string, handler func(data []byte)) error
	UnsubscribeFromRoom(roomID, connID string) error
}

// Limiter throttles per-account actions.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// TokenVerifier validates bearer tokens from the auth envelope.
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// Notifier pushes notifications the gateway triggers directly: new chat
// messages and post-talk thanks.
type Notifier interface {
	MessageSent(ctx context.Context, r *room.Room, senderID, senderName, text string)
	Thanks(ctx context.Context, fromName, toID string)
}

// Sender delivers frames to local connections and tears down rejected ones.
// It is implemented by ws.Server.
type Sender interface {
	SendMessage(connID string, data []byte) error
	CloseUnauthenticated(conn *ws.Connection, reason string)
}

// Deps bundles the gateway's collaborators. Notifier and Alerts may be nil.
type Deps struct {
	Verifier  TokenVerifier
	Rooms     Rooms
	Messages  Messages
	Accounts  Accounts
	Sessions  Sessions
	Bans      Bans
	Broker    Broker
	Limiter   Limiter
	Notifier  Notifier
	WordLists *moderation.WordLists
	Alerts    moderation.AlertSink
}

// Gateway implements the client-facing message handlers.
type Gateway struct {
	verifier TokenVerifier
	rooms    Rooms
	messages Messages
	accounts Accounts
	sessions Sessions
	bans     Bans
	broker   Broker
	limiter  Limiter
	notifier Notifier
	lists    *moderation.WordLists
	alerts   moderation.AlertSink

	sender Sender

	mu       sync.Mutex
	checkers map[string]*moderation.Checker // conn.ID -> checker bound at handshake
}

// New creates a Gateway. SetSender must be called before any handler runs.
func New(deps Deps) *Gateway {
	lists := deps.WordLists
	if lists == nil {
		lists = &moderation.WordLists{}
	}
	return &Gateway{
		verifier: deps.Verifier,
		rooms:    deps.Rooms,
		messages: deps.Messages,
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		bans:     deps.Bans,
		broker:   deps.Broker,
		limiter:  deps.Limiter,
		notifier: deps.Notifier,
		lists:    lists,
		alerts:   deps.Alerts,
		checkers: make(map[string]*moderation.Checker),
	}
}

// SetSender wires the transport in after the server is constructed.
func (g *Gateway) SetSender(s Sender) {
	g.sender = s
}

// Register mounts the gateway's handlers on the dispatcher.
func (g *Gateway) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeAuth, g.handleAuth)
	d.Register(protocol.TypeChatMessage, g.handleChatMessage)
	d.Register(protocol.TypeStore, g.handleStore)
	d.Register(protocol.TypeStoreByRoom, g.handleStoreByRoom)
	d.Register(protocol.TypeRead, g.handleRead)
}

// -----------------------------------------------------------------------
// auth — handshake
// -----------------------------------------------------------------------

func (g *Gateway) handleAuth(conn *ws.Connection, msg interface{}) {
	authMsg, ok := msg.(protocol.AuthMsg)
	if !ok {
		return
	}
	if conn.Authenticated() {
		// Repeated handshakes are ignored; the first one wins.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	identity, err := g.verifier.Verify(authMsg.Token)
	if err != nil {
		log.Printf("gateway: auth rejected conn=%s: %v", conn.ID, err)
		g.sender.CloseUnauthenticated(conn, "invalid token")
		return
	}
	accountID := identity.AccountID

	// Frozen accounts never get past the handshake. The Redis cache is the
	// hot path; the durable flag on the account row is the backstop.
	frozen, reason, err := g.bans.IsFrozen(ctx, accountID)
	if err != nil {
		log.Printf("gateway: freeze check failed for %s: %v", accountID, err)
	}
	if frozen {
		log.Printf("gateway: frozen account %s rejected (%s)", accountID, reason)
		g.sender.CloseUnauthenticated(conn, "account frozen")
		return
	}

	acct, err := g.accounts.Get(ctx, accountID)
	if err != nil {
		log.Printf("gateway: account lookup failed for %s: %v", accountID, err)
		g.sender.CloseUnauthenticated(conn, "unknown account")
		return
	}
	if acct.IsBanned {
		g.sender.CloseUnauthenticated(conn, "account frozen")
		return
	}

	r, err := g.rooms.ActiveRoomFor(ctx, accountID)
	if err != nil {
		log.Printf("gateway: room lookup failed for %s: %v", accountID, err)
		g.sender.CloseUnauthenticated(conn, "auth failed")
		return
	}

	resp := protocol.AuthResponseMsg{
		NotStoredMessages: []protocol.MessageData{},
	}
	var roomID, roomName string
	if r != nil {
		roomID, roomName = r.ID, r.Name
		resp.RoomID = r.ID
		resp.Room = r.Proto()
		resp.IsAlreadyEnded = r.IsEnd

		backlog, err := g.messages.Backlog(ctx, r.ID, accountID)
		if err != nil {
			log.Printf("gateway: backlog load failed for %s in %s: %v", accountID, r.ID, err)
		}
		for i := range backlog {
			resp.NotStoredMessages = append(resp.NotStoredMessages, backlog[i].Data())
		}

		connID := conn.ID
		if err := g.broker.SubscribeToRoom(r.ID, connID, func(data []byte) {
			if err := g.sender.SendMessage(connID, data); err != nil {
				log.Printf("gateway: forward to conn=%s failed: %v", connID, err)
			}
		}); err != nil {
			log.Printf("gateway: room subscription failed for %s in %s: %v", accountID, r.ID, err)
		}
	}

	conn.Authenticate(accountID, acct.Name, roomID)
	g.setChecker(conn.ID, moderation.NewChecker(g.lists, g.alerts, accountID, acct.Name, roomID, roomName))

	if err := g.sessions.Create(ctx, accountID, acct.Name, roomID); err != nil {
		log.Printf("gateway: session create failed for %s: %v", accountID, err)
	}

	frame, err := protocol.NewServerMessage(protocol.TypeAuthResponse, resp)
	if err != nil {
		log.Printf("gateway: encode auth response for %s: %v", accountID, err)
		return
	}
	if err := g.sender.SendMessage(conn.ID, frame); err != nil {
		log.Printf("gateway: auth response to conn=%s failed: %v", conn.ID, err)
	}
	log.Printf("gateway: authenticated conn=%s account=%s room=%s", conn.ID, accountID, roomID)
}

// -----------------------------------------------------------------------
// chat_message — moderation gate, persistence, fan-out
// -----------------------------------------------------------------------

func (g *Gateway) handleChatMessage(conn *ws.Connection, msg interface{}) {
	chatMsg, ok := msg.(protocol.ChatMessageMsg)
	if !ok {
		return
	}
	accountID, name, roomID := conn.Identity()
	if roomID == "" {
		log.Printf("gateway: chat_message from %s without a room", accountID)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	start := time.Now()

	if allowed, _ := g.limiter.Allow(ctx, accountID, ratelimit.RuleMessage); !allowed {
		log.Printf("gateway: rate limited chat_message from %s", accountID)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	if chatMsg.MessageID == "" {
		log.Printf("gateway: chat_message from %s without message_id", accountID)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}
	if err := message.ValidateText(chatMsg.Text); err != nil {
		log.Printf("gateway: chat_message from %s rejected: %v", accountID, err)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	checker := g.checker(conn.ID)
	if checker == nil {
		log.Printf("gateway: no moderation checker for conn=%s", conn.ID)
		return
	}
	result := checker.Check(chatMsg.Text, chatMsg.MessageID)
	if result.Decision == moderation.DecisionTaboo {
		g.handleTaboo(ctx, conn, accountID, roomID, chatMsg.MessageID, result.MatchedWord)
		return
	}

	m := &message.Message{
		ID:       chatMsg.MessageID,
		RoomID:   roomID,
		SenderID: accountID,
		Text:     chatMsg.Text,
	}
	if err := g.messages.Persist(ctx, m); err != nil {
		if errors.Is(err, message.ErrDuplicateID) {
			// A retry of an already delivered message; the original broadcast
			// stands.
			log.Printf("gateway: duplicate message %s from %s", m.ID, accountID)
		} else {
			log.Printf("gateway: persist message %s failed: %v", m.ID, err)
		}
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	frame, err := protocol.NewServerMessage(protocol.TypeChatMessageEvent, protocol.ChatMessageEventMsg{
		RoomID:  roomID,
		Message: m.Data(),
	})
	if err != nil {
		log.Printf("gateway: encode message %s: %v", m.ID, err)
		return
	}
	if err := g.broker.PublishRoom(roomID, frame); err != nil {
		log.Printf("gateway: broadcast message %s failed: %v", m.ID, err)
	}

	outcome := "sent"
	if result.Decision == moderation.DecisionWarning {
		outcome = "warning"
	}
	metrics.MessagesTotal.WithLabelValues(outcome).Inc()
	metrics.MessageLatency.Observe(time.Since(start).Seconds())

	if g.notifier != nil {
		if r, err := g.rooms.Get(ctx, roomID); err == nil {
			g.notifier.MessageSent(ctx, r, accountID, name, chatMsg.Text)
		} else {
			log.Printf("gateway: room load for notification failed: %v", err)
		}
	}
	g.touch(ctx, accountID)
}

// handleTaboo freezes the sender and tells only them. The message is never
// persisted or broadcast, so other members see nothing.
func (g *Gateway) handleTaboo(ctx context.Context, conn *ws.Connection, accountID, roomID, messageID, word string) {
	frame, err := protocol.NewServerMessage(protocol.TypeChatTabooMessage, protocol.ChatTabooMessageMsg{
		RoomID:    roomID,
		MessageID: messageID,
	})
	if err == nil {
		if err := g.sender.SendMessage(conn.ID, frame); err != nil {
			log.Printf("gateway: taboo reply to conn=%s failed: %v", conn.ID, err)
		}
	}

	if err := g.accounts.SetBanned(ctx, accountID, true); err != nil {
		log.Printf("gateway: set banned flag for %s failed: %v", accountID, err)
	}
	if err := g.bans.Freeze(ctx, accountID, "taboo: "+word); err != nil {
		log.Printf("gateway: freeze %s failed: %v", accountID, err)
	}

	metrics.MessagesTotal.WithLabelValues("taboo").Inc()
	log.Printf("gateway: froze account %s for taboo content (word=%s)", accountID, word)
}

// -----------------------------------------------------------------------
// store / store_by_room / read — delivery marks
// -----------------------------------------------------------------------

func (g *Gateway) handleStore(conn *ws.Connection, msg interface{}) {
	storeMsg, ok := msg.(protocol.StoreMsg)
	if !ok || storeMsg.MessageID == "" {
		return
	}
	accountID, _, _ := conn.Identity()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := g.messages.MarkStored(ctx, storeMsg.MessageID, accountID); err != nil {
		log.Printf("gateway: mark stored %s for %s: %v", storeMsg.MessageID, accountID, err)
		return
	}
	g.touch(ctx, accountID)
}

func (g *Gateway) handleStoreByRoom(conn *ws.Connection, msg interface{}) {
	accountID, _, roomID := conn.Identity()
	if roomID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := g.messages.MarkStoredByRoom(ctx, roomID, accountID); err != nil {
		log.Printf("gateway: mark stored by room %s for %s: %v", roomID, accountID, err)
		return
	}
	g.touch(ctx, accountID)
}

func (g *Gateway) handleRead(conn *ws.Connection, msg interface{}) {
	accountID, _, roomID := conn.Identity()
	if roomID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := g.messages.MarkReadAll(ctx, roomID, accountID); err != nil {
		log.Printf("gateway: mark read %s for %s: %v", roomID, accountID, err)
		return
	}
	g.touch(ctx, accountID)
}

// -----------------------------------------------------------------------
// disconnect cleanup
// -----------------------------------------------------------------------

// HandleDisconnect releases the session and room subscription held by a
// closed connection. Wired into the server via SetOnDisconnect.
func (g *Gateway) HandleDisconnect(conn *ws.Connection) {
	g.dropChecker(conn.ID)

	accountID, _, roomID := conn.Identity()
	if accountID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if roomID != "" {
		// Keyed by this connection's id, so a reconnect that already set up a
		// fresh subscription keeps its feed.
		if err := g.broker.UnsubscribeFromRoom(roomID, conn.ID); err != nil {
			log.Printf("gateway: unsubscribe conn=%s from %s: %v", conn.ID, roomID, err)
		}
	}
	if err := g.sessions.Delete(ctx, accountID); err != nil {
		log.Printf("gateway: session delete for %s: %v", accountID, err)
	}
	log.Printf("gateway: cleaned up account=%s room=%s", accountID, roomID)
}

// -----------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------

func (g *Gateway) touch(ctx context.Context, accountID string) {
	if err := g.sessions.Touch(ctx, accountID); err != nil {
		log.Printf("gateway: session touch for %s: %v", accountID, err)
	}
}

func (g *Gateway) setChecker(connID string, c *moderation.Checker) {
	g.mu.Lock()
	g.checkers[connID] = c
	g.mu.Unlock()
}

func (g *Gateway) checker(connID string) *moderation.Checker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkers[connID]
}

func (g *Gateway) dropChecker(connID string) {
	g.mu.Lock()
	delete(g.checkers, connID)
	g.mu.Unlock()
}
