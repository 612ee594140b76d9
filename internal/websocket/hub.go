package websocket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"social-token-chat/internal/chat"
	"social-token-chat/internal/domain"
	"social-token-chat/internal/observability"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrHubClosed is returned by queries made after the hub stopped
var ErrHubClosed = errors.New("hub closed")

const (
	sinkTimeout = 5 * time.Second
	outboxSize  = 256
)

// AccessChecker decides whether a user may join a token's room
type AccessChecker interface {
	CheckAccess(ctx context.Context, tokenID, userID string) domain.AccessDecision
}

// HubConfig tunes the gateway
type HubConfig struct {
	MaxMessageLength int
	MessageRetention int
	// RecheckInterval is the age after which a grant is verified again on
	// the next send. Zero disables re-verification.
	RecheckInterval time.Duration
	SendRate        float64
	SendBurst       int
	// Sink receives every canonical message; nil disables it
	Sink domain.MessageSink
}

// inboundEvent is either a client frame or the connection's disconnect.
// Both share one queue so a disconnect never overtakes earlier frames.
type inboundEvent struct {
	client     *Client
	event      ClientEvent
	disconnect bool
}

type checkKind int

const (
	checkJoin checkKind = iota
	checkRecheck
)

type accessResult struct {
	client   *Client
	kind     checkKind
	seq      uint64
	tokenID  string
	userID   string
	decision domain.AccessDecision
}

type presenceQuery struct {
	roomID string
	reply  chan Presence
}

// Hub is the gateway. It owns every connection's state, the room registry
// and the interaction store, and mutates them only from the Run goroutine.
// Access checks run in their own goroutines and post their decisions back.
type Hub struct {
	clients      map[uuid.UUID]*Client
	registry     *chat.Registry
	interactions *chat.Interactions
	checker      AccessChecker
	cfg          HubConfig
	now          func() time.Time

	register      chan *Client
	inbound       chan inboundEvent
	accessResults chan accessResult
	queries       chan presenceQuery
	outbox        chan domain.ChatMessage

	// Shutdown signal
	done chan struct{}
}

// NewHub creates a new Hub
func NewHub(checker AccessChecker, cfg HubConfig) *Hub {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = domain.DefaultMaxMessageLength
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}

	return &Hub{
		clients:       make(map[uuid.UUID]*Client),
		registry:      chat.NewRegistry(),
		interactions:  chat.NewInteractions(cfg.MessageRetention),
		checker:       checker,
		cfg:           cfg,
		now:           time.Now,
		register:      make(chan *Client),
		inbound:       make(chan inboundEvent, 256),
		accessResults: make(chan accessResult, 64),
		queries:       make(chan presenceQuery),
		outbox:        make(chan domain.ChatMessage, outboxSize),
		done:          make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	if h.cfg.Sink != nil {
		go h.drainOutbox(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case client := <-h.register:
			h.registerClient(client)

		case in := <-h.inbound:
			if in.disconnect {
				h.disconnect(in.client)
				continue
			}
			h.handleEvent(in.client, in.event)

		case res := <-h.accessResults:
			h.handleAccessResult(res)

		case q := <-h.queries:
			q.reply <- h.presenceOf(q.roomID)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	if _, exists := h.clients[client.id]; exists {
		return
	}

	limit := rate.Inf
	if h.cfg.SendRate > 0 {
		limit = rate.Limit(h.cfg.SendRate)
	}
	client.limiter = rate.NewLimiter(limit, h.cfg.SendBurst)
	client.state = StateUnauthenticated

	h.clients[client.id] = client
	observability.WebSocketConnectionsActive.Inc()
	client.log().Info("client registered", slog.String("remote_addr", client.remoteAddr))
}

// disconnect is the terminal transition. It is a no-op for connections the
// hub no longer tracks, so duplicate unregisters are harmless.
func (h *Hub) disconnect(client *Client) {
	if current, ok := h.clients[client.id]; !ok || current != client {
		return
	}

	if client.state == StateAuthorized {
		h.leaveRoom(client)
	}
	client.state = StateDisconnected
	client.joinSeq++

	delete(h.clients, client.id)
	close(client.send)
	observability.WebSocketConnectionsActive.Dec()
	client.log().Info("client unregistered")
}

// shutdown performs graceful cleanup of all connections
func (h *Hub) shutdown() {
	close(h.done)

	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
		observability.WebSocketConnectionsActive.Dec()
	}
	observability.ChatRoomsActive.Set(0)

	slog.Info("hub shutdown complete")
}

// Register registers a client with the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.inbound <- inboundEvent{client: client, disconnect: true}:
	case <-h.done:
	}
}

// Dispatch queues an inbound event from client
func (h *Hub) Dispatch(client *Client, event ClientEvent) {
	select {
	case h.inbound <- inboundEvent{client: client, event: event}:
	case <-h.done:
	}
}

// Presence returns the current members and typing users of a room
func (h *Hub) Presence(ctx context.Context, tokenID string) (Presence, error) {
	q := presenceQuery{roomID: domain.NormalizeID(tokenID), reply: make(chan Presence, 1)}

	select {
	case h.queries <- q:
	case <-ctx.Done():
		return Presence{}, ctx.Err()
	case <-h.done:
		return Presence{}, ErrHubClosed
	}

	select {
	case p := <-q.reply:
		return p, nil
	case <-ctx.Done():
		return Presence{}, ctx.Err()
	}
}

func (h *Hub) presenceOf(roomID string) Presence {
	return Presence{
		TokenID:     roomID,
		Members:     h.registry.UsersOf(roomID),
		Typing:      h.registry.TypingUsersOf(roomID),
		Connections: h.registry.ConnectionCount(roomID),
	}
}

// startCheck runs the access check off the hub goroutine. The result is
// tagged with the connection's join sequence so late answers for a join that
// was cancelled or superseded are discarded.
func (h *Hub) startCheck(client *Client, kind checkKind, tokenID, userID string) {
	res := accessResult{
		client:  client,
		kind:    kind,
		seq:     client.joinSeq,
		tokenID: tokenID,
		userID:  userID,
	}
	ctx := client.ctx

	go func() {
		res.decision = h.checker.CheckAccess(ctx, tokenID, userID)
		select {
		case h.accessResults <- res:
		case <-h.done:
		}
	}()
}

func (h *Hub) drainOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
			err := h.cfg.Sink.PublishChatMessage(pubCtx, &msg)
			cancel()
			if err != nil {
				observability.SinkPublishTotal.WithLabelValues("error").Inc()
				slog.Warn("failed to publish chat message",
					slog.String("error", err.Error()),
					slog.String("message_id", msg.ID))
				continue
			}
			observability.SinkPublishTotal.WithLabelValues("ok").Inc()
		}
	}
}

func (h *Hub) enqueueSink(msg domain.ChatMessage) {
	if h.cfg.Sink == nil {
		return
	}
	select {
	case h.outbox <- msg:
	default:
		observability.SinkPublishTotal.WithLabelValues("dropped").Inc()
		slog.Warn("message sink outbox full, dropping message", slog.String("message_id", msg.ID))
	}
}
