package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"social-token-chat/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ChatExchange fans every canonical message out to downstream consumers
	ChatExchange = "chat.messages"
	// StatsQueue is the durable queue read by the stats worker
	StatsQueue = "stats.chat_messages"
	// EnvelopeType matches the WebSocket event that carried the message
	EnvelopeType = "message-broadcast"

	maxRetryBackoff = 10 * time.Second
)

var ErrInvalidEnvelope = errors.New("invalid chat message envelope")

// Envelope is the wire format on ChatExchange
type Envelope struct {
	Type    string      `json:"type"`
	Message *MessageRef `json:"message"`
}

// MessageRef identifies a chat message without its content. Bodies, display
// names and reply snapshots never leave the gateway.
type MessageRef struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"tokenId"`
	AuthorID  string    `json:"userId"`
	ReplyToID string    `json:"replyToId,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// RabbitMQ publishes canonical chat messages and consumes them for the stats worker
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQ connects and declares the chat topology
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry keeps dialing with exponential backoff until it
// connects or ctx is done. The broker often starts after the services in
// local and compose environments.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	backoff := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

// Setup declares the fanout exchange and the stats queue bound to it
func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		ChatExchange, // name
		"fanout",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", ChatExchange, err)
	}

	if _, err := r.channel.QueueDeclare(
		StatsQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", StatsQueue, err)
	}

	if err := r.channel.QueueBind(
		StatsQueue,   // queue name
		"",           // routing key, ignored by fanout
		ChatExchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind %s queue: %w", StatsQueue, err)
	}

	slog.Info("rabbitmq setup completed successfully",
		slog.String("exchange", ChatExchange),
		slog.String("queue", StatsQueue))
	return nil
}

// PublishChatMessage implements domain.MessageSink
func (r *RabbitMQ) PublishChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	body, err := EncodeEnvelope(msg)
	if err != nil {
		return err
	}

	err = r.channel.PublishWithContext(
		ctx,
		ChatExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         EnvelopeType,
			MessageId:    msg.ID,
			Timestamp:    msg.CreatedAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish chat message: %w", err)
	}

	slog.Debug("published chat message",
		slog.String("message_id", msg.ID),
		slog.String("token_id", msg.RoomID))
	return nil
}

// ConsumeChatMessages starts a manual-ack consumer on the stats queue.
// prefetch bounds the number of unacknowledged deliveries in flight.
func (r *RabbitMQ) ConsumeChatMessages(prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := r.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set qos: %w", err)
		}
	}

	msgs, err := r.channel.Consume(
		StatsQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming chat messages",
		slog.String("queue", StatsQueue),
		slog.Int("prefetch", prefetch))
	return msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// EncodeEnvelope wraps the identifying fields of a canonical message for
// ChatExchange
func EncodeEnvelope(msg *domain.ChatMessage) ([]byte, error) {
	if msg == nil {
		return nil, ErrInvalidEnvelope
	}

	ref := &MessageRef{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		AuthorID:  msg.AuthorID,
		CreatedAt: msg.CreatedAt,
	}
	if msg.ReplyTo != nil {
		ref.ReplyToID = msg.ReplyTo.ID
	}

	body, err := json.Marshal(Envelope{Type: EnvelopeType, Message: ref})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat message: %w", err)
	}
	return body, nil
}

// DecodeEnvelope parses a delivery body, rejecting anything that is not a
// message-broadcast with an author
func DecodeEnvelope(body []byte) (*MessageRef, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type != EnvelopeType || env.Message == nil {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidEnvelope, env.Type)
	}
	if domain.NormalizeID(env.Message.AuthorID) == "" {
		return nil, fmt.Errorf("%w: message %s has no author", ErrInvalidEnvelope, env.Message.ID)
	}
	return env.Message, nil
}
