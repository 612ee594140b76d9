package messaging

import (
	"context"
	"log/slog"
	"time"

	"social-token-chat/internal/domain"
	"social-token-chat/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	incrementTimeout = 5 * time.Second
	requeueDelay     = time.Second
)

// StatsConsumer counts chat messages per author from the stats queue
type StatsConsumer struct {
	repo      domain.UserStatsRepository
	transient func(error) bool
	// RequeueDelay slows redelivery of messages that hit a transient store error
	RequeueDelay time.Duration
}

// NewStatsConsumer creates a consumer. transient decides whether a failed
// increment is requeued or dropped.
func NewStatsConsumer(repo domain.UserStatsRepository, transient func(error) bool) *StatsConsumer {
	if transient == nil {
		transient = func(error) bool { return false }
	}
	return &StatsConsumer{
		repo:         repo,
		transient:    transient,
		RequeueDelay: requeueDelay,
	}
}

// Run handles deliveries until ctx is done or the channel closes
func (c *StatsConsumer) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping stats consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				slog.Warn("stats consumer channel closed")
				return
			}
			c.Handle(ctx, msg)
		}
	}
}

// Handle processes one delivery and settles it: ack on success, nack
// without requeue for malformed bodies and permanent errors, nack with
// requeue for transient store errors.
func (c *StatsConsumer) Handle(ctx context.Context, msg amqp.Delivery) {
	ref, err := DecodeEnvelope(msg.Body)
	if err != nil {
		slog.Error("dropping malformed chat message",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(msg.Body)))
		observability.StatsIncrementsTotal.WithLabelValues("invalid").Inc()
		settle(msg.Nack(false, false))
		return
	}

	incCtx, cancel := context.WithTimeout(ctx, incrementTimeout)
	err = c.repo.IncrementChatMessages(incCtx, ref.AuthorID, 1)
	cancel()

	if err == nil {
		observability.StatsIncrementsTotal.WithLabelValues("ok").Inc()
		settle(msg.Ack(false))
		return
	}

	log := slog.With(
		slog.String("message_id", ref.ID),
		slog.String("user_id", ref.AuthorID),
		slog.String("error", err.Error()))

	if !c.transient(err) {
		log.Error("dropping chat message after permanent store error")
		observability.StatsIncrementsTotal.WithLabelValues("error").Inc()
		settle(msg.Nack(false, false))
		return
	}

	log.Warn("requeueing chat message after transient store error")
	observability.StatsIncrementsTotal.WithLabelValues("requeued").Inc()
	select {
	case <-ctx.Done():
	case <-time.After(c.RequeueDelay):
	}
	settle(msg.Nack(false, true))
}

func settle(err error) {
	if err != nil {
		slog.Error("failed to settle delivery", slog.String("error", err.Error()))
	}
}
