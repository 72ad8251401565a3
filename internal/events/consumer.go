package events

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Topic carries order lifecycle events.
const Topic = "order-events"

// ConsumerHandler feeds claimed messages to a Processor. A message is marked
// only after it was applied or dropped as malformed; a failure ends the
// session so the message is redelivered.
type ConsumerHandler struct {
	proc *Processor
	lg   *zap.Logger
}

var _ sarama.ConsumerGroupHandler = (*ConsumerHandler)(nil)

// NewConsumerHandler creates a ConsumerHandler.
func NewConsumerHandler(proc *Processor, lg *zap.Logger) *ConsumerHandler {
	return &ConsumerHandler{proc: proc, lg: lg}
}

func (h *ConsumerHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.lg.Info("Consumer session started",
		zap.String("member_id", sess.MemberID()),
		zap.Int32("generation", sess.GenerationID()),
	)
	return nil
}

func (h *ConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *ConsumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			ctx := zctx.Base(sess.Context(), h.lg.With(
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			))
			if err := h.proc.Handle(ctx, msg.Value); err != nil {
				zctx.From(ctx).Error("Event processing failed", zap.Error(err))
				return errors.Wrapf(err, "offset %d", msg.Offset)
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// Consume joins the consumer group and processes topics until ctx is done,
// rejoining after every rebalance or handler failure.
func Consume(ctx context.Context, group sarama.ConsumerGroup, topics []string, h sarama.ConsumerGroupHandler, retryDelay time.Duration) error {
	for {
		if err := group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			zctx.From(ctx).Error("Consumer group session failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryDelay):
		}
	}
}
