package events

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
)

// Ledger is the part of loyalty.Ledger events drive.
type Ledger interface {
	EarnOnSettlement(ctx context.Context, s loyalty.Settings, o loyalty.Order) (*loyalty.Settlement, error)
	ReverseOnCancelReturn(ctx context.Context, o loyalty.Order) (*loyalty.Reversal, error)
	Redeem(ctx context.Context, s loyalty.Settings, userID, orderID int64) (*loyalty.Redemption, error)
}

// SettingsLoader returns the current point settings.
type SettingsLoader interface {
	Load(ctx context.Context) (loyalty.Settings, error)
}

// Processor decodes events and applies them to the ledger.
type Processor struct {
	ledger   Ledger
	settings SettingsLoader
}

// NewProcessor creates a Processor.
func NewProcessor(ledger Ledger, settings SettingsLoader) *Processor {
	return &Processor{ledger: ledger, settings: settings}
}

// Apply dispatches ev to the matching ledger operation.
func (p *Processor) Apply(ctx context.Context, s loyalty.Settings, ev Event) error {
	lg := zctx.From(ctx)

	switch ev.Type {
	case OrderSettled:
		res, err := p.ledger.EarnOnSettlement(ctx, s, ev.Order)
		switch {
		case errors.Is(err, loyalty.ErrUserNotFound):
			lg.Warn("Settlement for unknown user dropped")
			return nil
		case errors.Is(err, loyalty.ErrOrderClosed):
			lg.Warn("Settlement for closed order dropped")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "settle")
		}
		lg.Info("Order settled",
			zap.Int64("earned", res.Earned),
			zap.Int64("debited", res.Debited),
			zap.Int64("balance", res.Balance),
			zap.Bool("duplicate", res.Duplicate),
		)
	case OrderCanceled, OrderReturned:
		res, err := p.ledger.ReverseOnCancelReturn(ctx, ev.Order)
		if err != nil {
			return errors.Wrap(err, "reverse")
		}
		lg.Info("Order points reversed",
			zap.Int64("reversed", res.Reversed),
			zap.Int64("balance", res.Balance),
		)
	case OrderRedeemed:
		r, err := p.ledger.Redeem(ctx, s, ev.Order.UserID, ev.Order.ID)
		if err != nil {
			if isRejection(err) {
				lg.Warn("Redemption rejected", zap.Error(err))
				return nil
			}
			return errors.Wrap(err, "redeem")
		}
		lg.Info("Points redeemed",
			zap.Int64("applied_points", r.AppliedPoints),
			zap.String("discount", r.DiscountAmount.String()),
		)
	default:
		return errors.Wrapf(ErrMalformed, "unknown type %q", ev.Type)
	}
	return nil
}

// Handle decodes raw and applies it with the current settings. Malformed
// events are logged and dropped; other errors are returned for retry.
func (p *Processor) Handle(ctx context.Context, raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		zctx.From(ctx).Warn("Skipping malformed event", zap.Error(err))
		return nil
	}

	ctx = zctx.With(ctx,
		zap.String("event_type", string(ev.Type)),
		zap.Int64("order_id", ev.Order.ID),
		zap.Int64("user_id", ev.Order.UserID),
	)

	s, err := p.settings.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load settings")
	}
	return p.Apply(ctx, s, ev)
}

// isRejection reports redemption errors caused by the order or balance
// state, which retrying cannot change.
func isRejection(err error) bool {
	for _, target := range []error{
		loyalty.ErrOrderNotFound,
		loyalty.ErrOrderNotPending,
		loyalty.ErrAlreadyRedeemed,
		loyalty.ErrPointsNotApplicable,
		loyalty.ErrFeatureDisabled,
		loyalty.ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
