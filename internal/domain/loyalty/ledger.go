package loyalty

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrInvalidRate is reported when PointsPerCurrency is not positive. It is a
// configuration problem: nothing is applicable and the discount is zero.
var ErrInvalidRate = errors.New("points per currency rate must be positive")

// Ledger maintains user point balances across the order lifecycle.
type Ledger struct {
	repo Repository
	now  func() time.Time

	earned   metric.Int64Counter
	debited  metric.Int64Counter
	reversed metric.Int64Counter
}

// NewLedger creates a Ledger backed by repo, recording point movements on
// counters from meter.
func NewLedger(repo Repository, meter metric.Meter) (*Ledger, error) {
	l := &Ledger{repo: repo, now: time.Now}

	var err error
	if l.earned, err = meter.Int64Counter("loyalty.points.earned",
		metric.WithDescription("Points credited on order settlement"),
	); err != nil {
		return nil, errors.Wrap(err, "earned counter")
	}
	if l.debited, err = meter.Int64Counter("loyalty.points.debited",
		metric.WithDescription("Redeemed points debited on order settlement"),
	); err != nil {
		return nil, errors.Wrap(err, "debited counter")
	}
	if l.reversed, err = meter.Int64Counter("loyalty.points.reversed",
		metric.WithDescription("Earned points taken back on cancellation or return"),
	); err != nil {
		return nil, errors.Wrap(err, "reversed counter")
	}
	return l, nil
}

// EarnedPoints returns ceil(subtotal × CurrencyToPoints).
func EarnedPoints(s Settings, subtotal decimal.Decimal) int64 {
	return subtotal.Mul(s.CurrencyToPoints).Ceil().IntPart()
}

// Evaluate computes the availability for a balance snapshot. Points reserved
// by pending orders are excluded. A non-positive PointsPerCurrency makes
// nothing applicable and returns ErrInvalidRate along with a valid
// Availability, so points are never spent for a zero discount.
func Evaluate(s Settings, snap Snapshot) (Availability, error) {
	available := snap.Points - snap.Reserved
	av := Availability{
		UserPoints:     available,
		DiscountAmount: decimal.Zero,
	}

	av.IsApplicable = available >= s.MinApplicablePerOrder && available > 0

	switch {
	case available >= s.MaxApplicablePerOrder:
		av.ApplicablePoints = s.MaxApplicablePerOrder
	case available >= s.MinApplicablePerOrder:
		av.ApplicablePoints = available
	}

	if av.ApplicablePoints <= 0 {
		return av, nil
	}
	if !s.PointsPerCurrency.IsPositive() {
		av.IsApplicable = false
		av.ApplicablePoints = 0
		return av, ErrInvalidRate
	}
	av.DiscountAmount = decimal.NewFromInt(av.ApplicablePoints).
		DivRound(s.PointsPerCurrency, discountPrecision)
	return av, nil
}

// CheckAvailability reports how many points the user can apply to a new
// order. With the feature disabled the raw balance is reported and nothing
// is applicable.
func (l *Ledger) CheckAvailability(ctx context.Context, s Settings, userID int64) (*Availability, error) {
	snap, err := l.repo.Snapshot(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "read balance")
	}

	if !s.Enabled {
		return &Availability{UserPoints: snap.Points, DiscountAmount: decimal.Zero}, nil
	}

	av, err := Evaluate(s, snap)
	if err != nil {
		zctx.From(ctx).Warn("Point discount disabled by configuration",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
	return &av, nil
}

// Redeem applies the user's applicable points as a discount on a pending
// order. Availability is recomputed under the user's lock, so concurrent
// redemptions cannot promise the same points twice.
func (l *Ledger) Redeem(ctx context.Context, s Settings, userID, orderID int64) (*Redemption, error) {
	if !s.Enabled {
		return nil, ErrFeatureDisabled
	}

	var out Redemption
	err := l.repo.WithUser(ctx, userID, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrOrderNotFound
			}
			return errors.Wrap(err, "get order")
		}
		if o.UserID != userID {
			return ErrOrderNotFound
		}
		if o.Status != OrderPending || !o.Active {
			return ErrOrderNotPending
		}

		switch _, err := tx.GetRedemption(ctx, orderID); {
		case err == nil:
			return ErrAlreadyRedeemed
		case !errors.Is(err, ErrNotFound):
			return errors.Wrap(err, "get redemption")
		}

		reserved, err := tx.Reserved(ctx)
		if err != nil {
			return errors.Wrap(err, "read reserved points")
		}
		av, err := Evaluate(s, Snapshot{Points: tx.Points(), Reserved: reserved})
		if err != nil {
			zctx.From(ctx).Warn("Point discount disabled by configuration",
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
			return ErrPointsNotApplicable
		}
		if !av.IsApplicable || av.ApplicablePoints <= 0 {
			return ErrPointsNotApplicable
		}

		out = Redemption{
			UserID:         userID,
			OrderID:        orderID,
			AppliedPoints:  av.ApplicablePoints,
			DiscountAmount: av.DiscountAmount,
			CreatedAt:      l.now(),
		}
		if err := tx.InsertRedemption(ctx, out); err != nil {
			return errors.Wrap(err, "insert redemption")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EarnOnSettlement credits the points earned by a paid order and debits the
// points it redeemed, earn first, in one transaction. Calling it again for
// the same order, or after the order was reversed, changes nothing and
// reports Duplicate. Closed orders are refused with ErrOrderClosed.
func (l *Ledger) EarnOnSettlement(ctx context.Context, s Settings, o Order) (*Settlement, error) {
	if o.Status.Closed() {
		return nil, ErrOrderClosed
	}

	var res Settlement
	err := l.repo.WithUser(ctx, o.UserID, func(ctx context.Context, tx Tx) error {
		res = Settlement{}
		now := l.now()
		seen := false

		switch e, err := tx.GetEarn(ctx, o.ID); {
		case err == nil && e.ReversedAt != nil:
			res = Settlement{Balance: tx.Points(), Duplicate: true}
			return nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return errors.Wrap(err, "get earn")
		}

		if s.Enabled {
			earned := EarnedPoints(s, o.Subtotal)
			inserted, err := tx.InsertEarn(ctx, Earn{
				UserID:    o.UserID,
				OrderID:   o.ID,
				Points:    earned,
				CreatedAt: now,
			})
			if err != nil {
				return errors.Wrap(err, "insert earn")
			}
			if inserted {
				if _, err := tx.AddPoints(ctx, earned); err != nil {
					return errors.Wrap(err, "credit points")
				}
				res.Earned = earned
			} else {
				seen = true
			}
		}

		r, err := tx.GetRedemption(ctx, o.ID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return errors.Wrap(err, "get redemption")
		case r.DebitedAt != nil:
			seen = true
		default:
			if _, err := tx.AddPoints(ctx, -r.AppliedPoints); err != nil {
				return errors.Wrap(err, "debit points")
			}
			if err := tx.MarkRedemptionDebited(ctx, o.ID, now); err != nil {
				return errors.Wrap(err, "mark redemption debited")
			}
			res.Debited = r.AppliedPoints
		}

		res.Duplicate = seen && res.Earned == 0 && res.Debited == 0
		res.Balance = tx.Points()
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.Int64("user_id", o.UserID))
	if res.Earned > 0 {
		l.earned.Add(ctx, res.Earned, attrs)
	}
	if res.Debited > 0 {
		l.debited.Add(ctx, res.Debited, attrs)
	}
	return &res, nil
}

// ReverseOnCancelReturn takes back the points earned by a canceled or
// returned order and marks the earn row reversed. Orders that never earned
// points get a zero-point reversed row, so a late settlement cannot credit
// them either. Repeated calls and unknown users are a no-op.
func (l *Ledger) ReverseOnCancelReturn(ctx context.Context, o Order) (*Reversal, error) {
	var res Reversal
	err := l.repo.WithUser(ctx, o.UserID, func(ctx context.Context, tx Tx) error {
		res = Reversal{Balance: tx.Points()}
		now := l.now()

		e, err := tx.GetEarn(ctx, o.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			if _, err := tx.InsertEarn(ctx, Earn{
				UserID:     o.UserID,
				OrderID:    o.ID,
				CreatedAt:  now,
				ReversedAt: &now,
			}); err != nil {
				return errors.Wrap(err, "record reversal")
			}
			return nil
		case err != nil:
			return errors.Wrap(err, "get earn")
		case e.ReversedAt != nil:
			return nil
		}

		balance, err := tx.AddPoints(ctx, -e.Points)
		if err != nil {
			return errors.Wrap(err, "debit points")
		}
		if err := tx.MarkEarnReversed(ctx, o.ID, now); err != nil {
			return errors.Wrap(err, "mark earn reversed")
		}
		res = Reversal{Reversed: e.Points, Balance: balance}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return &Reversal{}, nil
		}
		return nil, err
	}

	if res.Reversed > 0 {
		l.reversed.Add(ctx, res.Reversed, metric.WithAttributes(attribute.Int64("user_id", o.UserID)))
	}
	return &res, nil
}

// Balance returns the user's current point balance.
func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	snap, err := l.repo.Snapshot(ctx, userID)
	if err != nil {
		return 0, errors.Wrap(err, "read balance")
	}
	return snap.Points, nil
}
