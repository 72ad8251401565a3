package loyalty

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// discountPrecision is the number of fractional digits currency discounts
// are carried with.
const discountPrecision = 6

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderAccepted       OrderStatus = "accepted"
	OrderProcessing     OrderStatus = "processing"
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderDelivered      OrderStatus = "delivered"
	OrderCanceled       OrderStatus = "canceled"
	OrderRejected       OrderStatus = "rejected"
	OrderReturned       OrderStatus = "returned"
)

// Closed reports whether the order was canceled, rejected or returned and
// can no longer earn points.
func (s OrderStatus) Closed() bool {
	switch s {
	case OrderCanceled, OrderRejected, OrderReturned:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned by Tx lookups that find no row.
	ErrNotFound = errors.New("not found")
	// ErrUserNotFound is returned when the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound is returned when the order does not exist or belongs
	// to another user.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPending is returned when points are redeemed on an order
	// that is no longer pending and active.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrAlreadyRedeemed is returned when the order already carries a
	// point discount.
	ErrAlreadyRedeemed = errors.New("points already applied to order")
	// ErrPointsNotApplicable is returned when the user's available points
	// do not meet the per-order minimum.
	ErrPointsNotApplicable = errors.New("points are not applicable")
	// ErrOrderClosed is returned when a canceled, rejected or returned order
	// is settled.
	ErrOrderClosed = errors.New("order is closed")
	// ErrFeatureDisabled is returned by Redeem when the points feature is off.
	ErrFeatureDisabled = errors.New("points feature is disabled")
)

// Settings is the platform-wide point configuration. It is passed explicitly
// to every ledger call.
type Settings struct {
	Enabled bool `json:"enabled"`
	// CurrencyToPoints is the number of points earned per currency unit spent.
	CurrencyToPoints decimal.Decimal `json:"currency_to_points" validate:"gte=0"`
	// PointsPerCurrency is the number of points worth one currency unit.
	PointsPerCurrency     decimal.Decimal `json:"points_per_currency" validate:"gte=0"`
	MinApplicablePerOrder int64           `json:"min_applicable_per_order" validate:"gte=0"`
	MaxApplicablePerOrder int64           `json:"max_applicable_per_order" validate:"gte=0"`
}

// Order is the subset of an order the ledger needs.
type Order struct {
	ID       int64
	UserID   int64
	Subtotal decimal.Decimal
	Status   OrderStatus
	Active   bool
}

// Earn is a point history row: points credited for one order. The row
// outlives a reversal so the order cannot be credited again.
type Earn struct {
	UserID    int64
	OrderID   int64
	Points    int64
	CreatedAt time.Time
	// ReversedAt is set once the points were taken back.
	ReversedAt *time.Time
}

// Redemption records points applied as a discount on one order.
type Redemption struct {
	UserID         int64
	OrderID        int64
	AppliedPoints  int64
	DiscountAmount decimal.Decimal
	// DebitedAt is set once settlement has debited the applied points.
	DebitedAt *time.Time
	CreatedAt time.Time
}

// Snapshot is a consistent read of a user's balance and the points reserved
// by their pending orders.
type Snapshot struct {
	Points   int64
	Reserved int64
}

// Availability describes how many points a user may apply to a new order.
type Availability struct {
	IsApplicable     bool
	UserPoints       int64
	ApplicablePoints int64
	DiscountAmount   decimal.Decimal
}

// Settlement is the outcome of EarnOnSettlement.
type Settlement struct {
	Earned  int64
	Debited int64
	Balance int64
	// Duplicate reports that the order had already been settled and nothing
	// was changed.
	Duplicate bool
}

// Reversal is the outcome of ReverseOnCancelReturn.
type Reversal struct {
	Reversed int64
	Balance  int64
}

// Repository provides access to balances and their ledgers.
type Repository interface {
	// Snapshot reads points and pending reservations in one statement.
	Snapshot(ctx context.Context, userID int64) (Snapshot, error)
	// WithUser runs fn in a transaction that holds an exclusive lock on the
	// user's balance. Returning an error from fn rolls everything back.
	// Returns ErrUserNotFound when the user does not exist.
	WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a transaction scoped to one locked user.
type Tx interface {
	// Points returns the balance read when the lock was taken, adjusted by
	// AddPoints calls made so far.
	Points() int64
	AddPoints(ctx context.Context, delta int64) (int64, error)
	Reserved(ctx context.Context) (int64, error)

	GetOrder(ctx context.Context, orderID int64) (*Order, error)

	// InsertEarn stores the earn row, returning false when one already
	// exists for the order.
	InsertEarn(ctx context.Context, e Earn) (bool, error)
	GetEarn(ctx context.Context, orderID int64) (*Earn, error)
	MarkEarnReversed(ctx context.Context, orderID int64, at time.Time) error

	InsertRedemption(ctx context.Context, r Redemption) error
	GetRedemption(ctx context.Context, orderID int64) (*Redemption, error)
	MarkRedemptionDebited(ctx context.Context, orderID int64, at time.Time) error
}

// OrderRepository reads orders outside a user transaction.
type OrderRepository interface {
	// GetOrder returns ErrOrderNotFound when the order does not exist.
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
}

// SettingsRepository persists the point configuration.
type SettingsRepository interface {
	LoadSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}
