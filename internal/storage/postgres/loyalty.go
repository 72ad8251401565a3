package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
)

var (
	_ loyalty.Repository         = (*LedgerStore)(nil)
	_ loyalty.OrderRepository    = (*LedgerStore)(nil)
	_ loyalty.SettingsRepository = (*LedgerStore)(nil)
	_ loyalty.Tx                 = (*userTx)(nil)
)

const uniqueViolation = "23505"

// reservedQuery sums points applied to the user's pending, active orders
// that settlement has not debited yet. Debited points are already gone from
// users.points.
const reservedQuery = `SELECT COALESCE(SUM(d.applied_points), 0)::bigint
	FROM order_point_discounts d
	JOIN orders o ON o.id = d.order_id
	WHERE d.user_id = $1 AND d.debited_at IS NULL
		AND o.status = 'pending' AND o.active`

// LedgerStore implements the loyalty repositories backed by PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore returns a LedgerStore that uses the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Snapshot reads the balance and the pending reservations in one statement.
func (s *LedgerStore) Snapshot(ctx context.Context, userID int64) (loyalty.Snapshot, error) {
	var snap loyalty.Snapshot
	err := s.pool.QueryRow(ctx, `SELECT u.points, (`+reservedQuery+`)
		FROM users u WHERE u.id = $1`, userID,
	).Scan(&snap.Points, &snap.Reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loyalty.Snapshot{}, loyalty.ErrUserNotFound
		}
		return loyalty.Snapshot{}, errors.Wrapf(err, "snapshot user %d", userID)
	}
	return snap, nil
}

// WithUser locks the user's row for the lifetime of fn. Concurrent callers
// for the same user wait on the lock; an error from fn rolls back.
func (s *LedgerStore) WithUser(ctx context.Context, userID int64, fn func(ctx context.Context, tx loyalty.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ut := &userTx{tx: tx, userID: userID}
		err := tx.QueryRow(ctx, `SELECT points FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&ut.points)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return loyalty.ErrUserNotFound
			}
			return errors.Wrapf(err, "lock user %d", userID)
		}
		return fn(ctx, ut)
	})
}

// GetOrder reads an order without locking it.
func (s *LedgerStore) GetOrder(ctx context.Context, orderID int64) (*loyalty.Order, error) {
	o, err := getOrder(ctx, s.pool, orderID, "")
	if errors.Is(err, loyalty.ErrNotFound) {
		return nil, loyalty.ErrOrderNotFound
	}
	return o, err
}

// LoadSettings reads the single point settings row.
func (s *LedgerStore) LoadSettings(ctx context.Context) (loyalty.Settings, error) {
	var st loyalty.Settings
	err := s.pool.QueryRow(ctx, `SELECT enabled, currency_to_points, points_per_currency,
		min_applicable_per_order, max_applicable_per_order
		FROM point_settings WHERE id = 1`,
	).Scan(&st.Enabled, &st.CurrencyToPoints, &st.PointsPerCurrency,
		&st.MinApplicablePerOrder, &st.MaxApplicablePerOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Schema seeds the row; a missing row means the feature is off.
			return loyalty.Settings{}, nil
		}
		return loyalty.Settings{}, errors.Wrap(err, "query point settings")
	}
	return st, nil
}

// SaveSettings upserts the point settings row.
func (s *LedgerStore) SaveSettings(ctx context.Context, st loyalty.Settings) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO point_settings
		(id, enabled, currency_to_points, points_per_currency,
		 min_applicable_per_order, max_applicable_per_order, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			currency_to_points = EXCLUDED.currency_to_points,
			points_per_currency = EXCLUDED.points_per_currency,
			min_applicable_per_order = EXCLUDED.min_applicable_per_order,
			max_applicable_per_order = EXCLUDED.max_applicable_per_order,
			updated_at = NOW()`,
		st.Enabled, st.CurrencyToPoints, st.PointsPerCurrency,
		st.MinApplicablePerOrder, st.MaxApplicablePerOrder,
	)
	if err != nil {
		return errors.Wrap(err, "upsert point settings")
	}
	return nil
}

// userTx is a transaction holding the row lock of one user.
type userTx struct {
	tx     pgx.Tx
	userID int64
	points int64
}

func (t *userTx) Points() int64 { return t.points }

func (t *userTx) AddPoints(ctx context.Context, delta int64) (int64, error) {
	err := t.tx.QueryRow(ctx,
		`UPDATE users SET points = points + $2 WHERE id = $1 RETURNING points`,
		t.userID, delta,
	).Scan(&t.points)
	if err != nil {
		return 0, errors.Wrapf(err, "add %d points to user %d", delta, t.userID)
	}
	return t.points, nil
}

func (t *userTx) Reserved(ctx context.Context) (int64, error) {
	var reserved int64
	if err := t.tx.QueryRow(ctx, reservedQuery, t.userID).Scan(&reserved); err != nil {
		return 0, errors.Wrapf(err, "reserved points of user %d", t.userID)
	}
	return reserved, nil
}

func (t *userTx) GetOrder(ctx context.Context, orderID int64) (*loyalty.Order, error) {
	return getOrder(ctx, t.tx, orderID, " FOR SHARE")
}

func (t *userTx) InsertEarn(ctx context.Context, e loyalty.Earn) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO point_histories (user_id, order_id, points, created_at, reversed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, order_id) DO NOTHING`,
		e.UserID, e.OrderID, e.Points, e.CreatedAt, e.ReversedAt,
	)
	if err != nil {
		return false, errors.Wrapf(err, "insert earn for order %d", e.OrderID)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *userTx) GetEarn(ctx context.Context, orderID int64) (*loyalty.Earn, error) {
	var e loyalty.Earn
	err := t.tx.QueryRow(ctx, `SELECT user_id, order_id, points, created_at, reversed_at
		FROM point_histories WHERE user_id = $1 AND order_id = $2`,
		t.userID, orderID,
	).Scan(&e.UserID, &e.OrderID, &e.Points, &e.CreatedAt, &e.ReversedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get earn for order %d", orderID)
	}
	return &e, nil
}

func (t *userTx) MarkEarnReversed(ctx context.Context, orderID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE point_histories SET reversed_at = $3
		WHERE user_id = $1 AND order_id = $2 AND reversed_at IS NULL`,
		t.userID, orderID, at,
	)
	if err != nil {
		return errors.Wrapf(err, "reverse earn for order %d", orderID)
	}
	if tag.RowsAffected() != 1 {
		return errors.Errorf("earn of order %d already reversed", orderID)
	}
	return nil
}

func (t *userTx) InsertRedemption(ctx context.Context, r loyalty.Redemption) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_point_discounts
		(order_id, user_id, applied_points, point_discount_amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.OrderID, r.UserID, r.AppliedPoints, r.DiscountAmount, r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return loyalty.ErrAlreadyRedeemed
		}
		return errors.Wrapf(err, "insert redemption for order %d", r.OrderID)
	}
	return nil
}

func (t *userTx) GetRedemption(ctx context.Context, orderID int64) (*loyalty.Redemption, error) {
	var r loyalty.Redemption
	err := t.tx.QueryRow(ctx, `SELECT user_id, order_id, applied_points,
		point_discount_amount, debited_at, created_at
		FROM order_point_discounts WHERE order_id = $1 AND user_id = $2`,
		orderID, t.userID,
	).Scan(&r.UserID, &r.OrderID, &r.AppliedPoints, &r.DiscountAmount, &r.DebitedAt, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get redemption for order %d", orderID)
	}
	return &r, nil
}

func (t *userTx) MarkRedemptionDebited(ctx context.Context, orderID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE order_point_discounts SET debited_at = $3
		WHERE order_id = $1 AND user_id = $2 AND debited_at IS NULL`,
		orderID, t.userID, at,
	)
	if err != nil {
		return errors.Wrapf(err, "mark redemption of order %d debited", orderID)
	}
	if tag.RowsAffected() != 1 {
		return errors.Errorf("redemption of order %d already debited", orderID)
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrder(ctx context.Context, q rowQuerier, orderID int64, lock string) (*loyalty.Order, error) {
	var (
		o      loyalty.Order
		status string
	)
	err := q.QueryRow(ctx, `SELECT id, user_id, subtotal, status, active
		FROM orders WHERE id = $1`+lock, orderID,
	).Scan(&o.ID, &o.UserID, &o.Subtotal, &status, &o.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %d", orderID)
	}
	o.Status = loyalty.OrderStatus(status)
	return &o, nil
}
