package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-storefront/internal/domain/zone"
)

var (
	_ zone.Store            = (*ZoneStore)(nil)
	_ zone.BranchRepository = (*ZoneStore)(nil)
)

// foreignKeyViolation is the SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

const zoneColumns = `z.id, z.branch_id, z.name, z.max_distance_km, z.delivery_price,
	z.sort_order, z.status, z.created_at, z.updated_at`

// ZoneStore implements zone.Store and zone.BranchRepository backed by
// PostgreSQL.
type ZoneStore struct {
	pool *pgxpool.Pool
}

// NewZoneStore returns a ZoneStore that uses the given pool.
func NewZoneStore(pool *pgxpool.Pool) *ZoneStore {
	return &ZoneStore{pool: pool}
}

// GetBranch returns the branch with its coordinates.
// Returns zone.ErrBranchNotFound when no such branch exists.
func (s *ZoneStore) GetBranch(ctx context.Context, id int64) (*zone.Branch, error) {
	var b zone.Branch
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, latitude, longitude FROM branches WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Latitude, &b.Longitude)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, zone.ErrBranchNotFound
		}
		return nil, errors.Wrapf(err, "get branch %d", id)
	}
	return &b, nil
}

// ActiveByBranch reads the branch's active zones in evaluation order in a
// single statement.
func (s *ZoneStore) ActiveByBranch(ctx context.Context, branchID int64) ([]zone.Zone, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+zoneColumns+`
		FROM delivery_zones z
		WHERE z.branch_id = $1 AND z.status = 'active'
		ORDER BY z.sort_order, z.max_distance_km, z.id`, branchID)
	if err != nil {
		return nil, errors.Wrapf(err, "query active zones of branch %d", branchID)
	}
	return collectZones(rows)
}

// ListActive returns active zones of one branch, or of every branch when
// branchID is zero.
func (s *ZoneStore) ListActive(ctx context.Context, branchID int64) ([]zone.Zone, error) {
	return s.List(ctx, zone.Filter{BranchID: branchID, Status: zone.StatusActive})
}

// List returns zones matching f ordered by branch, then evaluation order.
// Search matches the zone name, the branch name or the radius text.
func (s *ZoneStore) List(ctx context.Context, f zone.Filter) ([]zone.Zone, error) {
	var pattern string
	if f.Search != "" {
		pattern = "%" + likeEscaper.Replace(f.Search) + "%"
	}

	rows, err := s.pool.Query(ctx, `SELECT `+zoneColumns+`
		FROM delivery_zones z
		JOIN branches b ON b.id = z.branch_id
		WHERE ($1::bigint = 0 OR z.branch_id = $1)
		  AND ($2::text = '' OR z.status = $2)
		  AND ($3::text = '' OR z.name ILIKE $3 OR b.name ILIKE $3 OR z.max_distance_km::text LIKE $3)
		ORDER BY z.branch_id, z.sort_order, z.max_distance_km, z.id
		LIMIT NULLIF($4::int, 0) OFFSET $5::int`,
		f.BranchID, string(f.Status), pattern, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query zones")
	}
	return collectZones(rows)
}

// Get returns one zone. Returns zone.ErrNotFound when it does not exist.
func (s *ZoneStore) Get(ctx context.Context, id int64) (*zone.Zone, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+zoneColumns+` FROM delivery_zones z WHERE z.id = $1`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query zone %d", id)
	}
	z, err := pgx.CollectExactlyOneRow(rows, scanZone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, zone.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan zone %d", id)
	}
	return &z, nil
}

// Create inserts z and fills its ID and timestamps.
func (s *ZoneStore) Create(ctx context.Context, z *zone.Zone) error {
	err := s.pool.QueryRow(ctx, `INSERT INTO delivery_zones
		(branch_id, name, max_distance_km, delivery_price, sort_order, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		z.BranchID, z.Name, z.MaxDistanceKm, z.DeliveryPrice, z.SortOrder, string(z.Status),
	).Scan(&z.ID, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

// Update overwrites the editable columns of z.
func (s *ZoneStore) Update(ctx context.Context, z *zone.Zone) error {
	err := s.pool.QueryRow(ctx, `UPDATE delivery_zones SET
		branch_id = $2, name = $3, max_distance_km = $4, delivery_price = $5,
		sort_order = $6, status = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		z.ID, z.BranchID, z.Name, z.MaxDistanceKm, z.DeliveryPrice, z.SortOrder, string(z.Status),
	).Scan(&z.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zone.ErrNotFound
		}
		return mapWriteErr(err)
	}
	return nil
}

// Delete removes the zone and returns the branch it belonged to.
func (s *ZoneStore) Delete(ctx context.Context, id int64) (int64, error) {
	var branchID int64
	err := s.pool.QueryRow(ctx,
		`DELETE FROM delivery_zones WHERE id = $1 RETURNING branch_id`, id,
	).Scan(&branchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, zone.ErrNotFound
		}
		return 0, errors.Wrapf(err, "delete zone %d", id)
	}
	return branchID, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return zone.ErrBranchNotFound
	}
	return errors.Wrap(err, "write zone")
}

func scanZone(row pgx.CollectableRow) (zone.Zone, error) {
	var (
		z      zone.Zone
		status string
	)
	err := row.Scan(&z.ID, &z.BranchID, &z.Name, &z.MaxDistanceKm, &z.DeliveryPrice,
		&z.SortOrder, &status, &z.CreatedAt, &z.UpdatedAt)
	z.Status = zone.Status(status)
	return z, err
}

func collectZones(rows pgx.Rows) ([]zone.Zone, error) {
	zones, err := pgx.CollectRows(rows, scanZone)
	if err != nil {
		return nil, errors.Wrap(err, "scan zones")
	}
	return zones, nil
}
