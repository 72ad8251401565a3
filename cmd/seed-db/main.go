// Command seed-db loads branches, delivery zones, users, orders and point
// settings from a JSON fixture (optionally gzip-compressed).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
	"github.com/xenking/oolio-storefront/internal/domain/zone"
	"github.com/xenking/oolio-storefront/internal/storage/postgres"
)

type branchJSON struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Latitude  *float64     `json:"latitude"`
	Longitude *float64     `json:"longitude"`
	Zones     []zone.Input `json:"zones"`
}

type userJSON struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Points int64  `json:"points"`
}

type orderJSON struct {
	ID       int64           `json:"id"`
	UserID   int64           `json:"user_id"`
	BranchID *int64          `json:"branch_id"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Status   string          `json:"status"`
}

type fixture struct {
	Branches []branchJSON      `json:"branches"`
	Users    []userJSON        `json:"users"`
	Orders   []orderJSON       `json:"orders"`
	Points   *loyalty.Settings `json:"point_settings"`
}

func main() {
	var (
		databaseURL string
		seedFile    string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/storefront.json", "path to seed JSON, .gz is decompressed")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedFile string) error {
	fx, err := readFixture(seedFile)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedRows(ctx, lg, pool, fx); err != nil {
		return err
	}
	if err := seedZones(ctx, lg, pool, fx.Branches); err != nil {
		return errors.Wrap(err, "seed zones")
	}
	if fx.Points != nil {
		s, err := loyalty.NewSetupService(postgres.NewLedgerStore(pool)).Update(ctx, *fx.Points)
		if err != nil {
			return errors.Wrap(err, "seed point settings")
		}
		lg.Info("Point settings stored", zap.Bool("enabled", s.Enabled))
	}
	return nil
}

func readFixture(path string) (*fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var fx fixture
	if err := json.NewDecoder(r).Decode(&fx); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &fx, nil
}

// seedRows upserts branches, users and orders by id in one transaction and
// moves the id sequences past the seeded rows.
func seedRows(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, fx *fixture) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, br := range fx.Branches {
			b.Queue(`INSERT INTO branches (id, name, latitude, longitude) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET name = $2, latitude = $3, longitude = $4`,
				br.ID, br.Name, br.Latitude, br.Longitude)
		}
		for _, u := range fx.Users {
			b.Queue(`INSERT INTO users (id, name, points) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET name = $2, points = $3`,
				u.ID, u.Name, u.Points)
		}
		for _, o := range fx.Orders {
			status := o.Status
			if status == "" {
				status = string(loyalty.OrderPending)
			}
			b.Queue(`INSERT INTO orders (id, user_id, branch_id, subtotal, status) VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET user_id = $2, branch_id = $3, subtotal = $4, status = $5`,
				o.ID, o.UserID, o.BranchID, o.Subtotal, status)
		}
		for _, table := range []string{"branches", "users", "orders"} {
			b.Queue(`SELECT setval(pg_get_serial_sequence('` + table + `', 'id'),
				GREATEST((SELECT COALESCE(MAX(id), 0) FROM ` + table + `), 1))`)
		}

		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrap(err, "upsert rows")
		}
		lg.Info("Rows upserted",
			zap.Int("branches", len(fx.Branches)),
			zap.Int("users", len(fx.Users)),
			zap.Int("orders", len(fx.Orders)),
		)
		return nil
	})
}

// seedZones replaces the zones of every seeded branch. Zones go through the
// admin service so they are validated like API input.
func seedZones(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, branches []branchJSON) error {
	store := postgres.NewZoneStore(pool)
	admin := zone.NewAdmin(store, store)

	for _, br := range branches {
		if _, err := pool.Exec(ctx, `DELETE FROM delivery_zones WHERE branch_id = $1`, br.ID); err != nil {
			return errors.Wrapf(err, "clear zones of branch %d", br.ID)
		}
		for _, in := range br.Zones {
			in.BranchID = br.ID
			if in.Status == "" {
				in.Status = zone.StatusActive
			}
			z, err := admin.Create(ctx, in)
			if err != nil {
				return errors.Wrapf(err, "branch %d zone %q", br.ID, in.Name)
			}
			lg.Info("Zone created",
				zap.Int64("branch_id", br.ID),
				zap.Int64("zone_id", z.ID),
				zap.String("max_distance_km", z.MaxDistanceKm.String()),
			)
		}
	}
	return nil
}
