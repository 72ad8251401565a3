package zone

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-storefront/internal/validate"
)

// Input holds the administrator-editable fields of a zone.
type Input struct {
	BranchID      int64           `json:"branch_id" validate:"gt=0"`
	Name          string          `json:"name" validate:"max=190"`
	MaxDistanceKm decimal.Decimal `json:"max_distance_km" validate:"gt=0"`
	DeliveryPrice decimal.Decimal `json:"delivery_price" validate:"gte=0"`
	SortOrder     int             `json:"sort_order" validate:"gte=0"`
	Status        Status          `json:"status" validate:"oneof=active inactive"`
}

// Admin implements zone management for administrators.
type Admin struct {
	store    Store
	branches BranchRepository
	validate *validate.Validator
}

// NewAdmin creates an Admin backed by the given stores.
func NewAdmin(store Store, branches BranchRepository) *Admin {
	return &Admin{
		store:    store,
		branches: branches,
		validate: validate.New(),
	}
}

// Create validates the input and stores a new zone.
func (a *Admin) Create(ctx context.Context, in Input) (*Zone, error) {
	if err := a.check(ctx, &in); err != nil {
		return nil, err
	}

	z := &Zone{}
	in.apply(z)
	if err := a.store.Create(ctx, z); err != nil {
		return nil, errors.Wrap(err, "create zone")
	}
	return z, nil
}

// Update validates the input and overwrites the zone's editable fields.
func (a *Admin) Update(ctx context.Context, id int64, in Input) (*Zone, error) {
	if err := a.check(ctx, &in); err != nil {
		return nil, err
	}

	z, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(z)
	if err := a.store.Update(ctx, z); err != nil {
		return nil, errors.Wrapf(err, "update zone %d", id)
	}
	return z, nil
}

// Get returns a single zone.
func (a *Admin) Get(ctx context.Context, id int64) (*Zone, error) {
	return a.store.Get(ctx, id)
}

// Delete removes a zone permanently.
func (a *Admin) Delete(ctx context.Context, id int64) error {
	if _, err := a.store.Delete(ctx, id); err != nil {
		return err
	}
	return nil
}

// List returns zones matching the filter in evaluation order.
func (a *Admin) List(ctx context.Context, f Filter) ([]Zone, error) {
	f.Search = strings.TrimSpace(f.Search)
	if f.Limit < 0 {
		f.Limit = 0
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	zones, err := a.store.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list zones")
	}
	return zones, nil
}

// ListActive returns active zones of one branch, or of all branches when
// branchID is zero.
func (a *Admin) ListActive(ctx context.Context, branchID int64) ([]Zone, error) {
	zones, err := a.store.ListActive(ctx, branchID)
	if err != nil {
		return nil, errors.Wrap(err, "list active zones")
	}
	return zones, nil
}

func (a *Admin) check(ctx context.Context, in *Input) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Status == "" {
		in.Status = StatusActive
	}
	if err := a.validate.Struct(in); err != nil {
		return err
	}

	if _, err := a.branches.GetBranch(ctx, in.BranchID); err != nil {
		if errors.Is(err, ErrBranchNotFound) {
			return validate.Field("branch_id", "exists")
		}
		return errors.Wrap(err, "get branch")
	}
	return nil
}

func (in Input) apply(z *Zone) {
	z.BranchID = in.BranchID
	z.Name = in.Name
	z.MaxDistanceKm = in.MaxDistanceKm.Round(2)
	z.DeliveryPrice = in.DeliveryPrice.Round(pricePrecision)
	z.SortOrder = in.SortOrder
	z.Status = in.Status
}
