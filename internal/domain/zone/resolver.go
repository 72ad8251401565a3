package zone

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// pricePrecision is the number of fractional digits delivery prices are
// stored with.
const pricePrecision = 6

// Quote is the outcome of a delivery price lookup.
type Quote struct {
	Zone  Zone
	Price decimal.Decimal
	// DistanceKm is kept at full precision; use RoundedDistance for display.
	DistanceKm float64
}

// RoundedDistance returns the distance rounded to 2 decimal places.
func (q Quote) RoundedDistance() decimal.Decimal {
	return decimal.NewFromFloat(q.DistanceKm).Round(2)
}

// Resolver selects the delivery zone for a customer location. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	zones Repository
}

// NewResolver creates a Resolver reading zones from the given Repository.
func NewResolver(zones Repository) *Resolver {
	return &Resolver{zones: zones}
}

// Sort orders zones by (SortOrder, MaxDistanceKm) ascending, keeping the
// relative order of equal zones.
func Sort(zones []Zone) {
	slices.SortStableFunc(zones, func(a, b Zone) int {
		if c := cmp.Compare(a.SortOrder, b.SortOrder); c != 0 {
			return c
		}
		return a.MaxDistanceKm.Cmp(b.MaxDistanceKm)
	})
}

// Match returns the first active zone, in (SortOrder, MaxDistanceKm) order,
// whose radius covers distanceKm.
//
// This is first-match, not tightest-radius: a zone with a lower sort order
// and a larger radius shadows a tighter zone sorted after it. Administrators
// rely on sort order to override radius order, so priced outcomes depend on
// this exact policy.
func Match(zones []Zone, distanceKm float64) (Zone, bool) {
	active := make([]Zone, 0, len(zones))
	for _, z := range zones {
		if z.Status == StatusActive {
			active = append(active, z)
		}
	}
	Sort(active)

	for _, z := range active {
		if z.MaxDistanceKm.InexactFloat64() >= distanceKm {
			return z, true
		}
	}
	return Zone{}, false
}

// ResolveZone returns the zone covering the customer location.
// It returns ErrMissingLocation when the branch has no coordinates and
// ErrOutOfServiceArea when no active zone covers the distance.
func (r *Resolver) ResolveZone(ctx context.Context, b Branch, lat, lng float64) (*Zone, error) {
	z, _, err := r.resolve(ctx, b, lat, lng)
	if err != nil {
		return nil, err
	}
	return z, nil
}

// GetDeliveryPrice resolves the zone and returns its price together with the
// computed distance.
func (r *Resolver) GetDeliveryPrice(ctx context.Context, b Branch, lat, lng float64) (*Quote, error) {
	z, distance, err := r.resolve(ctx, b, lat, lng)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Zone:       *z,
		Price:      z.DeliveryPrice.Truncate(pricePrecision),
		DistanceKm: distance,
	}, nil
}

// GetZonesByBranch returns the active zones of a branch in evaluation order.
func (r *Resolver) GetZonesByBranch(ctx context.Context, branchID int64) ([]Zone, error) {
	zones, err := r.zones.ActiveByBranch(ctx, branchID)
	if err != nil {
		return nil, errors.Wrap(err, "list active zones")
	}
	Sort(zones)
	return zones, nil
}

func (r *Resolver) resolve(ctx context.Context, b Branch, lat, lng float64) (*Zone, float64, error) {
	if !b.HasLocation() {
		return nil, 0, ErrMissingLocation
	}

	distance := Distance(*b.Latitude, *b.Longitude, lat, lng)

	zones, err := r.zones.ActiveByBranch(ctx, b.ID)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list active zones")
	}

	z, ok := Match(zones, distance)
	if !ok {
		return nil, distance, ErrOutOfServiceArea
	}
	return &z, distance, nil
}
