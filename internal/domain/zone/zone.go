package zone

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the administrative state of a delivery zone.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// OutOfServiceAreaKey is the translation key callers show when a customer is
// beyond every zone of the branch.
const OutOfServiceAreaKey = "all.message.out_of_service_area"

var (
	// ErrMissingLocation is returned when the branch has no stored coordinates.
	ErrMissingLocation = errors.New("branch location (latitude/longitude) is not set")
	// ErrOutOfServiceArea is returned when no active zone covers the distance.
	ErrOutOfServiceArea = errors.New("out of service area")
	// ErrNotFound is returned by stores when a zone does not exist.
	ErrNotFound = errors.New("delivery zone not found")
	// ErrBranchNotFound is returned by stores when a branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")
)

// Branch is the subset of a restaurant branch the resolver needs.
type Branch struct {
	ID        int64
	Name      string
	Latitude  *float64
	Longitude *float64
}

// HasLocation reports whether both coordinates are stored.
func (b Branch) HasLocation() bool {
	return b.Latitude != nil && b.Longitude != nil
}

// Zone is a distance-bounded delivery pricing tier of a branch.
type Zone struct {
	ID            int64
	BranchID      int64
	Name          string
	MaxDistanceKm decimal.Decimal
	DeliveryPrice decimal.Decimal
	SortOrder     int
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Filter narrows admin zone listings. Zero values mean "no filter".
type Filter struct {
	BranchID int64
	Status   Status
	Search   string
	Limit    int
	Offset   int
}

// Repository provides read access to the active zones of a branch.
type Repository interface {
	// ActiveByBranch returns the branch's active zones ordered by
	// (sort_order, max_distance_km) ascending.
	ActiveByBranch(ctx context.Context, branchID int64) ([]Zone, error)
}

// BranchRepository looks up branches.
type BranchRepository interface {
	GetBranch(ctx context.Context, id int64) (*Branch, error)
}

// Store is the full zone persistence contract used by the admin service.
type Store interface {
	Repository

	Get(ctx context.Context, id int64) (*Zone, error)
	List(ctx context.Context, f Filter) ([]Zone, error)
	ListActive(ctx context.Context, branchID int64) ([]Zone, error)
	Create(ctx context.Context, z *Zone) error
	Update(ctx context.Context, z *Zone) error
	Delete(ctx context.Context, id int64) (branchID int64, err error)
}

// MessageKey returns the translation key for user-facing zone errors, or ""
// when err is not one of them.
func MessageKey(err error) string {
	if errors.Is(err, ErrOutOfServiceArea) {
		return OutOfServiceAreaKey
	}
	return ""
}
