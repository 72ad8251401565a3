// Package handler serves the storefront and admin JSON API.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
	"github.com/xenking/oolio-storefront/internal/domain/zone"
)

// Zones resolves delivery zones for customers.
type Zones interface {
	GetDeliveryPrice(ctx context.Context, b zone.Branch, lat, lng float64) (*zone.Quote, error)
	GetZonesByBranch(ctx context.Context, branchID int64) ([]zone.Zone, error)
}

// ZoneAdmin manages zones.
type ZoneAdmin interface {
	Create(ctx context.Context, in zone.Input) (*zone.Zone, error)
	Update(ctx context.Context, id int64, in zone.Input) (*zone.Zone, error)
	Get(ctx context.Context, id int64) (*zone.Zone, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f zone.Filter) ([]zone.Zone, error)
	ListActive(ctx context.Context, branchID int64) ([]zone.Zone, error)
}

// Ledger applies point operations.
type Ledger interface {
	CheckAvailability(ctx context.Context, s loyalty.Settings, userID int64) (*loyalty.Availability, error)
	Redeem(ctx context.Context, s loyalty.Settings, userID, orderID int64) (*loyalty.Redemption, error)
	EarnOnSettlement(ctx context.Context, s loyalty.Settings, o loyalty.Order) (*loyalty.Settlement, error)
	ReverseOnCancelReturn(ctx context.Context, o loyalty.Order) (*loyalty.Reversal, error)
	Balance(ctx context.Context, userID int64) (int64, error)
}

// PointSetup reads and writes the point settings.
type PointSetup interface {
	Load(ctx context.Context) (loyalty.Settings, error)
	Update(ctx context.Context, s loyalty.Settings) (loyalty.Settings, error)
}

// Deps are the services behind the API.
type Deps struct {
	Zones    Zones
	Admin    ZoneAdmin
	Branches zone.BranchRepository
	Ledger   Ledger
	Setup    PointSetup
	Orders   loyalty.OrderRepository
}

// Handler serves the API routes.
type Handler struct {
	zones    Zones
	admin    ZoneAdmin
	branches zone.BranchRepository
	ledger   Ledger
	setup    PointSetup
	orders   loyalty.OrderRepository
}

// New creates a Handler.
func New(d Deps) *Handler {
	return &Handler{
		zones:    d.Zones,
		admin:    d.Admin,
		branches: d.Branches,
		ledger:   d.Ledger,
		setup:    d.Setup,
		orders:   d.Orders,
	}
}

// Register mounts every route under /api on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/branches/{branchID}/zones", h.BranchZones)
	mux.HandleFunc("POST /api/branches/{branchID}/zones/detect", h.DetectZone)
	mux.HandleFunc("GET /api/zones", h.ActiveZones)

	mux.HandleFunc("GET /api/admin/zones", h.ListZones)
	mux.HandleFunc("POST /api/admin/zones", h.CreateZone)
	mux.HandleFunc("GET /api/admin/zones/{zoneID}", h.GetZone)
	mux.HandleFunc("PUT /api/admin/zones/{zoneID}", h.UpdateZone)
	mux.HandleFunc("DELETE /api/admin/zones/{zoneID}", h.DeleteZone)

	mux.HandleFunc("GET /api/admin/point-setup", h.GetPointSetup)
	mux.HandleFunc("PUT /api/admin/point-setup", h.UpdatePointSetup)

	mux.HandleFunc("GET /api/users/{userID}/points", h.UserPoints)
	mux.HandleFunc("POST /api/orders/{orderID}/redeem", h.RedeemPoints)
	mux.HandleFunc("POST /api/orders/{orderID}/settle", h.SettleOrder)
	mux.HandleFunc("POST /api/orders/{orderID}/reverse", h.ReverseOrder)
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// queryInt parses an optional integer query parameter; absent or invalid
// values are zero.
func queryInt(r *http.Request, name string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
