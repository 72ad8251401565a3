package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
	"github.com/xenking/oolio-storefront/internal/domain/zone"
	"github.com/xenking/oolio-storefront/internal/validate"
)

// --- Mocks ---

type mockZones struct {
	quote    *zone.Quote
	err      error
	gotLat   float64
	gotLng   float64
	byBranch []zone.Zone
}

func (m *mockZones) GetDeliveryPrice(_ context.Context, _ zone.Branch, lat, lng float64) (*zone.Quote, error) {
	m.gotLat, m.gotLng = lat, lng
	return m.quote, m.err
}

func (m *mockZones) GetZonesByBranch(context.Context, int64) ([]zone.Zone, error) {
	return m.byBranch, m.err
}

type mockAdmin struct {
	zones      map[int64]zone.Zone
	createIn   zone.Input
	createErr  error
	lastFilter zone.Filter
	activeFor  int64
}

func (m *mockAdmin) Create(_ context.Context, in zone.Input) (*zone.Zone, error) {
	m.createIn = in
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &zone.Zone{ID: 55, BranchID: in.BranchID, Name: in.Name, MaxDistanceKm: in.MaxDistanceKm,
		DeliveryPrice: in.DeliveryPrice, Status: zone.StatusActive}, nil
}

func (m *mockAdmin) Update(_ context.Context, id int64, in zone.Input) (*zone.Zone, error) {
	z, ok := m.zones[id]
	if !ok {
		return nil, zone.ErrNotFound
	}
	z.Name = in.Name
	return &z, nil
}

func (m *mockAdmin) Get(_ context.Context, id int64) (*zone.Zone, error) {
	z, ok := m.zones[id]
	if !ok {
		return nil, zone.ErrNotFound
	}
	return &z, nil
}

func (m *mockAdmin) Delete(_ context.Context, id int64) error {
	if _, ok := m.zones[id]; !ok {
		return zone.ErrNotFound
	}
	delete(m.zones, id)
	return nil
}

func (m *mockAdmin) List(_ context.Context, f zone.Filter) ([]zone.Zone, error) {
	m.lastFilter = f
	return nil, nil
}

func (m *mockAdmin) ListActive(_ context.Context, branchID int64) ([]zone.Zone, error) {
	m.activeFor = branchID
	return []zone.Zone{sampleZone()}, nil
}

type mockBranches struct{}

func (mockBranches) GetBranch(_ context.Context, id int64) (*zone.Branch, error) {
	if id != 1 {
		return nil, zone.ErrBranchNotFound
	}
	lat, lng := 23.8, 90.4
	return &zone.Branch{ID: 1, Latitude: &lat, Longitude: &lng}, nil
}

type mockLedger struct {
	av        *loyalty.Availability
	err       error
	settled   *loyalty.Order
	reversed  *loyalty.Order
	redeemFor [2]int64
	balance   int64
}

func (m *mockLedger) CheckAvailability(context.Context, loyalty.Settings, int64) (*loyalty.Availability, error) {
	return m.av, m.err
}

func (m *mockLedger) Redeem(_ context.Context, _ loyalty.Settings, userID, orderID int64) (*loyalty.Redemption, error) {
	m.redeemFor = [2]int64{userID, orderID}
	if m.err != nil {
		return nil, m.err
	}
	return &loyalty.Redemption{UserID: userID, OrderID: orderID, AppliedPoints: 80, DiscountAmount: decimal.NewFromInt(8)}, nil
}

func (m *mockLedger) EarnOnSettlement(_ context.Context, _ loyalty.Settings, o loyalty.Order) (*loyalty.Settlement, error) {
	m.settled = &o
	return &loyalty.Settlement{Earned: 20, Balance: 120}, m.err
}

func (m *mockLedger) ReverseOnCancelReturn(_ context.Context, o loyalty.Order) (*loyalty.Reversal, error) {
	m.reversed = &o
	return &loyalty.Reversal{Reversed: 20, Balance: 100}, m.err
}

func (m *mockLedger) Balance(context.Context, int64) (int64, error) {
	return m.balance, m.err
}

type mockSetup struct {
	s       loyalty.Settings
	updated *loyalty.Settings
	err     error
}

func (m *mockSetup) Load(context.Context) (loyalty.Settings, error) { return m.s, nil }

func (m *mockSetup) Update(_ context.Context, s loyalty.Settings) (loyalty.Settings, error) {
	if m.err != nil {
		return loyalty.Settings{}, m.err
	}
	m.updated = &s
	return s, nil
}

type mockOrders struct{}

func (mockOrders) GetOrder(_ context.Context, id int64) (*loyalty.Order, error) {
	if id != 10 {
		return nil, loyalty.ErrOrderNotFound
	}
	return &loyalty.Order{ID: 10, UserID: 3, Subtotal: decimal.NewFromInt(10), Status: loyalty.OrderDelivered, Active: true}, nil
}

// --- Helpers ---

func sampleZone() zone.Zone {
	return zone.Zone{
		ID:            2,
		BranchID:      1,
		Name:          "Inner",
		MaxDistanceKm: decimal.RequireFromString("5.50"),
		DeliveryPrice: decimal.RequireFromString("2.123456"),
		SortOrder:     1,
		Status:        zone.StatusActive,
		CreatedAt:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

type fixture struct {
	zones  *mockZones
	admin  *mockAdmin
	ledger *mockLedger
	setup  *mockSetup
	mux    *http.ServeMux
}

func newFixture() *fixture {
	f := &fixture{
		zones:  &mockZones{},
		admin:  &mockAdmin{zones: map[int64]zone.Zone{2: sampleZone()}},
		ledger: &mockLedger{},
		setup:  &mockSetup{s: loyalty.Settings{Enabled: true}},
		mux:    http.NewServeMux(),
	}
	New(Deps{
		Zones:    f.zones,
		Admin:    f.admin,
		Branches: mockBranches{},
		Ledger:   f.ledger,
		Setup:    f.setup,
		Orders:   mockOrders{},
	}).Register(f.mux)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestDetectZone(t *testing.T) {
	f := newFixture()
	f.zones.quote = &zone.Quote{Zone: sampleZone(), Price: decimal.RequireFromString("2.123456"), DistanceKm: 4.98765}

	rec := f.do(http.MethodPost, "/api/branches/1/zones/detect", `{"latitude": 23.81, "longitude": "90.41"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 23.81, f.zones.gotLat, 1e-12)
	assert.InDelta(t, 90.41, f.zones.gotLng, 1e-12)
	assert.JSONEq(t, `{
		"status": true,
		"data": {
			"zone": {
				"id": 2, "branch_id": 1, "name": "Inner",
				"max_distance_km": 5.5, "delivery_price": 2.123456,
				"sort_order": 1, "status": "active",
				"created_at": "2025-01-02T03:04:05Z", "updated_at": null
			},
			"delivery_price": 2.123456,
			"distance_km": 4.99
		}
	}`, rec.Body.String())
}

func TestDetectZone_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "out of service area",
			path:     "/api/branches/1/zones/detect",
			body:     `{"latitude": 1, "longitude": 2}`,
			err:      zone.ErrOutOfServiceArea,
			wantCode: http.StatusUnprocessableEntity,
			wantBody: `{"status":false,"message":"out of service area","message_key":"all.message.out_of_service_area"}`,
		},
		{
			name:     "missing location",
			path:     "/api/branches/1/zones/detect",
			body:     `{"latitude": 1, "longitude": 2}`,
			err:      zone.ErrMissingLocation,
			wantCode: http.StatusUnprocessableEntity,
			wantBody: `{"status":false,"message":"branch location (latitude/longitude) is not set"}`,
		},
		{
			name:     "missing coordinate",
			path:     "/api/branches/1/zones/detect",
			body:     `{"latitude": 1}`,
			wantCode: http.StatusUnprocessableEntity,
			wantBody: `{"status":false,"message":"validation failed: longitude: required","errors":{"longitude":"required"}}`,
		},
		{
			name:     "unknown branch",
			path:     "/api/branches/9/zones/detect",
			body:     `{"latitude": 1, "longitude": 2}`,
			wantCode: http.StatusNotFound,
			wantBody: `{"status":false,"message":"branch not found"}`,
		},
		{
			name:     "malformed body",
			path:     "/api/branches/1/zones/detect",
			body:     `{"latitude": `,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "storage failure",
			path:     "/api/branches/1/zones/detect",
			body:     `{"latitude": 1, "longitude": 2}`,
			err:      errors.New("connection reset"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"status":false,"message":"Internal Server Error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.zones.err = tt.err

			rec := f.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestBranchZones(t *testing.T) {
	f := newFixture()
	f.zones.byBranch = []zone.Zone{sampleZone()}

	rec := f.do(http.MethodGet, "/api/branches/1/zones", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[{"id":2`)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/branches/7/zones", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/branches/abc/zones", "").Code)
}

func TestActiveZones(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/api/zones?branch_id=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(4), f.admin.activeFor)

	f.do(http.MethodGet, "/api/zones", "")
	assert.Zero(t, f.admin.activeFor)
}

func TestAdminZones(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/admin/zones",
		`{"branch_id": 1, "name": "Outer", "max_distance_km": "10.5", "delivery_price": 3, "sort_order": 2, "status": "active", "ignored": true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/admin/zones/55", rec.Header().Get("Location"))
	assert.Equal(t, "Outer", f.admin.createIn.Name)
	assert.True(t, decimal.RequireFromString("10.5").Equal(f.admin.createIn.MaxDistanceKm))
	assert.Equal(t, 2, f.admin.createIn.SortOrder)

	f.admin.createErr = validate.Field("max_distance_km", "gt=0")
	rec = f.do(http.MethodPost, "/api/admin/zones", `{"branch_id": 1, "max_distance_km": 0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errors":{"max_distance_km":"gt=0"}`)

	rec = f.do(http.MethodPost, "/api/admin/zones", `{"max_distance_km": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/zones/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Inner"`)

	rec = f.do(http.MethodPut, "/api/admin/zones/2", `{"branch_id": 1, "name": "Renamed", "max_distance_km": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Renamed"`)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPut, "/api/admin/zones/3", `{}`).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/admin/zones/2", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/admin/zones/2", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodPatch, "/api/admin/zones/2", "").Code)
}

func TestListZonesFilter(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/api/admin/zones?branch_id=1&status=inactive&search=north&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
	assert.Equal(t, zone.Filter{BranchID: 1, Status: zone.StatusInactive, Search: "north", Limit: 10, Offset: 20}, f.admin.lastFilter)
}

func TestPointSetup(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPut, "/api/admin/point-setup", `{
		"enabled": true, "currency_to_points": "1.5", "points_per_currency": 10,
		"min_applicable_per_order": 50, "max_applicable_per_order": 80
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.setup.updated)
	assert.True(t, decimal.RequireFromString("1.5").Equal(f.setup.updated.CurrencyToPoints))
	assert.JSONEq(t, `{
		"enabled": true, "currency_to_points": 1.5, "points_per_currency": 10,
		"min_applicable_per_order": 50, "max_applicable_per_order": 80
	}`, rec.Body.String())

	f.setup.err = validate.Field("points_per_currency", "gte=0")
	rec = f.do(http.MethodPut, "/api/admin/point-setup", `{"points_per_currency": -1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/point-setup", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserPoints(t *testing.T) {
	f := newFixture()
	f.ledger.av = &loyalty.Availability{
		IsApplicable:     true,
		UserPoints:       100,
		ApplicablePoints: 80,
		DiscountAmount:   decimal.RequireFromString("8.000000"),
	}
	f.ledger.balance = 150

	rec := f.do(http.MethodGet, "/api/users/3/points", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"points": 150, "is_point_applicable": true, "user_points": 100,
		"applicable_points": 80, "point_discount_amount": 8
	}`, rec.Body.String())

	f.ledger.av, f.ledger.err = nil, loyalty.ErrUserNotFound
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/users/3/points", "").Code)
}

func TestRedeemPoints(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/orders/10/redeem", `{"user_id": 3}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, [2]int64{3, 10}, f.ledger.redeemFor)
	assert.JSONEq(t, `{"order_id":10,"user_id":3,"applied_points":80,"point_discount_amount":8}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/orders/10/redeem", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	for _, err := range []error{loyalty.ErrPointsNotApplicable, loyalty.ErrAlreadyRedeemed, loyalty.ErrOrderNotPending} {
		f.ledger.err = errors.Wrap(err, "redeem")
		rec = f.do(http.MethodPost, "/api/orders/10/redeem", `{"user_id": 3}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, err.Error())
		assert.Contains(t, rec.Body.String(), err.Error())
	}

	f.ledger.err = loyalty.ErrOrderNotFound
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/orders/10/redeem", `{"user_id": 3}`).Code)
}

func TestSettleAndReverse(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/orders/10/settle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.ledger.settled)
	assert.Equal(t, int64(3), f.ledger.settled.UserID)
	assert.JSONEq(t, `{"earned":20,"debited":0,"balance":120,"duplicate":false}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/orders/10/reverse", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.ledger.reversed)
	assert.JSONEq(t, `{"reversed":20,"balance":100}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/orders/11/settle", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/orders/0/reverse", "").Code)

	f.ledger.err = loyalty.ErrOrderClosed
	rec = f.do(http.MethodPost, "/api/orders/10/settle", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "order is closed")
}
