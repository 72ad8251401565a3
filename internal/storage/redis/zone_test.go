package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-storefront/internal/domain/zone"
)

type memBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	deleted []string
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, errMiss
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.deleted = append(m.deleted, keys...)
	return nil
}

type mockStore struct {
	zone.Store
	zones       map[int64]*zone.Zone
	activeCalls int
}

func (m *mockStore) ActiveByBranch(_ context.Context, branchID int64) ([]zone.Zone, error) {
	m.activeCalls++
	var out []zone.Zone
	for _, z := range m.zones {
		if z.BranchID == branchID && z.Status == zone.StatusActive {
			out = append(out, *z)
		}
	}
	zone.Sort(out)
	return out, nil
}

func (m *mockStore) Get(_ context.Context, id int64) (*zone.Zone, error) {
	z, ok := m.zones[id]
	if !ok {
		return nil, zone.ErrNotFound
	}
	cp := *z
	return &cp, nil
}

func (m *mockStore) Create(_ context.Context, z *zone.Zone) error {
	z.ID = int64(len(m.zones) + 1)
	cp := *z
	m.zones[z.ID] = &cp
	return nil
}

func (m *mockStore) Update(_ context.Context, z *zone.Zone) error {
	cp := *z
	m.zones[z.ID] = &cp
	return nil
}

func (m *mockStore) Delete(_ context.Context, id int64) (int64, error) {
	z, ok := m.zones[id]
	if !ok {
		return 0, zone.ErrNotFound
	}
	delete(m.zones, id)
	return z.BranchID, nil
}

func newCache(zones ...zone.Zone) (*ZoneCache, *mockStore, *memBackend) {
	store := &mockStore{zones: make(map[int64]*zone.Zone)}
	for i := range zones {
		store.zones[zones[i].ID] = &zones[i]
	}
	kv := newMemBackend()
	return &ZoneCache{Store: store, kv: kv, ttl: time.Minute}, store, kv
}

func testZone(id, branchID int64, maxKm string) zone.Zone {
	return zone.Zone{
		ID:            id,
		BranchID:      branchID,
		Name:          "Zone",
		MaxDistanceKm: decimal.RequireFromString(maxKm),
		DeliveryPrice: decimal.RequireFromString("2.123456"),
		SortOrder:     1,
		Status:        zone.StatusActive,
		CreatedAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestZoneCache_HitAfterMiss(t *testing.T) {
	c, store, _ := newCache(testZone(1, 7, "5"), testZone(2, 7, "10"))
	ctx := context.Background()

	first, err := c.ActiveByBranch(ctx, 7)
	require.NoError(t, err)
	second, err := c.ActiveByBranch(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, 1, store.activeCalls)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.True(t, first[i].MaxDistanceKm.Equal(second[i].MaxDistanceKm))
		assert.True(t, first[i].DeliveryPrice.Equal(second[i].DeliveryPrice))
		assert.True(t, first[i].CreatedAt.Equal(second[i].CreatedAt))
		assert.Equal(t, first[i].Status, second[i].Status)
	}
}

func TestZoneCache_EmptyListIsCached(t *testing.T) {
	c, store, _ := newCache()
	ctx := context.Background()

	for range 3 {
		zones, err := c.ActiveByBranch(ctx, 7)
		require.NoError(t, err)
		assert.Empty(t, zones)
	}
	assert.Equal(t, 1, store.activeCalls)
}

func TestZoneCache_WritesInvalidate(t *testing.T) {
	c, store, kv := newCache(testZone(1, 7, "5"))
	ctx := context.Background()

	warm := func() {
		_, err := c.ActiveByBranch(ctx, 7)
		require.NoError(t, err)
	}

	warm()
	z := testZone(0, 7, "8")
	require.NoError(t, c.Create(ctx, &z))
	zones, err := c.ActiveByBranch(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, zones, 2)
	assert.Equal(t, 2, store.activeCalls)

	moved := testZone(1, 9, "5")
	require.NoError(t, c.Update(ctx, &moved))
	assert.Contains(t, kv.deleted, key(7))
	assert.Contains(t, kv.deleted, key(9))

	warm()
	_, err = c.Delete(ctx, z.ID)
	require.NoError(t, err)
	zones, err = c.ActiveByBranch(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, zones)
}

func TestZoneCache_FailedWriteKeepsEntry(t *testing.T) {
	c, _, kv := newCache(testZone(1, 7, "5"))
	ctx := context.Background()

	_, err := c.ActiveByBranch(ctx, 7)
	require.NoError(t, err)

	_, err = c.Delete(ctx, 99)
	require.ErrorIs(t, err, zone.ErrNotFound)
	assert.Contains(t, kv.data, key(7))
}

func TestZoneCache_BackendErrorFallsBack(t *testing.T) {
	c, store, kv := newCache(testZone(1, 7, "5"))
	kv.getErr = errors.New("connection refused")

	zones, err := c.ActiveByBranch(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, zones, 1)
	assert.Equal(t, 1, store.activeCalls)
}

func TestZoneCache_CorruptEntryReloads(t *testing.T) {
	c, store, kv := newCache(testZone(1, 7, "5"))
	kv.data[key(7)] = []byte(`{"not":"an array"}`)

	zones, err := c.ActiveByBranch(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, zones, 1)
	assert.Equal(t, 1, store.activeCalls)

	_, err = decodeZones(kv.data[key(7)])
	require.NoError(t, err, "entry is rewritten")
}
