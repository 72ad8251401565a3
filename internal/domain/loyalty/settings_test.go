package loyalty

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-storefront/internal/validate"
)

type mockSettingsRepo struct {
	stored  Settings
	saves   int
	loadErr error
}

func (m *mockSettingsRepo) LoadSettings(context.Context) (Settings, error) {
	if m.loadErr != nil {
		return Settings{}, m.loadErr
	}
	return m.stored, nil
}

func (m *mockSettingsRepo) SaveSettings(_ context.Context, s Settings) error {
	m.saves++
	m.stored = s
	return nil
}

func TestSetupService_Update(t *testing.T) {
	repo := &mockSettingsRepo{}
	svc := NewSetupService(repo)

	got, err := svc.Update(context.Background(), enabledSettings())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.saves)
	assert.True(t, got.Enabled)
	assert.Equal(t, int64(80), got.MaxApplicablePerOrder)
}

func TestSetupService_UpdateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
		field  string
	}{
		{"negative earn rate", func(s *Settings) { s.CurrencyToPoints = decimal.NewFromInt(-1) }, "currency_to_points"},
		{"negative redeem rate", func(s *Settings) { s.PointsPerCurrency = decimal.RequireFromString("-0.5") }, "points_per_currency"},
		{"negative minimum", func(s *Settings) { s.MinApplicablePerOrder = -1 }, "min_applicable_per_order"},
		{"negative maximum", func(s *Settings) { s.MaxApplicablePerOrder = -10 }, "max_applicable_per_order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockSettingsRepo{}
			svc := NewSetupService(repo)

			s := enabledSettings()
			tt.mutate(&s)

			_, err := svc.Update(context.Background(), s)

			var vErr *validate.Error
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.Fields, tt.field)
			assert.Zero(t, repo.saves)
		})
	}
}

func TestSetupService_LoadError(t *testing.T) {
	svc := NewSetupService(&mockSettingsRepo{loadErr: errors.New("db down")})

	_, err := svc.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load point settings")
}
