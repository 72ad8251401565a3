package loyalty

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-storefront/internal/validate"
)

// SetupService reads and updates the point configuration.
type SetupService struct {
	repo     SettingsRepository
	validate *validate.Validator
}

// NewSetupService creates a SetupService backed by repo.
func NewSetupService(repo SettingsRepository) *SetupService {
	return &SetupService{repo: repo, validate: validate.New()}
}

// Load returns the current settings.
func (s *SetupService) Load(ctx context.Context) (Settings, error) {
	st, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return Settings{}, errors.Wrap(err, "load point settings")
	}
	return st, nil
}

// Update validates and stores new settings, returning what was stored.
func (s *SetupService) Update(ctx context.Context, st Settings) (Settings, error) {
	if err := s.validate.Struct(st); err != nil {
		return Settings{}, err
	}
	if err := s.repo.SaveSettings(ctx, st); err != nil {
		return Settings{}, errors.Wrap(err, "save point settings")
	}
	return s.Load(ctx)
}
