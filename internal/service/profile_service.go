package service

import (
	"context"

	"workplace/internal/models"
	"workplace/internal/repository"
	"workplace/internal/validation"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

const maxDirectoryPage = 500

type ProfileService struct {
	profiles repository.ProfileRepository
}

func NewProfileService(profiles repository.ProfileRepository) *ProfileService {
	return &ProfileService{profiles: profiles}
}

func (s *ProfileService) Get(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	profile, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError("Profile", id, err)
	}
	return profile, nil
}

// List returns the user directory ordered by name.
func (s *ProfileService) List(ctx context.Context, limit, offset int) ([]*models.Profile, error) {
	if limit <= 0 || limit > maxDirectoryPage {
		limit = maxDirectoryPage
	}
	if offset < 0 {
		offset = 0
	}
	profiles, err := s.profiles.List(ctx, limit, offset)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return profiles, nil
}

// Update applies the owner's edit to their own profile.
func (s *ProfileService) Update(ctx context.Context, userID uuid.UUID, in models.ProfileUpdate) (*models.Profile, error) {
	if err := validation.Struct(in); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if len(in.Settings) > 0 && !jsoniter.Valid(in.Settings) {
		return nil, models.NewValidationError("settings must be valid JSON")
	}
	if in.ManagerID != nil && *in.ManagerID == userID {
		return nil, models.NewValidationError("manager_id cannot reference yourself")
	}

	profile, err := s.profiles.Update(ctx, userID, in.Columns())
	if err != nil {
		return nil, mapRepoError("Profile", userID, err)
	}
	return profile, nil
}
