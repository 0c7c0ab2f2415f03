package records

import (
	"context"

	"go.uber.org/zap"
)

// CreateWatch stores a new location watch for owner.
func (s *Service) CreateWatch(ctx context.Context, owner string, input WatchInput) (LocationWatch, error) {
	owner, err := s.requireOwner(opCreateWatch, owner)
	if err != nil {
		return LocationWatch{}, err
	}
	input, err = input.normalize()
	if err != nil {
		return LocationWatch{}, s.invalid(opCreateWatch, err)
	}
	id, err := s.newID(opCreateWatch, owner)
	if err != nil {
		return LocationWatch{}, err
	}

	watch := LocationWatch{
		ID:                   id,
		UserID:               owner,
		Title:                input.Title,
		Description:          input.Description,
		Address:              input.Address,
		Latitude:             input.Latitude,
		Longitude:            input.Longitude,
		RadiusMeters:         input.RadiusMeters,
		NotificationsEnabled: input.NotificationsEnabled,
		CreatedAt:            s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&watch).Error; err != nil {
		s.logError(opCreateWatch, "insert_failed", err, zap.String("user_id", owner))
		return LocationWatch{}, newServiceError(opCreateWatch, "insert_failed", err)
	}
	return watch, nil
}

// ListWatches returns owner's watches, newest first.
func (s *Service) ListWatches(ctx context.Context, owner string) ([]LocationWatch, error) {
	owner, err := s.requireOwner(opListWatches, owner)
	if err != nil {
		return nil, err
	}

	var watches []LocationWatch
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", owner).
		Order("created_at DESC").
		Order("id DESC").
		Find(&watches).Error; err != nil {
		s.logError(opListWatches, "query_failed", err, zap.String("user_id", owner))
		return nil, newServiceError(opListWatches, "query_failed", err)
	}
	return watches, nil
}

// ListActiveWatches returns owner's watches with notifications enabled.
func (s *Service) ListActiveWatches(ctx context.Context, owner string) ([]LocationWatch, error) {
	owner, err := s.requireOwner(opListActiveWatches, owner)
	if err != nil {
		return nil, err
	}

	var watches []LocationWatch
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND notifications_enabled = ?", owner, true).
		Order("created_at DESC").
		Order("id DESC").
		Find(&watches).Error; err != nil {
		s.logError(opListActiveWatches, "query_failed", err, zap.String("user_id", owner))
		return nil, newServiceError(opListActiveWatches, "query_failed", err)
	}
	return watches, nil
}

func (s *Service) GetWatch(ctx context.Context, owner, id string) (LocationWatch, error) {
	owner, err := s.requireOwner(opGetWatch, owner)
	if err != nil {
		return LocationWatch{}, err
	}
	var watch LocationWatch
	if err := s.take(ctx, opGetWatch, owner, id, &watch); err != nil {
		return LocationWatch{}, err
	}
	return watch, nil
}

func (s *Service) UpdateWatch(ctx context.Context, owner, id string, input WatchInput) (int64, error) {
	owner, err := s.requireOwner(opUpdateWatch, owner)
	if err != nil {
		return 0, err
	}
	input, err = input.normalize()
	if err != nil {
		return 0, s.invalid(opUpdateWatch, err)
	}
	return s.update(ctx, opUpdateWatch, owner, id, &LocationWatch{}, map[string]any{
		"title":                 input.Title,
		"description":           input.Description,
		"address":               input.Address,
		"latitude":              input.Latitude,
		"longitude":             input.Longitude,
		"radius_m":              input.RadiusMeters,
		"notifications_enabled": input.NotificationsEnabled,
	})
}

func (s *Service) DeleteWatch(ctx context.Context, owner, id string) (int64, error) {
	owner, err := s.requireOwner(opDeleteWatch, owner)
	if err != nil {
		return 0, err
	}
	return s.remove(ctx, opDeleteWatch, owner, id, &LocationWatch{})
}
