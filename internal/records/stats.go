package records

import (
	"context"

	"go.uber.org/zap"
)

// OwnerStats summarizes how many records an owner keeps.
type OwnerStats struct {
	Tasks          int64 `json:"tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	Notes          int64 `json:"notes"`
	Watches        int64 `json:"watches"`
	ActiveWatches  int64 `json:"active_watches"`
}

// Stats counts owner's records. Active watches are those with notifications enabled.
func (s *Service) Stats(ctx context.Context, owner string) (OwnerStats, error) {
	owner, err := s.requireOwner(opStats, owner)
	if err != nil {
		return OwnerStats{}, err
	}

	var stats OwnerStats
	counts := []struct {
		model any
		flag  string
		dest  *int64
	}{
		{&Task{}, "", &stats.Tasks},
		{&Task{}, "completed", &stats.CompletedTasks},
		{&Note{}, "", &stats.Notes},
		{&LocationWatch{}, "", &stats.Watches},
		{&LocationWatch{}, "notifications_enabled", &stats.ActiveWatches},
	}
	db := s.db.WithContext(ctx)
	for _, count := range counts {
		query := db.Model(count.model).Where("user_id = ?", owner)
		if count.flag != "" {
			query = query.Where(count.flag+" = ?", true)
		}
		if err := query.Count(count.dest).Error; err != nil {
			s.logError(opStats, "query_failed", err, zap.String("user_id", owner))
			return OwnerStats{}, newServiceError(opStats, "query_failed", err)
		}
	}
	return stats, nil
}
