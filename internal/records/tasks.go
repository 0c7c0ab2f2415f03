package records

import (
	"context"

	"go.uber.org/zap"
)

// CreateTask stores a new task for owner.
func (s *Service) CreateTask(ctx context.Context, owner string, input TaskInput) (Task, error) {
	owner, err := s.requireOwner(opCreateTask, owner)
	if err != nil {
		return Task{}, err
	}
	input, err = input.normalize()
	if err != nil {
		return Task{}, s.invalid(opCreateTask, err)
	}
	id, err := s.newID(opCreateTask, owner)
	if err != nil {
		return Task{}, err
	}

	task := Task{
		ID:          id,
		UserID:      owner,
		Title:       input.Title,
		Description: input.Description,
		DueAt:       input.DueAt,
		Completed:   input.Completed,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		s.logError(opCreateTask, "insert_failed", err, zap.String("user_id", owner))
		return Task{}, newServiceError(opCreateTask, "insert_failed", err)
	}
	return task, nil
}

// ListTasks returns owner's tasks, incomplete first, then by due date descending.
// Tasks without a due date sort after dated ones; remaining ties keep insertion order.
func (s *Service) ListTasks(ctx context.Context, owner string) ([]Task, error) {
	owner, err := s.requireOwner(opListTasks, owner)
	if err != nil {
		return nil, err
	}

	var tasks []Task
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", owner).
		Order("completed ASC").
		Order("due_at IS NULL ASC").
		Order("due_at DESC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		s.logError(opListTasks, "query_failed", err, zap.String("user_id", owner))
		return nil, newServiceError(opListTasks, "query_failed", err)
	}
	return tasks, nil
}

// GetTask loads one of owner's tasks.
func (s *Service) GetTask(ctx context.Context, owner, id string) (Task, error) {
	owner, err := s.requireOwner(opGetTask, owner)
	if err != nil {
		return Task{}, err
	}
	var task Task
	if err := s.take(ctx, opGetTask, owner, id, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// UpdateTask replaces the editable fields. Zero rows means no such task for owner.
func (s *Service) UpdateTask(ctx context.Context, owner, id string, input TaskInput) (int64, error) {
	owner, err := s.requireOwner(opUpdateTask, owner)
	if err != nil {
		return 0, err
	}
	input, err = input.normalize()
	if err != nil {
		return 0, s.invalid(opUpdateTask, err)
	}
	return s.update(ctx, opUpdateTask, owner, id, &Task{}, map[string]any{
		"title":       input.Title,
		"description": input.Description,
		"due_at":      input.DueAt,
		"completed":   input.Completed,
	})
}

// SetTaskCompletion flips only the completion flag.
func (s *Service) SetTaskCompletion(ctx context.Context, owner, id string, completed bool) (int64, error) {
	owner, err := s.requireOwner(opSetTaskCompletion, owner)
	if err != nil {
		return 0, err
	}
	return s.update(ctx, opSetTaskCompletion, owner, id, &Task{}, map[string]any{"completed": completed})
}

func (s *Service) DeleteTask(ctx context.Context, owner, id string) (int64, error) {
	owner, err := s.requireOwner(opDeleteTask, owner)
	if err != nil {
		return 0, err
	}
	return s.remove(ctx, opDeleteTask, owner, id, &Task{})
}
