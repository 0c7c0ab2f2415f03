package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted code for API responses alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "records.service.new"

	opCreateTask        = "records.create_task"
	opListTasks         = "records.list_tasks"
	opGetTask           = "records.get_task"
	opUpdateTask        = "records.update_task"
	opSetTaskCompletion = "records.set_task_completion"
	opDeleteTask        = "records.delete_task"

	opCreateNote = "records.create_note"
	opListNotes  = "records.list_notes"
	opGetNote    = "records.get_note"
	opUpdateNote = "records.update_note"
	opDeleteNote = "records.delete_note"

	opCreateWatch       = "records.create_watch"
	opListWatches       = "records.list_watches"
	opListActiveWatches = "records.list_active_watches"
	opGetWatch          = "records.get_watch"
	opUpdateWatch       = "records.update_watch"
	opDeleteWatch       = "records.delete_watch"

	opStats = "records.stats"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

// Service is the owner-scoped record store. Every query carries the owner predicate.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// requireOwner rejects calls made without an authenticated owner before any SQL runs.
func (s *Service) requireOwner(operation, owner string) (string, error) {
	trimmed := strings.TrimSpace(owner)
	if trimmed == "" {
		return "", newServiceError(operation, "authentication_required", ErrAuthenticationRequired)
	}
	return trimmed, nil
}

func (s *Service) invalid(operation string, err error) error {
	s.loggerOrDefault().Debug("records validation failed", zap.String("operation", operation), zap.Error(err))
	return newServiceError(operation, "invalid_input", err)
}

func (s *Service) newID(operation, owner string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.String("user_id", owner))
		return "", newServiceError(operation, "id_generation_failed", err)
	}
	return id, nil
}

// take loads one owner-scoped row by id into dest.
func (s *Service) take(ctx context.Context, operation, owner, id string, dest any) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", owner, id).
		Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(operation, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("user_id", owner), zap.String("id", id))
		return newServiceError(operation, "query_failed", err)
	}
	return nil
}

// update applies values to the owner-scoped row and returns the affected row count.
func (s *Service) update(ctx context.Context, operation, owner, id string, model any, values map[string]any) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(model).
		Where("user_id = ? AND id = ?", owner, id).
		Updates(values)
	if result.Error != nil {
		s.logError(operation, "query_failed", result.Error, zap.String("user_id", owner), zap.String("id", id))
		return 0, newServiceError(operation, "query_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// remove deletes the owner-scoped row and returns the affected row count.
func (s *Service) remove(ctx context.Context, operation, owner, id string, model any) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", owner, id).
		Delete(model)
	if result.Error != nil {
		s.logError(operation, "query_failed", result.Error, zap.String("user_id", owner), zap.String("id", id))
		return 0, newServiceError(operation, "query_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("records service error", attrs...)
}
