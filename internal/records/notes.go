package records

import (
	"context"

	"go.uber.org/zap"
)

func (s *Service) CreateNote(ctx context.Context, owner string, input NoteInput) (Note, error) {
	owner, err := s.requireOwner(opCreateNote, owner)
	if err != nil {
		return Note{}, err
	}
	input, err = input.normalize()
	if err != nil {
		return Note{}, s.invalid(opCreateNote, err)
	}
	id, err := s.newID(opCreateNote, owner)
	if err != nil {
		return Note{}, err
	}

	note := Note{
		ID:        id,
		UserID:    owner,
		Title:     input.Title,
		Body:      input.Body,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err, zap.String("user_id", owner))
		return Note{}, newServiceError(opCreateNote, "insert_failed", err)
	}
	return note, nil
}

// ListNotes returns owner's notes in insertion order.
func (s *Service) ListNotes(ctx context.Context, owner string) ([]Note, error) {
	owner, err := s.requireOwner(opListNotes, owner)
	if err != nil {
		return nil, err
	}

	var notes []Note
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", owner).
		Order("created_at ASC").
		Order("id ASC").
		Find(&notes).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("user_id", owner))
		return nil, newServiceError(opListNotes, "query_failed", err)
	}
	return notes, nil
}

func (s *Service) GetNote(ctx context.Context, owner, id string) (Note, error) {
	owner, err := s.requireOwner(opGetNote, owner)
	if err != nil {
		return Note{}, err
	}
	var note Note
	if err := s.take(ctx, opGetNote, owner, id, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

func (s *Service) UpdateNote(ctx context.Context, owner, id string, input NoteInput) (int64, error) {
	owner, err := s.requireOwner(opUpdateNote, owner)
	if err != nil {
		return 0, err
	}
	input, err = input.normalize()
	if err != nil {
		return 0, s.invalid(opUpdateNote, err)
	}
	return s.update(ctx, opUpdateNote, owner, id, &Note{}, map[string]any{
		"title": input.Title,
		"body":  input.Body,
	})
}

func (s *Service) DeleteNote(ctx context.Context, owner, id string) (int64, error) {
	owner, err := s.requireOwner(opDeleteNote, owner)
	if err != nil {
		return 0, err
	}
	return s.remove(ctx, opDeleteNote, owner, id, &Note{})
}
