package service

import (
	"context"
	"fmt"

	"workplace/internal/models"
	"workplace/internal/observability"
	"workplace/internal/repository"

	"github.com/google/uuid"
)

type ReactionService struct {
	reactions repository.ReactionRepository
	posts     repository.PostRepository
}

func NewReactionService(reactions repository.ReactionRepository, posts repository.PostRepository) *ReactionService {
	return &ReactionService{reactions: reactions, posts: posts}
}

func (s *ReactionService) checkTarget(ctx context.Context, postID uuid.UUID, reactionType *models.ReactionType) error {
	if reactionType != nil && !reactionType.Valid() {
		return models.NewValidationError(fmt.Sprintf("Unknown reaction type %q", *reactionType))
	}
	exists, err := s.posts.Exists(ctx, postID)
	if err != nil {
		return models.NewInternalError(err)
	}
	if !exists {
		return models.NewNotFoundError("Post", postID)
	}
	return nil
}

// Set records the caller's reaction, replacing any previous type.
func (s *ReactionService) Set(ctx context.Context, postID, userID uuid.UUID, reactionType models.ReactionType) (reaction *models.Reaction, err error) {
	defer func() {
		observability.Mutations.WithLabelValues("reactions", "upsert", observability.Outcome(err)).Inc()
	}()

	if err := s.checkTarget(ctx, postID, &reactionType); err != nil {
		return nil, err
	}
	reaction, err = s.reactions.Upsert(ctx, postID, userID, reactionType)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return reaction, nil
}

// Remove deletes the caller's reaction. Removing a missing reaction succeeds.
func (s *ReactionService) Remove(ctx context.Context, postID, userID uuid.UUID) (err error) {
	defer func() {
		observability.Mutations.WithLabelValues("reactions", "delete", observability.Outcome(err)).Inc()
	}()

	if err := s.reactions.Delete(ctx, postID, userID); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// Toggle removes the caller's reaction when it already has reactionType and
// sets it otherwise. A nil reaction means it was removed.
func (s *ReactionService) Toggle(ctx context.Context, postID, userID uuid.UUID, reactionType models.ReactionType) (reaction *models.Reaction, err error) {
	defer func() {
		observability.Mutations.WithLabelValues("reactions", "toggle", observability.Outcome(err)).Inc()
	}()

	if err := s.checkTarget(ctx, postID, &reactionType); err != nil {
		return nil, err
	}
	reaction, err = s.reactions.Toggle(ctx, postID, userID, reactionType)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return reaction, nil
}

func (s *ReactionService) ListByPost(ctx context.Context, postID uuid.UUID) ([]*models.Reaction, error) {
	if err := s.checkTarget(ctx, postID, nil); err != nil {
		return nil, err
	}
	reactions, err := s.reactions.ListByPost(ctx, postID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return reactions, nil
}
