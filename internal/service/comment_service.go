package service

import (
	"context"
	"strings"

	"workplace/internal/models"
	"workplace/internal/observability"
	"workplace/internal/repository"

	"github.com/google/uuid"
)

const maxCommentLength = 2000

type CommentService struct {
	comments  repository.CommentRepository
	posts     repository.PostRepository
	publisher ChangePublisher
}

type CreateCommentInput struct {
	PostID   uuid.UUID  `json:"-"`
	AuthorID uuid.UUID  `json:"-"`
	ParentID *uuid.UUID `json:"parent_id"`
	Content  string     `json:"content"`
	GifID    *string    `json:"gif_id"`
	GifURL   *string    `json:"gif_url" validate:"omitempty,url"`
}

func NewCommentService(comments repository.CommentRepository, posts repository.PostRepository, publisher ChangePublisher) *CommentService {
	return &CommentService{comments: comments, posts: posts, publisher: publisherOrNoop(publisher)}
}

func hasGif(url *string) bool {
	return url != nil && strings.TrimSpace(*url) != ""
}

func validateCommentContent(content string, withGif bool) error {
	if strings.TrimSpace(content) == "" && !withGif {
		return models.NewValidationError("Comment content is required")
	}
	if len(content) > maxCommentLength {
		return models.NewValidationError("Comment content is too long")
	}
	return nil
}

// Create adds a comment. Replies nest one level: a reply to a reply is
// attached to the top-level comment.
func (s *CommentService) Create(ctx context.Context, in CreateCommentInput) (comment *models.Comment, err error) {
	defer func() {
		observability.Mutations.WithLabelValues("comments", "create", observability.Outcome(err)).Inc()
	}()

	if err := validateCommentContent(in.Content, hasGif(in.GifURL)); err != nil {
		return nil, err
	}

	exists, err := s.posts.Exists(ctx, in.PostID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if !exists {
		return nil, models.NewNotFoundError("Post", in.PostID)
	}

	parentID := in.ParentID
	if parentID != nil {
		parent, err := s.comments.GetByID(ctx, *parentID)
		if err != nil {
			return nil, mapRepoError("Comment", *parentID, err)
		}
		if parent.PostID != in.PostID {
			return nil, models.NewValidationError("Parent comment belongs to a different post")
		}
		if parent.ParentID != nil {
			parentID = parent.ParentID
		}
	}

	comment = &models.Comment{
		PostID:   in.PostID,
		ParentID: parentID,
		AuthorID: in.AuthorID,
		Content:  in.Content,
	}
	if hasGif(in.GifURL) {
		comment.GifID = in.GifID
		comment.GifURL = in.GifURL
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, models.NewInternalError(err)
	}
	if comment, err = s.get(ctx, comment.ID); err != nil {
		return nil, err
	}
	publishChange(ctx, s.publisher, "comments", EventInsert, comment)
	return comment, nil
}

func (s *CommentService) ListByPost(ctx context.Context, postID uuid.UUID) ([]*models.Comment, error) {
	comments, err := s.comments.ListByPost(ctx, postID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return comments, nil
}

func (s *CommentService) Update(ctx context.Context, id, ownerID uuid.UUID, content string) (comment *models.Comment, err error) {
	defer func() {
		observability.Mutations.WithLabelValues("comments", "update", observability.Outcome(err)).Inc()
	}()

	current, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError("Comment", id, err)
	}
	if err := validateCommentContent(content, hasGif(current.GifURL)); err != nil {
		return nil, err
	}
	if err := s.comments.Update(ctx, id, ownerID, content); err != nil {
		return nil, mapRepoError("Comment", id, err)
	}
	if comment, err = s.get(ctx, id); err != nil {
		return nil, err
	}
	publishChange(ctx, s.publisher, "comments", EventUpdate, comment)
	return comment, nil
}

func (s *CommentService) Delete(ctx context.Context, id, ownerID uuid.UUID) (err error) {
	defer func() {
		observability.Mutations.WithLabelValues("comments", "delete", observability.Outcome(err)).Inc()
	}()

	if err := s.comments.Delete(ctx, id, ownerID); err != nil {
		return mapRepoError("Comment", id, err)
	}
	publishChange(ctx, s.publisher, "comments", EventDelete, map[string]interface{}{"id": id})
	return nil
}

func (s *CommentService) get(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	comment, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError("Comment", id, err)
	}
	return comment, nil
}
