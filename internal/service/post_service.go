package service

import (
	"context"
	"strings"

	"workplace/internal/models"
	"workplace/internal/observability"
	"workplace/internal/repository"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxPostLength   = 5000
	maxMediaURLs    = 10
)

type PostService struct {
	posts     repository.PostRepository
	publisher ChangePublisher
}

type CreatePostInput struct {
	AuthorID  uuid.UUID
	Content   string
	MediaURLs []string
}

type UpdatePostInput struct {
	PostID    uuid.UUID
	OwnerID   uuid.UUID
	Content   string
	MediaURLs []string
}

func NewPostService(posts repository.PostRepository, publisher ChangePublisher) *PostService {
	return &PostService{posts: posts, publisher: publisherOrNoop(publisher)}
}

// ClampPage normalizes pagination parameters to the API limits.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *PostService) List(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	limit, offset = ClampPage(limit, offset)
	posts, err := s.posts.List(ctx, limit, offset)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (s *PostService) Get(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError("Post", id, err)
	}
	return post, nil
}

func validatePostContent(content string, mediaURLs []string) error {
	if strings.TrimSpace(content) == "" {
		return models.NewValidationError("Post content is required")
	}
	if len(content) > maxPostLength {
		return models.NewValidationError("Post content is too long")
	}
	if len(mediaURLs) > maxMediaURLs {
		return models.NewValidationError("Too many media attachments")
	}
	return nil
}

func (s *PostService) Create(ctx context.Context, in CreatePostInput) (post *models.Post, err error) {
	defer func() { observability.Mutations.WithLabelValues("posts", "create", observability.Outcome(err)).Inc() }()

	if in.AuthorID == uuid.Nil {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	if err := validatePostContent(in.Content, in.MediaURLs); err != nil {
		return nil, err
	}

	post = &models.Post{
		AuthorID:  in.AuthorID,
		Content:   in.Content,
		MediaURLs: models.MediaURLs(in.MediaURLs),
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, models.NewInternalError(err)
	}

	created, err := s.posts.GetByID(ctx, post.ID)
	if err != nil {
		return nil, mapRepoError("Post", post.ID, err)
	}
	s.publish(ctx, EventInsert, created)
	return created, nil
}

// Update edits a post the caller owns and marks it edited.
func (s *PostService) Update(ctx context.Context, in UpdatePostInput) (post *models.Post, err error) {
	defer func() { observability.Mutations.WithLabelValues("posts", "update", observability.Outcome(err)).Inc() }()

	if err := validatePostContent(in.Content, in.MediaURLs); err != nil {
		return nil, err
	}
	if err := s.posts.UpdateContent(ctx, in.PostID, in.OwnerID, in.Content, in.MediaURLs); err != nil {
		return nil, mapRepoError("Post", in.PostID, err)
	}

	post, err = s.posts.GetByID(ctx, in.PostID)
	if err != nil {
		return nil, mapRepoError("Post", in.PostID, err)
	}
	s.publish(ctx, EventUpdate, post)
	return post, nil
}

// Delete soft-deletes a post the caller owns.
func (s *PostService) Delete(ctx context.Context, id, ownerID uuid.UUID) (err error) {
	defer func() { observability.Mutations.WithLabelValues("posts", "delete", observability.Outcome(err)).Inc() }()

	if err := s.posts.SoftDelete(ctx, id, ownerID); err != nil {
		return mapRepoError("Post", id, err)
	}
	s.publish(ctx, EventDelete, map[string]interface{}{"id": id})
	return nil
}

func (s *PostService) publish(ctx context.Context, eventType string, record interface{}) {
	publishChange(ctx, s.publisher, "posts", eventType, record)
}
