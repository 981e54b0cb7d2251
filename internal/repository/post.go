package repository

import (
	"context"

	"workplace/internal/models"
	"workplace/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Post, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// List returns visible posts newest first with author, comments and reactions.
	List(ctx context.Context, limit, offset int) ([]*models.Post, error)
	UpdateContent(ctx context.Context, id, ownerID uuid.UUID, content string, mediaURLs []string) error
	SoftDelete(ctx context.Context, id, ownerID uuid.UUID) error
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()
	return r.db.WithContext(ctx).Create(post).Error
}

// withDetails preloads everything a feed entry renders.
func withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Author").
		Preload("Comments", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC")
		}).
		Preload("Comments.Author").
		Preload("Reactions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC")
		})
}

func (r *postRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	defer observability.TrackQuery("get", "posts")()

	var post models.Post
	if err := withDetails(r.db.WithContext(ctx)).First(&post, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *postRepository) List(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	ctx, span := observability.StartRepositorySpan(ctx, "posts", "List")
	defer observability.TrackQuery("list", "posts")()

	var posts []*models.Post
	err := withDetails(r.db.WithContext(ctx)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	observability.EndSpan(span, err)
	return posts, err
}

func (r *postRepository) UpdateContent(ctx context.Context, id, ownerID uuid.UUID, content string, mediaURLs []string) error {
	defer observability.TrackQuery("update", "posts")()

	updates := map[string]interface{}{
		"content":   content,
		"is_edited": true,
	}
	if mediaURLs != nil {
		updates["media_urls"] = models.MediaURLs(mediaURLs)
	}
	return ownerScoped(ctx, r.db, &models.Post{}, id, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Post{}).
			Where("id = ? AND author_id = ?", id, ownerID).
			Updates(updates)
	})
}

func (r *postRepository) SoftDelete(ctx context.Context, id, ownerID uuid.UUID) error {
	defer observability.TrackQuery("delete", "posts")()

	return ownerScoped(ctx, r.db, &models.Post{}, id, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id = ? AND author_id = ?", id, ownerID).Delete(&models.Post{})
	})
}
