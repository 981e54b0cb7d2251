package repository

import (
	"context"
	"testing"

	"workplace/internal/models"
	"workplace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestReactionRepository_UpsertReplaces(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewReactionRepository(db)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "Reactor")
	post := testutil.CreatePost(t, db, user.ID, "react to me")

	first, err := repo.Upsert(ctx, post.ID, user.ID, models.ReactionLike)
	require.NoError(t, err)

	second, err := repo.Upsert(ctx, post.ID, user.ID, models.ReactionCurious)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.ReactionCurious, second.Type)

	all, err := repo.ListByPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReactionRepository_Toggle(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewReactionRepository(db)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "Toggler")
	post := testutil.CreatePost(t, db, user.ID, "toggle")

	r, err := repo.Toggle(ctx, post.ID, user.ID, models.ReactionLike)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, models.ReactionLike, r.Type)

	r, err = repo.Toggle(ctx, post.ID, user.ID, models.ReactionLike)
	require.NoError(t, err)
	assert.Nil(t, r)
	_, err = repo.Get(ctx, post.ID, user.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = repo.Toggle(ctx, post.ID, user.ID, models.ReactionLike)
	require.NoError(t, err)
	r, err = repo.Toggle(ctx, post.ID, user.ID, models.ReactionCelebrate)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, models.ReactionCelebrate, r.Type)

	all, err := repo.ListByPost(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.ReactionCelebrate, all[0].Type)

	require.NoError(t, repo.Delete(ctx, post.ID, user.ID))
	all, err = repo.ListByPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}
