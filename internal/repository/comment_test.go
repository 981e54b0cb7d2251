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

func TestCommentRepository_CRUD(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "Commenter")
	other := testutil.CreateUser(t, db, "Bystander")
	post := testutil.CreatePost(t, db, author.ID, "thread")

	top := &models.Comment{PostID: post.ID, AuthorID: author.ID, Content: "top"}
	require.NoError(t, repo.Create(ctx, top))
	reply := &models.Comment{PostID: post.ID, AuthorID: other.ID, ParentID: &top.ID, Content: "reply"}
	require.NoError(t, repo.Create(ctx, reply))

	comments, err := repo.ListByPost(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	require.NotNil(t, comments[1].ParentID)
	assert.Equal(t, top.ID, *comments[1].ParentID)

	assert.ErrorIs(t, repo.Update(ctx, top.ID, other.ID, "nope"), ErrNotOwner)
	require.NoError(t, repo.Update(ctx, top.ID, author.ID, "top edited"))

	got, err := repo.GetByID(ctx, top.ID)
	require.NoError(t, err)
	assert.Equal(t, "top edited", got.Content)
	assert.True(t, got.IsEdited)
	require.NotNil(t, got.Author)

	assert.ErrorIs(t, repo.Delete(ctx, top.ID, other.ID), ErrNotOwner)
	require.NoError(t, repo.Delete(ctx, top.ID, author.ID))

	comments, err = repo.ListByPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, comments, "replies are removed with their parent")

	_, err = repo.GetByID(ctx, top.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
