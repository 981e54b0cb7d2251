// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"workplace/internal/database"
	"workplace/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbCounter atomic.Int64

// NewTestDB returns an isolated in-memory SQLite database with the full schema.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbCounter.Add(1))

	db, err := database.OpenSQLite(dsn, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CreateUser inserts a confirmed account and its profile. The password is "Password123!".
func CreateUser(t *testing.T, db *gorm.DB, name string) *models.Profile {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("Password123!"), bcrypt.MinCost)
	require.NoError(t, err)

	email := strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@corp.example"
	confirmedAt := time.Now()
	account := &models.Account{ID: uuid.New(), Email: email, PasswordHash: string(hash), EmailConfirmedAt: &confirmedAt}
	require.NoError(t, db.Create(account).Error)

	profile := models.NewProfile(account.ID, email, name, nil)
	require.NoError(t, db.Create(profile).Error)
	return profile
}

// CreatePost inserts a post authored by author.
func CreatePost(t *testing.T, db *gorm.DB, author uuid.UUID, content string) *models.Post {
	t.Helper()

	post := &models.Post{AuthorID: author, Content: content}
	require.NoError(t, db.Create(post).Error)
	return post
}
