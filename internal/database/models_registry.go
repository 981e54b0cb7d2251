package database

import "workplace/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.Profile{},
		&models.Post{},
		&models.Comment{},
		&models.Reaction{},
	}
}
