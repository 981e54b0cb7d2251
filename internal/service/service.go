// Package service holds the business rules between HTTP handlers and repositories.
package service

import (
	"context"
	"errors"
	"log/slog"

	"workplace/internal/middleware"
	"workplace/internal/models"
	"workplace/internal/repository"

	"gorm.io/gorm"
)

// Change event types published to the realtime feed.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangePublisher fans a row change out to realtime subscribers.
type ChangePublisher interface {
	PublishChange(ctx context.Context, table, eventType string, record interface{}) error
}

type noopPublisher struct{}

func (noopPublisher) PublishChange(context.Context, string, string, interface{}) error { return nil }

func publisherOrNoop(p ChangePublisher) ChangePublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

// publishChange reports a committed change. Failures are logged, never
// returned, since the write itself already succeeded.
func publishChange(ctx context.Context, p ChangePublisher, table, eventType string, record interface{}) {
	if err := p.PublishChange(ctx, table, eventType, record); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish change",
			slog.String("table", table),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// mapRepoError turns repository sentinels into API errors.
func mapRepoError(resource string, id interface{}, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotOwner):
		return models.NewForbiddenError()
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NewNotFoundError(resource, id)
	default:
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return models.NewInternalError(err)
	}
}
