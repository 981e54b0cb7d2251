package workplace

import (
	"context"
	"log/slog"
)

// command is an optimistic mutation: apply changes local state before the
// backend confirms, commit runs the backend call, revert undoes apply when
// commit fails.
type command struct {
	name   string
	apply  func()
	commit func(ctx context.Context) error
	revert func()
}

func (c command) run(ctx context.Context, logger *slog.Logger) error {
	c.apply()
	if err := c.commit(ctx); err != nil {
		logger.Debug("rolling back optimistic change",
			slog.String("command", c.name),
			slog.String("error", err.Error()),
		)
		c.revert()
		return err
	}
	return nil
}
