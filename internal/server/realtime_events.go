package server

import (
	"workplace/internal/service"
)

// changePublisher picks where row changes go: Redis pub/sub when available so
// every replica sees them, otherwise straight to this process's hub.
func (s *Server) changePublisher() service.ChangePublisher {
	if s.redis != nil {
		return s.notifier
	}
	return s.hub
}
