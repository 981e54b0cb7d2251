package server

import (
	"errors"

	"workplace/internal/gif"
	"workplace/internal/models"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) respondGIFs(c *fiber.Ctx, gifs []gif.GIF, err error) error {
	switch {
	case errors.Is(err, gif.ErrNotConfigured):
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewUnavailableError("GIF search is not configured", nil))
	case err != nil:
		return models.RespondWithError(c, fiber.StatusBadGateway,
			models.NewUnavailableError("GIF provider unavailable", err))
	}
	if gifs == nil {
		gifs = []gif.GIF{}
	}
	return c.JSON(fiber.Map{"data": gifs})
}

// TrendingGIFs handles GET /api/gifs/trending
func (s *Server) TrendingGIFs(c *fiber.Ctx) error {
	gifs, err := s.gifService.Trending(c.UserContext())
	return s.respondGIFs(c, gifs, err)
}

// SearchGIFs handles GET /api/gifs/search?q=
func (s *Server) SearchGIFs(c *fiber.Ctx) error {
	gifs, err := s.gifService.Search(c.UserContext(), c.Query("q"))
	return s.respondGIFs(c, gifs, err)
}
