package server

import (
	"workplace/internal/models"

	"github.com/gofiber/fiber/v2"
)

type reactionRequest struct {
	Type models.ReactionType `json:"type"`
}

// ListReactions handles GET /api/posts/:id/reactions
func (s *Server) ListReactions(c *fiber.Ctx) error {
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	reactions, err := s.reactionService.ListByPost(c.UserContext(), postID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(reactions)
}

// SetReaction handles PUT /api/posts/:id/reactions
func (s *Server) SetReaction(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req reactionRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	reaction, err := s.reactionService.Set(c.UserContext(), postID, userID, req.Type)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(reaction)
}

// RemoveReaction handles DELETE /api/posts/:id/reactions
func (s *Server) RemoveReaction(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.reactionService.Remove(c.UserContext(), postID, userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleReaction handles POST /api/posts/:id/reactions/toggle. The response
// body is the resulting reaction, or null when it was removed.
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req reactionRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	reaction, err := s.reactionService.Toggle(c.UserContext(), postID, userID, req.Type)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"reaction": reaction})
}
