package server

import (
	"context"
	"net/http"
	"testing"

	"workplace/internal/cache"
	"workplace/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ticketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expires_in"`
}

func TestIssueWSTicket(t *testing.T) {
	ts := newTestServer(t, true)
	profile, token := ts.login(t, "Socket User")

	resp := ts.do(t, http.MethodPost, "/api/ws/ticket", token, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body ticketResponse
	decode(t, resp, &body)
	require.NotEmpty(t, body.Ticket)
	assert.Equal(t, int(cache.WSTicketTTL.Seconds()), body.ExpiresIn)

	stored, err := ts.mr.Get(cache.WSTicketKey(body.Ticket))
	require.NoError(t, err)
	assert.Equal(t, profile.ID.String(), stored)
	assert.Equal(t, cache.WSTicketTTL, ts.mr.TTL(cache.WSTicketKey(body.Ticket)))
}

func TestIssueWSTicket_WithoutRedis(t *testing.T) {
	ts := newTestServer(t, false)
	_, token := ts.login(t, "Socket Offline")

	resp := ts.do(t, http.MethodPost, "/api/ws/ticket", token, nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestRealtime_TicketIsSingleUse(t *testing.T) {
	ts := newTestServer(t, true)
	profile := ts.mustUser(t, "Socket Once")
	require.NoError(t, ts.mr.Set(cache.WSTicketKey("once"), profile.ID.String()))

	// Not a websocket handshake, but the ticket is consumed before that check.
	resp := ts.do(t, http.MethodGet, "/api/realtime?ticket=once", "", nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
	assert.False(t, ts.mr.Exists(cache.WSTicketKey("once")))

	resp = ts.do(t, http.MethodGet, "/api/realtime?ticket=once", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRealtime_RejectsMissingOrBadTicket(t *testing.T) {
	ts := newTestServer(t, true)
	require.NoError(t, ts.srv.redis.Set(context.Background(), cache.WSTicketKey("garbled"), "not-a-uuid", 0).Err())

	for _, path := range []string{"/api/realtime", "/api/realtime?ticket=unknown", "/api/realtime?ticket=garbled"} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestIssueWSTicket_RealtimeFlagOff(t *testing.T) {
	ts := newTestServer(t, true, func(c *config.Config) { c.FeatureFlags = "realtime=off" })
	_, token := ts.login(t, "Socket Flagged")

	resp := ts.do(t, http.MethodPost, "/api/ws/ticket", token, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
