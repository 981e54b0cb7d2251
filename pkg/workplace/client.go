package workplace

import (
	"context"
	"log/slog"
	"sync"
)

// Client wires the stores together: the feed follows the signed-in user, and
// signing out or switching users clears the feed and the directory.
type Client struct {
	Session   *SessionStore
	Feed      *FeedStore
	Directory *Directory
	Router    *Router

	opts options

	mu       sync.Mutex
	feedUser string
	stop     func()
}

// NewClient builds the stores over one backend. changes may be nil.
func NewClient(auth AuthProvider, data DataStore, changes ChangeFeed, opts ...Option) *Client {
	o := buildOptions(opts)
	feed := NewFeedStore(data, changes, opts...)
	directory := NewDirectory(data, opts...)
	session := NewSessionStore(auth, data, append(opts, WithResetOnSignOut(feed, directory))...)
	return &Client{
		Session:   session,
		Feed:      feed,
		Directory: directory,
		Router:    NewRouter(session),
		opts:      o,
	}
}

// NewHTTPClient builds a Client over the Workplace API at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*Client, *HTTPBackend, error) {
	backend, err := NewHTTPBackend(baseURL, WithBackendLogger(buildOptions(opts).logger))
	if err != nil {
		return nil, nil, err
	}
	return NewClient(backend, backend, backend, opts...), backend, nil
}

// Start restores the session and, once signed in, loads the feed.
func (c *Client) Start(ctx context.Context) error {
	bg := context.WithoutCancel(ctx)
	unsubscribe := c.Session.Subscribe(func(snap SessionSnapshot) {
		c.follow(bg, snap)
	})
	c.mu.Lock()
	c.stop = unsubscribe
	c.mu.Unlock()

	if err := c.Session.Start(ctx); err != nil {
		return err
	}
	c.follow(bg, c.Session.Snapshot())
	return nil
}

func (c *Client) follow(ctx context.Context, snap SessionSnapshot) {
	userID := ""
	if snap.Authenticated() {
		userID = snap.Session.User.ID
	}

	c.mu.Lock()
	if userID == c.feedUser {
		c.mu.Unlock()
		return
	}
	prev := c.feedUser
	c.feedUser = userID
	c.mu.Unlock()

	if userID == "" {
		return
	}
	// Switching accounts without a sign-out skips the sign-out resetters.
	if prev != "" {
		c.Directory.Reset()
	}
	go func() {
		if err := c.Feed.Start(ctx, userID); err != nil {
			c.opts.logger.Warn("feed start failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Close tears down the stores and the realtime subscription.
func (c *Client) Close() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.Session.Close()
	c.Feed.Close()
}
