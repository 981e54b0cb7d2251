package workplace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TokenStore keeps the current session between requests.
type TokenStore interface {
	Get() *Session
	Set(session *Session)
	Clear()
}

// MemoryTokenStore is a TokenStore that lives as long as the process.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	session *Session
}

func (m *MemoryTokenStore) Get() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

func (m *MemoryTokenStore) Set(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.session = &cp
}

func (m *MemoryTokenStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
}

type authNotice struct {
	event   AuthEvent
	session *Session
}

// HTTPBackend implements AuthProvider, DataStore and ChangeFeed against the
// Workplace API. An expired access token is refreshed once per request.
type HTTPBackend struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenStore
	logger  *slog.Logger
	dialer  *websocket.Dialer

	refreshMu sync.Mutex
	events    listeners[authNotice]
	feed      *changeFeed
}

// BackendOption configures an HTTPBackend.
type BackendOption func(*HTTPBackend)

func WithHTTPClient(c *http.Client) BackendOption {
	return func(b *HTTPBackend) { b.http = c }
}

func WithTokenStore(s TokenStore) BackendOption {
	return func(b *HTTPBackend) { b.tokens = s }
}

func WithBackendLogger(l *slog.Logger) BackendOption {
	return func(b *HTTPBackend) { b.logger = l }
}

func WithDialer(d *websocket.Dialer) BackendOption {
	return func(b *HTTPBackend) { b.dialer = d }
}

func NewHTTPBackend(baseURL string, opts ...BackendOption) (*HTTPBackend, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	b := &HTTPBackend{
		baseURL: u,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  &MemoryTokenStore{},
		logger:  buildOptions(nil).logger,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.feed = newChangeFeed(b)
	return b, nil
}

// request describes one API call.
type request struct {
	method string
	path   string
	query  url.Values
	body   interface{}
	out    interface{}
	authed bool
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (b *HTTPBackend) do(ctx context.Context, r request) error {
	var token string
	if r.authed {
		session := b.tokens.Get()
		if session == nil {
			return ErrNotAuthenticated
		}
		token = session.AccessToken
	}

	err := b.send(ctx, r, token)
	var apiErr *APIError
	if !r.authed || !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}

	if rerr := b.refresh(ctx, token); rerr != nil {
		return err
	}
	session := b.tokens.Get()
	if session == nil {
		return ErrNotAuthenticated
	}
	return b.send(ctx, r, session.AccessToken)
}

func (b *HTTPBackend) send(ctx context.Context, r request, token string) error {
	target := b.baseURL.JoinPath(r.path)
	if len(r.query) > 0 {
		target.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", r.method, r.path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb errorBody
		if raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)); rerr == nil && json.Unmarshal(raw, &eb) == nil {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Error
		}
		return apiErr
	}
	if r.out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

// refresh swaps the refresh token for a new session unless another request
// already did so. A rejected refresh signs the user out.
func (b *HTTPBackend) refresh(ctx context.Context, staleToken string) error {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	current := b.tokens.Get()
	if current == nil || current.RefreshToken == "" {
		return ErrNotAuthenticated
	}
	if current.AccessToken != staleToken {
		return nil
	}

	var session Session
	err := b.send(ctx, request{
		method: http.MethodPost,
		path:   "/api/auth/refresh",
		body:   map[string]string{"refresh_token": current.RefreshToken},
		out:    &session,
	}, "")
	if err != nil {
		b.logger.Warn("token refresh failed, signing out", slog.String("error", err.Error()))
		b.tokens.Clear()
		b.feed.close()
		b.events.emit(authNotice{event: AuthSignedOut})
		return err
	}

	b.tokens.Set(&session)
	b.events.emit(authNotice{event: AuthTokenRefreshed, session: &session})
	return nil
}

func (b *HTTPBackend) OnAuthEvent(handler AuthEventHandler) (unsubscribe func()) {
	return b.events.add(func(n authNotice) { handler(n.event, n.session) })
}

func (b *HTTPBackend) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	err := b.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   map[string]string{"email": email, "password": password},
		out:    &session,
	})
	if err != nil {
		return nil, err
	}
	b.tokens.Set(&session)
	b.events.emit(authNotice{event: AuthSignedIn, session: &session})
	return &session, nil
}

func (b *HTTPBackend) SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*Identity, error) {
	var res struct {
		User    Identity `json:"user"`
		Session *Session `json:"session"`
	}
	err := b.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/auth/signup",
		body: map[string]interface{}{
			"email":      email,
			"password":   password,
			"name":       meta.Name,
			"avatar_url": meta.AvatarURL,
		},
		out: &res,
	})
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		b.tokens.Set(res.Session)
		b.events.emit(authNotice{event: AuthSignedIn, session: res.Session})
	}
	return &res.User, nil
}

// SignOut revokes the session on the server and forgets it locally even if
// the server call fails.
func (b *HTTPBackend) SignOut(ctx context.Context) error {
	session := b.tokens.Get()
	if session == nil {
		return nil
	}
	err := b.send(ctx, request{
		method: http.MethodPost,
		path:   "/api/auth/logout",
		body:   map[string]string{"refresh_token": session.RefreshToken},
	}, session.AccessToken)

	b.tokens.Clear()
	b.feed.close()
	b.events.emit(authNotice{event: AuthSignedOut})

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return nil
	}
	return err
}

// CurrentSession validates the stored session with the server, refreshing it
// if needed, and announces the result as INITIAL_SESSION.
func (b *HTTPBackend) CurrentSession(ctx context.Context) (*Session, error) {
	if b.tokens.Get() == nil {
		b.events.emit(authNotice{event: AuthInitialSession})
		return nil, nil
	}

	var res struct {
		User      Identity  `json:"user"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	err := b.do(ctx, request{method: http.MethodGet, path: "/api/auth/session", out: &res, authed: true})
	if errors.Is(err, ErrNotAuthenticated) {
		b.tokens.Clear()
		b.events.emit(authNotice{event: AuthInitialSession})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session := b.tokens.Get()
	if session == nil {
		return nil, nil
	}
	session.User = res.User
	b.tokens.Set(session)
	b.events.emit(authNotice{event: AuthInitialSession, session: session})
	return session, nil
}

// ensureOwner rejects writes on behalf of anyone but the signed-in user the
// same way the server does.
func (b *HTTPBackend) ensureOwner(ownerID string) error {
	session := b.tokens.Get()
	if session == nil {
		return ErrNotAuthenticated
	}
	if session.User.ID != ownerID {
		return &APIError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: MutationRejectedMessage}
	}
	return nil
}

func (b *HTTPBackend) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	if err := b.do(ctx, request{method: http.MethodGet, path: "/api/profiles/" + url.PathEscape(id), out: &p, authed: true}); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *HTTPBackend) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*Profile, error) {
	if err := b.ensureOwner(id); err != nil {
		return nil, err
	}
	var p Profile
	if err := b.do(ctx, request{method: http.MethodPatch, path: "/api/profiles/me", body: patch, out: &p, authed: true}); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *HTTPBackend) ListProfiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	if err := b.do(ctx, request{method: http.MethodGet, path: "/api/profiles", out: &out, authed: true}); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *HTTPBackend) ListPosts(ctx context.Context, limit, offset int) ([]Post, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out []Post
	if err := b.do(ctx, request{method: http.MethodGet, path: "/api/posts", query: q, out: &out, authed: true}); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *HTTPBackend) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	if err := b.do(ctx, request{method: http.MethodGet, path: "/api/posts/" + url.PathEscape(id), out: &p, authed: true}); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *HTTPBackend) CreatePost(ctx context.Context, in CreatePostInput) (*Post, error) {
	if in.AuthorID != "" {
		if err := b.ensureOwner(in.AuthorID); err != nil {
			return nil, err
		}
	}
	var p Post
	if err := b.do(ctx, request{method: http.MethodPost, path: "/api/posts", body: in, out: &p, authed: true}); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *HTTPBackend) UpdatePost(ctx context.Context, id, ownerID, content string) (*Post, error) {
	if err := b.ensureOwner(ownerID); err != nil {
		return nil, err
	}
	var p Post
	err := b.do(ctx, request{
		method: http.MethodPatch,
		path:   "/api/posts/" + url.PathEscape(id),
		body:   map[string]string{"content": content},
		out:    &p,
		authed: true,
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *HTTPBackend) SoftDeletePost(ctx context.Context, id, ownerID string) error {
	if err := b.ensureOwner(ownerID); err != nil {
		return err
	}
	return b.do(ctx, request{method: http.MethodDelete, path: "/api/posts/" + url.PathEscape(id), authed: true})
}

func (b *HTTPBackend) CreateComment(ctx context.Context, in CreateCommentInput) (*Comment, error) {
	if in.AuthorID != "" {
		if err := b.ensureOwner(in.AuthorID); err != nil {
			return nil, err
		}
	}
	var c Comment
	err := b.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/posts/" + url.PathEscape(in.PostID) + "/comments",
		body:   in,
		out:    &c,
		authed: true,
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *HTTPBackend) UpdateComment(ctx context.Context, id, ownerID, content string) (*Comment, error) {
	if err := b.ensureOwner(ownerID); err != nil {
		return nil, err
	}
	var c Comment
	err := b.do(ctx, request{
		method: http.MethodPatch,
		path:   "/api/comments/" + url.PathEscape(id),
		body:   map[string]string{"content": content},
		out:    &c,
		authed: true,
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *HTTPBackend) DeleteComment(ctx context.Context, id, ownerID string) error {
	if err := b.ensureOwner(ownerID); err != nil {
		return err
	}
	return b.do(ctx, request{method: http.MethodDelete, path: "/api/comments/" + url.PathEscape(id), authed: true})
}

func (b *HTTPBackend) UpsertReaction(ctx context.Context, postID, userID string, reaction ReactionType) (*Reaction, error) {
	if err := b.ensureOwner(userID); err != nil {
		return nil, err
	}
	var r Reaction
	err := b.do(ctx, request{
		method: http.MethodPut,
		path:   "/api/posts/" + url.PathEscape(postID) + "/reactions",
		body:   map[string]ReactionType{"type": reaction},
		out:    &r,
		authed: true,
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (b *HTTPBackend) DeleteReaction(ctx context.Context, postID, userID string) error {
	if err := b.ensureOwner(userID); err != nil {
		return err
	}
	return b.do(ctx, request{method: http.MethodDelete, path: "/api/posts/" + url.PathEscape(postID) + "/reactions", authed: true})
}

func (b *HTTPBackend) TrendingGIFs(ctx context.Context) ([]GIF, error) {
	return b.gifs(ctx, "/api/gifs/trending", nil)
}

func (b *HTTPBackend) SearchGIFs(ctx context.Context, query string) ([]GIF, error) {
	return b.gifs(ctx, "/api/gifs/search", url.Values{"q": {query}})
}

func (b *HTTPBackend) gifs(ctx context.Context, path string, q url.Values) ([]GIF, error) {
	var res struct {
		Data []GIF `json:"data"`
	}
	if err := b.do(ctx, request{method: http.MethodGet, path: path, query: q, out: &res, authed: true}); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Subscribe opens the realtime socket on first use.
func (b *HTTPBackend) Subscribe(ctx context.Context, table, eventType string, handler func(ChangeEvent)) (Subscription, error) {
	return b.feed.subscribe(ctx, table, eventType, handler)
}

// OnLost registers fn for realtime connections that drop while subscriptions
// are open. Those subscriptions are gone; nothing is redialed.
func (b *HTTPBackend) OnLost(fn func(error)) (unsubscribe func()) {
	return b.feed.lost.add(fn)
}

// Close drops the realtime socket.
func (b *HTTPBackend) Close() {
	b.feed.close()
}

var (
	_ AuthProvider = (*HTTPBackend)(nil)
	_ DataStore    = (*HTTPBackend)(nil)
	_ ChangeFeed   = (*HTTPBackend)(nil)
	_ LossNotifier = (*HTTPBackend)(nil)
)
