package workplace

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"workplace/internal/config"
	"workplace/internal/models"
	"workplace/internal/server"
	"workplace/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type noopMailer struct{}

func (noopMailer) SendConfirmation(context.Context, string, string) error { return nil }

type liveAPI struct {
	baseURL string
	db      *gorm.DB
}

const giphyFixture = `{"data":[{"id":"g1","title":"Wave","images":{"fixed_height":{"url":"https://media.example/g1.gif"},"fixed_height_small":{"url":"https://media.example/g1-small.gif"}}}],"meta":{"status":200}}`

// newLiveAPI serves the Workplace API on a loopback port with SQLite, an
// in-memory Redis and a canned Giphy upstream.
func newLiveAPI(t *testing.T) *liveAPI {
	t.Helper()

	giphy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(giphyFixture))
	}))
	t.Cleanup(giphy.Close)

	cfg := &config.Config{
		Port:           "0",
		Env:            "test",
		JWTSecret:      "test-secret-that-is-long-enough-1234",
		JWTTTLMinutes:  15,
		RefreshTTLHour: 24,
		AllowedOrigins: "http://localhost:5173",
		FeatureFlags:   "gifs=on,realtime=on",
		GiphyAPIKey:    "test-key",
		GiphyBaseURL:   giphy.URL,
	}

	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	srv, err := server.NewServerWithDeps(cfg, db, rdb, server.WithMailer(noopMailer{}))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()

	api := &liveAPI{baseURL: "http://" + ln.Addr().String(), db: db}
	require.Eventually(t, func() bool {
		resp, err := http.Get(api.baseURL + "/health/live")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return api
}

func (api *liveAPI) user(t *testing.T, name string) *models.Profile {
	t.Helper()
	return testutil.CreateUser(t, api.db, name)
}

func (api *liveAPI) backend(t *testing.T, opts ...BackendOption) *HTTPBackend {
	t.Helper()
	b, err := NewHTTPBackend(api.baseURL, opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

type recordedEvents struct {
	mu     sync.Mutex
	events []AuthEvent
}

func (r *recordedEvents) record(event AuthEvent, _ *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordedEvents) list() []AuthEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuthEvent(nil), r.events...)
}

func TestNewHTTPBackend_RejectsBadURL(t *testing.T) {
	_, err := NewHTTPBackend("ftp://example.com")
	assert.Error(t, err)
	_, err = NewHTTPBackend("://nope")
	assert.Error(t, err)
}

func TestHTTPBackend_FeedEndToEnd(t *testing.T) {
	api := newLiveAPI(t)
	alice := api.user(t, "Alice Admin")
	bob := api.user(t, "Bob Builder")

	aliceAPI := api.backend(t)
	session := NewSessionStore(aliceAPI, aliceAPI)
	t.Cleanup(session.Close)
	require.NoError(t, session.Start(t.Context()))
	assert.False(t, session.Snapshot().Authenticated())

	_, err := session.SignIn(t.Context(), alice.Email, "wrong-password")
	require.Error(t, err)
	assert.Equal(t, "Invalid login credentials", err.Error())

	signedIn, err := session.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)
	assert.Equal(t, alice.ID.String(), signedIn.User.ID)
	require.Eventually(t, func() bool {
		u := session.Snapshot().User
		return u != nil && u.Name == "Alice Admin"
	}, waitFor, tick)

	feed := NewFeedStore(aliceAPI, aliceAPI)
	t.Cleanup(feed.Close)
	require.NoError(t, feed.Start(t.Context(), signedIn.User.ID))
	assert.Empty(t, feed.Snapshot().Posts)

	mine, err := feed.CreatePost(t.Context(), "Hello team", nil)
	require.NoError(t, err)
	top := feed.Snapshot().Posts[0]
	assert.Equal(t, "Hello team", top.Content)
	assert.Empty(t, top.Reactions)
	assert.Empty(t, top.Comments)

	bobAPI := api.backend(t)
	_, err = bobAPI.SignIn(t.Context(), bob.Email, "Password123!")
	require.NoError(t, err)
	fromBob, err := bobAPI.CreatePost(t.Context(), CreatePostInput{AuthorID: bob.ID.String(), Content: "From Bob"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		posts := feed.Snapshot().Posts
		return len(posts) == 2 && posts[0].ID == fromBob.ID
	}, 5*time.Second, 20*time.Millisecond)
	assert.Len(t, postsWithContent(feed.Snapshot(), "Hello team"), 1)
	require.NotNil(t, feed.Snapshot().Posts[0].Author)
	assert.Equal(t, "Bob Builder", feed.Snapshot().Posts[0].Author.Name)

	_, err = bobAPI.UpsertReaction(t.Context(), mine.ID, bob.ID.String(), ReactionLove)
	require.NoError(t, err)
	_, err = feed.LoadInitial(t.Context())
	require.NoError(t, err)
	refreshed := postsWithContent(feed.Snapshot(), "Hello team")
	require.Len(t, refreshed, 1)
	assert.Equal(t, map[ReactionType]int{ReactionLove: 1}, refreshed[0].ReactionCounts())

	_, err = feed.EditPost(t.Context(), fromBob.ID, "hijacked")
	require.ErrorIs(t, err, ErrMutationFailed)
	assert.Equal(t, MutationRejectedMessage, err.Error())
	assert.Equal(t, "From Bob", feed.Snapshot().Posts[0].Content)

	_, err = feed.ToggleReaction(t.Context(), fromBob.ID, ReactionCelebrate)
	require.NoError(t, err)
	r, err := feed.ToggleReaction(t.Context(), fromBob.ID, ReactionCelebrate)
	require.NoError(t, err)
	assert.Nil(t, r)

	comment, err := feed.AddComment(t.Context(), fromBob.ID, CreateCommentInput{Content: "Nice"})
	require.NoError(t, err)
	reply, err := feed.AddComment(t.Context(), fromBob.ID, CreateCommentInput{Content: "Agreed", ParentID: &comment.ID})
	require.NoError(t, err)
	assert.Equal(t, comment.ID, *reply.ParentID)

	require.NoError(t, feed.DeletePost(t.Context(), mine.ID))
	_, err = feed.LoadInitial(t.Context())
	require.NoError(t, err)
	posts := feed.Snapshot().Posts
	require.Len(t, posts, 1)
	assert.Equal(t, fromBob.ID, posts[0].ID)
	assert.Len(t, posts[0].Comments, 2)

	gifs, err := aliceAPI.TrendingGIFs(t.Context())
	require.NoError(t, err)
	require.Len(t, gifs, 1)
	assert.Equal(t, "https://media.example/g1-small.gif", gifs[0].PreviewURL)

	require.NoError(t, session.SignOut(t.Context()))
	assert.False(t, session.Snapshot().Authenticated())
	_, err = aliceAPI.ListPosts(t.Context(), PageSize, 0)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestHTTPBackend_RefreshesRejectedAccessToken(t *testing.T) {
	api := newLiveAPI(t)
	alice := api.user(t, "Alice Admin")

	tokens := &MemoryTokenStore{}
	b := api.backend(t, WithTokenStore(tokens))
	events := &recordedEvents{}
	defer b.OnAuthEvent(events.record)()

	session, err := b.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)

	stale := *session
	stale.AccessToken = "not-a-jwt"
	tokens.Set(&stale)

	_, err = b.ListPosts(t.Context(), PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, []AuthEvent{AuthSignedIn, AuthTokenRefreshed}, events.list())
	assert.NotEqual(t, "not-a-jwt", tokens.Get().AccessToken)
	assert.NotEqual(t, session.RefreshToken, tokens.Get().RefreshToken)
}

func TestHTTPBackend_FailedRefreshSignsOut(t *testing.T) {
	api := newLiveAPI(t)
	alice := api.user(t, "Alice Admin")

	tokens := &MemoryTokenStore{}
	b := api.backend(t, WithTokenStore(tokens))
	events := &recordedEvents{}
	defer b.OnAuthEvent(events.record)()

	session, err := b.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)
	bogus := *session
	bogus.AccessToken = "not-a-jwt"
	bogus.RefreshToken = "not-a-refresh-token"
	tokens.Set(&bogus)

	_, err = b.ListPosts(t.Context(), PageSize, 0)
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Nil(t, tokens.Get())
	assert.Equal(t, []AuthEvent{AuthSignedIn, AuthSignedOut}, events.list())
}

func TestHTTPBackend_CurrentSession(t *testing.T) {
	api := newLiveAPI(t)
	alice := api.user(t, "Alice Admin")

	empty := api.backend(t)
	session, err := empty.CurrentSession(t.Context())
	require.NoError(t, err)
	assert.Nil(t, session)

	first := api.backend(t)
	issued, err := first.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)

	tokens := &MemoryTokenStore{}
	tokens.Set(&Session{AccessToken: issued.AccessToken, RefreshToken: issued.RefreshToken})
	restored := api.backend(t, WithTokenStore(tokens))
	events := &recordedEvents{}
	defer restored.OnAuthEvent(events.record)()

	session, err = restored.CurrentSession(t.Context())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, alice.ID.String(), session.User.ID)
	assert.Equal(t, alice.Email, session.User.Email)
	assert.Equal(t, []AuthEvent{AuthInitialSession}, events.list())

	require.NoError(t, first.SignOut(t.Context()))
	_, err = first.TrendingGIFs(t.Context())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestHTTPBackend_OwnerChecks(t *testing.T) {
	api := newLiveAPI(t)
	alice := api.user(t, "Alice Admin")
	bob := api.user(t, "Bob Builder")

	b := api.backend(t)
	_, err := b.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)

	bio := "hello"
	_, err = b.UpdateProfile(t.Context(), bob.ID.String(), ProfilePatch{Bio: &bio})
	assert.ErrorIs(t, err, ErrMutationFailed)

	p, err := b.UpdateProfile(t.Context(), alice.ID.String(), ProfilePatch{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hello", *p.Bio)

	err = b.DeleteReaction(t.Context(), "any", bob.ID.String())
	assert.ErrorIs(t, err, ErrMutationFailed)

	_, err = b.GetPost(t.Context(), "00000000-0000-0000-0000-000000000000")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)

	profiles, err := b.ListProfiles(t.Context())
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
}

func TestHTTPBackend_ChangeFeedSubscriptions(t *testing.T) {
	api := newLiveAPI(t)
	alice := api.user(t, "Alice Admin")

	b := api.backend(t)
	_, err := b.Subscribe(t.Context(), "posts", EventInsert, func(ChangeEvent) {})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = b.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)

	_, err = b.Subscribe(t.Context(), "payroll", EventAny, func(ChangeEvent) {})
	assert.EqualError(t, err, "unknown table or event")

	received := make(chan ChangeEvent, 4)
	sub, err := b.Subscribe(t.Context(), "posts", "", func(ev ChangeEvent) { received <- ev })
	require.NoError(t, err)

	post, err := b.CreatePost(t.Context(), CreatePostInput{Content: "wildcard"})
	require.NoError(t, err)

	select {
	case ev := <-received:
		assert.Equal(t, "posts", ev.Table)
		assert.Equal(t, EventInsert, ev.Type)
		assert.Contains(t, string(ev.Record), post.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
	}

	sub.Unsubscribe()
	b.feed.mu.Lock()
	open := b.feed.conn != nil
	b.feed.mu.Unlock()
	assert.False(t, open)
}
