package workplace

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type countingResetter struct{ n atomic.Int32 }

func (c *countingResetter) Reset() { c.n.Add(1) }

func newSession(t *testing.T, fake *fakeBackend, opts ...Option) *SessionStore {
	t.Helper()
	s := NewSessionStore(fake, fake, opts...)
	t.Cleanup(s.Close)
	return s
}

func TestSessionStore_StartWithoutSessionSettlesSignedOut(t *testing.T) {
	fake := newFakeBackend()
	s := newSession(t, fake)

	require.NoError(t, s.Start(t.Context()))
	require.NoError(t, s.WaitSettled(t.Context()))

	snap := s.Snapshot()
	assert.True(t, snap.Settled)
	assert.False(t, snap.Authenticated())
	assert.Nil(t, snap.User)
}

func TestSessionStore_RestoresSessionAndLoadsProfile(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	fake.restore(alice)
	release := fake.hold("GetProfile")
	s := newSession(t, fake)

	require.NoError(t, s.Start(t.Context()))

	// Authenticated before the profile arrives.
	snap := s.Snapshot()
	assert.True(t, snap.Settled)
	require.True(t, snap.Authenticated())
	assert.Equal(t, alice.ID, snap.Session.User.ID)
	assert.Nil(t, snap.User)

	release()
	assert.Eventually(t, func() bool {
		u := s.Snapshot().User
		return u != nil && u.Name == "Alice"
	}, waitFor, tick)
}

func TestSessionStore_ProfileFailureFallsBackToSyntheticProfile(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	fake.restore(alice)
	fake.failNext("GetProfile", errors.New("connection reset"))
	s := newSession(t, fake)

	require.NoError(t, s.Start(t.Context()))

	var user *Profile
	require.Eventually(t, func() bool {
		user = s.Snapshot().User
		return user != nil
	}, waitFor, tick)
	assert.Equal(t, alice.ID, user.ID)
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, alice.Email, user.Email)
	assert.Nil(t, user.Role)
	assert.Nil(t, user.Department)
	assert.True(t, s.Snapshot().Authenticated())
}

func TestFallbackProfile_NameFromEmail(t *testing.T) {
	assert.Equal(t, "jo.doe", fallbackProfile(Identity{ID: "1", Email: "jo.doe@corp.example"}).Name)
	assert.Equal(t, "User", fallbackProfile(Identity{ID: "1"}).Name)
	assert.Equal(t, "User", fallbackProfile(Identity{ID: "1", Email: "@corp.example"}).Name)
}

func TestSessionStore_SessionLookupErrorSettlesSignedOut(t *testing.T) {
	fake := newFakeBackend()
	fake.restore(fake.addUser("Alice"))
	fake.failNext("CurrentSession", errors.New("backend unavailable"))
	s := newSession(t, fake)

	require.NoError(t, s.Start(t.Context()))

	snap := s.Snapshot()
	assert.True(t, snap.Settled)
	assert.False(t, snap.Authenticated())
}

func TestSessionStore_SettleTimeoutFires(t *testing.T) {
	fake := newFakeBackend()
	release := fake.hold("CurrentSession")
	defer release()
	s := newSession(t, fake, WithSettleTimeout(20*time.Millisecond))

	go func() { _ = s.Start(context.Background()) }()

	ctx, cancel := context.WithTimeout(t.Context(), waitFor)
	defer cancel()
	require.NoError(t, s.WaitSettled(ctx))

	snap := s.Snapshot()
	assert.True(t, snap.Settled)
	assert.False(t, snap.Authenticated())
}

func TestSessionStore_WaitSettledHonoursContext(t *testing.T) {
	fake := newFakeBackend()
	release := fake.hold("CurrentSession")
	defer release()
	s := newSession(t, fake, WithSettleTimeout(time.Hour))

	go func() { _ = s.Start(context.Background()) }()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitSettled(ctx), context.DeadlineExceeded)
}

func TestSessionStore_SignInWithValidCredentials(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	s := newSession(t, fake)
	require.NoError(t, s.Start(t.Context()))

	session, err := s.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, session.User.ID)

	snap := s.Snapshot()
	require.True(t, snap.Authenticated())
	assert.Equal(t, alice.ID, snap.Session.User.ID)
	assert.Eventually(t, func() bool {
		u := s.Snapshot().User
		return u != nil && u.Name == "Alice"
	}, waitFor, tick)
	// The provider's SIGNED_IN and the direct result describe one session.
	assert.Equal(t, 1, fake.callCount("GetProfile"))
}

func TestSessionStore_SignInErrorsAreVerbatim(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	_, err := fake.SignUp(t.Context(), "new@corp.example", "Password123!", SignUpMetadata{Name: "New"})
	require.NoError(t, err)
	s := newSession(t, fake)
	require.NoError(t, s.Start(t.Context()))

	_, err = s.SignIn(t.Context(), alice.Email, "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid login credentials", err.Error())
	assert.False(t, s.Snapshot().Authenticated())

	_, err = s.SignIn(t.Context(), "new@corp.example", "Password123!")
	require.Error(t, err)
	assert.Equal(t, "Email not confirmed", err.Error())
	assert.False(t, s.Snapshot().Authenticated())
}

func TestSessionStore_SignOutClearsSessionAndCaches(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	caches := &countingResetter{}
	s := newSession(t, fake, WithResetOnSignOut(caches))
	require.NoError(t, s.Start(t.Context()))

	_, err := s.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)

	require.NoError(t, s.SignOut(t.Context()))
	snap := s.Snapshot()
	assert.False(t, snap.Authenticated())
	assert.Nil(t, snap.User)
	assert.GreaterOrEqual(t, caches.n.Load(), int32(1))
}

// slowLookup answers CurrentSession with the session as it was when the call
// began, after the test lets it through.
type slowLookup struct {
	*fakeBackend
	read chan struct{}
	gate chan struct{}
}

func newSlowLookup(fake *fakeBackend) *slowLookup {
	return &slowLookup{fakeBackend: fake, read: make(chan struct{}), gate: make(chan struct{})}
}

func (a *slowLookup) CurrentSession(ctx context.Context) (*Session, error) {
	session, err := a.fakeBackend.CurrentSession(ctx)
	close(a.read)
	<-a.gate
	return session, err
}

func TestSessionStore_SignInDuringSessionLookupIsKept(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	auth := newSlowLookup(fake)
	caches := &countingResetter{}
	s := NewSessionStore(auth, fake, WithResetOnSignOut(caches))
	t.Cleanup(s.Close)

	started := make(chan error, 1)
	go func() { started <- s.Start(t.Context()) }()
	<-auth.read

	_, err := s.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)
	close(auth.gate)
	require.NoError(t, <-started)

	snap := s.Snapshot()
	require.True(t, snap.Authenticated(), "signed-in user lost after the initial lookup")
	assert.Equal(t, alice.ID, snap.Session.User.ID)
	assert.Zero(t, caches.n.Load())
	assert.Eventually(t, func() bool {
		u := s.Snapshot().User
		return u != nil && u.Name == "Alice"
	}, waitFor, tick)
}

func TestSessionStore_SignOutDuringSessionLookupIsKept(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	fake.restore(alice)
	auth := newSlowLookup(fake)
	s := NewSessionStore(auth, fake)
	t.Cleanup(s.Close)

	started := make(chan error, 1)
	go func() { started <- s.Start(t.Context()) }()
	<-auth.read

	require.NoError(t, s.SignOut(t.Context()))
	close(auth.gate)
	require.NoError(t, <-started)

	assert.False(t, s.Snapshot().Authenticated())
}

func TestSessionStore_FollowsProviderEvents(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	caches := &countingResetter{}
	s := newSession(t, fake, WithResetOnSignOut(caches))
	require.NoError(t, s.Start(t.Context()))

	var notified, last atomic.Bool
	unsubscribe := s.Subscribe(func(snap SessionSnapshot) {
		notified.Store(true)
		last.Store(snap.Authenticated())
	})
	defer unsubscribe()

	session := fake.restore(alice)
	fake.emitAuth(AuthSignedIn, session)
	assert.True(t, s.Snapshot().Authenticated())

	refreshed := *session
	refreshed.AccessToken = "rotated"
	fake.emitAuth(AuthTokenRefreshed, &refreshed)
	assert.Equal(t, "rotated", s.Snapshot().Session.AccessToken)

	fake.emitAuth(AuthSignedOut, nil)
	assert.False(t, s.Snapshot().Authenticated())
	assert.Equal(t, int32(1), caches.n.Load())
	assert.True(t, notified.Load())
	assert.False(t, last.Load())
}

func TestSessionStore_UserUpdatedRefetchesProfile(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	session := fake.restore(alice)
	s := newSession(t, fake)
	require.NoError(t, s.Start(t.Context()))
	require.Eventually(t, func() bool { return s.Snapshot().User != nil }, waitFor, tick)

	fake.mu.Lock()
	p := fake.profiles[alice.ID]
	p.Name = "Alice Liddell"
	fake.profiles[alice.ID] = p
	fake.mu.Unlock()

	fake.emitAuth(AuthUserUpdated, session)
	assert.Eventually(t, func() bool { return s.Snapshot().User.Name == "Alice Liddell" }, waitFor, tick)
}

func TestSessionStore_UpdateProfile(t *testing.T) {
	fake := newFakeBackend()
	alice := fake.addUser("Alice")
	s := newSession(t, fake)
	require.NoError(t, s.Start(t.Context()))

	_, err := s.UpdateProfile(t.Context(), ProfilePatch{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = s.SignIn(t.Context(), alice.Email, "Password123!")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Snapshot().User != nil }, waitFor, tick)

	bio := "Platform team"
	p, err := s.UpdateProfile(t.Context(), ProfilePatch{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "Platform team", *p.Bio)
	require.NotNil(t, s.Snapshot().User)
	assert.Equal(t, "Platform team", *s.Snapshot().User.Bio)
}

func TestSessionStore_CloseDropsLateProfile(t *testing.T) {
	fake := newFakeBackend()
	fake.restore(fake.addUser("Alice"))
	release := fake.hold("GetProfile")
	s := NewSessionStore(fake, fake)

	require.NoError(t, s.Start(t.Context()))
	var calls atomic.Int32
	s.Subscribe(func(SessionSnapshot) { calls.Add(1) })

	s.Close()
	release()

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, s.Snapshot().User)
	assert.Zero(t, calls.Load())
	assert.ErrorIs(t, s.Start(t.Context()), ErrClosed)
}
