package workplace

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionSnapshot is a copy of the session state.
type SessionSnapshot struct {
	Session *Session
	User    *Profile
	Settled bool
}

// Authenticated reports whether a session is present.
func (s SessionSnapshot) Authenticated() bool {
	return s.Session != nil
}

// anyRevision applies a session change whatever happened since it was read.
const anyRevision = ^uint64(0)

// SessionStore holds the signed-in identity and its profile. It follows the
// provider's auth events for its whole lifetime and marks itself settled once
// the session is known or the settle timeout fires.
type SessionStore struct {
	auth AuthProvider
	data DataStore
	opts options

	mu         sync.Mutex
	session    *Session
	user       *Profile
	settled    bool
	settledCh  chan struct{}
	started    bool
	closed     bool
	generation uint64
	revision   uint64
	timer      *time.Timer
	stopEvents func()
	ctx        context.Context
	cancel     context.CancelFunc

	notifyMu  sync.Mutex
	listeners listeners[SessionSnapshot]
}

func NewSessionStore(auth AuthProvider, data DataStore, opts ...Option) *SessionStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionStore{
		auth:      auth,
		data:      data,
		opts:      buildOptions(opts),
		settledCh: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to auth events and restores an existing session. A failed
// session lookup settles the store as signed out.
func (s *SessionStore) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopEvents = s.auth.OnAuthEvent(s.handleAuthEvent)
	s.timer = time.AfterFunc(s.opts.settleTimeout, s.settleTimedOut)
	rev := s.revision
	s.mu.Unlock()

	// A sign-in or auth event that lands while the lookup is in flight wins
	// over the lookup's answer.
	session, err := s.auth.CurrentSession(ctx)
	if err != nil {
		s.opts.logger.Warn("session lookup failed",
			slog.String("error", err.Error()),
		)
		s.clearAt(rev, false)
		return nil
	}
	if session == nil {
		s.clearAt(rev, false)
		return nil
	}
	s.authenticateAt(rev, session, false)
	return nil
}

func (s *SessionStore) handleAuthEvent(event AuthEvent, session *Session) {
	switch event {
	case AuthInitialSession, AuthSignedIn, AuthTokenRefreshed:
		if session == nil {
			s.clear(event != AuthInitialSession)
			return
		}
		s.authenticate(session, false)
	case AuthUserUpdated:
		if session != nil {
			s.authenticate(session, true)
		}
	case AuthSignedOut:
		s.clear(true)
	}
}

// authenticate marks the store signed in right away and loads the profile in
// the background. A repeated event for the same token is ignored, and a token
// refresh keeps the profile already loaded unless refetch is set.
func (s *SessionStore) authenticate(session *Session, refetch bool) {
	s.authenticateAt(anyRevision, session, refetch)
}

// authenticateAt is authenticate limited to session revision rev.
func (s *SessionStore) authenticateAt(rev uint64, session *Session, refetch bool) {
	s.mu.Lock()
	if s.closed || (rev != anyRevision && rev != s.revision) {
		s.mu.Unlock()
		return
	}
	sameUser := s.session != nil && s.session.User.ID == session.User.ID
	if sameUser && s.session.AccessToken == session.AccessToken && !refetch {
		s.mu.Unlock()
		return
	}
	cp := *session
	s.session = &cp
	s.revision++
	if !sameUser {
		s.user = nil
	}
	fetch := refetch || s.user == nil
	if fetch {
		s.generation++
	}
	gen := s.generation
	s.markSettledLocked()
	s.mu.Unlock()

	s.notify()
	if fetch {
		go s.loadProfile(gen, session.User)
	}
}

func (s *SessionStore) loadProfile(gen uint64, id Identity) {
	profile, err := s.data.GetProfile(s.ctx, id.ID)
	if err != nil {
		s.opts.logger.Warn("profile fetch failed, using fallback",
			slog.String("user_id", id.ID),
			slog.String("error", err.Error()),
		)
		profile = fallbackProfile(id)
	}

	s.mu.Lock()
	if s.closed || gen != s.generation || s.session == nil {
		s.mu.Unlock()
		return
	}
	s.user = profile
	s.mu.Unlock()

	s.notify()
}

// clear drops the session. When signedOut is set the sign-out resetters run
// as well.
func (s *SessionStore) clear(signedOut bool) {
	s.clearAt(anyRevision, signedOut)
}

// clearAt is clear limited to session revision rev.
func (s *SessionStore) clearAt(rev uint64, signedOut bool) {
	s.mu.Lock()
	if s.closed || (rev != anyRevision && rev != s.revision) {
		s.mu.Unlock()
		return
	}
	wasAuthenticated := s.session != nil
	s.session = nil
	s.user = nil
	s.generation++
	s.revision++
	s.markSettledLocked()
	s.mu.Unlock()

	if signedOut || wasAuthenticated {
		for _, r := range s.opts.onSignOut {
			r.Reset()
		}
	}
	s.notify()
}

func (s *SessionStore) settleTimedOut() {
	s.mu.Lock()
	if s.closed || s.settled {
		s.mu.Unlock()
		return
	}
	s.opts.logger.Debug("session settle timeout reached")
	s.markSettledLocked()
	s.mu.Unlock()

	s.notify()
}

func (s *SessionStore) markSettledLocked() {
	if s.settled {
		return
	}
	s.settled = true
	close(s.settledCh)
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *SessionStore) snapshotLocked() SessionSnapshot {
	snap := SessionSnapshot{Settled: s.settled}
	if s.session != nil {
		cp := *s.session
		snap.Session = &cp
	}
	if s.user != nil {
		cp := *s.user
		snap.User = &cp
	}
	return snap
}

// notify sends subscribers the state as of now. Notifications are
// serialized, so the last one a subscriber sees is never stale.
func (s *SessionStore) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.listeners.emit(s.Snapshot())
}

// Snapshot returns the current state.
func (s *SessionStore) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every state change.
func (s *SessionStore) Subscribe(fn func(SessionSnapshot)) (unsubscribe func()) {
	return s.listeners.add(fn)
}

// WaitSettled blocks until the session is known or ctx is done.
func (s *SessionStore) WaitSettled(ctx context.Context) error {
	select {
	case <-s.settledCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignIn signs in with email and password. Provider errors such as
// "Invalid login credentials" are returned unchanged.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) (*Session, error) {
	session, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.authenticate(session, false)
	return session, nil
}

// SignUp registers a new account. Whether a session follows depends on the
// provider's email confirmation policy.
func (s *SessionStore) SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*Identity, error) {
	return s.auth.SignUp(ctx, email, password, meta)
}

// SignOut ends the session. Local state is cleared even if the provider call
// fails.
func (s *SessionStore) SignOut(ctx context.Context) error {
	err := s.auth.SignOut(ctx)
	if s.Snapshot().Authenticated() {
		s.clear(true)
	}
	return err
}

// UpdateProfile edits the signed-in user's profile and stores the result.
func (s *SessionStore) UpdateProfile(ctx context.Context, patch ProfilePatch) (*Profile, error) {
	snap := s.Snapshot()
	if !snap.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	profile, err := s.data.UpdateProfile(ctx, snap.Session.User.ID, patch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed || s.session == nil || s.session.User.ID != profile.ID {
		s.mu.Unlock()
		return profile, nil
	}
	cp := *profile
	s.user = &cp
	s.generation++
	s.mu.Unlock()

	s.notify()
	return profile, nil
}

// Close stops following auth events. Requests still in flight finish but
// their results are dropped.
func (s *SessionStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stopEvents
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	if stop != nil {
		stop()
	}
}
