package workplace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type fakeAccount struct {
	identity  Identity
	password  string
	confirmed bool
}

type fakeSubscriber struct {
	key     subKey
	handler func(ChangeEvent)
}

// fakeBackend is an in-memory AuthProvider, DataStore and ChangeFeed that
// enforces owner checks the way the API does.
type fakeBackend struct {
	mu       sync.Mutex
	accounts map[string]*fakeAccount
	profiles map[string]Profile
	posts    map[string]*Post
	deleted  map[string]bool
	session  *Session
	subs     map[int]fakeSubscriber
	nextSub  int
	clock    time.Time
	calls    map[string]int
	failures map[string]error
	gates    map[string]chan struct{}

	events listeners[authNotice]
	lost   listeners[error]
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		accounts: make(map[string]*fakeAccount),
		profiles: make(map[string]Profile),
		posts:    make(map[string]*Post),
		deleted:  make(map[string]bool),
		subs:     make(map[int]fakeSubscriber),
		clock:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

// addUser registers a confirmed account with password "Password123!".
func (f *fakeBackend) addUser(name string) Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := Identity{ID: uuid.NewString(), Email: strings.ToLower(name) + "@corp.example"}
	f.accounts[id.Email] = &fakeAccount{identity: id, password: "Password123!", confirmed: true}
	role, dept := "Engineer", "Platform"
	f.profiles[id.ID] = Profile{ID: id.ID, Name: name, Email: id.Email, Role: &role, Department: &dept}
	return id
}

// restore makes id the current session without an auth event.
func (f *fakeBackend) restore(id Identity) *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = f.newSessionLocked(id)
	cp := *f.session
	return &cp
}

func (f *fakeBackend) newSessionLocked(id Identity) *Session {
	return &Session{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    f.clock.Add(15 * time.Minute),
		User:         id,
	}
}

// failNext makes the next call to op return err.
func (f *fakeBackend) failNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// hold blocks calls to op until the returned func is called.
func (f *fakeBackend) hold(op string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeBackend) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// enter records a call, waits on its gate and returns any injected failure.
func (f *fakeBackend) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gates[op]
	err := f.failures[op]
	delete(f.failures, op)
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeBackend) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeBackend) emitAuth(event AuthEvent, session *Session) {
	f.events.emit(authNotice{event: event, session: session})
}

func (f *fakeBackend) publish(table, eventType string, record interface{}) {
	raw, err := json.Marshal(record)
	if err != nil {
		panic(err)
	}
	ev := ChangeEvent{Type: eventType, Table: table, Record: raw, CommitTimestamp: time.Now()}

	f.mu.Lock()
	var targets []func(ChangeEvent)
	for _, s := range f.subs {
		if s.key.Table == table && (s.key.Event == eventType || s.key.Event == EventAny) {
			targets = append(targets, s.handler)
		}
	}
	f.mu.Unlock()

	for _, h := range targets {
		h(ev)
	}
}

// AuthProvider

func (f *fakeBackend) SignIn(_ context.Context, email, password string) (*Session, error) {
	if err := f.enter("SignIn"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	acct, ok := f.accounts[strings.ToLower(email)]
	if !ok || acct.password != password {
		f.mu.Unlock()
		return nil, errors.New("Invalid login credentials")
	}
	if !acct.confirmed {
		f.mu.Unlock()
		return nil, errors.New("Email not confirmed")
	}
	f.session = f.newSessionLocked(acct.identity)
	session := *f.session
	f.mu.Unlock()

	f.emitAuth(AuthSignedIn, &session)
	return &session, nil
}

func (f *fakeBackend) SignUp(_ context.Context, email, password string, meta SignUpMetadata) (*Identity, error) {
	if err := f.enter("SignUp"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	email = strings.ToLower(email)
	if _, exists := f.accounts[email]; exists {
		return nil, errors.New("User already registered")
	}
	id := Identity{ID: uuid.NewString(), Email: email}
	f.accounts[email] = &fakeAccount{identity: id, password: password}
	f.profiles[id.ID] = Profile{ID: id.ID, Name: meta.Name, Email: email, Avatar: meta.AvatarURL}
	return &id, nil
}

func (f *fakeBackend) SignOut(context.Context) error {
	if err := f.enter("SignOut"); err != nil {
		return err
	}
	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	f.emitAuth(AuthSignedOut, nil)
	return nil
}

func (f *fakeBackend) CurrentSession(context.Context) (*Session, error) {
	if err := f.enter("CurrentSession"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, nil
	}
	cp := *f.session
	return &cp, nil
}

func (f *fakeBackend) OnAuthEvent(handler AuthEventHandler) func() {
	return f.events.add(func(n authNotice) { handler(n.event, n.session) })
}

// DataStore

func (f *fakeBackend) GetProfile(_ context.Context, id string) (*Profile, error) {
	if err := f.enter("GetProfile"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, &APIError{Status: 404, Code: "NOT_FOUND", Message: "Profile not found"}
	}
	return &p, nil
}

func (f *fakeBackend) UpdateProfile(_ context.Context, id string, patch ProfilePatch) (*Profile, error) {
	if err := f.enter("UpdateProfile"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil || f.session.User.ID != id {
		return nil, ErrMutationFailed
	}
	p := f.profiles[id]
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Bio != nil {
		p.Bio = patch.Bio
	}
	if patch.Role != nil {
		p.Role = patch.Role
	}
	if patch.Department != nil {
		p.Department = patch.Department
	}
	p.UpdatedAt = f.tick()
	f.profiles[id] = p
	return &p, nil
}

func (f *fakeBackend) ListProfiles(context.Context) ([]Profile, error) {
	if err := f.enter("ListProfiles"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := lo.Values(f.profiles)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeBackend) visiblePostsLocked() []Post {
	posts := lo.FilterMap(lo.Values(f.posts), func(p *Post, _ int) (Post, bool) {
		return p.clone(), !f.deleted[p.ID]
	})
	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
	return posts
}

func (f *fakeBackend) ListPosts(_ context.Context, limit, offset int) ([]Post, error) {
	if err := f.enter("ListPosts"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	posts := f.visiblePostsLocked()
	if offset >= len(posts) {
		return []Post{}, nil
	}
	return posts[offset:min(offset+limit, len(posts))], nil
}

func (f *fakeBackend) GetPost(_ context.Context, id string) (*Post, error) {
	if err := f.enter("GetPost"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || f.deleted[id] {
		return nil, &APIError{Status: 404, Code: "NOT_FOUND", Message: "Post not found"}
	}
	out := p.clone()
	return &out, nil
}

// insertPost stores a post by author and publishes the insert.
func (f *fakeBackend) insertPost(author Identity, content string, media ...string) Post {
	f.mu.Lock()
	now := f.tick()
	profile := f.profiles[author.ID]
	p := &Post{
		ID:        uuid.NewString(),
		AuthorID:  author.ID,
		Author:    &profile,
		Content:   content,
		MediaURLs: media,
		Comments:  []Comment{},
		Reactions: []Reaction{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.posts[p.ID] = p
	out := p.clone()
	f.mu.Unlock()

	f.publish("posts", EventInsert, map[string]string{"id": out.ID, "author_id": out.AuthorID})
	return out
}

func (f *fakeBackend) CreatePost(_ context.Context, in CreatePostInput) (*Post, error) {
	if err := f.enter("CreatePost"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if f.session == nil || f.session.User.ID != in.AuthorID {
		f.mu.Unlock()
		return nil, ErrMutationFailed
	}
	author := f.session.User
	f.mu.Unlock()

	p := f.insertPost(author, in.Content, in.MediaURLs...)
	return &p, nil
}

func (f *fakeBackend) ownedPostLocked(id, ownerID string) (*Post, error) {
	p, ok := f.posts[id]
	if !ok || f.deleted[id] {
		return nil, &APIError{Status: 404, Code: "NOT_FOUND", Message: "Post not found"}
	}
	if p.AuthorID != ownerID || f.session == nil || f.session.User.ID != ownerID {
		return nil, ErrMutationFailed
	}
	return p, nil
}

func (f *fakeBackend) UpdatePost(_ context.Context, id, ownerID, content string) (*Post, error) {
	if err := f.enter("UpdatePost"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.ownedPostLocked(id, ownerID)
	if err != nil {
		return nil, err
	}
	p.Content = content
	p.IsEdited = true
	p.UpdatedAt = f.tick()
	out := p.clone()
	return &out, nil
}

func (f *fakeBackend) SoftDeletePost(_ context.Context, id, ownerID string) error {
	if err := f.enter("SoftDeletePost"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.ownedPostLocked(id, ownerID); err != nil {
		return err
	}
	f.deleted[id] = true
	return nil
}

func (f *fakeBackend) CreateComment(_ context.Context, in CreateCommentInput) (*Comment, error) {
	if err := f.enter("CreateComment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[in.PostID]
	if !ok || f.deleted[in.PostID] {
		return nil, &APIError{Status: 404, Code: "NOT_FOUND", Message: "Post not found"}
	}
	if f.session == nil || f.session.User.ID != in.AuthorID {
		return nil, ErrMutationFailed
	}
	now := f.tick()
	c := Comment{
		ID:        uuid.NewString(),
		PostID:    in.PostID,
		ParentID:  in.ParentID,
		AuthorID:  in.AuthorID,
		Content:   in.Content,
		GifID:     in.GifID,
		GifURL:    in.GifURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Comments = append(p.Comments, c)
	return &c, nil
}

func (f *fakeBackend) commentLocked(id, ownerID string) (*Post, int, error) {
	for _, p := range f.posts {
		for i := range p.Comments {
			if p.Comments[i].ID != id {
				continue
			}
			if p.Comments[i].AuthorID != ownerID || f.session == nil || f.session.User.ID != ownerID {
				return nil, 0, ErrMutationFailed
			}
			return p, i, nil
		}
	}
	return nil, 0, &APIError{Status: 404, Code: "NOT_FOUND", Message: "Comment not found"}
}

func (f *fakeBackend) UpdateComment(_ context.Context, id, ownerID, content string) (*Comment, error) {
	if err := f.enter("UpdateComment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, i, err := f.commentLocked(id, ownerID)
	if err != nil {
		return nil, err
	}
	p.Comments[i].Content = content
	p.Comments[i].IsEdited = true
	p.Comments[i].UpdatedAt = f.tick()
	out := p.Comments[i]
	return &out, nil
}

func (f *fakeBackend) DeleteComment(_ context.Context, id, ownerID string) error {
	if err := f.enter("DeleteComment"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _, err := f.commentLocked(id, ownerID)
	if err != nil {
		return err
	}
	p.Comments = withoutComment(p.Comments, id)
	return nil
}

func (f *fakeBackend) UpsertReaction(_ context.Context, postID, userID string, kind ReactionType) (*Reaction, error) {
	if err := f.enter("UpsertReaction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	if !ok || f.deleted[postID] {
		return nil, &APIError{Status: 404, Code: "NOT_FOUND", Message: "Post not found"}
	}
	if f.session == nil || f.session.User.ID != userID {
		return nil, ErrMutationFailed
	}
	r := Reaction{ID: uuid.NewString(), PostID: postID, UserID: userID, Type: kind, CreatedAt: f.tick()}
	p.Reactions = append(lo.Reject(p.Reactions, func(x Reaction, _ int) bool { return x.UserID == userID }), r)
	return &r, nil
}

// reactAs stores a reaction for userID regardless of the current session.
func (f *fakeBackend) reactAs(postID, userID string, kind ReactionType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[postID]
	r := Reaction{ID: uuid.NewString(), PostID: postID, UserID: userID, Type: kind, CreatedAt: f.tick()}
	p.Reactions = append(lo.Reject(p.Reactions, func(x Reaction, _ int) bool { return x.UserID == userID }), r)
}

func (f *fakeBackend) DeleteReaction(_ context.Context, postID, userID string) error {
	if err := f.enter("DeleteReaction"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil || f.session.User.ID != userID {
		return ErrMutationFailed
	}
	if p, ok := f.posts[postID]; ok {
		p.Reactions = lo.Reject(p.Reactions, func(x Reaction, _ int) bool { return x.UserID == userID })
	}
	return nil
}

func (f *fakeBackend) TrendingGIFs(context.Context) ([]GIF, error) {
	if err := f.enter("TrendingGIFs"); err != nil {
		return nil, err
	}
	return []GIF{{ID: "g1", Title: "wave", URL: "https://media.example/g1.gif"}}, nil
}

func (f *fakeBackend) SearchGIFs(_ context.Context, query string) ([]GIF, error) {
	if err := f.enter("SearchGIFs"); err != nil {
		return nil, err
	}
	return []GIF{{ID: "s-" + query, Title: query}}, nil
}

// ChangeFeed

type fakeSubscription func()

func (s fakeSubscription) Unsubscribe() { s() }

func (f *fakeBackend) Subscribe(_ context.Context, table, eventType string, handler func(ChangeEvent)) (Subscription, error) {
	if err := f.enter("Subscribe"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fakeSubscriber{key: newSubKey(table, eventType), handler: handler}
	var once sync.Once
	return fakeSubscription(func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}), nil
}

func (f *fakeBackend) OnLost(fn func(error)) (unsubscribe func()) {
	return f.lost.add(fn)
}

// dropFeed ends every realtime subscription the way a lost connection does.
func (f *fakeBackend) dropFeed(cause error) {
	f.mu.Lock()
	f.subs = make(map[int]fakeSubscriber)
	f.mu.Unlock()
	f.lost.emit(cause)
}

// seedPosts inserts n posts by author without publishing them.
func (f *fakeBackend) seedPosts(author Identity, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		now := f.tick()
		p := &Post{
			ID:        uuid.NewString(),
			AuthorID:  author.ID,
			Content:   fmt.Sprintf("post %d", i+1),
			Comments:  []Comment{},
			Reactions: []Reaction{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		f.posts[p.ID] = p
	}
}

var (
	_ AuthProvider = (*fakeBackend)(nil)
	_ DataStore    = (*fakeBackend)(nil)
	_ ChangeFeed   = (*fakeBackend)(nil)
)
