package workplace

import "context"

// AuthEvent is a session transition announced by the AuthProvider.
type AuthEvent string

const (
	AuthInitialSession AuthEvent = "INITIAL_SESSION"
	AuthSignedIn       AuthEvent = "SIGNED_IN"
	AuthSignedOut      AuthEvent = "SIGNED_OUT"
	AuthTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	AuthUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthEventHandler receives auth events. session is nil after sign-out.
type AuthEventHandler func(event AuthEvent, session *Session)

// AuthProvider issues and tracks sessions.
type AuthProvider interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*Identity, error)
	SignOut(ctx context.Context) error
	// CurrentSession returns nil and no error when signed out.
	CurrentSession(ctx context.Context) (*Session, error)
	OnAuthEvent(handler AuthEventHandler) (unsubscribe func())
}

// DataStore reads and writes rows. Writes scoped by an owner id are refused
// by the backend when the caller does not own the row.
type DataStore interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)

	// ListPosts returns posts newest first with author, comments and reactions.
	ListPosts(ctx context.Context, limit, offset int) ([]Post, error)
	GetPost(ctx context.Context, id string) (*Post, error)
	CreatePost(ctx context.Context, in CreatePostInput) (*Post, error)
	UpdatePost(ctx context.Context, id, ownerID, content string) (*Post, error)
	SoftDeletePost(ctx context.Context, id, ownerID string) error

	CreateComment(ctx context.Context, in CreateCommentInput) (*Comment, error)
	UpdateComment(ctx context.Context, id, ownerID, content string) (*Comment, error)
	DeleteComment(ctx context.Context, id, ownerID string) error

	UpsertReaction(ctx context.Context, postID, userID string, reaction ReactionType) (*Reaction, error)
	DeleteReaction(ctx context.Context, postID, userID string) error

	TrendingGIFs(ctx context.Context) ([]GIF, error)
	SearchGIFs(ctx context.Context, query string) ([]GIF, error)
}

// Subscription is a live change-feed registration.
type Subscription interface {
	Unsubscribe()
}

// ChangeFeed pushes row changes. eventType may be EventAny.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table, eventType string, handler func(ChangeEvent)) (Subscription, error)
}

// LossNotifier is implemented by change feeds whose subscriptions can end
// without an Unsubscribe, such as when the connection drops.
type LossNotifier interface {
	OnLost(fn func(error)) (unsubscribe func())
}
