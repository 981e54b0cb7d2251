// Package workplace is the client SDK for the Workplace intranet. It keeps
// the signed-in session, the post feed and the colleague directory in
// memory, applies mutations optimistically and reconciles them with the
// backend, and merges posts other people publish in real time.
//
// The stores talk to the backend through the AuthProvider, DataStore and
// ChangeFeed interfaces. HTTPBackend implements all three against the
// Workplace API.
package workplace

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Identity is the authenticated account behind a session.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is a signed-in identity with its tokens.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SignUpMetadata is stored on the profile created at registration.
type SignUpMetadata struct {
	Name      string  `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Profile is a colleague's directory entry.
type Profile struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Email      string              `json:"email"`
	Avatar     *string             `json:"avatar"`
	CoverImage *string             `json:"cover_image"`
	Role       *string             `json:"role"`
	Department *string             `json:"department"`
	Bio        *string             `json:"bio"`
	Location   *string             `json:"location"`
	Phone      *string             `json:"phone"`
	LinkedIn   *string             `json:"linkedin"`
	ManagerID  *string             `json:"manager_id"`
	Settings   jsoniter.RawMessage `json:"settings,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// fallbackProfile is shown when the real profile cannot be loaded.
func fallbackProfile(id Identity) *Profile {
	name := "User"
	if local, _, ok := strings.Cut(id.Email, "@"); ok && local != "" {
		name = local
	}
	return &Profile{ID: id.ID, Name: name, Email: id.Email}
}

// ProfilePatch lists the owner-editable profile fields. Nil fields are left
// unchanged.
type ProfilePatch struct {
	Name       *string             `json:"name,omitempty"`
	Avatar     *string             `json:"avatar,omitempty"`
	CoverImage *string             `json:"cover_image,omitempty"`
	Role       *string             `json:"role,omitempty"`
	Department *string             `json:"department,omitempty"`
	Bio        *string             `json:"bio,omitempty"`
	Location   *string             `json:"location,omitempty"`
	Phone      *string             `json:"phone,omitempty"`
	LinkedIn   *string             `json:"linkedin,omitempty"`
	ManagerID  *string             `json:"manager_id,omitempty"`
	Settings   jsoniter.RawMessage `json:"settings,omitempty"`
}

// ReactionType is one of the fixed reaction kinds.
type ReactionType string

const (
	ReactionLike       ReactionType = "like"
	ReactionLove       ReactionType = "love"
	ReactionCelebrate  ReactionType = "celebrate"
	ReactionInsightful ReactionType = "insightful"
	ReactionCurious    ReactionType = "curious"
)

// Reaction is unique per (post, user).
type Reaction struct {
	ID        string       `json:"id"`
	PostID    string       `json:"post_id"`
	UserID    string       `json:"user_id"`
	Type      ReactionType `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
}

// Comment belongs to a post. Replies carry the id of a top-level comment.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	ParentID  *string   `json:"parent_id"`
	AuthorID  string    `json:"author_id"`
	Author    *Profile  `json:"author,omitempty"`
	Content   string    `json:"content"`
	GifID     *string   `json:"gif_id"`
	GifURL    *string   `json:"gif_url"`
	IsEdited  bool      `json:"is_edited"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Pending is set while the comment only exists locally.
	Pending bool `json:"-"`
}

// Post is a feed entry with its author, comments and reactions.
type Post struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"author_id"`
	Author    *Profile   `json:"author,omitempty"`
	Content   string     `json:"content"`
	MediaURLs []string   `json:"media_urls"`
	IsEdited  bool       `json:"is_edited"`
	Comments  []Comment  `json:"comments"`
	Reactions []Reaction `json:"reactions"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Pending is set while the post only exists locally.
	Pending bool `json:"-"`
}

// ReactionCounts tallies the post's reactions by type.
func (p Post) ReactionCounts() map[ReactionType]int {
	out := make(map[ReactionType]int, len(p.Reactions))
	for _, r := range p.Reactions {
		out[r.Type]++
	}
	return out
}

// ReactionBy returns the reaction userID left on the post, if any.
func (p Post) ReactionBy(userID string) (Reaction, bool) {
	for _, r := range p.Reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return Reaction{}, false
}

func (p Post) clone() Post {
	p.MediaURLs = append([]string(nil), p.MediaURLs...)
	p.Comments = append([]Comment(nil), p.Comments...)
	p.Reactions = append([]Reaction(nil), p.Reactions...)
	return p
}

// CreatePostInput is a new post.
type CreatePostInput struct {
	AuthorID  string   `json:"-"`
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// GIF is a search result from the GIF proxy.
type GIF struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
}

// CreateCommentInput is a new comment or reply. Content may be empty when a
// GIF is attached.
type CreateCommentInput struct {
	PostID   string  `json:"-"`
	AuthorID string  `json:"-"`
	ParentID *string `json:"parent_id,omitempty"`
	Content  string  `json:"content"`
	GifID    *string `json:"gif_id,omitempty"`
	GifURL   *string `json:"gif_url,omitempty"`
}

// Change event types.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAny    = "*"
)

// ChangeEvent is one row change pushed by the change feed.
type ChangeEvent struct {
	Type            string              `json:"type"`
	Table           string              `json:"table"`
	Record          jsoniter.RawMessage `json:"record"`
	CommitTimestamp time.Time           `json:"commit_timestamp"`
}
