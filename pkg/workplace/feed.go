package workplace

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const tempIDPrefix = "temp-"

var (
	// ErrNotInFeed is returned for mutations on posts or comments the feed
	// does not hold.
	ErrNotInFeed = errors.New("workplace: not in feed")
	// ErrPending is returned for mutations on entries still being published.
	ErrPending = errors.New("workplace: still being published")
	// ErrEmptyComment rejects a comment with neither text nor a GIF.
	ErrEmptyComment = errors.New("comment must have content or a GIF")
	// ErrInvalidReaction rejects reaction types outside the fixed set.
	ErrInvalidReaction = errors.New("invalid reaction type")
)

// ReactionTypes lists the accepted reaction kinds in display order.
var ReactionTypes = []ReactionType{
	ReactionLike,
	ReactionLove,
	ReactionCelebrate,
	ReactionInsightful,
	ReactionCurious,
}

func (t ReactionType) Valid() bool {
	return lo.Contains(ReactionTypes, t)
}

func tempID() string {
	return tempIDPrefix + uuid.NewString()
}

// FeedSnapshot is a deep copy of the feed state. Live reports whether
// colleagues' new posts are currently being merged in.
type FeedSnapshot struct {
	Posts   []Post
	HasMore bool
	Live    bool
}

// FeedStore holds the visible posts, newest first. Writes are applied locally
// before the backend answers and rolled back if it refuses them. While
// started, posts other people publish are merged in as they arrive.
type FeedStore struct {
	data    DataStore
	changes ChangeFeed
	opts    options
	now     func() time.Time

	mu         sync.Mutex
	userID     string
	posts      []Post
	offset     int
	hasMore    bool
	generation uint64
	closed     bool
	sub        Subscription
	stopLost   func()
	ctx        context.Context
	cancel     context.CancelFunc

	notifyMu  sync.Mutex
	listeners listeners[FeedSnapshot]
}

// NewFeedStore builds an empty feed. changes may be nil, in which case the
// feed only changes through its own reads and writes.
func NewFeedStore(data DataStore, changes ChangeFeed, opts ...Option) *FeedStore {
	ctx, cancel := context.WithCancel(context.Background())
	f := &FeedStore{
		data:    data,
		changes: changes,
		opts:    buildOptions(opts),
		now:     time.Now,
		hasMore: true,
		ctx:     ctx,
		cancel:  cancel,
	}
	if n, ok := changes.(LossNotifier); ok {
		f.stopLost = n.OnLost(f.handleLost)
	}
	return f
}

// Start binds the feed to userID, subscribes to new posts and loads the first
// page. Calling it again for the same user only restores a realtime
// subscription that was lost.
func (f *FeedStore) Start(ctx context.Context, userID string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.userID == userID {
		resubscribe := userID != "" && f.sub == nil
		gen := f.generation
		f.mu.Unlock()
		if resubscribe {
			f.subscribe(ctx, gen)
		}
		return nil
	}
	old := f.resetLocked()
	f.userID = userID
	gen := f.generation
	f.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	f.subscribe(ctx, gen)

	_, err := f.LoadInitial(ctx)
	return err
}

// subscribe follows new posts for feed generation gen. A failure leaves the
// feed working from its own reads and writes.
func (f *FeedStore) subscribe(ctx context.Context, gen uint64) {
	if f.changes == nil {
		return
	}
	sub, err := f.changes.Subscribe(ctx, "posts", EventInsert, f.handleInsert)
	if err != nil {
		f.opts.logger.Warn("realtime subscription failed",
			slog.String("error", err.Error()),
		)
		return
	}

	f.mu.Lock()
	if f.closed || gen != f.generation || f.sub != nil {
		f.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	f.sub = sub
	f.mu.Unlock()
	f.notify()
}

// LoadInitial replaces the feed with the first page. On a read error the
// feed is left empty and the error returned.
func (f *FeedStore) LoadInitial(ctx context.Context) (int, error) {
	f.mu.Lock()
	gen := f.generation
	f.mu.Unlock()

	page, err := f.data.ListPosts(ctx, PageSize, 0)

	f.mu.Lock()
	if f.closed || gen != f.generation {
		f.mu.Unlock()
		return 0, nil
	}
	if err != nil {
		f.posts = nil
		f.offset = 0
		f.hasMore = true
		f.mu.Unlock()

		f.opts.logger.Warn("feed load failed", slog.String("error", err.Error()))
		f.notify()
		return 0, err
	}
	f.posts = normalizePosts(page)
	f.offset = len(page)
	f.hasMore = len(page) == PageSize
	f.mu.Unlock()

	f.notify()
	return len(page), nil
}

// LoadMore appends the next page and returns how many posts the backend
// returned. Once a short page has been seen it returns 0 without a request.
func (f *FeedStore) LoadMore(ctx context.Context) (int, error) {
	f.mu.Lock()
	if f.closed || !f.hasMore {
		f.mu.Unlock()
		return 0, nil
	}
	gen, offset := f.generation, f.offset
	f.mu.Unlock()

	page, err := f.data.ListPosts(ctx, PageSize, offset)
	if err != nil {
		f.opts.logger.Warn("feed page load failed",
			slog.Int("offset", offset),
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	f.mu.Lock()
	if f.closed || gen != f.generation {
		f.mu.Unlock()
		return 0, nil
	}
	seen := lo.SliceToMap(f.posts, func(p Post) (string, struct{}) { return p.ID, struct{}{} })
	fresh := lo.Filter(normalizePosts(page), func(p Post, _ int) bool {
		_, dup := seen[p.ID]
		return !dup
	})
	f.posts = append(f.posts, fresh...)
	f.offset += len(page)
	f.hasMore = len(page) == PageSize
	f.mu.Unlock()

	f.notify()
	return len(page), nil
}

// HasMore reports whether another page may exist.
func (f *FeedStore) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

// CreatePost shows the post at the top of the feed at once and swaps in the
// server's copy when the insert succeeds.
func (f *FeedStore) CreatePost(ctx context.Context, content string, mediaURLs []string) (*Post, error) {
	f.mu.Lock()
	userID, gen := f.userID, f.generation
	f.mu.Unlock()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	now := f.now()
	temp := Post{
		ID:        tempID(),
		AuthorID:  userID,
		Content:   content,
		MediaURLs: append([]string(nil), mediaURLs...),
		Comments:  []Comment{},
		Reactions: []Reaction{},
		CreatedAt: now,
		UpdatedAt: now,
		Pending:   true,
	}

	var created *Post
	err := command{
		name: "create post",
		apply: func() {
			f.update(gen, func() { f.posts = append([]Post{temp}, f.posts...) })
		},
		commit: func(ctx context.Context) (err error) {
			created, err = f.data.CreatePost(ctx, CreatePostInput{
				AuthorID:  userID,
				Content:   content,
				MediaURLs: mediaURLs,
			})
			return err
		},
		revert: func() {
			f.update(gen, func() { f.removePostLocked(temp.ID) })
		},
	}.run(ctx, f.opts.logger)
	if err != nil {
		return nil, err
	}

	confirmed := normalizePost(*created)
	f.update(gen, func() {
		if f.indexOfLocked(confirmed.ID) >= 0 {
			f.removePostLocked(temp.ID)
		} else if i := f.indexOfLocked(temp.ID); i >= 0 {
			f.posts[i] = confirmed
		} else {
			f.posts = append([]Post{confirmed}, f.posts...)
		}
		f.offset++
	})
	return &confirmed, nil
}

// EditPost changes the post's content locally, then asks the backend to
// apply the edit as the current user. A rejected edit restores the original.
func (f *FeedStore) EditPost(ctx context.Context, postID, content string) (*Post, error) {
	f.mu.Lock()
	userID, gen := f.userID, f.generation
	i := f.indexOfLocked(postID)
	if i < 0 {
		f.mu.Unlock()
		return nil, ErrNotInFeed
	}
	prev := f.posts[i]
	f.mu.Unlock()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if prev.Pending {
		return nil, ErrPending
	}

	var updated *Post
	err := command{
		name: "edit post",
		apply: func() {
			f.update(gen, func() {
				f.withPostLocked(postID, func(p *Post) {
					p.Content = content
					p.IsEdited = true
					p.UpdatedAt = f.now()
				})
			})
		},
		commit: func(ctx context.Context) (err error) {
			updated, err = f.data.UpdatePost(ctx, postID, userID, content)
			return err
		},
		revert: func() {
			f.update(gen, func() {
				f.withPostLocked(postID, func(p *Post) {
					p.Content = prev.Content
					p.IsEdited = prev.IsEdited
					p.UpdatedAt = prev.UpdatedAt
				})
			})
		},
	}.run(ctx, f.opts.logger)
	if err != nil {
		return nil, err
	}

	var out Post
	f.update(gen, func() {
		f.withPostLocked(postID, func(p *Post) {
			p.Content = updated.Content
			p.IsEdited = updated.IsEdited
			p.UpdatedAt = updated.UpdatedAt
			out = p.clone()
		})
	})
	return &out, nil
}

// DeletePost hides the post at once and soft-deletes it on the backend. If
// the backend refuses, the post goes back where it was.
func (f *FeedStore) DeletePost(ctx context.Context, postID string) error {
	f.mu.Lock()
	userID, gen := f.userID, f.generation
	index := f.indexOfLocked(postID)
	if index < 0 {
		f.mu.Unlock()
		return ErrNotInFeed
	}
	removed := f.posts[index].clone()
	f.mu.Unlock()
	if userID == "" {
		return ErrNotAuthenticated
	}
	if removed.Pending {
		return ErrPending
	}

	err := command{
		name: "delete post",
		apply: func() {
			f.update(gen, func() { f.removePostLocked(postID) })
		},
		commit: func(ctx context.Context) error {
			return f.data.SoftDeletePost(ctx, postID, userID)
		},
		revert: func() {
			f.update(gen, func() {
				if f.indexOfLocked(postID) >= 0 {
					return
				}
				at := min(index, len(f.posts))
				f.posts = append(f.posts[:at], append([]Post{removed}, f.posts[at:]...)...)
			})
		},
	}.run(ctx, f.opts.logger)
	if err != nil {
		return err
	}
	f.update(gen, func() {
		if f.offset > 0 {
			f.offset--
		}
	})
	return nil
}

// AddComment appends a comment or reply to the post. A reply to a reply is
// attached to the top-level comment.
func (f *FeedStore) AddComment(ctx context.Context, postID string, in CreateCommentInput) (*Comment, error) {
	if strings.TrimSpace(in.Content) == "" && (in.GifURL == nil || *in.GifURL == "") {
		return nil, ErrEmptyComment
	}

	f.mu.Lock()
	userID, gen := f.userID, f.generation
	i := f.indexOfLocked(postID)
	if i < 0 {
		f.mu.Unlock()
		return nil, ErrNotInFeed
	}
	post := f.posts[i]
	f.mu.Unlock()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if post.Pending {
		return nil, ErrPending
	}

	if in.ParentID != nil {
		parent, ok := lo.Find(post.Comments, func(c Comment) bool { return c.ID == *in.ParentID })
		if !ok {
			return nil, ErrNotInFeed
		}
		if parent.Pending {
			return nil, ErrPending
		}
		if parent.ParentID != nil {
			in.ParentID = parent.ParentID
		}
	}
	in.PostID = postID
	in.AuthorID = userID

	now := f.now()
	temp := Comment{
		ID:        tempID(),
		PostID:    postID,
		ParentID:  in.ParentID,
		AuthorID:  userID,
		Content:   in.Content,
		GifID:     in.GifID,
		GifURL:    in.GifURL,
		CreatedAt: now,
		UpdatedAt: now,
		Pending:   true,
	}

	var created *Comment
	err := command{
		name: "add comment",
		apply: func() {
			f.update(gen, func() {
				f.withPostLocked(postID, func(p *Post) { p.Comments = append(p.Comments, temp) })
			})
		},
		commit: func(ctx context.Context) (err error) {
			created, err = f.data.CreateComment(ctx, in)
			return err
		},
		revert: func() {
			f.update(gen, func() {
				f.withPostLocked(postID, func(p *Post) { p.Comments = withoutComment(p.Comments, temp.ID) })
			})
		},
	}.run(ctx, f.opts.logger)
	if err != nil {
		return nil, err
	}

	confirmed := *created
	f.update(gen, func() {
		f.withPostLocked(postID, func(p *Post) {
			for i := range p.Comments {
				if p.Comments[i].ID == temp.ID {
					p.Comments[i] = confirmed
					return
				}
			}
			p.Comments = append(p.Comments, confirmed)
		})
	})
	return &confirmed, nil
}

// EditComment changes a comment's text, restoring it if the backend refuses.
func (f *FeedStore) EditComment(ctx context.Context, postID, commentID, content string) (*Comment, error) {
	prev, userID, gen, err := f.lookupComment(postID, commentID)
	if err != nil {
		return nil, err
	}

	setComment := func(fn func(c *Comment)) {
		f.update(gen, func() {
			f.withPostLocked(postID, func(p *Post) {
				for i := range p.Comments {
					if p.Comments[i].ID == commentID {
						fn(&p.Comments[i])
						return
					}
				}
			})
		})
	}

	var updated *Comment
	err = command{
		name: "edit comment",
		apply: func() {
			setComment(func(c *Comment) {
				c.Content = content
				c.IsEdited = true
				c.UpdatedAt = f.now()
			})
		},
		commit: func(ctx context.Context) (err error) {
			updated, err = f.data.UpdateComment(ctx, commentID, userID, content)
			return err
		},
		revert: func() {
			setComment(func(c *Comment) {
				c.Content = prev.Content
				c.IsEdited = prev.IsEdited
				c.UpdatedAt = prev.UpdatedAt
			})
		},
	}.run(ctx, f.opts.logger)
	if err != nil {
		return nil, err
	}

	setComment(func(c *Comment) {
		c.Content = updated.Content
		c.IsEdited = updated.IsEdited
		c.UpdatedAt = updated.UpdatedAt
	})
	out := *updated
	return &out, nil
}

// DeleteComment removes a comment and its replies, restoring them if the
// backend refuses.
func (f *FeedStore) DeleteComment(ctx context.Context, postID, commentID string) error {
	_, userID, gen, err := f.lookupComment(postID, commentID)
	if err != nil {
		return err
	}

	var before []Comment
	return command{
		name: "delete comment",
		apply: func() {
			f.update(gen, func() {
				f.withPostLocked(postID, func(p *Post) {
					before = append([]Comment(nil), p.Comments...)
					p.Comments = withoutComment(p.Comments, commentID)
				})
			})
		},
		commit: func(ctx context.Context) error {
			return f.data.DeleteComment(ctx, commentID, userID)
		},
		revert: func() {
			f.update(gen, func() {
				f.withPostLocked(postID, func(p *Post) {
					known := lo.SliceToMap(before, func(c Comment) (string, struct{}) { return c.ID, struct{}{} })
					added := lo.Reject(p.Comments, func(c Comment, _ int) bool {
						_, ok := known[c.ID]
						return ok
					})
					p.Comments = append(before, added...)
				})
			})
		},
	}.run(ctx, f.opts.logger)
}

func (f *FeedStore) lookupComment(postID, commentID string) (Comment, string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userID == "" {
		return Comment{}, "", 0, ErrNotAuthenticated
	}
	i := f.indexOfLocked(postID)
	if i < 0 {
		return Comment{}, "", 0, ErrNotInFeed
	}
	c, ok := lo.Find(f.posts[i].Comments, func(c Comment) bool { return c.ID == commentID })
	if !ok {
		return Comment{}, "", 0, ErrNotInFeed
	}
	if c.Pending {
		return Comment{}, "", 0, ErrPending
	}
	return c, f.userID, f.generation, nil
}

// ToggleReaction removes the current user's reaction if it already has this
// type and sets it otherwise. It returns the reaction left in place, or nil
// when toggled off.
func (f *FeedStore) ToggleReaction(ctx context.Context, postID string, kind ReactionType) (*Reaction, error) {
	if !kind.Valid() {
		return nil, ErrInvalidReaction
	}

	f.mu.Lock()
	userID, gen := f.userID, f.generation
	i := f.indexOfLocked(postID)
	if i < 0 {
		f.mu.Unlock()
		return nil, ErrNotInFeed
	}
	post := f.posts[i]
	f.mu.Unlock()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if post.Pending {
		return nil, ErrPending
	}

	previous, hadPrevious := post.ReactionBy(userID)
	setMine := func(r *Reaction) {
		f.update(gen, func() {
			f.withPostLocked(postID, func(p *Post) {
				p.Reactions = lo.Reject(p.Reactions, func(x Reaction, _ int) bool { return x.UserID == userID })
				if r != nil {
					p.Reactions = append(p.Reactions, *r)
				}
			})
		})
	}
	restore := func() {
		if hadPrevious {
			setMine(&previous)
		} else {
			setMine(nil)
		}
	}

	if hadPrevious && previous.Type == kind {
		err := command{
			name:  "remove reaction",
			apply: func() { setMine(nil) },
			commit: func(ctx context.Context) error {
				return f.data.DeleteReaction(ctx, postID, userID)
			},
			revert: restore,
		}.run(ctx, f.opts.logger)
		return nil, err
	}

	optimistic := Reaction{ID: tempID(), PostID: postID, UserID: userID, Type: kind, CreatedAt: f.now()}
	var saved *Reaction
	err := command{
		name:  "set reaction",
		apply: func() { setMine(&optimistic) },
		commit: func(ctx context.Context) (err error) {
			saved, err = f.data.UpsertReaction(ctx, postID, userID, kind)
			return err
		},
		revert: restore,
	}.run(ctx, f.opts.logger)
	if err != nil {
		return nil, err
	}
	setMine(saved)
	out := *saved
	return &out, nil
}

// handleInsert merges a post someone else just published. The current
// user's own posts already arrived through CreatePost.
func (f *FeedStore) handleInsert(ev ChangeEvent) {
	var row struct {
		ID       string `json:"id"`
		AuthorID string `json:"author_id"`
	}
	if err := json.Unmarshal(ev.Record, &row); err != nil || row.ID == "" {
		f.opts.logger.Warn("ignoring malformed post event", slog.String("table", ev.Table))
		return
	}

	f.mu.Lock()
	if f.closed || f.userID == "" || row.AuthorID == f.userID || f.indexOfLocked(row.ID) >= 0 {
		f.mu.Unlock()
		return
	}
	gen, ctx := f.generation, f.ctx
	f.mu.Unlock()

	post, err := f.data.GetPost(ctx, row.ID)
	if err != nil {
		f.opts.logger.Warn("fetching realtime post failed",
			slog.String("post_id", row.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if post.AuthorID == "" {
		post.AuthorID = row.AuthorID
	}

	f.update(gen, func() {
		if post.AuthorID == f.userID || f.indexOfLocked(post.ID) >= 0 {
			return
		}
		f.posts = append([]Post{normalizePost(*post)}, f.posts...)
		f.offset++
	})
}

// Reset empties the feed and drops the realtime subscription. Results of
// requests still in flight are discarded.
func (f *FeedStore) Reset() {
	f.mu.Lock()
	sub := f.resetLocked()
	f.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	f.notify()
}

// Close resets the feed and rejects further use.
func (f *FeedStore) Close() {
	f.mu.Lock()
	f.closed = true
	sub := f.resetLocked()
	stopLost := f.stopLost
	f.stopLost = nil
	f.mu.Unlock()

	if stopLost != nil {
		stopLost()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
}

// handleLost forgets a realtime subscription that ended underneath the feed.
// Start for the same user subscribes again.
func (f *FeedStore) handleLost(cause error) {
	f.mu.Lock()
	if f.closed || f.sub == nil {
		f.mu.Unlock()
		return
	}
	f.sub = nil
	userID := f.userID
	f.mu.Unlock()

	f.opts.logger.Warn("realtime feed lost, new posts will not be merged",
		slog.String("user_id", userID),
		slog.String("error", cause.Error()),
	)
	f.notify()
}

func (f *FeedStore) resetLocked() Subscription {
	f.generation++
	f.userID = ""
	f.posts = nil
	f.offset = 0
	f.hasMore = true
	f.cancel()
	f.ctx, f.cancel = context.WithCancel(context.Background())
	sub := f.sub
	f.sub = nil
	return sub
}

// Snapshot returns a deep copy of the feed.
func (f *FeedStore) Snapshot() FeedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Subscribe registers fn for every feed change.
func (f *FeedStore) Subscribe(fn func(FeedSnapshot)) (unsubscribe func()) {
	return f.listeners.add(fn)
}

func (f *FeedStore) notify() {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	f.listeners.emit(f.Snapshot())
}

// update runs fn under the lock unless the feed was reset since gen, then
// notifies subscribers.
func (f *FeedStore) update(gen uint64, fn func()) {
	f.mu.Lock()
	if f.closed || gen != f.generation {
		f.mu.Unlock()
		return
	}
	fn()
	f.mu.Unlock()

	f.notify()
}

func (f *FeedStore) snapshotLocked() FeedSnapshot {
	return FeedSnapshot{
		Posts:   lo.Map(f.posts, func(p Post, _ int) Post { return p.clone() }),
		HasMore: f.hasMore,
		Live:    f.sub != nil,
	}
}

func (f *FeedStore) indexOfLocked(id string) int {
	_, i, ok := lo.FindIndexOf(f.posts, func(p Post) bool { return p.ID == id })
	if !ok {
		return -1
	}
	return i
}

func (f *FeedStore) withPostLocked(id string, fn func(p *Post)) {
	if i := f.indexOfLocked(id); i >= 0 {
		p := f.posts[i].clone()
		fn(&p)
		f.posts[i] = p
	}
}

func (f *FeedStore) removePostLocked(id string) {
	f.posts = lo.Reject(f.posts, func(p Post, _ int) bool { return p.ID == id })
}

// withoutComment drops the comment and its replies.
func withoutComment(comments []Comment, id string) []Comment {
	return lo.Reject(comments, func(c Comment, _ int) bool {
		return c.ID == id || (c.ParentID != nil && *c.ParentID == id)
	})
}

func normalizePost(p Post) Post {
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
	if p.Reactions == nil {
		p.Reactions = []Reaction{}
	}
	return p.clone()
}

func normalizePosts(posts []Post) []Post {
	return lo.Map(posts, func(p Post, _ int) Post { return normalizePost(p) })
}
