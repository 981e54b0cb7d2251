package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"workplace/internal/middleware"
	"workplace/internal/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Options controls random seeding.
type Options struct {
	Users      int
	Posts      int
	MaxDays    int
	RandomSeed int64
}

// Result summarises what a seeding run created.
type Result struct {
	Accounts  int
	Posts     int
	Comments  int
	Reactions int
}

// Seeder writes demo data through gorm.
type Seeder struct {
	db     *gorm.DB
	domain string
}

// NewSeeder binds a seeder to db. Accounts are provisioned under domain.
func NewSeeder(db *gorm.DB, domain string) *Seeder {
	if domain == "" {
		domain = DefaultDomain
	}
	return &Seeder{db: db, domain: domain}
}

func (s *Seeder) demoAccountIDs(tx *gorm.DB) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.Model(&models.Account{}).
		Where("email LIKE ?", "%@"+s.domain).
		Pluck("id", &ids).Error
	return ids, err
}

// Clean hard-deletes every demo account and everything it authored, plus
// anything other users left on demo posts. Real accounts are untouched.
func (s *Seeder) Clean(ctx context.Context) (removed int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := s.demoAccountIDs(tx)
		if err != nil {
			return fmt.Errorf("find demo accounts: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		removed = len(ids)

		var postIDs []uuid.UUID
		if err := tx.Unscoped().Model(&models.Post{}).Where("author_id IN ?", ids).Pluck("id", &postIDs).Error; err != nil {
			return err
		}

		steps := []struct {
			model interface{}
			query string
			args  []interface{}
		}{
			{&models.Reaction{}, "user_id IN ? OR post_id IN ?", []interface{}{ids, postIDs}},
			{&models.Comment{}, "author_id IN ? OR post_id IN ?", []interface{}{ids, postIDs}},
			{&models.Post{}, "id IN ?", []interface{}{postIDs}},
			{&models.Profile{}, "id IN ?", []interface{}{ids}},
			{&models.Account{}, "id IN ?", []interface{}{ids}},
		}
		// Clear manager links pointing at demo profiles first.
		if err := tx.Model(&models.Profile{}).Where("manager_id IN ?", ids).Update("manager_id", nil).Error; err != nil {
			return err
		}
		for _, step := range steps {
			if err := tx.Unscoped().Where(step.query, step.args...).Delete(step.model).Error; err != nil {
				return fmt.Errorf("delete %T: %w", step.model, err)
			}
		}
		return nil
	})
	if err == nil {
		middleware.Logger.InfoContext(ctx, "demo data removed", slog.Int("accounts", removed), slog.String("domain", s.domain))
	}
	return removed, err
}

// ApplyFixture creates the accounts, org chart and posts described by fx.
// Accounts that already exist are reused, so applying twice only adds content.
func (s *Seeder) ApplyFixture(ctx context.Context, fx *Fixture) (Result, error) {
	var res Result
	f, err := NewFactory(1, fx.Domain)
	if err != nil {
		return res, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		byHandle := make(map[string]uuid.UUID, len(fx.Accounts))
		for _, a := range fx.Accounts {
			var existing models.Account
			err := tx.Where("email = ?", fx.Email(a.Handle)).Limit(1).Find(&existing).Error
			if err != nil {
				return err
			}
			if existing.ID != uuid.Nil {
				byHandle[a.Handle] = existing.ID
				continue
			}

			account, profile := f.Account(a.Handle, a.Name)
			applyFixtureProfile(profile, a)
			if err := tx.Create(account).Error; err != nil {
				return fmt.Errorf("create account %s: %w", a.Handle, err)
			}
			if err := tx.Create(profile).Error; err != nil {
				return fmt.Errorf("create profile %s: %w", a.Handle, err)
			}
			byHandle[a.Handle] = account.ID
			res.Accounts++
		}

		for _, a := range fx.Accounts {
			if a.Manager == "" {
				continue
			}
			if err := tx.Model(&models.Profile{}).
				Where("id = ?", byHandle[a.Handle]).
				Update("manager_id", byHandle[a.Manager]).Error; err != nil {
				return err
			}
		}

		for _, p := range fx.Posts {
			post := &models.Post{AuthorID: byHandle[p.Author], Content: p.Content, MediaURLs: p.MediaURLs}
			if err := tx.Create(post).Error; err != nil {
				return fmt.Errorf("create post: %w", err)
			}
			res.Posts++

			for handle, kind := range p.Reactions {
				if err := tx.Create(&models.Reaction{PostID: post.ID, UserID: byHandle[handle], Type: kind}).Error; err != nil {
					return fmt.Errorf("create reaction: %w", err)
				}
				res.Reactions++
			}

			for _, c := range p.Comments {
				n, err := createFixtureComment(tx, post.ID, nil, c, byHandle)
				if err != nil {
					return err
				}
				res.Comments += n
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	middleware.Logger.InfoContext(ctx, "fixture applied",
		slog.Int("accounts", res.Accounts),
		slog.Int("posts", res.Posts),
		slog.Int("comments", res.Comments),
		slog.Int("reactions", res.Reactions),
	)
	return res, nil
}

func applyFixtureProfile(p *models.Profile, a FixtureAccount) {
	set := func(dst **string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = &v
		}
	}
	set(&p.Role, a.Role)
	set(&p.Department, a.Department)
	set(&p.Location, a.Location)
	set(&p.Bio, a.Bio)
}

// createFixtureComment stores c and its replies. Replies are attached to the
// top-level comment, matching how the API nests them.
func createFixtureComment(tx *gorm.DB, postID uuid.UUID, parent *uuid.UUID, c FixtureComment, byHandle map[string]uuid.UUID) (int, error) {
	comment := &models.Comment{PostID: postID, ParentID: parent, AuthorID: byHandle[c.Author], Content: c.Content}
	if err := tx.Create(comment).Error; err != nil {
		return 0, fmt.Errorf("create comment: %w", err)
	}
	created := 1

	replyParent := parent
	if replyParent == nil {
		replyParent = &comment.ID
	}
	for _, r := range c.Replies {
		n, err := createFixtureComment(tx, postID, replyParent, r, byHandle)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// SeedRandom creates opts.Users generated colleagues and opts.Posts posts with
// comments and reactions spread across them.
func (s *Seeder) SeedRandom(ctx context.Context, opts Options) (Result, error) {
	var res Result
	if opts.Users <= 0 {
		return res, fmt.Errorf("seed: at least one user is required")
	}
	f, err := NewFactory(opts.RandomSeed, s.domain)
	if err != nil {
		return res, err
	}

	accounts := make([]*models.Account, 0, opts.Users)
	profiles := make([]*models.Profile, 0, opts.Users)
	for i := 0; i < opts.Users; i++ {
		account, profile := f.Account("", "")
		f.Decorate(profile)
		accounts = append(accounts, account)
		profiles = append(profiles, profile)
	}
	// A flat org chart: everyone after the first few reports to one of them.
	leads := lo.Max([]int{1, opts.Users / 8})
	for i := leads; i < len(profiles); i++ {
		manager := profiles[f.Intn(leads)].ID
		profiles[i].ManagerID = &manager
	}
	userIDs := lo.Map(profiles, func(p *models.Profile, _ int) uuid.UUID { return p.ID })

	posts := make([]*models.Post, 0, opts.Posts)
	var comments []*models.Comment
	var reactions []*models.Reaction
	for i := 0; i < opts.Posts; i++ {
		post := f.Post(userIDs[f.Intn(len(userIDs))], opts.MaxDays)
		posts = append(posts, post)

		var roots []uuid.UUID
		for n := f.Intn(4); n > 0; n-- {
			var parent *uuid.UUID
			if len(roots) > 0 && f.Intn(3) == 0 {
				parent = &roots[f.Intn(len(roots))]
			}
			c := f.Comment(post, userIDs[f.Intn(len(userIDs))], parent)
			if parent == nil {
				roots = append(roots, c.ID)
			}
			comments = append(comments, c)
		}

		reactors := lo.Samples(userIDs, f.Intn(lo.Min([]int{len(userIDs), 6})+1))
		for _, uid := range reactors {
			reactions = append(reactions, &models.Reaction{PostID: post.ID, UserID: uid, Type: f.ReactionType()})
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(accounts, 100).Error; err != nil {
			return fmt.Errorf("create accounts: %w", err)
		}
		if err := tx.CreateInBatches(profiles, 100).Error; err != nil {
			return fmt.Errorf("create profiles: %w", err)
		}
		if len(posts) > 0 {
			if err := tx.CreateInBatches(posts, 100).Error; err != nil {
				return fmt.Errorf("create posts: %w", err)
			}
		}
		if len(comments) > 0 {
			if err := tx.CreateInBatches(comments, 100).Error; err != nil {
				return fmt.Errorf("create comments: %w", err)
			}
		}
		if len(reactions) > 0 {
			if err := tx.CreateInBatches(reactions, 100).Error; err != nil {
				return fmt.Errorf("create reactions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res = Result{Accounts: len(accounts), Posts: len(posts), Comments: len(comments), Reactions: len(reactions)}
	middleware.Logger.InfoContext(ctx, "random demo data created",
		slog.Int("accounts", res.Accounts),
		slog.Int("posts", res.Posts),
		slog.Int("comments", res.Comments),
		slog.Int("reactions", res.Reactions),
	)
	return res, nil
}
