// Package seed provisions and removes demo accounts and content for
// development environments.
package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"workplace/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

const (
	// DefaultDomain is the email domain every demo account is created under.
	DefaultDomain = "demo.workplace.local"
	// DemoPassword is shared by all demo accounts.
	DemoPassword = "Password123!"
)

var departments = []string{
	"Engineering", "Product", "Design", "Sales", "Marketing",
	"People", "Finance", "Legal", "Support", "Operations",
}

// Factory builds demo entities. It does not touch the database.
type Factory struct {
	faker  *gofakeit.Faker
	rng    *rand.Rand
	domain string
	hash   string
	now    time.Time
}

// NewFactory returns a factory whose output is reproducible for a given seed.
// The password hash is computed once since bcrypt dominates seeding time.
func NewFactory(seed int64, domain string) (*Factory, error) {
	if domain == "" {
		domain = DefaultDomain
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash demo password: %w", err)
	}
	return &Factory{
		faker:  gofakeit.New(seed),
		rng:    rand.New(rand.NewSource(seed)),
		domain: domain,
		hash:   string(hash),
		now:    time.Now(),
	}, nil
}

// Account builds a confirmed account and its profile for handle. An empty
// handle derives one from a generated name.
func (f *Factory) Account(handle, name string) (*models.Account, *models.Profile) {
	if name == "" {
		name = f.faker.Name()
	}
	if handle == "" {
		handle = strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "." + f.faker.DigitN(4)
	}
	email := handle + "@" + f.domain
	confirmed := f.now

	account := &models.Account{
		ID:               uuid.New(),
		Email:            email,
		PasswordHash:     f.hash,
		EmailConfirmedAt: &confirmed,
	}
	profile := models.NewProfile(account.ID, email, name, nil)
	avatar := fmt.Sprintf("https://i.pravatar.cc/150?u=%s", account.ID)
	profile.Avatar = &avatar
	return account, profile
}

// Decorate fills the optional directory fields of a generated profile.
func (f *Factory) Decorate(p *models.Profile) {
	role := f.faker.JobTitle()
	dept := departments[f.rng.Intn(len(departments))]
	bio := f.faker.Sentence(12)
	location := f.faker.City()
	phone := f.faker.Phone()
	p.Role = &role
	p.Department = &dept
	p.Bio = &bio
	p.Location = &location
	p.Phone = &phone
	p.Settings = datatypes.JSON(fmt.Sprintf(`{"theme":%q,"notifications":{"email":%t}}`,
		f.faker.RandomString([]string{"light", "dark", "system"}), f.faker.Bool()))
}

// Post builds a post authored by author with a creation time in the last
// maxDays days.
func (f *Factory) Post(author uuid.UUID, maxDays int) *models.Post {
	if maxDays <= 0 {
		maxDays = 30
	}
	post := &models.Post{
		ID:       uuid.New(),
		AuthorID: author,
		Content:  f.faker.Paragraph(1, f.rng.Intn(3)+1, 12, " "),
	}
	back := time.Duration(f.rng.Intn(maxDays*24*60)) * time.Minute
	post.CreatedAt = f.now.Add(-back)
	post.UpdatedAt = post.CreatedAt

	if f.rng.Intn(4) == 0 {
		post.MediaURLs = datatypes.JSONSlice[string]{
			fmt.Sprintf("https://picsum.photos/seed/%s/800/600", post.ID),
		}
	}
	return post
}

// Comment builds a comment on post, after the post was created.
func (f *Factory) Comment(post *models.Post, author uuid.UUID, parent *uuid.UUID) *models.Comment {
	c := &models.Comment{
		ID:       uuid.New(),
		PostID:   post.ID,
		ParentID: parent,
		AuthorID: author,
		Content:  f.faker.Sentence(f.rng.Intn(10) + 3),
	}
	c.CreatedAt = post.CreatedAt.Add(time.Duration(f.rng.Intn(48*60)+1) * time.Minute)
	c.UpdatedAt = c.CreatedAt
	return c
}

// ReactionType picks a reaction kind.
func (f *Factory) ReactionType() models.ReactionType {
	return models.ReactionTypes[f.rng.Intn(len(models.ReactionTypes))]
}

// Intn exposes the factory's deterministic source to the seeder.
func (f *Factory) Intn(n int) int {
	return f.rng.Intn(n)
}
