package seed

import (
	_ "embed"
	"fmt"
	"io"

	"workplace/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yml
var defaultFixture []byte

// Fixture is a hand-written demo organisation.
type Fixture struct {
	Domain   string           `yaml:"domain"`
	Accounts []FixtureAccount `yaml:"accounts"`
	Posts    []FixturePost    `yaml:"posts"`
}

type FixtureAccount struct {
	Handle     string `yaml:"handle"`
	Name       string `yaml:"name"`
	Role       string `yaml:"role"`
	Department string `yaml:"department"`
	Location   string `yaml:"location"`
	Bio        string `yaml:"bio"`
	Manager    string `yaml:"manager"`
}

type FixturePost struct {
	Author    string                         `yaml:"author"`
	Content   string                         `yaml:"content"`
	MediaURLs []string                       `yaml:"media_urls"`
	Reactions map[string]models.ReactionType `yaml:"reactions"`
	Comments  []FixtureComment               `yaml:"comments"`
}

type FixtureComment struct {
	Author  string           `yaml:"author"`
	Content string           `yaml:"content"`
	Replies []FixtureComment `yaml:"replies"`
}

// DefaultFixture returns the fixture bundled with the binary.
func DefaultFixture() (*Fixture, error) {
	return parseFixture(defaultFixture)
}

// LoadFixture reads and validates a fixture document.
func LoadFixture(r io.Reader) (*Fixture, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return parseFixture(raw)
}

func parseFixture(raw []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if fx.Domain == "" {
		fx.Domain = DefaultDomain
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Email returns the address an account handle is provisioned under.
func (fx *Fixture) Email(handle string) string {
	return handle + "@" + fx.Domain
}

func (fx *Fixture) validate() error {
	handles := make(map[string]bool, len(fx.Accounts))
	for _, a := range fx.Accounts {
		if a.Handle == "" {
			return fmt.Errorf("fixture: account without handle")
		}
		if handles[a.Handle] {
			return fmt.Errorf("fixture: duplicate handle %q", a.Handle)
		}
		handles[a.Handle] = true
	}
	for _, a := range fx.Accounts {
		if a.Manager != "" && !handles[a.Manager] {
			return fmt.Errorf("fixture: %s reports to unknown manager %q", a.Handle, a.Manager)
		}
		if a.Manager == a.Handle {
			return fmt.Errorf("fixture: %s cannot manage themselves", a.Handle)
		}
	}

	var checkComments func(cs []FixtureComment) error
	checkComments = func(cs []FixtureComment) error {
		for _, c := range cs {
			if !handles[c.Author] {
				return fmt.Errorf("fixture: comment by unknown author %q", c.Author)
			}
			if err := checkComments(c.Replies); err != nil {
				return err
			}
		}
		return nil
	}
	for i, p := range fx.Posts {
		if !handles[p.Author] {
			return fmt.Errorf("fixture: post %d by unknown author %q", i, p.Author)
		}
		for handle, kind := range p.Reactions {
			if !handles[handle] {
				return fmt.Errorf("fixture: reaction by unknown author %q", handle)
			}
			if !kind.Valid() {
				return fmt.Errorf("fixture: unknown reaction type %q", kind)
			}
		}
		if err := checkComments(p.Comments); err != nil {
			return err
		}
	}
	return nil
}
