// Command seed provisions or removes demo accounts and content.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"workplace/internal/bootstrap"
	"workplace/internal/config"
	"workplace/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 0, "number of generated colleagues to add (0 applies only the fixture)")
	numPosts := flag.Int("posts", 100, "number of generated posts when -users > 0")
	maxDays := flag.Int("days", 30, "spread generated posts over this many days")
	randomSeed := flag.Int64("rand", 1, "seed for generated data")
	fixturePath := flag.String("fixture", "", "YAML fixture to apply instead of the bundled one")
	clean := flag.Bool("clean", false, "remove existing demo data first")
	cleanOnly := flag.Bool("clean-only", false, "remove demo data and exit")
	flag.Parse()

	if err := run(*numUsers, *numPosts, *maxDays, *randomSeed, *fixturePath, *clean, *cleanOnly); err != nil {
		log.Fatalf("seed: %v", err)
	}
}

func loadFixture(path string) (*seed.Fixture, error) {
	if path == "" {
		return seed.DefaultFixture()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return seed.LoadFixture(f)
}

func run(users, posts, maxDays int, randomSeed int64, fixturePath string, clean, cleanOnly bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.IsProduction() {
		return fmt.Errorf("refusing to seed a production environment")
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return err
	}

	fx, err := loadFixture(fixturePath)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}
	s := seed.NewSeeder(rt.DB, fx.Domain)

	if clean || cleanOnly {
		removed, err := s.Clean(ctx)
		if err != nil {
			return fmt.Errorf("clean: %w", err)
		}
		log.Printf("removed %d demo accounts under %s", removed, fx.Domain)
		if cleanOnly {
			return nil
		}
	}

	res, err := s.ApplyFixture(ctx, fx)
	if err != nil {
		return fmt.Errorf("apply fixture: %w", err)
	}
	log.Printf("fixture: %d accounts, %d posts, %d comments, %d reactions", res.Accounts, res.Posts, res.Comments, res.Reactions)

	if users > 0 {
		res, err = s.SeedRandom(ctx, seed.Options{Users: users, Posts: posts, MaxDays: maxDays, RandomSeed: randomSeed})
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		log.Printf("generated: %d accounts, %d posts, %d comments, %d reactions", res.Accounts, res.Posts, res.Comments, res.Reactions)
	}

	log.Printf("all demo accounts use the password %q", seed.DemoPassword)
	return nil
}
