// Command feedwatch signs in to a Workplace API and prints the feed as
// colleagues post to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"workplace/pkg/workplace"
)

func main() {
	apiURL := flag.String("api", envOr("WORKPLACE_API_URL", "http://localhost:8080"), "Workplace API base URL")
	email := flag.String("email", os.Getenv("WORKPLACE_EMAIL"), "account email")
	backlog := flag.Int("n", 5, "number of recent posts to print on start")
	verbose := flag.Bool("v", false, "log SDK diagnostics to stderr")
	flag.Parse()

	password := os.Getenv("WORKPLACE_PASSWORD")
	if *email == "" || password == "" {
		log.Fatal("feedwatch: set -email (or WORKPLACE_EMAIL) and WORKPLACE_PASSWORD")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, *apiURL, *email, password, *backlog, *verbose); err != nil {
		log.Fatalf("feedwatch: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, out io.Writer, apiURL, email, password string, backlog int, verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, backend, err := workplace.NewHTTPClient(apiURL, workplace.WithLogger(logger))
	if err != nil {
		return err
	}
	defer backend.Close()
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		return err
	}
	session, err := client.Session.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	p := &printer{out: out, self: session.User.ID, seen: make(map[string]bool)}
	first := make(chan struct{})
	var once sync.Once
	unsubscribe := client.Feed.Subscribe(func(snap workplace.FeedSnapshot) {
		if len(snap.Posts) == 0 {
			return
		}
		once.Do(func() {
			p.backlog(snap.Posts, backlog)
			close(first)
		})
		p.fresh(snap.Posts)
	})
	defer unsubscribe()

	stopLost := backend.OnLost(func(err error) {
		p.mu.Lock()
		fmt.Fprintf(out, "(realtime connection lost: %v, resubscribing)\n", err)
		p.mu.Unlock()
		go func() {
			if err := client.Feed.Start(ctx, session.User.ID); err != nil {
				logger.Warn("resubscribe failed", slog.String("error", err.Error()))
			}
		}()
	})
	defer stopLost()

	select {
	case <-first:
	case <-time.After(10 * time.Second):
		fmt.Fprintln(out, "(feed is empty)")
	case <-ctx.Done():
		return nil
	}

	fmt.Fprintf(out, "watching as %s, Ctrl-C to stop\n", email)
	<-ctx.Done()

	return client.Session.SignOut(context.Background())
}

// printer writes each post once, oldest first.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	self string
	seen map[string]bool
}

func (p *printer) backlog(posts []workplace.Post, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(posts) - 1; i >= 0; i-- {
		if i < n {
			p.printLocked(posts[i])
		}
		p.seen[posts[i].ID] = true
	}
}

func (p *printer) fresh(posts []workplace.Post) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(posts) - 1; i >= 0; i-- {
		post := posts[i]
		if post.Pending || p.seen[post.ID] {
			continue
		}
		p.seen[post.ID] = true
		p.printLocked(post)
	}
}

func (p *printer) printLocked(post workplace.Post) {
	author := post.AuthorID
	if post.Author != nil {
		author = post.Author.Name
	}
	if post.AuthorID == p.self {
		author += " (you)"
	}
	counts := post.ReactionCounts()
	var reactions []string
	for _, kind := range workplace.ReactionTypes {
		if n := counts[kind]; n > 0 {
			reactions = append(reactions, fmt.Sprintf("%s %d", kind, n))
		}
	}
	line := fmt.Sprintf("[%s] %s: %s", post.CreatedAt.Local().Format("Jan 2 15:04"), author, post.Content)
	if len(reactions) > 0 {
		line += "  (" + strings.Join(reactions, ", ") + ")"
	}
	if n := len(post.Comments); n > 0 {
		line += fmt.Sprintf("  [%d comments]", n)
	}
	fmt.Fprintln(p.out, line)
}
