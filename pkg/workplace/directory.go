package workplace

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Directory caches the colleague list for search and mentions.
type Directory struct {
	data DataStore
	opts options

	mu         sync.Mutex
	profiles   []Profile
	loaded     bool
	generation uint64
}

func NewDirectory(data DataStore, opts ...Option) *Directory {
	return &Directory{data: data, opts: buildOptions(opts)}
}

// Profiles returns the cached list, loading it on first use. A failed load
// yields an empty list and is retried on the next call.
func (d *Directory) Profiles(ctx context.Context) ([]Profile, error) {
	d.mu.Lock()
	if d.loaded {
		out := append([]Profile(nil), d.profiles...)
		d.mu.Unlock()
		return out, nil
	}
	gen := d.generation
	d.mu.Unlock()

	profiles, err := d.data.ListProfiles(ctx)
	if err != nil {
		d.opts.logger.Warn("directory load failed", slog.String("error", err.Error()))
		return []Profile{}, err
	}

	d.mu.Lock()
	if gen == d.generation {
		d.profiles = profiles
		d.loaded = true
	}
	d.mu.Unlock()
	return append([]Profile(nil), profiles...), nil
}

// Search matches query against name, email, role and department, ignoring
// case. An empty query returns everyone.
func (d *Directory) Search(ctx context.Context, query string) ([]Profile, error) {
	profiles, err := d.Profiles(ctx)
	if err != nil {
		return profiles, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return profiles, nil
	}
	return lo.Filter(profiles, func(p Profile, _ int) bool {
		fields := []string{p.Name, p.Email, lo.FromPtr(p.Role), lo.FromPtr(p.Department)}
		return lo.SomeBy(fields, func(f string) bool {
			return strings.Contains(strings.ToLower(f), query)
		})
	}), nil
}

// Reset drops the cached list.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	d.profiles = nil
	d.loaded = false
}
