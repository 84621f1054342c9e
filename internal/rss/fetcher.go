// Package rss reads the blog's public feed to list what has been posted.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/singleflight"

	"github.com/bryan-buckman/roadtrip/internal/logging"
	"github.com/bryan-buckman/roadtrip/internal/model"
)

const (
	// DefaultCacheTTL is how long a fetched feed is served before refetching.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultLimit is the number of posts returned when the caller asks for none.
	DefaultLimit = 10
)

// FeedURL returns the public RSS address of a Tumblr blog.
func FeedURL(blog string) string {
	return "https://" + blog + ".tumblr.com/rss"
}

// Reader fetches and caches the blog feed.
type Reader struct {
	feedURL string
	parser  *gofeed.Parser
	ttl     time.Duration
	logger  logging.Logger
	now     func() time.Time
	group   singleflight.Group

	mu        sync.Mutex
	cached    []model.PublishedPost
	fetchedAt time.Time
}

// NewReader creates a reader for feedURL. A nil client uses http.DefaultClient.
func NewReader(feedURL string, client *http.Client, logger logging.Logger) *Reader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "roadtrip-bot/1.0"
	return &Reader{
		feedURL: feedURL,
		parser:  parser,
		ttl:     DefaultCacheTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// SetTTL changes the cache lifetime. Zero disables caching.
func (r *Reader) SetTTL(ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttl = ttl
}

// Recent returns up to limit published posts, newest first. When a refresh
// fails but an older copy is cached, the older copy is served.
func (r *Reader) Recent(ctx context.Context, limit int) ([]model.PublishedPost, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	r.mu.Lock()
	fresh := r.cached != nil && r.now().Sub(r.fetchedAt) < r.ttl
	cached := r.cached
	r.mu.Unlock()
	if fresh {
		return head(cached, limit), nil
	}

	v, err, _ := r.group.Do(r.feedURL, func() (any, error) {
		return r.fetch(ctx)
	})
	if err != nil {
		if cached != nil {
			r.logger.WithError(err).WithField("feed", r.feedURL).Warn("feed refresh failed, serving cached copy")
			return head(cached, limit), nil
		}
		return nil, err
	}
	return head(v.([]model.PublishedPost), limit), nil
}

func (r *Reader) fetch(ctx context.Context) ([]model.PublishedPost, error) {
	parsed, err := r.parser.ParseURLWithContext(r.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", r.feedURL, err)
	}

	now := r.now()
	posts := make([]model.PublishedPost, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Link == "" {
			continue
		}
		published := now
		switch {
		case item.PublishedParsed != nil:
			published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			published = *item.UpdatedParsed
		}
		title := item.Title
		if title == "" {
			title = item.Link
		}
		posts = append(posts, model.PublishedPost{Title: title, Link: item.Link, PublishedAt: published})
	}
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].PublishedAt.After(posts[j].PublishedAt) })

	r.mu.Lock()
	r.cached = posts
	r.fetchedAt = now
	r.mu.Unlock()

	r.logger.WithFields(logging.Fields{"feed": r.feedURL, "items": len(posts)}).Debug("feed refreshed")
	return posts, nil
}

func head(posts []model.PublishedPost, n int) []model.PublishedPost {
	if len(posts) > n {
		posts = posts[:n]
	}
	return append([]model.PublishedPost(nil), posts...)
}
