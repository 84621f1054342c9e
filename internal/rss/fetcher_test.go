package rss

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>x86 roadtrip</title>
  <link>https://x86-roadtrip.tumblr.com/</link>
  <description>maps</description>
  <item>
    <title>stopped at: gm_flatgrass</title>
    <link>https://x86-roadtrip.tumblr.com/post/1</link>
    <pubDate>Mon, 01 Jan 2024 17:00:00 +0000</pubDate>
  </item>
  <item>
    <title>visiting: de_dust</title>
    <link>https://x86-roadtrip.tumblr.com/post/3</link>
    <pubDate>Wed, 03 Jan 2024 17:00:00 +0000</pubDate>
  </item>
  <item>
    <link>https://x86-roadtrip.tumblr.com/post/2</link>
    <pubDate>Tue, 02 Jan 2024 17:00:00 +0000</pubDate>
  </item>
  <item>
    <title>no link</title>
  </item>
</channel>
</rss>`

func TestRecentParsesAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "roadtrip-bot/1.0", r.UserAgent())
		io.WriteString(w, sampleFeed)
	}))
	defer srv.Close()

	r := NewReader(srv.URL, srv.Client(), nil)
	posts, err := r.Recent(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, posts, 3)
	assert.Equal(t, "visiting: de_dust", posts[0].Title)
	assert.Equal(t, "https://x86-roadtrip.tumblr.com/post/2", posts[1].Title, "untitled items fall back to their link")
	assert.Equal(t, "stopped at: gm_flatgrass", posts[2].Title)
	assert.Equal(t, time.Date(2024, 1, 3, 17, 0, 0, 0, time.UTC), posts[0].PublishedAt.UTC())

	limited, err := r.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecentCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, sampleFeed)
	}))
	defer srv.Close()

	now := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	r := NewReader(srv.URL, srv.Client(), nil)
	r.now = func() time.Time { return now }

	for range 3 {
		_, err := r.Recent(context.Background(), 5)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(DefaultCacheTTL)
	_, err := r.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRecentServesStaleOnError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		io.WriteString(w, sampleFeed)
	}))
	defer srv.Close()

	r := NewReader(srv.URL, srv.Client(), nil)
	r.SetTTL(0)
	_, err := r.Recent(context.Background(), 5)
	require.NoError(t, err)

	fail.Store(true)
	posts, err := r.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, posts, 3)
}

func TestRecentErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not a feed")
	}))
	defer srv.Close()

	_, err := NewReader(srv.URL, srv.Client(), nil).Recent(context.Background(), 5)
	assert.Error(t, err)
}

func TestFeedURL(t *testing.T) {
	assert.Equal(t, "https://x86-roadtrip.tumblr.com/rss", FeedURL("x86-roadtrip"))
}
