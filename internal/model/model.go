// Package model defines shared data structures.
package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidContent is returned by Validate for units that cannot be archived.
var ErrInvalidContent = errors.New("invalid content unit")

// MapInfo describes the map a content unit is about.
type MapInfo struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	SourceURL string `json:"url"`
}

// ContentUnit is one logical item to publish: usually the metadata, media,
// tags and comments for a single map. A unit may be split into several
// platform posts at publish time.
type ContentUnit struct {
	MapInfo  *MapInfo `json:"map_info,omitempty"` // nil when the unit has no map
	Media    []string `json:"media"`              // file names relative to the media directory
	Flashing bool     `json:"flashing"`
	Tags     []string `json:"tags"`
	Comments []string `json:"comments"` // one entry per paragraph
}

// SplitPost is one platform-sized piece of a ContentUnit.
type SplitPost = ContentUnit

// Clone returns a deep copy of c.
func (c ContentUnit) Clone() ContentUnit {
	out := ContentUnit{
		Media:    slices.Clone(c.Media),
		Flashing: c.Flashing,
		Tags:     slices.Clone(c.Tags),
		Comments: slices.Clone(c.Comments),
	}
	if c.MapInfo != nil {
		mi := *c.MapInfo
		out.MapInfo = &mi
	}
	return out
}

// Validate checks the invariants a top-level unit must satisfy before it is
// archived: map info is all-or-nothing, and the unit carries map info or at
// least one comment.
func (c ContentUnit) Validate() error {
	if mi := c.MapInfo; mi != nil {
		if mi.Title == "" || mi.Author == "" || mi.SourceURL == "" {
			return fmt.Errorf("%w: map info needs title, author and url", ErrInvalidContent)
		}
	}
	if c.MapInfo == nil && len(c.Comments) == 0 {
		return fmt.Errorf("%w: needs map info or comments", ErrInvalidContent)
	}
	return nil
}

// ArchivedUnit is a ContentUnit as stored in the archive.
type ArchivedUnit struct {
	ID int64 `json:"id"`
	ContentUnit
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"` // nil while queued
}

// Queued reports whether the unit is still waiting to be published.
func (a ArchivedUnit) Queued() bool {
	return a.PublishedAt == nil
}

// User is an account allowed to enqueue posts and control the scheduler.
type User struct {
	Username     string
	PasswordHash string
	AuthCookie   string // empty when logged out
}

// PublishedPost is an entry read back from the blog's public feed.
type PublishedPost struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
}
