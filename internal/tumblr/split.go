package tumblr

import (
	"slices"

	"github.com/samber/lo"

	"github.com/bryan-buckman/roadtrip/internal/media"
	"github.com/bryan-buckman/roadtrip/internal/model"
)

// MaxImagesPerPost is Tumblr's limit on images in a single post.
const MaxImagesPerPost = 10

// Splitter breaks one content unit into the Tumblr posts needed to publish it.
//
// A unit must be split when any of these hold:
//   - it has more than MaxImages images,
//   - it has images and a video (they cannot share a post),
//   - it has more than one video (one video upload per post).
type Splitter struct {
	Classifier media.Classifier
	MaxImages  int
}

// NewSplitter returns a Splitter with Tumblr's image cap.
func NewSplitter(c media.Classifier) *Splitter {
	if c == nil {
		c = media.DefaultClassifier
	}
	return &Splitter{Classifier: c, MaxImages: MaxImagesPerPost}
}

// Split returns the posts for unit in publishing order: image posts first,
// then one post per video. unit is never modified. Every post keeps the
// unit's map info, tags and flashing flag; only the last one carries the
// comments.
func (s *Splitter) Split(unit model.ContentUnit) []model.SplitPost {
	images, videos := media.Partition(s.Classifier, unit.Media)

	var posts []model.SplitPost
	if len(images) > 0 {
		for _, group := range groupImages(images, s.MaxImages) {
			posts = append(posts, withMedia(unit, group))
		}
	}
	for _, v := range videos {
		posts = append(posts, withMedia(unit, []string{v}))
	}

	if len(posts) == 0 {
		return []model.SplitPost{unit.Clone()}
	}
	return attachComments(posts, unit.Comments)
}

// withMedia clones unit with the given media and no comments.
func withMedia(unit model.ContentUnit, refs []string) model.SplitPost {
	p := unit.Clone()
	p.Media = refs
	p.Comments = nil
	return p
}

// attachComments puts comments on the final post of the sequence.
func attachComments(posts []model.SplitPost, comments []string) []model.SplitPost {
	posts[len(posts)-1].Comments = slices.Clone(comments)
	return posts
}

// groupImages divides images into the fewest near-equal groups of at most
// maxPerPost, preserving order. images must not be empty.
func groupImages(images []string, maxPerPost int) [][]string {
	if len(images) == 0 {
		panic("tumblr: groupImages called with no images")
	}
	if maxPerPost < 1 {
		panic("tumblr: image cap must be positive")
	}
	numPosts := 1
	for ceilDiv(len(images), numPosts) > maxPerPost {
		numPosts++
	}
	perPost := ceilDiv(len(images), numPosts)

	// Chunk never yields an empty trailing group.
	groups := lo.Chunk(images, perPost)
	for i := range groups {
		groups[i] = slices.Clone(groups[i])
	}
	return groups
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
