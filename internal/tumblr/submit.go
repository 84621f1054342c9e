package tumblr

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"io/fs"
	"path"
	"strings"

	"github.com/bryan-buckman/roadtrip/internal/media"
	"github.com/bryan-buckman/roadtrip/internal/model"
)

// SensitivityTag is appended to video posts flagged as flashing.
const SensitivityTag = "flashing lights"

// Submitter turns split posts into Tumblr API calls.
type Submitter struct {
	api        API
	blog       string
	media      fs.FS
	classifier media.Classifier
}

// NewSubmitter returns a Submitter posting to blog, reading media from mediaFS.
func NewSubmitter(api API, blog string, mediaFS fs.FS, c media.Classifier) *Submitter {
	if c == nil {
		c = media.DefaultClassifier
	}
	return &Submitter{api: api, blog: blog, media: mediaFS, classifier: c}
}

// Submit sends one post. Posts carrying a video go through the legacy video
// endpoint; everything else is sent as an NPF post.
func (s *Submitter) Submit(ctx context.Context, post model.SplitPost, blurb string) (*Response, error) {
	if media.ContainsVideo(s.classifier, post.Media) {
		return s.submitVideo(ctx, post, blurb)
	}
	return s.submitStructured(ctx, post, blurb)
}

func (s *Submitter) submitVideo(ctx context.Context, post model.SplitPost, blurb string) (*Response, error) {
	_, videos := media.Partition(s.classifier, post.Media)
	data, err := fs.ReadFile(s.media, videos[0])
	if err != nil {
		return nil, fmt.Errorf("read video %s: %w", videos[0], err)
	}

	var caption strings.Builder
	for _, h := range headings(post.MapInfo, blurb) {
		caption.WriteString("<h2>" + html.EscapeString(h) + "</h2>")
	}
	for _, c := range post.Comments {
		caption.WriteString("<p>" + html.EscapeString(c) + "</p>")
	}

	tags := append([]string(nil), post.Tags...)
	if post.Flashing {
		tags = append(tags, SensitivityTag)
	}

	return s.api.CreateVideoPost(ctx, s.blog, VideoPost{
		Caption: caption.String(),
		Data64:  base64.StdEncoding.EncodeToString(data),
		Tags:    strings.Join(tags, ","),
	})
}

func (s *Submitter) submitStructured(ctx context.Context, post model.SplitPost, blurb string) (*Response, error) {
	var blocks []Block
	for _, h := range headings(post.MapInfo, blurb) {
		blocks = append(blocks, Block{Type: "text", Subtype: "heading2", Text: h})
	}

	attachments := make([]Attachment, 0, len(post.Media))
	for i, ref := range post.Media {
		data, err := fs.ReadFile(s.media, ref)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", ref, err)
		}
		id := fmt.Sprintf("media%d", i)
		blocks = append(blocks, Block{Type: "image", Media: []MediaRef{{Identifier: id}}})
		attachments = append(attachments, Attachment{Identifier: id, Filename: path.Base(ref), Data: data})
	}

	for _, c := range post.Comments {
		blocks = append(blocks, Block{Type: "text", Text: c})
	}

	return s.api.CreateStructuredPost(ctx, s.blog, StructuredPost{
		Payload:     Payload{Tags: strings.Join(post.Tags, ","), Content: blocks},
		Attachments: attachments,
	})
}

// headings returns the heading lines for a post: title prefixed by blurb,
// then author and source URL.
func headings(mi *model.MapInfo, blurb string) []string {
	if mi == nil {
		return nil
	}
	var out []string
	if mi.Title != "" {
		out = append(out, blurb+mi.Title)
	}
	if mi.Author != "" {
		out = append(out, mi.Author)
	}
	if mi.SourceURL != "" {
		out = append(out, mi.SourceURL)
	}
	return out
}
