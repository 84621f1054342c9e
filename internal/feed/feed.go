// Package feed renders the archive as an RSS document.
package feed

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/jlelse/feeds"

	"github.com/bryan-buckman/roadtrip/internal/media"
	"github.com/bryan-buckman/roadtrip/internal/model"
)

// Options describes the channel.
type Options struct {
	Title       string
	Description string
	SiteURL     string // public address of the server, without trailing slash
}

// Export renders units as RSS 2.0, in the order given.
func Export(units []model.ArchivedUnit, opts Options) (string, error) {
	site := strings.TrimRight(opts.SiteURL, "/")
	f := &feeds.Feed{
		Title:       opts.Title,
		Description: opts.Description,
		Link:        &feeds.Link{Href: site + "/"},
		Created:     time.Now(),
	}
	for _, u := range units {
		link := fmt.Sprintf("%s/api/posts/%d", site, u.ID)
		item := &feeds.Item{
			Title:       itemTitle(u),
			Link:        &feeds.Link{Href: link},
			Id:          link,
			Description: strings.Join(u.Comments, "\n\n"),
			Content:     itemContent(u, site),
			Created:     u.CreatedAt,
		}
		if u.PublishedAt != nil {
			item.Updated = *u.PublishedAt
		}
		f.Add(item)
	}
	return f.ToRss()
}

func itemTitle(u model.ArchivedUnit) string {
	if u.MapInfo != nil && u.MapInfo.Title != "" {
		return u.MapInfo.Title
	}
	if len(u.Comments) > 0 {
		first := u.Comments[0]
		if r := []rune(first); len(r) > 60 {
			return string(r[:60]) + "…"
		}
		return first
	}
	return fmt.Sprintf("Post #%d", u.ID)
}

func itemContent(u model.ArchivedUnit, site string) string {
	var b strings.Builder
	if mi := u.MapInfo; mi != nil {
		fmt.Fprintf(&b, "<h2>%s</h2><p>by %s</p><p><a href=\"%s\">%s</a></p>",
			html.EscapeString(mi.Title), html.EscapeString(mi.Author),
			html.EscapeString(mi.SourceURL), html.EscapeString(mi.SourceURL))
	}
	for _, ref := range u.Media {
		src := site + "/media/" + url.PathEscape(ref)
		if media.DefaultClassifier.Classify(ref) == media.Video {
			fmt.Fprintf(&b, "<video controls src=\"%s\"></video>", html.EscapeString(src))
			continue
		}
		fmt.Fprintf(&b, "<img src=\"%s\">", html.EscapeString(src))
	}
	for _, c := range u.Comments {
		b.WriteString("<p>" + html.EscapeString(c) + "</p>")
	}
	if len(u.Tags) > 0 {
		b.WriteString("<p>#" + html.EscapeString(strings.Join(u.Tags, " #")) + "</p>")
	}
	return b.String()
}
