package main

import (
	"fmt"
	"html"
	"io"
	"time"

	"github.com/gorilla/feeds"

	"github.com/mlafeldt/xkcd-vk/history"
)

func generateFeed(w io.Writer, records []history.Record, now time.Time) error {
	feed := &feeds.Feed{
		Title:       "xkcd on VK",
		Link:        &feeds.Link{Href: "https://xkcd.com"},
		Description: "Random xkcd comics republished on VK",
		Created:     now,
	}

	for _, r := range records {
		feed.Add(&feeds.Item{
			Title:       fmt.Sprintf("xkcd #%d: %s", r.Num, r.Title),
			Link:        &feeds.Link{Href: r.PostURL()},
			Source:      &feeds.Link{Href: r.StripURL},
			Description: fmt.Sprintf(`<img src="%s" title="%s">`, html.EscapeString(r.ImageURL), html.EscapeString(r.Alt)),
			Id:          r.RunID,
			Created:     r.PostedAt,
		})
	}

	return feed.WriteRss(w)
}
