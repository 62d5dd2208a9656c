package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// Item is the part of a feed entry the automation layer tracks.
type Item struct {
	GUID      string
	Title     string
	Link      string
	Published time.Time
}

// Key identifies an item across polls.
func (i *Item) Key() string {
	switch {
	case i.GUID != "":
		return i.GUID
	case i.Link != "":
		return i.Link
	default:
		return i.Title
	}
}

// ErrFeedUnavailable wraps fetch failures that should be retried.
var ErrFeedUnavailable = errors.New("feed unavailable")

type Reader struct {
	parser *gofeed.Parser
}

func NewReader(timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	return &Reader{parser: parser}
}

// Latest returns the newest item of the feed, or nil for an empty feed.
func (r *Reader) Latest(ctx context.Context, url string) (*Item, error) {
	feed, err := r.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return nil, fmt.Errorf("fetch feed %s: %w", url, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, url, err)
	}
	return newest(feed.Items), nil
}

func newest(items []*gofeed.Item) *Item {
	var latest *Item
	for _, it := range items {
		if it == nil {
			continue
		}
		candidate := toItem(it)
		if latest == nil || candidate.Published.After(latest.Published) {
			latest = candidate
		}
	}
	return latest
}

func toItem(it *gofeed.Item) *Item {
	item := &Item{GUID: it.GUID, Title: it.Title, Link: it.Link}
	switch {
	case it.PublishedParsed != nil:
		item.Published = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		item.Published = *it.UpdatedParsed
	}
	return item
}
