// Package history records which comics were republished and where.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Record describes one republished comic.
type Record struct {
	RunID    string    `json:"run_id"`
	Num      int       `json:"num"`
	Title    string    `json:"title"`
	ImageURL string    `json:"image_url"`
	Alt      string    `json:"alt"`
	StripURL string    `json:"strip_url"`
	GroupID  string    `json:"group_id"`
	OwnerID  int       `json:"owner_id"`
	PhotoID  int       `json:"photo_id"`
	PostID   int       `json:"post_id"`
	PostedAt time.Time `json:"posted_at"`
}

// PostURL links to the wall post, or to the community wall when the post id
// is unknown.
func (r *Record) PostURL() string {
	if r.PostID == 0 {
		return fmt.Sprintf("https://vk.com/club%s", r.GroupID)
	}
	return fmt.Sprintf("https://vk.com/wall-%s_%d", r.GroupID, r.PostID)
}

// Store persists records.
type Store interface {
	Put(ctx context.Context, r *Record) error
	// List returns up to limit records, newest first. A limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Record, error)
}

func newestFirst(records []Record, limit int) []Record {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PostedAt.After(records[j].PostedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
