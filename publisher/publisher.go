// Package publisher republishes a random xkcd comic on a VK community wall.
package publisher

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mlafeldt/xkcd-vk/errs"
	"github.com/mlafeldt/xkcd-vk/heartbeat"
	"github.com/mlafeldt/xkcd-vk/history"
	"github.com/mlafeldt/xkcd-vk/vk"
	"github.com/mlafeldt/xkcd-vk/xkcd"
)

// ComicSource provides comics and their images.
type ComicSource interface {
	Count(ctx context.Context) (int, error)
	Comic(ctx context.Context, num int) (*xkcd.Comic, error)
	DownloadImage(ctx context.Context, comic *xkcd.Comic, dir string) (*xkcd.Image, error)
}

// Wall publishes photos on a VK wall, one protocol step per method.
type Wall interface {
	GetWallUploadServer(ctx context.Context) (*vk.UploadServer, error)
	UploadPhoto(ctx context.Context, server *vk.UploadServer, path string) (*vk.StagedPhoto, error)
	SaveWallPhoto(ctx context.Context, staged *vk.StagedPhoto) (*vk.SavedPhoto, error)
	WallPost(ctx context.Context, groupID string, photo *vk.SavedPhoto, message string) (*vk.Post, error)
}

// StripArchiver stores a copy of a republished strip.
type StripArchiver interface {
	ArchiveStrip(ctx context.Context, num int, path string) (string, error)
}

// Pinger reports a successful run.
type Pinger interface {
	Ping(ctx context.Context) (*heartbeat.Result, error)
}

// Publisher runs the republishing pipeline. Archive, History and Heartbeat
// are optional.
type Publisher struct {
	Comics     ComicSource
	Wall       Wall
	GroupID    string
	ScratchDir string
	DryRun     bool

	// Pick returns a comic number in [1, total]. Defaults to RandomPick.
	Pick func(total int) int

	Archive   StripArchiver
	History   history.Store
	Heartbeat Pinger
}

// Result summarizes one run.
type Result struct {
	RunID      string         `json:"run_id"`
	Comic      *xkcd.Comic    `json:"comic"`
	Photo      *vk.SavedPhoto `json:"photo,omitempty"`
	Post       *vk.Post       `json:"post,omitempty"`
	ArchiveURL string         `json:"archive_url,omitempty"`
	DryRun     bool           `json:"dry_run"`
}

// RandomPick returns a number drawn uniformly from [1, total].
func RandomPick(total int) int {
	return rand.Intn(total) + 1
}

// Run republishes comic num, or a random comic if num is 0. The scratch
// directory is removed before Run returns, whatever the outcome.
func (p *Publisher) Run(ctx context.Context, num int) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), DryRun: p.DryRun}

	err := withScratchDir(p.ScratchDir, func(dir string) error {
		return p.run(ctx, dir, num, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Publisher) run(ctx context.Context, dir string, num int, res *Result) error {
	total, err := p.Comics.Count(ctx)
	if err != nil {
		return fmt.Errorf("get comic count: %w", err)
	}

	if num == 0 {
		pick := p.Pick
		if pick == nil {
			pick = RandomPick
		}
		num = pick(total)
	}
	if num < 1 || num > total {
		return fmt.Errorf("comic %d out of range [1, %d]", num, total)
	}

	log.Printf("[INFO] Fetching comic %d of %d ...", num, total)
	comic, err := p.Comics.Comic(ctx, num)
	if err != nil {
		return fmt.Errorf("get comic %d: %w", num, err)
	}
	res.Comic = comic
	log.Printf("[DEBUG] comic = %+v", comic)

	image, err := p.Comics.DownloadImage(ctx, comic, dir)
	if err != nil {
		return fmt.Errorf("download comic %d: %w", num, err)
	}
	log.Printf("[INFO] Downloaded strip %s to %s", comic.ImageURL, image.Path)

	if p.DryRun {
		log.Printf("[INFO] Dry run, not posting to group %s:\n---\n%s\n---\nImage: %s", p.GroupID, image.Caption, image.Path)
		return nil
	}

	server, err := p.Wall.GetWallUploadServer(ctx)
	if err != nil {
		return fmt.Errorf("get upload server: %w", err)
	}

	staged, err := p.Wall.UploadPhoto(ctx, server, image.Path)
	if err != nil {
		return fmt.Errorf("upload photo: %w", err)
	}

	photo, err := p.Wall.SaveWallPhoto(ctx, staged)
	if err != nil {
		return fmt.Errorf("save wall photo: %w", err)
	}
	res.Photo = photo

	post, err := p.Wall.WallPost(ctx, p.GroupID, photo, image.Caption)
	if err != nil {
		return fmt.Errorf("post to wall: %w", err)
	}
	res.Post = post
	log.Printf("[INFO] Posted comic %d to group %s (photo %s, post %d)", num, p.GroupID, photo.Attachment(), post.ID)

	p.afterPost(ctx, image, res)
	return nil
}

// afterPost runs the optional steps. The post already exists at this point,
// so their failures are only logged.
func (p *Publisher) afterPost(ctx context.Context, image *xkcd.Image, res *Result) {
	if p.Archive != nil {
		location, err := p.Archive.ArchiveStrip(ctx, res.Comic.Num, image.Path)
		if err != nil {
			log.Printf("[WARN] Failed to archive strip: %s", err)
		} else {
			res.ArchiveURL = location
			log.Printf("[INFO] Archived strip to %s", location)
		}
	}

	if p.History != nil {
		r := &history.Record{
			RunID:    res.RunID,
			Num:      res.Comic.Num,
			Title:    res.Comic.Title,
			ImageURL: res.Comic.ImageURL,
			Alt:      res.Comic.Alt,
			StripURL: res.Comic.StripURL,
			GroupID:  p.GroupID,
			OwnerID:  res.Photo.OwnerID,
			PhotoID:  res.Photo.ID,
			PostID:   res.Post.ID,
			PostedAt: time.Now().UTC(),
		}
		if err := p.History.Put(ctx, r); err != nil {
			log.Printf("[WARN] Failed to record history: %s", err)
		}
	}

	if p.Heartbeat != nil {
		if hb, err := p.Heartbeat.Ping(ctx); err != nil {
			log.Printf("[WARN] Heartbeat failed: %s", err)
		} else {
			log.Printf("[DEBUG] heartbeat = %+v", hb)
		}
	}
}

// withScratchDir creates dir, runs fn with it and removes dir again on every
// exit path. A failed removal is logged and never replaces fn's error.
func withScratchDir(dir string, fn func(dir string) error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create scratch dir: %w", errs.ErrFilesystem, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[WARN] Failed to remove scratch dir %s: %s", dir, err)
		}
	}()

	return fn(dir)
}
