package publisher

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/mlafeldt/xkcd-vk/archive"
	"github.com/mlafeldt/xkcd-vk/config"
	"github.com/mlafeldt/xkcd-vk/heartbeat"
	"github.com/mlafeldt/xkcd-vk/history"
	"github.com/mlafeldt/xkcd-vk/vk"
	"github.com/mlafeldt/xkcd-vk/xkcd"
)

// New builds a Publisher from cfg. The returned func releases what New
// opened and must be called once the Publisher is no longer used.
func New(ctx context.Context, cfg *config.Config) (*Publisher, func(), error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	wall := vk.NewClient(cfg.AccessToken, httpClient)
	wall.APIURL = cfg.APIURL
	wall.Version = cfg.APIVersion

	p := &Publisher{
		Comics:     xkcd.NewClient(cfg.XKCDBaseURL, httpClient),
		Wall:       wall,
		GroupID:    cfg.GroupID,
		ScratchDir: cfg.ScratchDir,
		DryRun:     cfg.DryRun,
	}
	closers := []func(){}
	release := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.HeartbeatEndpoint != "" {
		p.Heartbeat = heartbeat.New(cfg.HeartbeatEndpoint)
	}

	if cfg.ArchiveBucket != "" || cfg.HistoryTable != "" {
		sess, err := session.NewSession()
		if err != nil {
			return nil, release, err
		}
		if cfg.ArchiveBucket != "" {
			p.Archive = archive.New(sess, cfg.ArchiveBucket, cfg.ArchivePrefix)
		}
		if cfg.HistoryTable != "" {
			p.History = history.NewDynamoStore(sess, cfg.HistoryTable)
		}
	}

	if cfg.HistoryDB != "" && p.History == nil {
		store, err := history.OpenSQLite(ctx, cfg.HistoryDB)
		if err != nil {
			return nil, release, err
		}
		closers = append(closers, func() { store.Close() })
		p.History = store
	}

	return p, release, nil
}
