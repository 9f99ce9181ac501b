package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlafeldt/xkcd-vk/errs"
	"github.com/mlafeldt/xkcd-vk/heartbeat"
	"github.com/mlafeldt/xkcd-vk/history"
	"github.com/mlafeldt/xkcd-vk/vk"
	"github.com/mlafeldt/xkcd-vk/xkcd"
)

// fixture serves a fake xkcd archive and a fake VK API and records every
// request made to either of them.
type fixture struct {
	t          *testing.T
	archive    *httptest.Server
	api        *httptest.Server
	scratchDir string

	mu    sync.Mutex
	calls []string

	// Overridable responses.
	comic42   string
	saveReply string
	uploadErr bool
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:          t,
		scratchDir: filepath.Join(t.TempDir(), "images"),
		saveReply:  `{"response": [{"owner_id": -100, "id": 55}]}`,
	}

	archive := http.NewServeMux()
	archive.HandleFunc("/info.0.json", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		fmt.Fprint(w, `{"num": 500}`)
	})
	archive.HandleFunc("/42/info.0.json", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		fmt.Fprint(w, f.comic42)
	})
	archive.HandleFunc("/img/b/bla.png", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Write([]byte("PNGDATA"))
	})
	f.archive = httptest.NewServer(archive)
	t.Cleanup(f.archive.Close)
	f.comic42 = fmt.Sprintf(`{"num": 42, "img": "%s/img/b/bla.png", "alt": "hi", "title": "Geico"}`, f.archive.URL)

	api := http.NewServeMux()
	api.HandleFunc("/method/photos.getWallUploadServer", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		fmt.Fprintf(w, `{"response": {"upload_url": "%s/upload"}}`, f.api.URL)
	})
	api.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.uploadErr {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		file, header, err := r.FormFile("photo")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "PNGDATA", string(data))
		assert.Equal(t, "bla.png", header.Filename)

		// The image is still in the scratch directory while uploading.
		_, err = os.Stat(filepath.Join(f.scratchDir, "bla.png"))
		assert.NoError(t, err)

		fmt.Fprint(w, `{"photo": "p", "server": 7, "hash": "h"}`)
	})
	api.HandleFunc("/method/photos.saveWallPhoto", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		fmt.Fprint(w, f.saveReply)
	})
	api.HandleFunc("/method/wall.post", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		fmt.Fprint(w, `{"response": 1}`)
	})
	f.api = httptest.NewServer(api)
	t.Cleanup(f.api.Close)

	return f
}

func (f *fixture) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query()
	q.Del("access_token")
	q.Del("v")
	call := r.Method + " " + r.URL.Path
	if len(q) > 0 {
		call += "?" + q.Encode()
	}
	f.calls = append(f.calls, call)
}

func (f *fixture) publisher() *Publisher {
	wall := vk.NewClient("token", f.api.Client())
	wall.APIURL = f.api.URL + "/method"

	return &Publisher{
		Comics:     xkcd.NewClient(f.archive.URL, f.archive.Client()),
		Wall:       wall,
		GroupID:    "12345",
		ScratchDir: f.scratchDir,
		Pick: func(total int) int {
			if total != 500 {
				f.t.Errorf("Pick(%d), want total 500", total)
			}
			return 42
		},
	}
}

func (f *fixture) assertScratchDirRemoved() {
	f.t.Helper()
	if _, err := os.Stat(f.scratchDir); !os.IsNotExist(err) {
		f.t.Errorf("scratch dir %s still exists (stat error: %v)", f.scratchDir, err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)

	res, err := f.publisher().Run(context.Background(), 0)
	require.NoError(t, err)

	want := []string{
		"GET /info.0.json",
		"GET /42/info.0.json",
		"GET /img/b/bla.png",
		"GET /method/photos.getWallUploadServer",
		"POST /upload",
		"POST /method/photos.saveWallPhoto?hash=h&photo=p&server=7",
		"POST /method/wall.post?attachments=photo-100_55&from_group=1&message=hi&owner_id=-12345",
	}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Error(diff)
	}

	assert.Equal(t, 42, res.Comic.Num)
	assert.Equal(t, &vk.SavedPhoto{OwnerID: -100, ID: 55}, res.Photo)
	assert.NotEmpty(t, res.RunID)
	f.assertScratchDirRemoved()
}

func TestRunScratchDirAlreadyExists(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.scratchDir, 0o755))

	_, err := f.publisher().Run(context.Background(), 0)
	require.NoError(t, err)
	f.assertScratchDirRemoved()
}

func TestRunMissingImageField(t *testing.T) {
	f := newFixture(t)
	f.comic42 = `{"num": 42, "alt": "hi"}`

	_, err := f.publisher().Run(context.Background(), 0)
	assert.ErrorIs(t, err, errs.ErrMalformedResponse)

	for _, call := range f.calls {
		assert.NotContains(t, call, "/method/", "VK must not be called")
	}
	f.assertScratchDirRemoved()
}

func TestRunAPIErrorStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.saveReply = `{"error_msg": "Invalid hash"}`

	_, err := f.publisher().Run(context.Background(), 0)

	var apiErr *errs.RemoteAPIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, "Invalid hash", apiErr.Message)

	last := f.calls[len(f.calls)-1]
	assert.Equal(t, "POST /method/photos.saveWallPhoto?hash=h&photo=p&server=7", last)
	f.assertScratchDirRemoved()
}

func TestRunHTTPErrorStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.uploadErr = true

	_, err := f.publisher().Run(context.Background(), 0)
	assert.ErrorIs(t, err, errs.ErrRemoteUnavailable)

	assert.Equal(t, "POST /upload", f.calls[len(f.calls)-1])
	f.assertScratchDirRemoved()
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(t)
	p := f.publisher()
	p.DryRun = true

	res, err := p.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Nil(t, res.Post)

	assert.Equal(t, "GET /img/b/bla.png", f.calls[len(f.calls)-1])
	f.assertScratchDirRemoved()
}

func TestRunExplicitComic(t *testing.T) {
	f := newFixture(t)
	p := f.publisher()
	p.Pick = func(int) int {
		t.Error("Pick must not be called for an explicit comic")
		return 1
	}

	res, err := p.Run(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, res.Comic.Num)
}

func TestRunComicOutOfRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.publisher().Run(context.Background(), 501)
	assert.Error(t, err)
	assert.Equal(t, []string{"GET /info.0.json"}, f.calls)
	f.assertScratchDirRemoved()
}

// vanishingSource deletes the scratch directory before failing.
type vanishingSource struct {
	ComicSource
}

var errVanished = errors.New("vanished")

func (vanishingSource) Count(context.Context) (int, error) { return 1, nil }

func (vanishingSource) Comic(_ context.Context, num int) (*xkcd.Comic, error) {
	return &xkcd.Comic{Num: num}, nil
}

func (vanishingSource) DownloadImage(_ context.Context, _ *xkcd.Comic, dir string) (*xkcd.Image, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	return nil, errVanished
}

func TestRunCleanupKeepsError(t *testing.T) {
	p := &Publisher{
		Comics:     vanishingSource{},
		ScratchDir: filepath.Join(t.TempDir(), "images"),
	}

	_, err := p.Run(context.Background(), 0)
	assert.ErrorIs(t, err, errVanished)
}

func TestRunScratchDirCreateError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	p := &Publisher{ScratchDir: filepath.Join(blocker, "images")}
	_, err := p.Run(context.Background(), 0)
	assert.ErrorIs(t, err, errs.ErrFilesystem)
}

type fakeArchive struct {
	num  int
	data string
	err  error
}

func (a *fakeArchive) ArchiveStrip(_ context.Context, num int, path string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	a.num, a.data = num, string(data)
	return "s3://bucket/strips/42/bla.png", nil
}

type fakeHistory struct {
	history.Store
	records []*history.Record
	err     error
}

func (h *fakeHistory) Put(_ context.Context, r *history.Record) error {
	h.records = append(h.records, r)
	return h.err
}

type fakePinger struct {
	pings int
	err   error
}

func (p *fakePinger) Ping(context.Context) (*heartbeat.Result, error) {
	p.pings++
	return &heartbeat.Result{Status: "200 OK"}, p.err
}

func TestRunAfterPost(t *testing.T) {
	f := newFixture(t)
	p := f.publisher()
	a, h, hb := &fakeArchive{}, &fakeHistory{}, &fakePinger{}
	p.Archive, p.History, p.Heartbeat = a, h, hb

	res, err := p.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 42, a.num)
	assert.Equal(t, "PNGDATA", a.data)
	assert.Equal(t, "s3://bucket/strips/42/bla.png", res.ArchiveURL)

	require.Len(t, h.records, 1)
	r := h.records[0]
	assert.Equal(t, res.RunID, r.RunID)
	assert.Equal(t, 42, r.Num)
	assert.Equal(t, "hi", r.Alt)
	assert.Equal(t, "12345", r.GroupID)
	assert.Equal(t, -100, r.OwnerID)
	assert.Equal(t, 55, r.PhotoID)

	assert.Equal(t, 1, hb.pings)
}

func TestRunAfterPostFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t)
	p := f.publisher()
	p.Archive = &fakeArchive{err: errors.New("s3 down")}
	p.History = &fakeHistory{err: errors.New("table missing")}
	p.Heartbeat = &fakePinger{err: errors.New("timeout")}

	res, err := p.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveURL)
	f.assertScratchDirRemoved()
}

func TestRunFailureSkipsAfterPost(t *testing.T) {
	f := newFixture(t)
	f.saveReply = `{"error_msg": "nope"}`
	p := f.publisher()
	h, hb := &fakeHistory{}, &fakePinger{}
	p.History, p.Heartbeat = h, hb

	_, err := p.Run(context.Background(), 0)
	require.Error(t, err)
	assert.Empty(t, h.records)
	assert.Zero(t, hb.pings)
}

func TestRandomPick(t *testing.T) {
	for _, total := range []int{1, 2, 3, 10, 2950} {
		for i := 0; i < 1000; i++ {
			n := RandomPick(total)
			if n < 1 || n > total {
				t.Fatalf("RandomPick(%d) = %d, out of range", total, n)
			}
		}
	}
}

func TestRandomPickCoversRange(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		seen[RandomPick(3)] = true
	}
	for n := 1; n <= 3; n++ {
		if !seen[n] {
			t.Errorf("RandomPick(3) never returned %d", n)
		}
	}
}
