// Package xkcd reads comic metadata and images from the xkcd JSON API.
package xkcd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mlafeldt/xkcd-vk/errs"
)

// DefaultBaseURL is the public xkcd archive.
const DefaultBaseURL = "https://xkcd.com"

const userAgent = "xkcd-vk"

// Comic describes an xkcd comic strip.
type Comic struct {
	Num       int    `json:"num"`
	Title     string `json:"title"`
	SafeTitle string `json:"safe_title"`
	ImageURL  string `json:"image_url"`
	Alt       string `json:"alt"`
	Year      string `json:"year"`
	Month     string `json:"month"`
	Day       string `json:"day"`
	StripURL  string `json:"strip_url"`
}

// Date returns the publication date as YYYY-MM-DD, or "" if the archive did
// not provide a usable one.
func (c *Comic) Date() string {
	y, err1 := strconv.Atoi(c.Year)
	m, err2 := strconv.Atoi(c.Month)
	d, err3 := strconv.Atoi(c.Day)
	if err1 != nil || err2 != nil || err3 != nil {
		return ""
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// Image is a comic image downloaded to local disk.
type Image struct {
	Path    string
	Caption string
}

// info mirrors the archive's info.0.json. Pointers tell absent fields apart
// from empty ones.
type info struct {
	Num       *int    `json:"num"`
	Title     string  `json:"title"`
	SafeTitle string  `json:"safe_title"`
	Img       *string `json:"img"`
	Alt       *string `json:"alt"`
	Year      string  `json:"year"`
	Month     string  `json:"month"`
	Day       string  `json:"day"`
}

// Client talks to an xkcd-compatible archive.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the archive at baseURL. An empty baseURL
// selects DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

// Count returns the number of the latest comic, which is also the number of
// comics published so far.
func (c *Client) Count(ctx context.Context) (int, error) {
	var v info
	if err := c.getJSON(ctx, c.BaseURL+"/info.0.json", &v); err != nil {
		return 0, err
	}
	if v.Num == nil || *v.Num < 1 {
		return 0, fmt.Errorf("%w: %w: latest comic has no usable num", errs.ErrRemoteUnavailable, errs.ErrMalformedResponse)
	}
	return *v.Num, nil
}

// Comic gets the metadata of the comic with the given number.
func (c *Client) Comic(ctx context.Context, num int) (*Comic, error) {
	if num < 1 {
		return nil, fmt.Errorf("invalid comic number %d", num)
	}

	var v info
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%d/info.0.json", c.BaseURL, num), &v); err != nil {
		return nil, err
	}

	if v.Img == nil || strings.TrimSpace(*v.Img) == "" {
		return nil, fmt.Errorf("%w: comic %d: image URL not found", errs.ErrMalformedResponse, num)
	}
	if v.Alt == nil {
		return nil, fmt.Errorf("%w: comic %d: alt text not found", errs.ErrMalformedResponse, num)
	}

	return &Comic{
		Num:       num,
		Title:     v.Title,
		SafeTitle: v.SafeTitle,
		ImageURL:  strings.TrimSpace(*v.Img),
		Alt:       *v.Alt,
		Year:      v.Year,
		Month:     v.Month,
		Day:       v.Day,
		StripURL:  fmt.Sprintf("%s/%d/", c.BaseURL, num),
	}, nil
}

// DownloadImage saves the comic's image into dir and returns its path along
// with the comic's caption.
func (c *Client) DownloadImage(ctx context.Context, comic *Comic, dir string) (*Image, error) {
	name, err := ImageFilename(comic.ImageURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, comic.ImageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %w", errs.ErrRemoteUnavailable, err)
	}

	filename := filepath.Join(dir, name)
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrFilesystem, err)
	}

	return &Image{Path: filename, Caption: comic.Alt}, nil
}

// ImageFilename derives a local filename from an image URL: the last segment
// of the URL path, percent-decoded.
func ImageFilename(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: image URL %q: %w", errs.ErrMalformedResponse, rawURL, err)
	}

	name, err := url.PathUnescape(path.Base(u.EscapedPath()))
	if err != nil {
		return "", fmt.Errorf("%w: image URL %q: %w", errs.ErrMalformedResponse, rawURL, err)
	}

	switch {
	case name == "", name == ".", name == "..", name == "/":
		return "", fmt.Errorf("%w: image URL %q has no filename", errs.ErrMalformedResponse, rawURL)
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("%w: image filename %q contains a path separator", errs.ErrMalformedResponse, name)
	}
	return name, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v interface{}) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", errs.ErrMalformedResponse, url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrRemoteUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errs.HTTPStatus(resp.Status)
	}
	return resp, nil
}
