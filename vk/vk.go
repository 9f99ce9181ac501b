// Package vk publishes photos to a VK community wall.
//
// Publishing takes four calls that must run in order, each one consuming the
// result of the previous: GetWallUploadServer, UploadPhoto, SaveWallPhoto and
// WallPost.
package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mlafeldt/xkcd-vk/errs"
)

const (
	// DefaultAPIURL is the base URL of the VK method API.
	DefaultAPIURL = "https://api.vk.com/method"
	// DefaultVersion is the API version sent with every call.
	DefaultVersion = "5.131"
)

// VK allows three method calls per second per access token.
const callsPerSecond = 3

// UploadServer is the ticket returned by photos.getWallUploadServer.
type UploadServer struct {
	UploadURL string `json:"upload_url"`
	AlbumID   int    `json:"album_id"`
	UserID    int    `json:"user_id"`
}

// StagedPhoto is what the upload server returns for an uploaded file. It
// must be passed unmodified to SaveWallPhoto.
type StagedPhoto struct {
	Photo  string `json:"photo"`
	Server int    `json:"server"`
	Hash   string `json:"hash"`
}

// SavedPhoto is a photo registered in the wall album.
type SavedPhoto struct {
	OwnerID int `json:"owner_id"`
	ID      int `json:"id"`
}

// Attachment returns the reference used to attach the photo to a post.
func (p *SavedPhoto) Attachment() string {
	return fmt.Sprintf("photo%d_%d", p.OwnerID, p.ID)
}

// Post is a created wall post. ID is zero if VK did not report it.
type Post struct {
	ID int `json:"post_id"`
}

// Client calls the VK API on behalf of one access token.
type Client struct {
	APIURL      string
	Version     string
	AccessToken string
	HTTPClient  *http.Client

	limiter *rate.Limiter
}

// NewClient returns a client using the default API URL and version.
func NewClient(accessToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		APIURL:      DefaultAPIURL,
		Version:     DefaultVersion,
		AccessToken: accessToken,
		HTTPClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Every(time.Second/callsPerSecond), callsPerSecond),
	}
}

// GetWallUploadServer asks for the URL to upload a wall photo to.
func (c *Client) GetWallUploadServer(ctx context.Context) (*UploadServer, error) {
	var server UploadServer
	if err := c.call(ctx, "GET", "photos.getWallUploadServer", nil, &server); err != nil {
		return nil, err
	}
	if server.UploadURL == "" {
		return nil, fmt.Errorf("%w: photos.getWallUploadServer: upload_url not found", errs.ErrMalformedResponse)
	}
	return &server, nil
}

// UploadPhoto posts the file at path to the upload server as multipart form
// data.
func (c *Client) UploadPhoto(ctx context.Context, server *UploadServer, path string) (*StagedPhoto, error) {
	body, contentType, err := multipartFile("photo", path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", server.UploadURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var v struct {
		Photo  *string `json:"photo"`
		Server *int    `json:"server"`
		Hash   *string `json:"hash"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: upload: %w", errs.ErrMalformedResponse, err)
	}

	// The upload server answers with an empty photo list when it rejected
	// the file.
	if v.Photo == nil || *v.Photo == "" || *v.Photo == "[]" {
		return nil, fmt.Errorf("%w: upload: photo not found", errs.ErrMalformedResponse)
	}
	if v.Server == nil {
		return nil, fmt.Errorf("%w: upload: server not found", errs.ErrMalformedResponse)
	}
	if v.Hash == nil {
		return nil, fmt.Errorf("%w: upload: hash not found", errs.ErrMalformedResponse)
	}

	return &StagedPhoto{Photo: *v.Photo, Server: *v.Server, Hash: *v.Hash}, nil
}

// SaveWallPhoto registers an uploaded photo in the wall album.
func (c *Client) SaveWallPhoto(ctx context.Context, staged *StagedPhoto) (*SavedPhoto, error) {
	params := url.Values{
		"photo":  {staged.Photo},
		"server": {strconv.Itoa(staged.Server)},
		"hash":   {staged.Hash},
	}

	var photos []struct {
		OwnerID *int `json:"owner_id"`
		ID      *int `json:"id"`
	}
	if err := c.call(ctx, "POST", "photos.saveWallPhoto", params, &photos); err != nil {
		return nil, err
	}

	if len(photos) == 0 {
		return nil, fmt.Errorf("%w: photos.saveWallPhoto: empty photo list", errs.ErrMalformedResponse)
	}
	if photos[0].OwnerID == nil || photos[0].ID == nil {
		return nil, fmt.Errorf("%w: photos.saveWallPhoto: owner_id or id not found", errs.ErrMalformedResponse)
	}

	return &SavedPhoto{OwnerID: *photos[0].OwnerID, ID: *photos[0].ID}, nil
}

// WallPost publishes message with the photo attached on the wall of the
// community groupID, on behalf of the community.
func (c *Client) WallPost(ctx context.Context, groupID string, photo *SavedPhoto, message string) (*Post, error) {
	params := url.Values{
		"owner_id":    {"-" + strings.TrimPrefix(groupID, "-")},
		"from_group":  {"1"},
		"attachments": {photo.Attachment()},
		"message":     {message},
	}

	var payload json.RawMessage
	if err := c.call(ctx, "POST", "wall.post", params, &payload); err != nil {
		return nil, err
	}

	// Older API versions answer with a bare number and no post id.
	var post Post
	if bytes.HasPrefix(bytes.TrimSpace(payload), []byte("{")) {
		if err := json.Unmarshal(payload, &post); err != nil {
			return nil, fmt.Errorf("%w: wall.post: %w", errs.ErrMalformedResponse, err)
		}
	}
	return &post, nil
}

func (c *Client) call(ctx context.Context, httpMethod, method string, params url.Values, v interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("access_token", c.AccessToken)
	q.Set("v", c.Version)

	req, err := http.NewRequestWithContext(ctx, httpMethod, c.APIURL+"/"+method+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	payload, err := decodeEnvelope(method, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %w", errs.ErrMalformedResponse, method, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrRemoteUnavailable, redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.HTTPStatus(resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrRemoteUnavailable, err)
	}
	return body, nil
}

// redact strips the query string, which holds the access token, from URL
// errors.
func redact(err error) error {
	if uerr, ok := err.(*url.Error); ok {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
		}
	}
	return err
}

func multipartFile(field, path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errs.ErrFilesystem, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("%w: %w", errs.ErrFilesystem, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
