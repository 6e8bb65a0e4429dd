// Package objects is a client for the platform object-store service, which
// fronts the datasets bucket of a project. The artifact repository uses it
// to list, upload and download run artifacts.
package objects

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/facultyai/mlflow-faculty/internal/rest"
)

// Object describes one stored object. Directory placeholders carry a
// trailing slash in Path and a zero size.
type Object struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Etag string `json:"etag"`
}

// ListResponse is one page of an object listing. NextPageToken is nil on
// the last page.
type ListResponse struct {
	Objects       []Object `json:"objects"`
	NextPageToken *string  `json:"nextPageToken,omitempty"`
}

// Client calls the object-store service. Transfers go directly against
// pre-signed URLs so that object payloads never pass through the platform
// API itself.
type Client struct {
	rest     *rest.Client
	transfer *http.Client
}

// NewClient builds an object-store client for the service at baseURL.
func NewClient(baseURL string, tokens rest.TokenSource) *Client {
	return &Client{
		rest: rest.NewClient(baseURL, tokens),
		// Transfers can move large artifacts; no overall timeout, rely on
		// the caller's context.
		transfer: &http.Client{},
	}
}

// List returns one page of objects under prefix. Pass the previous page's
// token to continue a listing; an empty token starts from the beginning.
func (c *Client) List(ctx context.Context, projectID uuid.UUID, prefix, pageToken string) (ListResponse, error) {
	query := url.Values{"prefix": []string{prefix}}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	var resp ListResponse
	path := fmt.Sprintf("/project/%s/object-list", projectID)
	if err := c.rest.Do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return ListResponse{}, err
	}
	return resp, nil
}

// ListAll walks every page of a listing under prefix.
func (c *Client) ListAll(ctx context.Context, projectID uuid.UUID, prefix string) ([]Object, error) {
	var all []Object
	token := ""
	for {
		page, err := c.List(ctx, projectID, prefix, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Objects...)
		if page.NextPageToken == nil {
			return all, nil
		}
		token = *page.NextPageToken
	}
}

// Upload stores the local file at the given datasets path.
func (c *Client) Upload(ctx context.Context, projectID uuid.UUID, datasetsPath, localPath string) error {
	uploadURL, err := c.presign(ctx, projectID, "upload", datasetsPath)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.transfer.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", datasetsPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("uploading %s: status code %d", datasetsPath, resp.StatusCode)
	}
	return nil
}

// Download fetches the object at the given datasets path into localPath,
// creating parent directories as needed.
func (c *Client) Download(ctx context.Context, projectID uuid.UUID, datasetsPath, localPath string) error {
	downloadURL, err := c.presign(ctx, projectID, "download", datasetsPath)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.transfer.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", datasetsPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: status code %d", datasetsPath, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}

// presign obtains a short-lived direct-transfer URL for one object.
func (c *Client) presign(ctx context.Context, projectID uuid.UUID, direction, datasetsPath string) (string, error) {
	var resp struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	path := fmt.Sprintf("/project/%s/presign/%s", projectID, direction)
	body := map[string]string{"path": datasetsPath}
	if err := c.rest.Do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("presign returned no URL for %s", datasetsPath)
	}
	return resp.URL, nil
}
