// Package kaggle implements the ports.DatasetHost interface against the
// Kaggle datasets REST API.
package kaggle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ohlcvsync/internal/ports"
)

const defaultBaseURL = "https://www.kaggle.com/api/v1"

// Client talks to the Kaggle datasets API.
type Client struct {
	baseURL    string
	username   string
	key        string
	httpClient *http.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Kaggle client adapter.
type Config struct {
	Username       string
	Key            string
	Logger         ports.Logger
	BaseURL        string        // Overridable for tests; defaults to the public API
	RequestTimeout time.Duration // Covers dataset downloads and uploads (e.g., 5 * time.Minute)
}

// New creates a new Kaggle client adapter. Unlike the exchange client, its
// transport ignores any HTTP(S)_PROXY environment settings: the proxy exists
// to reach the exchange and breaks large uploads to the dataset host.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Kaggle client")
	}
	if cfg.Username == "" || cfg.Key == "" {
		return nil, fmt.Errorf("KAGGLE_USERNAME and KAGGLE_KEY must be set: %w", ports.ErrConfigurationError)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: cfg.Username,
		key:      cfg.Key,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: nil},
		},
		logger: cfg.Logger,
	}, nil
}

// DownloadDataset fetches the current dataset version as a zip archive and
// unpacks its files into destDir.
func (c *Client) DownloadDataset(ctx context.Context, slug, destDir string) error {
	op := "DownloadDataset"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/datasets/download/"+slug, nil)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	req.SetBasicAuth(c.username, c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrapTransportError(ctx, err, op)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(ctx, resp, op, ports.ErrDownloadFailed); err != nil {
		return err
	}

	archive, err := os.CreateTemp("", "dataset-*.zip")
	if err != nil {
		return fmt.Errorf("%s failed to create temp file: %w", op, err)
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	size, err := io.Copy(archive, resp.Body)
	if err != nil {
		return fmt.Errorf("%s failed to read archive body: %w: %w", op, ports.ErrDownloadFailed, err)
	}

	if err := unzip(archive.Name(), destDir); err != nil {
		return fmt.Errorf("%s failed to unpack archive: %w: %w", op, ports.ErrDownloadFailed, err)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"slug": slug, "bytes": size, "dest": destDir})
	return nil
}

// CreateVersion publishes every regular file under folder as a new version of
// the dataset. Each file is first staged through the upload endpoint; the
// returned tokens are then bound into the new version.
func (c *Client) CreateVersion(ctx context.Context, slug, folder, notes string) error {
	op := "CreateVersion"

	entries, err := os.ReadDir(folder)
	if err != nil {
		return fmt.Errorf("%s failed to list folder %s: %w", op, folder, err)
	}

	type fileToken struct {
		Token string `json:"token"`
	}
	var tokens []fileToken
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		token, err := c.uploadFile(ctx, filepath.Join(folder, entry.Name()))
		if err != nil {
			return fmt.Errorf("%s failed to upload %s: %w", op, entry.Name(), err)
		}
		tokens = append(tokens, fileToken{Token: token})
	}
	if len(tokens) == 0 {
		return fmt.Errorf("%s: no files to publish in %s: %w", op, folder, ports.ErrInvalidRequest)
	}

	body, err := json.Marshal(map[string]interface{}{
		"versionNotes":      notes,
		"files":             tokens,
		"deleteOldVersions": false,
	})
	if err != nil {
		return fmt.Errorf("%s failed to encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/datasets/create/version/"+slug, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	req.SetBasicAuth(c.username, c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrapTransportError(ctx, err, op)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(ctx, resp, op, ports.ErrUploadFailed); err != nil {
		return err
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"slug": slug, "files": len(tokens), "notes": notes})
	return nil
}

// uploadFile stages one file and returns the token to reference it in a
// version. The API hands back a signed storage URL; the file body goes there,
// not through the API host.
func (c *Client) uploadFile(ctx context.Context, path string) (string, error) {
	op := "uploadFile"

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%s failed to stat %s: %w", op, path, err)
	}

	form := url.Values{"fileName": {filepath.Base(path)}}
	endpoint := fmt.Sprintf("%s/datasets/upload/file/%d/%d", c.baseURL, info.Size(), info.ModTime().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", op, err)
	}
	req.SetBasicAuth(c.username, c.key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.wrapTransportError(ctx, err, op)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(ctx, resp, op, ports.ErrUploadFailed); err != nil {
		return "", err
	}

	var ticket struct {
		Token     string `json:"token"`
		CreateURL string `json:"createUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return "", fmt.Errorf("%s failed to decode response: %w: %w", op, ports.ErrUploadFailed, err)
	}
	if ticket.Token == "" || ticket.CreateURL == "" {
		return "", fmt.Errorf("%s: incomplete upload ticket: %w", op, ports.ErrUploadFailed)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%s failed to open %s: %w", op, path, err)
	}
	defer file.Close()

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, ticket.CreateURL, file)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", op, err)
	}
	putReq.ContentLength = info.Size()

	putResp, err := c.httpClient.Do(putReq)
	if err != nil {
		return "", c.wrapTransportError(ctx, err, op)
	}
	defer putResp.Body.Close()

	if err := c.checkStatus(ctx, putResp, op+" storage PUT", ports.ErrUploadFailed); err != nil {
		return "", err
	}

	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"file": filepath.Base(path), "bytes": info.Size()})
	return ticket.Token, nil
}

// checkStatus maps HTTP status codes onto the standard error taxonomy.
func (c *Client) checkStatus(ctx context.Context, resp *http.Response, operation string, fallback error) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var mappedErr error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		mappedErr = ports.ErrAuthenticationFailed
	case resp.StatusCode == http.StatusNotFound:
		mappedErr = ports.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		mappedErr = ports.ErrRateLimited
	default:
		mappedErr = fallback
	}

	err := fmt.Errorf("%s failed with status %d: %w: %s", operation, resp.StatusCode, mappedErr, strings.TrimSpace(string(body)))
	c.logger.Error(ctx, err, operation+" failed", map[string]interface{}{"status": resp.StatusCode})
	return err
}

func (c *Client) wrapTransportError(ctx context.Context, err error, operation string) error {
	var finalErr error
	switch {
	case ctx.Err() != nil:
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	}
	c.logger.Error(ctx, err, operation+" transport error")
	return finalErr
}

// unzip unpacks archivePath into destDir, rejecting entries that would escape it.
func unzip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	for _, entry := range reader.File {
		target := filepath.Join(destDir, filepath.Clean(entry.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination directory", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := extractFile(entry, target); err != nil {
			return fmt.Errorf("extracting %s: %w", entry.Name, err)
		}
	}
	return nil
}

func extractFile(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
