package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"mdlive/internal/models"

	"github.com/rs/zerolog"
)

// ErrSaveFailed marks a rejected write-back. The edit is not lost; the
// caller keeps the content and may retry.
var ErrSaveFailed = errors.New("save rejected")

// Gateway is the client side of the content API: the two-step read
// indirection and the multipart write-back.
type Gateway struct {
	baseURL string
	httpc   *http.Client
	logger  zerolog.Logger
}

func NewGateway(baseURL string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With().Str("component", "gateway").Logger(),
	}
}

// FetchContent resolves the content URL for a file, then fetches the body.
func (g *Gateway) FetchContent(ctx context.Context, libraryID, filePath string) (string, error) {
	link, err := g.resolveLink(ctx, libraryID, filePath)
	if err != nil {
		return "", err
	}

	body, err := g.get(ctx, link)
	if err != nil {
		return "", fmt.Errorf("fetch content: %w", err)
	}
	return string(body), nil
}

// Detail fetches file metadata (name, size, mtime).
func (g *Gateway) Detail(ctx context.Context, libraryID, filePath string) (*models.FileDetail, error) {
	u := fmt.Sprintf("%s/api/libraries/%s/file/detail?p=%s",
		g.baseURL, libraryID, url.QueryEscape(filePath))

	body, err := g.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("file detail: %w", err)
	}

	var detail models.FileDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("decode file detail: %w", err)
	}
	return &detail, nil
}

// ListFiles returns the recursive listing of a library, the shape the
// viewer's file tree consumes.
func (g *Gateway) ListFiles(ctx context.Context, libraryID string) ([]models.DirEntry, error) {
	u := fmt.Sprintf("%s/api/libraries/%s/dir?p=%s&recursive=1",
		g.baseURL, libraryID, url.QueryEscape("/"))

	body, err := g.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	var entries []models.DirEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return entries, nil
}

// Save resolves an update link for the file's directory and posts the
// content as a multipart write-back. Failures wrap ErrSaveFailed.
func (g *Gateway) Save(ctx context.Context, libraryID, filePath, content string) error {
	dir := path.Dir(filePath)
	u := fmt.Sprintf("%s/api/libraries/%s/update-link?p=%s",
		g.baseURL, libraryID, url.QueryEscape(dir))

	body, err := g.get(ctx, u)
	if err != nil {
		return fmt.Errorf("resolve update link: %w", err)
	}
	var uploadURL string
	if err := json.Unmarshal(body, &uploadURL); err != nil {
		return fmt.Errorf("decode update link: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("target_file", filePath)
	mw.WriteField("filename", path.Base(filePath))
	part, err := mw.CreateFormFile("file", path.Base(filePath))
	if err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrSaveFailed, resp.StatusCode)
	}
	return nil
}

// resolveLink performs the first step of the read indirection.
func (g *Gateway) resolveLink(ctx context.Context, libraryID, filePath string) (string, error) {
	u := fmt.Sprintf("%s/api/libraries/%s/file?p=%s&reuse=1",
		g.baseURL, libraryID, url.QueryEscape(filePath))

	body, err := g.get(ctx, u)
	if err != nil {
		return "", fmt.Errorf("resolve content link: %w", err)
	}

	var link string
	if err := json.Unmarshal(body, &link); err != nil {
		return "", fmt.Errorf("decode content link: %w", err)
	}
	return link, nil
}

func (g *Gateway) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
