package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

// VFSEntry is one item in a virtual directory listing.
type VFSEntry struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	IsDir     bool   `json:"is_directory"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mime_type,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// VFSFile is a virtual file with its content.
type VFSFile struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

type vfsListEnvelope struct {
	Path  string     `json:"path"`
	Items []VFSEntry `json:"items"`
	Total int        `json:"total"`
}

// vfsPath normalizes a virtual path for URL embedding. The backend
// routes take the path without its leading slash.
func vfsPath(p string) string {
	return strings.TrimPrefix(p, "/")
}

// ListDir lists a virtual directory.
func (c *Client) ListDir(ctx context.Context, path string) ([]VFSEntry, error) {
	resp, err := c.do(ctx, "vfs.list", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParam("path", path).
			Get("/api/virtual-files/list")
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	var env vfsListEnvelope
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	return env.Items, nil
}

// ReadFile reads one virtual file's content.
func (c *Client) ReadFile(ctx context.Context, path string) (*VFSFile, error) {
	resp, err := c.do(ctx, "vfs.read", func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/virtual-files/read/" + vfsPath(path))
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("file %q: %w", path, ErrNotFound)
	}

	var file VFSFile
	if err := decode(resp, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// WriteFile creates a virtual file with the given content.
func (c *Client) WriteFile(ctx context.Context, parent, name, content string) error {
	resp, err := c.do(ctx, "vfs.write", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(map[string]string{
				"name":        name,
				"parent_path": parent,
				"content":     content,
			}).
			Post("/api/virtual-files/create-file")
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", parent, name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("write %s/%s: %w: status %d", parent, name, ErrBackend, resp.StatusCode())
	}
	return nil
}

// CreateFolder creates a virtual directory.
func (c *Client) CreateFolder(ctx context.Context, parent, name string) error {
	resp, err := c.do(ctx, "vfs.mkdir", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(map[string]string{
				"name":        name,
				"parent_path": parent,
			}).
			Post("/api/virtual-files/create-folder")
	})
	if err != nil {
		return fmt.Errorf("mkdir %s/%s: %w", parent, name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("mkdir %s/%s: %w: status %d", parent, name, ErrBackend, resp.StatusCode())
	}
	return nil
}

// DeleteFile removes a virtual file or directory.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	resp, err := c.do(ctx, "vfs.delete", func(req *resty.Request) (*resty.Response, error) {
		return req.Delete("/api/virtual-files/delete/" + vfsPath(path))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("file %q: %w", path, ErrNotFound)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("delete %s: %w: status %d", path, ErrBackend, resp.StatusCode())
	}
	return nil
}

// Rename moves a virtual file or directory to a new path.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	resp, err := c.do(ctx, "vfs.rename", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(map[string]string{
				"old_path": oldPath,
				"new_path": newPath,
			}).
			Post("/api/virtual-files/rename")
	})
	if err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("file %q: %w", oldPath, ErrNotFound)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("rename %s: %w: status %d", oldPath, ErrBackend, resp.StatusCode())
	}
	return nil
}

// Upload sends raw bytes as a virtual file. The content type is
// detected from the payload when the caller does not know it.
func (c *Client) Upload(ctx context.Context, parent, name string, data []byte) error {
	contentType := mimetype.Detect(data).String()

	resp, err := c.do(ctx, "vfs.upload", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetMultipartField("file", name, contentType, bytes.NewReader(data)).
			SetFormData(map[string]string{"parent_path": parent}).
			Post("/api/virtual-files/upload-file")
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", parent, name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("upload %s/%s: %w: status %d", parent, name, ErrBackend, resp.StatusCode())
	}
	return nil
}
