package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/nimbusos/shell/internal/shared/types"
)

// ListApps returns every installed app's manifest (without markup).
func (c *Client) ListApps(ctx context.Context) ([]types.Manifest, error) {
	resp, err := c.do(ctx, "apps.list", func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/apps")
	})
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}

	var apps []types.Manifest
	if err := decode(resp, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// Launch fetches the full launch payload for one app, including its
// packed markup, stored settings, and persisted window state.
func (c *Client) Launch(ctx context.Context, appID string) (*types.LaunchPayload, error) {
	resp, err := c.do(ctx, "apps.launch", func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/apps/" + appID + "/launch")
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", appID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("app %q: %w", appID, ErrNotFound)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("launch %s: %w: status %d", appID, ErrBackend, resp.StatusCode())
	}

	var payload types.LaunchPayload
	if err := decode(resp, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, fmt.Errorf("launch %s: %w: refused", appID, ErrBackend)
	}
	return &payload, nil
}

// InstallApp uploads a packaged app to the backend. The package is the
// JSON install format produced by the dev packer.
func (c *Client) InstallApp(ctx context.Context, filename string, pkg []byte) error {
	resp, err := c.do(ctx, "apps.install", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetFileReader("package", filename, bytes.NewReader(pkg)).
			Post("/api/user-apps/install")
	})
	if err != nil {
		return fmt.Errorf("install app: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("install app: %w: status %d", ErrBackend, resp.StatusCode())
	}
	return nil
}

// RefreshApps asks the backend to rescan installed apps.
func (c *Client) RefreshApps(ctx context.Context) error {
	resp, err := c.do(ctx, "apps.refresh", func(req *resty.Request) (*resty.Response, error) {
		return req.Post("/api/user-apps/refresh")
	})
	if err != nil {
		return fmt.Errorf("refresh apps: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("refresh apps: %w: status %d", ErrBackend, resp.StatusCode())
	}
	return nil
}

// UninstallApp removes an installed user app.
func (c *Client) UninstallApp(ctx context.Context, appID string) error {
	resp, err := c.do(ctx, "apps.uninstall", func(req *resty.Request) (*resty.Response, error) {
		return req.Delete("/api/user-apps/uninstall/" + appID)
	})
	if err != nil {
		return fmt.Errorf("uninstall %s: %w", appID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("app %q: %w", appID, ErrNotFound)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("uninstall %s: %w: status %d", appID, ErrBackend, resp.StatusCode())
	}
	return nil
}
