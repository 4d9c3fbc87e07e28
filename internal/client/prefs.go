package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/nimbusos/shell/internal/shared/types"
)

// valueEnvelope is the backend's {success, value} wrapper.
type valueEnvelope struct {
	Success bool   `json:"success"`
	Value   string `json:"value"`
}

// stateEnvelope is the backend's {success, state} wrapper; state is
// null when no geometry has ever been saved.
type stateEnvelope struct {
	Success bool               `json:"success"`
	State   *types.WindowState `json:"state"`
}

// settingsEnvelope is the backend's {success, settings} wrapper.
type settingsEnvelope struct {
	Success  bool              `json:"success"`
	Settings map[string]string `json:"settings"`
}

// GetPreference reads one preference value. Missing keys return
// ErrNotFound so callers can fall back to defaults.
func (c *Client) GetPreference(ctx context.Context, category, key string) (string, error) {
	resp, err := c.do(ctx, "prefs.get", func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/preferences/" + category + "/" + key)
	})
	if err != nil {
		return "", fmt.Errorf("get preference %s/%s: %w", category, key, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("preference %s/%s: %w", category, key, ErrNotFound)
	}

	var env valueEnvelope
	if err := decode(resp, &env); err != nil {
		return "", err
	}
	if !env.Success {
		return "", fmt.Errorf("preference %s/%s: %w", category, key, ErrNotFound)
	}
	return env.Value, nil
}

// GetPreferenceFloat reads a preference and parses it as a float,
// returning fallback when absent or malformed.
func (c *Client) GetPreferenceFloat(ctx context.Context, category, key string, fallback float64) float64 {
	raw, err := c.GetPreference(ctx, category, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// GetPreferenceBool reads a preference and parses it as a bool,
// returning fallback when absent or malformed.
func (c *Client) GetPreferenceBool(ctx context.Context, category, key string, fallback bool) bool {
	raw, err := c.GetPreference(ctx, category, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// SetPreference writes one preference value.
func (c *Client) SetPreference(ctx context.Context, category, key, value string) error {
	resp, err := c.do(ctx, "prefs.set", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(map[string]string{"value": value}).
			Post("/api/preferences/" + category + "/" + key)
	})
	if err != nil {
		return fmt.Errorf("set preference %s/%s: %w", category, key, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("set preference %s/%s: %w: status %d", category, key, ErrBackend, resp.StatusCode())
	}
	return nil
}

// GetWindowState reads the persisted window state for an app. A nil
// state with nil error means nothing was ever saved.
func (c *Client) GetWindowState(ctx context.Context, appID string) (*types.WindowState, error) {
	resp, err := c.do(ctx, "window.get", func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/window-state/" + appID)
	})
	if err != nil {
		return nil, fmt.Errorf("get window state %s: %w", appID, err)
	}

	var env stateEnvelope
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	return env.State, nil
}

// SaveWindowState persists geometry for an app.
func (c *Client) SaveWindowState(ctx context.Context, appID string, state types.WindowState) error {
	resp, err := c.do(ctx, "window.save", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(state).
			Post("/api/window-state/" + appID)
	})
	if err != nil {
		return fmt.Errorf("save window state %s: %w", appID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("save window state %s: %w: status %d", appID, ErrBackend, resp.StatusCode())
	}
	return nil
}

// DeleteWindowState removes the persisted geometry for an app.
func (c *Client) DeleteWindowState(ctx context.Context, appID string) error {
	resp, err := c.do(ctx, "window.delete", func(req *resty.Request) (*resty.Response, error) {
		return req.Delete("/api/window-state/" + appID)
	})
	if err != nil {
		return fmt.Errorf("delete window state %s: %w", appID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("delete window state %s: %w: status %d", appID, ErrBackend, resp.StatusCode())
	}
	return nil
}

// GetAppSettings reads every stored setting for an app.
func (c *Client) GetAppSettings(ctx context.Context, appID string) (map[string]string, error) {
	resp, err := c.do(ctx, "settings.list", func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/app-settings/" + appID)
	})
	if err != nil {
		return nil, fmt.Errorf("get app settings %s: %w", appID, err)
	}

	var env settingsEnvelope
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	if env.Settings == nil {
		return map[string]string{}, nil
	}
	return env.Settings, nil
}

// GetAppSetting reads one setting for an app.
func (c *Client) GetAppSetting(ctx context.Context, appID, key string) (string, error) {
	resp, err := c.do(ctx, "settings.get", func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/app-settings/" + appID + "/" + key)
	})
	if err != nil {
		return "", fmt.Errorf("get app setting %s/%s: %w", appID, key, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("app setting %s/%s: %w", appID, key, ErrNotFound)
	}

	var env valueEnvelope
	if err := decode(resp, &env); err != nil {
		return "", err
	}
	if !env.Success {
		return "", fmt.Errorf("app setting %s/%s: %w", appID, key, ErrNotFound)
	}
	return env.Value, nil
}

// SetAppSetting writes one setting for an app.
func (c *Client) SetAppSetting(ctx context.Context, appID, key, value string) error {
	resp, err := c.do(ctx, "settings.set", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(map[string]string{"value": value}).
			Post("/api/app-settings/" + appID + "/" + key)
	})
	if err != nil {
		return fmt.Errorf("set app setting %s/%s: %w", appID, key, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("set app setting %s/%s: %w: status %d", appID, key, ErrBackend, resp.StatusCode())
	}
	return nil
}

// DeleteAppSetting removes one setting for an app.
func (c *Client) DeleteAppSetting(ctx context.Context, appID, key string) error {
	resp, err := c.do(ctx, "settings.delete", func(req *resty.Request) (*resty.Response, error) {
		return req.Delete("/api/app-settings/" + appID + "/" + key)
	})
	if err != nil {
		return fmt.Errorf("delete app setting %s/%s: %w", appID, key, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("delete app setting %s/%s: %w: status %d", appID, key, ErrBackend, resp.StatusCode())
	}
	return nil
}
