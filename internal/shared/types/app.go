package types

import (
	"fmt"
	"strconv"
	"strings"
)

// AppType discriminates how an app may be hosted.
type AppType string

const (
	TypeBuiltin       AppType = "builtin"
	TypeUserApp       AppType = "user_app"
	TypeSettings      AppType = "settings"
	TypeSystemService AppType = "system_service"
)

// Windowed reports whether apps of this type may open a window.
// System services run headless and refuse windowing outright.
func (t AppType) Windowed() bool {
	return t != TypeSystemService
}

// Geometry is a window rectangle in viewport pixels.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WindowState is the persisted mirror of a window's geometry, keyed
// server-side by app id.
type WindowState struct {
	X         int  `json:"x"`
	Y         int  `json:"y"`
	Width     int  `json:"width"`
	Height    int  `json:"height"`
	Maximized bool `json:"maximized"`
}

// Geometry returns the state's rectangle without the maximized flag.
func (s WindowState) Geometry() Geometry {
	return Geometry{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}
}

// StateFor combines a rectangle and a maximized flag into a WindowState.
func StateFor(g Geometry, maximized bool) WindowState {
	return WindowState{X: g.X, Y: g.Y, Width: g.Width, Height: g.Height, Maximized: maximized}
}

// Manifest describes one app as the launch endpoint reports it.
type Manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Icon        string   `json:"icon"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Type        AppType  `json:"type"`
	Version     string   `json:"version,omitempty"`
	Background  bool     `json:"background,omitempty"`
	HTML        string   `json:"html,omitempty"`
}

// FlexString tolerates bare scalars where hand-written app manifests
// should have quoted strings.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		v, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid string %s: %w", s, err)
		}
		*f = FlexString(v)
		return nil
	}
	if s == "null" {
		*f = ""
		return nil
	}
	*f = FlexString(s)
	return nil
}

// SettingSpec describes one configurable app setting: the key used in
// {{KEY}} markup placeholders plus its default value.
type SettingSpec struct {
	Key   string     `json:"key"`
	Label string     `json:"label,omitempty"`
	Type  string     `json:"type,omitempty"`
	Value FlexString `json:"value,omitempty"`
}

// LaunchMetadata carries capability flags and setting descriptors
// alongside a manifest.
type LaunchMetadata struct {
	Settings    []SettingSpec `json:"settings,omitempty"`
	HasSettings bool          `json:"hasSettings"`
	CanReload   bool          `json:"canReload"`
}

// ScalePercent is the app-scale preference. The backend stores
// preferences as strings, so the wire value may be "125" or 125.
type ScalePercent float64

func (s *ScalePercent) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	if str == "" || str == "null" {
		*s = 100
		return nil
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return fmt.Errorf("invalid app scale %q: %w", str, err)
	}
	*s = ScalePercent(v)
	return nil
}

// Factor converts the percentage to a multiplier, defaulting to 1.
func (s ScalePercent) Factor() float64 {
	if s <= 0 {
		return 1
	}
	return float64(s) / 100
}

// LaunchPreferences are the shell preferences sampled at launch time.
type LaunchPreferences struct {
	AppScale      ScalePercent `json:"appScale"`
	DeveloperMode bool         `json:"developerMode"`
}

// LaunchPayload is the full response of the launch endpoint.
type LaunchPayload struct {
	Success     bool              `json:"success"`
	App         Manifest          `json:"app"`
	Metadata    LaunchMetadata    `json:"metadata"`
	Preferences LaunchPreferences `json:"preferences"`
	WindowState *WindowState      `json:"windowState,omitempty"`
}
