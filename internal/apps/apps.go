// Package apps provides the shell's locally resolved applications:
// the builtin system apps and developer apps loaded from disk. The
// registry sits in front of the backend catalog, so builtin and dev
// ids launch without a network round trip.
package apps

import (
	"sort"
	"sync"

	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/shared/types"
	"github.com/nimbusos/shell/internal/window"
)

// Monitor supplies live window and resource snapshots for the
// resource-manager app. The window manager implements it.
type Monitor interface {
	Windows() []window.Info
	Resources() []window.ResourceInfo
}

// DevApp is a developer app discovered on disk: its manifest, the
// packed single-file HTML, and where it came from.
type DevApp struct {
	Manifest types.Manifest
	Settings []types.SettingSpec
	Author   string
	Dir      string
	HTML     string
}

// Registry resolves builtin and developer app ids to launch payloads.
type Registry struct {
	builtin map[string]*Builtin
	log     *logging.Logger

	mu      sync.RWMutex
	dev     map[string]*DevApp
	monitor Monitor
}

// NewRegistry creates a registry seeded with the builtin apps.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		builtin: builtins(),
		log:     log.Component("apps"),
		dev:     make(map[string]*DevApp),
	}
}

// SetMonitor attaches the window manager after construction; the
// registry is built before the manager that feeds it.
func (r *Registry) SetMonitor(m Monitor) {
	r.mu.Lock()
	r.monitor = m
	r.mu.Unlock()
}

func (r *Registry) monitorRef() Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.monitor
}

// Resolve returns a launch payload for a locally known app id.
// Builtin bodies are rendered fresh on every call.
func (r *Registry) Resolve(appID string) (*types.LaunchPayload, bool) {
	if b, ok := r.builtin[appID]; ok {
		manifest := b.Manifest
		manifest.HTML = b.Render(r)
		return &types.LaunchPayload{
			Success:  true,
			App:      manifest,
			Metadata: types.LaunchMetadata{CanReload: true},
		}, true
	}

	r.mu.RLock()
	app, ok := r.dev[appID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	manifest := app.Manifest
	manifest.HTML = app.HTML
	return &types.LaunchPayload{
		Success: true,
		App:     manifest,
		Metadata: types.LaunchMetadata{
			Settings:    app.Settings,
			HasSettings: len(app.Settings) > 0,
			CanReload:   true,
		},
	}, true
}

// List returns every locally known manifest without bodies, builtins
// first, then dev apps, each group sorted by id.
func (r *Registry) List() []types.Manifest {
	out := make([]types.Manifest, 0, len(r.builtin))
	for _, b := range r.builtin {
		out = append(out, b.Manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	r.mu.RLock()
	devs := make([]types.Manifest, 0, len(r.dev))
	for _, app := range r.dev {
		m := app.Manifest
		m.HTML = ""
		devs = append(devs, m)
	}
	r.mu.RUnlock()
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })

	return append(out, devs...)
}

// DevApps returns the loaded developer apps sorted by id.
func (r *Registry) DevApps() []*DevApp {
	r.mu.RLock()
	out := make([]*DevApp, 0, len(r.dev))
	for _, app := range r.dev {
		out = append(out, app)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// DevApp returns one loaded developer app.
func (r *Registry) DevApp(appID string) (*DevApp, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.dev[appID]
	return app, ok
}

// replaceDev swaps the whole dev app set; the loader calls it after a
// scan so removed directories disappear from the registry.
func (r *Registry) replaceDev(apps map[string]*DevApp) {
	r.mu.Lock()
	r.dev = apps
	r.mu.Unlock()
}
