package launch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/client"
	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/notify"
	"github.com/nimbusos/shell/internal/rewrite"
	"github.com/nimbusos/shell/internal/sandbox"
	"github.com/nimbusos/shell/internal/shared/types"
	"github.com/nimbusos/shell/internal/window"
)

// ErrSystemService marks a launch refused because the app runs
// headless.
var ErrSystemService = errors.New("system service refuses a window")

// Resolver serves locally hosted apps (builtins, dev apps) before the
// backend is consulted.
type Resolver interface {
	Resolve(appID string) (*types.LaunchPayload, bool)
}

// Orchestrator implements window.Launcher: it turns an app id into a
// Prepared window with a mounted sandbox.
type Orchestrator struct {
	doc       *dom.Document
	mounter   *sandbox.Mounter
	rewriter  rewrite.Rewriter
	cli       *client.Client
	center    *notify.Center
	sanitizer *Sanitizer
	backendWS string

	mu       sync.Mutex
	local    Resolver
	reloader Reloader
	scaler   Scaler

	log     *logging.Logger
	metrics *monitoring.Metrics
}

// New creates the orchestrator. backendWS is the backend stream URL
// handed to app sockets, empty when the backend exposes none.
func New(doc *dom.Document, mounter *sandbox.Mounter, rw rewrite.Rewriter, cli *client.Client, center *notify.Center, backendWS string, log *logging.Logger, metrics *monitoring.Metrics) *Orchestrator {
	return &Orchestrator{
		doc:       doc,
		mounter:   mounter,
		rewriter:  rw,
		cli:       cli,
		center:    center,
		sanitizer: NewSanitizer(),
		backendWS: backendWS,
		log:       log.Component("launch"),
		metrics:   metrics,
	}
}

// SetLocal installs the local app registry consulted before the
// backend.
func (o *Orchestrator) SetLocal(r Resolver) {
	o.mu.Lock()
	o.local = r
	o.mu.Unlock()
}

// SetReloader wires the window manager back in for app-initiated
// reloads. Called once during server assembly.
func (o *Orchestrator) SetReloader(r Reloader) {
	o.mu.Lock()
	o.reloader = r
	o.mu.Unlock()
}

func (o *Orchestrator) reloaderRef() Reloader {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reloader
}

// SetScaler wires the window manager in for app-scale changes made
// through the settings app. Called once during server assembly.
func (o *Orchestrator) SetScaler(s Scaler) {
	o.mu.Lock()
	o.scaler = s
	o.mu.Unlock()
}

func (o *Orchestrator) scalerRef() Scaler {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scaler
}

// Launch fetches, prepares, and mounts one app.
func (o *Orchestrator) Launch(ctx context.Context, appID string) (*window.Prepared, error) {
	start := time.Now()
	prep, status, err := o.launch(ctx, appID)
	if o.metrics != nil {
		o.metrics.RecordLaunch(status, time.Since(start))
	}
	return prep, err
}

func (o *Orchestrator) launch(ctx context.Context, appID string) (*window.Prepared, string, error) {
	payload, err := o.fetch(ctx, appID)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			o.center.Error("App not found", fmt.Sprintf("No app with id %q is installed.", appID), appID)
			return nil, "not_found", err
		}
		o.center.Error("Launch failed", "The app backend could not be reached.", appID)
		return nil, "error", err
	}

	app := payload.App
	title := app.Name
	if title == "" {
		title = appID
	}

	if !app.Type.Windowed() {
		o.center.Warn("System service", title+" runs in the background and has no window.", appID)
		return nil, "refused", fmt.Errorf("launch %s: %w", appID, ErrSystemService)
	}

	markup := app.HTML
	if app.Type == types.TypeUserApp {
		var blocked []string
		markup, blocked = o.sanitizer.Sanitize(appID, markup)
		if len(blocked) > 0 {
			o.log.Warn("user app blocked",
				zap.String("app_id", appID),
				zap.Strings("endpoints", blocked))
			o.center.Warn("App blocked", title+" tried to call restricted endpoints.", appID)
		} else if strings.Contains(markup, "{{") {
			markup = o.expandSettings(ctx, appID, markup, payload.Metadata.Settings)
		}
	}

	scripts, external, rest, err := extractScripts(markup)
	if err != nil {
		o.center.Error("Launch failed", title+" has malformed markup.", appID)
		return nil, "error", fmt.Errorf("launch %s: %w", appID, err)
	}
	if len(external) > 0 {
		o.log.Warn("external scripts dropped",
			zap.String("app_id", appID),
			zap.Strings("src", external))
	}

	var combined strings.Builder
	var names []string
	seen := make(map[string]struct{})
	for i, src := range scripts {
		if i > 0 {
			// Statement separator, in case a script ends without one.
			combined.WriteString("\n;\n")
		}
		combined.WriteString(o.rewriter.Rewrite(src))
		for _, fn := range o.rewriter.Functions(src) {
			if _, dup := seen[fn]; dup {
				continue
			}
			seen[fn] = struct{}{}
			names = append(names, fn)
		}
	}

	state := o.resolveState(ctx, appID, payload.WindowState)

	root, content, err := o.buildWindow(appID, title, app.Icon)
	if err != nil {
		return nil, "error", fmt.Errorf("launch %s: %w", appID, err)
	}
	if rest != "" {
		content.SetInnerHTML(rest)
	}

	status := "ok"
	handle, merr := o.mounter.Mount(ctx, appID, combined.String(), names, content, o.newBridge(appID, app.Type))
	if merr != nil {
		status = "degraded"
		o.log.Error("app script failed",
			zap.String("app_id", appID),
			zap.Error(merr))
		o.center.Error("App error", title+" failed to start; the window may be blank.", appID)
	}
	if handle != nil {
		// The registry is captured even on a degraded mount, so
		// whatever functions did define still answer clicks.
		o.bindInlineHandlers(appID, content, handle)
	}

	prep := &window.Prepared{
		AppID:      appID,
		Title:      title,
		Icon:       app.Icon,
		Type:       app.Type,
		Background: app.Background,
		State:      state,
		Handle:     handle,
		Root:       root,
	}
	if payload.Preferences.AppScale > 0 {
		// Only backend payloads sample preferences; a zero value means
		// none were carried, not a request for 100%.
		prep.Scale = payload.Preferences.AppScale.Factor()
	}
	return prep, status, nil
}

func (o *Orchestrator) fetch(ctx context.Context, appID string) (*types.LaunchPayload, error) {
	o.mu.Lock()
	local := o.local
	o.mu.Unlock()

	if local != nil {
		if payload, ok := local.Resolve(appID); ok {
			o.log.Debug("resolved locally", zap.String("app_id", appID))
			return payload, nil
		}
	}
	return o.cli.Launch(ctx, appID)
}

func (o *Orchestrator) expandSettings(ctx context.Context, appID, markup string, specs []types.SettingSpec) string {
	stored, err := o.cli.GetAppSettings(ctx, appID)
	if err != nil {
		o.log.Warn("app settings unavailable, using defaults",
			zap.String("app_id", appID),
			zap.Error(err))
		stored = nil
	}
	return expandPlaceholders(markup, stored, specs)
}

// resolveState prefers the dedicated window-state endpoint over the
// snapshot embedded in the launch payload; the endpoint reflects saves
// made after the payload was assembled.
func (o *Orchestrator) resolveState(ctx context.Context, appID string, embedded *types.WindowState) *types.WindowState {
	st, err := o.cli.GetWindowState(ctx, appID)
	if err != nil {
		o.log.Debug("window state unavailable",
			zap.String("app_id", appID),
			zap.Error(err))
		return embedded
	}
	if st == nil {
		return embedded
	}
	return st
}

func (o *Orchestrator) buildWindow(appID, title, icon string) (root, content *dom.Element, err error) {
	desktop := o.doc.GetElementByID("desktop")
	if desktop == nil {
		return nil, nil, errors.New("desktop container missing")
	}
	roots := desktop.AppendHTML(windowMarkup(appID, title, icon))
	if len(roots) == 0 {
		return nil, nil, errors.New("window markup produced no nodes")
	}
	root = roots[0]
	content = root.QuerySelector(".window-content")
	if content == nil {
		return nil, nil, errors.New("window content area missing")
	}
	return root, content, nil
}
