package launch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/client"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/notify"
	"github.com/nimbusos/shell/internal/sandbox"
	"github.com/nimbusos/shell/internal/shared/types"
)

// bridgeCallTimeout bounds the synchronous backend calls an app script
// makes through its API object. Scripts block on these; a hung backend
// must not hang the app forever.
const bridgeCallTimeout = 5 * time.Second

// Reloader is the window-manager slice the reload path needs. Bound
// late because the manager is constructed around the orchestrator.
type Reloader interface {
	CloseApp(ctx context.Context, appID string) error
	OpenApp(ctx context.Context, appID string) error
}

// Scaler is the window-manager slice the settings app drives when the
// user changes the scale. Bound late, like Reloader.
type Scaler interface {
	SetAppScale(scale float64)
}

// errNotPermitted answers privileged bridge calls from apps that do
// not hold the privilege.
var errNotPermitted = errors.New("not permitted for this app")

// appBridge backs one mounted app's API object: settings through the
// app-settings endpoints, toasts through the notification center, VFS
// through the backend client, and a websocket channel to the backend.
// Shell-owned apps additionally get the app-management surface.
type appBridge struct {
	appID  string
	cli    *client.Client
	center *notify.Center
	orch   *Orchestrator
	wsURL  string
	log    *logging.Logger

	// privileged grants the user-app management calls; settingsApp
	// additionally routes scale writes to the global preference.
	privileged  bool
	settingsApp bool

	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *Orchestrator) newBridge(appID string, appType types.AppType) *appBridge {
	return &appBridge{
		appID:       appID,
		cli:         o.cli,
		center:      o.center,
		orch:        o,
		wsURL:       o.backendWS,
		log:         o.log.App(appID),
		privileged:  appType == types.TypeBuiltin || appType == types.TypeSettings,
		settingsApp: appType == types.TypeSettings,
	}
}

func bridgeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), bridgeCallTimeout)
}

func (b *appBridge) Setting(key string) (string, bool) {
	ctx, cancel := bridgeCtx()
	defer cancel()
	v, err := b.cli.GetAppSetting(ctx, b.appID, key)
	if err != nil {
		b.log.Debug("setting miss", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, true
}

func (b *appBridge) SetSetting(key, value string) error {
	ctx, cancel := bridgeCtx()
	defer cancel()
	if err := b.cli.SetAppSetting(ctx, b.appID, key, value); err != nil {
		return err
	}
	if b.settingsApp && key == "app_scale" {
		b.applyScale(ctx, value)
	}
	return nil
}

// applyScale promotes an app_scale write by the settings app into the
// global ui preference and pushes it to live windows. The per-app
// setting is already stored; scale failures degrade to a log line so
// the save itself still succeeds.
func (b *appBridge) applyScale(ctx context.Context, value string) {
	pct, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || pct <= 0 {
		b.log.Warn("ignoring bad app scale", zap.String("value", value))
		return
	}
	if err := b.cli.SetPreference(ctx, "ui", "app_scale", value); err != nil {
		b.log.Warn("scale preference not persisted", zap.Error(err))
	}
	if s := b.orch.scalerRef(); s != nil {
		s.SetAppScale(pct / 100)
	}
}

func (b *appBridge) RemoveSetting(key string) error {
	ctx, cancel := bridgeCtx()
	defer cancel()
	return b.cli.DeleteAppSetting(ctx, b.appID, key)
}

func (b *appBridge) ClearSettings() error {
	ctx, cancel := bridgeCtx()
	defer cancel()
	all, err := b.cli.GetAppSettings(ctx, b.appID)
	if err != nil {
		return err
	}
	for key := range all {
		if err := b.cli.DeleteAppSetting(ctx, b.appID, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *appBridge) Notify(level, title, message string) {
	switch notify.Level(level) {
	case notify.LevelError:
		b.center.Error(title, message, b.appID)
	case notify.LevelWarning:
		b.center.Warn(title, message, b.appID)
	default:
		b.center.Info(title, message, b.appID)
	}
}

func (b *appBridge) ShowModal(title, message string) {
	b.center.Info(title, message, b.appID)
}

func (b *appBridge) VFSRead(p string) (string, error) {
	ctx, cancel := bridgeCtx()
	defer cancel()
	file, err := b.cli.ReadFile(ctx, p)
	if err != nil {
		return "", err
	}
	return file.Content, nil
}

func (b *appBridge) VFSWrite(p, content string) error {
	ctx, cancel := bridgeCtx()
	defer cancel()
	dir, name := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "/"
	}
	return b.cli.WriteFile(ctx, dir, name, content)
}

func (b *appBridge) VFSList(p string) ([]string, error) {
	ctx, cancel := bridgeCtx()
	defer cancel()
	entries, err := b.cli.ListDir(ctx, p)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

func (b *appBridge) VFSUpload(parent, name, content string) error {
	ctx, cancel := bridgeCtx()
	defer cancel()
	return b.cli.Upload(ctx, parent, name, []byte(content))
}

func (b *appBridge) AppsList() ([]sandbox.AppSummary, error) {
	if !b.privileged {
		return nil, errNotPermitted
	}
	ctx, cancel := bridgeCtx()
	defer cancel()
	manifests, err := b.cli.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	var out []sandbox.AppSummary
	for _, m := range manifests {
		if m.Type != types.TypeUserApp {
			continue
		}
		out = append(out, sandbox.AppSummary{
			ID:      m.ID,
			Name:    m.Name,
			Icon:    m.Icon,
			Type:    string(m.Type),
			Version: m.Version,
		})
	}
	return out, nil
}

func (b *appBridge) AppsInstall(filename, pkg string) error {
	if !b.privileged {
		return errNotPermitted
	}
	ctx, cancel := bridgeCtx()
	defer cancel()
	if err := b.cli.InstallApp(ctx, filename, []byte(pkg)); err != nil {
		return err
	}
	return b.cli.RefreshApps(ctx)
}

func (b *appBridge) AppsUninstall(appID string) error {
	if !b.privileged {
		return errNotPermitted
	}
	ctx, cancel := bridgeCtx()
	defer cancel()
	if err := b.cli.UninstallApp(ctx, appID); err != nil {
		return err
	}
	return b.cli.RefreshApps(ctx)
}

func (b *appBridge) AppsRefresh() error {
	if !b.privileged {
		return errNotPermitted
	}
	ctx, cancel := bridgeCtx()
	defer cancel()
	return b.cli.RefreshApps(ctx)
}

// SocketConnect dials the backend stream. A second connect while the
// first connection is live is a no-op.
func (b *appBridge) SocketConnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	if b.wsURL == "" {
		return fmt.Errorf("socket: no backend stream configured")
	}

	ctx, cancel := bridgeCtx()
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return fmt.Errorf("socket connect: %w", err)
	}
	b.conn = conn
	go b.drain(conn)
	return nil
}

// drain consumes inbound frames so control frames keep flowing. The
// app socket surface is send-only; inbound payloads are logged and
// dropped.
func (b *appBridge) drain(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
			}
			b.mu.Unlock()
			return
		}
		b.log.Debug("socket frame dropped", zap.Int("bytes", len(msg)))
	}
}

func (b *appBridge) SocketSend(data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("socket: not connected")
	}
	return b.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

func (b *appBridge) SocketDisconnect() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
}

func (b *appBridge) SocketConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Reload closes and reopens the app. Runs detached: the request comes
// from inside the app's own script, and a synchronous close would tear
// down the runtime that is still executing.
func (b *appBridge) Reload() {
	r := b.orch.reloaderRef()
	if r == nil {
		b.log.Warn("reload requested before manager wiring")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.CloseApp(ctx, b.appID); err != nil {
			b.log.Warn("reload close failed", zap.Error(err))
			return
		}
		if err := r.OpenApp(ctx, b.appID); err != nil {
			b.log.Warn("reload open failed", zap.Error(err))
			b.center.Error("Reload failed", "The app could not be reopened.", b.appID)
		}
	}()
}
