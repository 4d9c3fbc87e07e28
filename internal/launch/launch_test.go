package launch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusos/shell/internal/client"
	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/notify"
	"github.com/nimbusos/shell/internal/rewrite"
	"github.com/nimbusos/shell/internal/sandbox"
	"github.com/nimbusos/shell/internal/shared/types"
)

// fakeBackend serves the slice of the OS API the launch path touches.
type fakeBackend struct {
	mu         sync.Mutex
	apps       map[string]types.LaunchPayload
	states     map[string]types.WindowState
	settings   map[string]map[string]string
	prefs      map[string]string
	manifests  []types.Manifest
	launches   int
	installs   int
	uninstalls int
	refreshes  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		apps:     make(map[string]types.LaunchPayload),
		states:   make(map[string]types.WindowState),
		settings: make(map[string]map[string]string),
		prefs:    make(map[string]string),
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/apps/{id}/launch", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.launches++
		payload, ok := f.apps[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success": false, "error": "not found"}`))
			return
		}
		payload.Success = true
		body, _ := sonic.Marshal(payload)
		w.Write(body)
	})

	mux.HandleFunc("GET /api/window-state/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		st, ok := f.states[r.PathValue("id")]
		if !ok {
			w.Write([]byte(`{"success": true, "state": null}`))
			return
		}
		body, _ := sonic.Marshal(map[string]interface{}{"success": true, "state": st})
		w.Write(body)
	})

	mux.HandleFunc("GET /api/app-settings/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body, _ := sonic.Marshal(map[string]interface{}{
			"success":  true,
			"settings": f.settings[r.PathValue("id")],
		})
		w.Write(body)
	})

	mux.HandleFunc("POST /api/app-settings/{id}/{key}", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Value string `json:"value"`
		}
		sonic.Unmarshal(raw, &body)
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		if f.settings[id] == nil {
			f.settings[id] = make(map[string]string)
		}
		f.settings[id][r.PathValue("key")] = body.Value
		w.Write([]byte(`{"success": true}`))
	})

	mux.HandleFunc("POST /api/preferences/{category}/{key}", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Value string `json:"value"`
		}
		sonic.Unmarshal(raw, &body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.prefs[r.PathValue("category")+"/"+r.PathValue("key")] = body.Value
		w.Write([]byte(`{"success": true}`))
	})

	mux.HandleFunc("GET /api/apps", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body, _ := sonic.Marshal(f.manifests)
		w.Write(body)
	})

	mux.HandleFunc("POST /api/user-apps/install", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.installs++
		f.mu.Unlock()
		w.Write([]byte(`{"success": true}`))
	})

	mux.HandleFunc("POST /api/user-apps/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshes++
		f.mu.Unlock()
		w.Write([]byte(`{"success": true}`))
	})

	mux.HandleFunc("DELETE /api/user-apps/uninstall/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.uninstalls++
		f.mu.Unlock()
		w.Write([]byte(`{"success": true}`))
	})

	return mux
}

func (f *fakeBackend) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

type launchEnv struct {
	doc        *dom.Document
	dispatcher *dom.Dispatcher
	center     *notify.Center
	backend    *fakeBackend
	orch       *Orchestrator
}

func newLaunchEnv(t *testing.T) *launchEnv {
	t.Helper()
	doc, err := dom.NewDocument(`<html><head></head><body><div id="desktop"></div></body></html>`)
	require.NoError(t, err)

	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	log := logging.NewNop()
	cli := client.New(config.BackendConfig{URL: srv.URL, Timeout: 5 * time.Second}, log, nil)
	center := notify.NewCenter(log, nil)
	dispatcher := dom.NewDispatcher()
	mounter := sandbox.NewMounter(
		config.SandboxConfig{MountTimeout: 2 * time.Second, EnableConsole: true},
		doc, dispatcher, log, nil)

	return &launchEnv{
		doc:        doc,
		dispatcher: dispatcher,
		center:     center,
		backend:    backend,
		orch:       New(doc, mounter, rewrite.New(), cli, center, "", log, nil),
	}
}

func (e *launchEnv) addApp(id string, p types.LaunchPayload) {
	e.backend.mu.Lock()
	p.App.ID = id
	e.backend.apps[id] = p
	e.backend.mu.Unlock()
}

func (e *launchEnv) hasNotification(title string) bool {
	for _, n := range e.center.Recent(0) {
		if n.Title == title {
			return true
		}
	}
	return false
}

func TestLaunchBuildsWindow(t *testing.T) {
	env := newLaunchEnv(t)
	env.addApp("notes", types.LaunchPayload{
		App: types.Manifest{
			Name: "Notes",
			Icon: "fas fa-note-sticky",
			Type: types.TypeBuiltin,
			HTML: `<div id="msg">loading</div>
<script>
document.getElementById("msg").textContent = "ready";
function greet() { return "hi"; }
</script>`,
		},
	})
	env.backend.mu.Lock()
	env.backend.states["notes"] = types.WindowState{X: 10, Y: 20, Width: 640, Height: 480}
	env.backend.mu.Unlock()

	prep, err := env.orch.Launch(context.Background(), "notes")
	require.NoError(t, err)
	require.NotNil(t, prep)

	assert.Equal(t, "notes", prep.AppID)
	assert.Equal(t, "Notes", prep.Title)
	assert.Equal(t, types.TypeBuiltin, prep.Type)
	assert.False(t, prep.Background)
	require.NotNil(t, prep.State)
	assert.Equal(t, types.WindowState{X: 10, Y: 20, Width: 640, Height: 480}, *prep.State)
	require.NotNil(t, prep.Handle)

	root := env.doc.QuerySelector(`[data-shell-app="notes"]`)
	require.NotNil(t, root)
	assert.Equal(t, "Notes", root.QuerySelector(".window-title span").Text())
	assert.Len(t, root.QuerySelectorAll(".resize-handle"), 8)

	// The mounted script already ran against the content area.
	msg := root.QuerySelector(".window-content #msg")
	require.NotNil(t, msg)
	assert.Equal(t, "ready", msg.Text())

	h, ok := prep.Handle.(*sandbox.Handle)
	require.True(t, ok)
	out, err := h.Call("greet")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestLaunchNotFound(t *testing.T) {
	env := newLaunchEnv(t)

	prep, err := env.orch.Launch(context.Background(), "ghost")
	require.ErrorIs(t, err, client.ErrNotFound)
	assert.Nil(t, prep)
	assert.True(t, env.hasNotification("App not found"))
	assert.Nil(t, env.doc.QuerySelector(`[data-shell-app="ghost"]`))
}

func TestLaunchSystemServiceRefused(t *testing.T) {
	env := newLaunchEnv(t)
	env.addApp("clipboardd", types.LaunchPayload{
		App: types.Manifest{Name: "Clipboard Daemon", Type: types.TypeSystemService},
	})

	prep, err := env.orch.Launch(context.Background(), "clipboardd")
	require.ErrorIs(t, err, ErrSystemService)
	assert.Nil(t, prep)
	assert.True(t, env.hasNotification("System service"))
	assert.Nil(t, env.doc.QuerySelector(`[data-shell-app="clipboardd"]`))
}

func TestLaunchUserAppBlocked(t *testing.T) {
	env := newLaunchEnv(t)
	env.addApp("sneaky", types.LaunchPayload{
		App: types.Manifest{
			Name: "Sneaky",
			Type: types.TypeUserApp,
			HTML: `<button onclick="fetch('/api/preferences/reset')">win</button>`,
		},
	})

	prep, err := env.orch.Launch(context.Background(), "sneaky")
	require.NoError(t, err)
	require.NotNil(t, prep)

	content := env.doc.QuerySelector(`[data-shell-app="sneaky"] .window-content`)
	require.NotNil(t, content)
	assert.Contains(t, content.InnerHTML(), "Access Denied")
	assert.Contains(t, content.InnerHTML(), "/api/preferences/reset")
	assert.True(t, env.hasNotification("App blocked"))
}

func TestLaunchUserAppPlaceholders(t *testing.T) {
	env := newLaunchEnv(t)
	env.addApp("weather", types.LaunchPayload{
		App: types.Manifest{
			Name: "Weather",
			Type: types.TypeUserApp,
			HTML: `<div id="loc">{{ city }} in {{units}} ({{missing}})</div>`,
		},
		Metadata: types.LaunchMetadata{Settings: []types.SettingSpec{
			{Key: "city", Value: "Paris"},
			{Key: "units", Value: "metric"},
		}},
	})
	env.backend.mu.Lock()
	env.backend.settings["weather"] = map[string]string{"city": "Oslo"}
	env.backend.mu.Unlock()

	_, err := env.orch.Launch(context.Background(), "weather")
	require.NoError(t, err)

	loc := env.doc.QuerySelector(`[data-shell-app="weather"] #loc`)
	require.NotNil(t, loc)
	assert.Equal(t, "Oslo in metric ({{missing}})", loc.Text())
}

func TestLaunchScriptErrorDegrades(t *testing.T) {
	env := newLaunchEnv(t)
	env.addApp("broken", types.LaunchPayload{
		App: types.Manifest{
			Name: "Broken",
			Type: types.TypeBuiltin,
			HTML: `<div id="x"></div><script>throw new Error("boom");</script>`,
		},
	})

	prep, err := env.orch.Launch(context.Background(), "broken")
	require.NoError(t, err)
	require.NotNil(t, prep)
	require.NotNil(t, prep.Handle)

	assert.NotNil(t, env.doc.QuerySelector(`[data-shell-app="broken"]`))
	assert.True(t, env.hasNotification("App error"))
}

func TestLaunchLocalResolverWins(t *testing.T) {
	env := newLaunchEnv(t)
	env.orch.SetLocal(resolverFunc(func(appID string) (*types.LaunchPayload, bool) {
		if appID != "system-settings" {
			return nil, false
		}
		return &types.LaunchPayload{App: types.Manifest{
			ID:   appID,
			Name: "Settings",
			Type: types.TypeSettings,
			HTML: `<div id="panel"></div>`,
		}}, true
	}))

	prep, err := env.orch.Launch(context.Background(), "system-settings")
	require.NoError(t, err)
	assert.Equal(t, "Settings", prep.Title)
	assert.Equal(t, 0, env.backend.launchCount())
}

func TestLaunchStateFallsBackToPayload(t *testing.T) {
	env := newLaunchEnv(t)
	embedded := &types.WindowState{X: 5, Y: 6, Width: 500, Height: 400}
	env.addApp("notes", types.LaunchPayload{
		App:         types.Manifest{Name: "Notes", Type: types.TypeBuiltin, HTML: `<div></div>`},
		WindowState: embedded,
	})

	prep, err := env.orch.Launch(context.Background(), "notes")
	require.NoError(t, err)
	require.NotNil(t, prep.State)
	assert.Equal(t, *embedded, *prep.State)
}

type resolverFunc func(appID string) (*types.LaunchPayload, bool)

func (f resolverFunc) Resolve(appID string) (*types.LaunchPayload, bool) { return f(appID) }

type fakeScaler struct {
	mu     sync.Mutex
	scales []float64
}

func (s *fakeScaler) SetAppScale(scale float64) {
	s.mu.Lock()
	s.scales = append(s.scales, scale)
	s.mu.Unlock()
}

func TestLaunchBindsInlineHandlers(t *testing.T) {
	env := newLaunchEnv(t)
	env.addApp("counter", types.LaunchPayload{
		App: types.Manifest{
			Name: "Counter",
			Type: types.TypeBuiltin,
			HTML: `<button id="inc" onclick="bump()">+</button>
<button id="noisy" onclick="alert('x'); steal()">x</button>
<div id="n">0</div>
<script>function bump(ev) { getElementById("n").textContent = "bumped:" + ev.type; }</script>`,
		},
	})

	_, err := env.orch.Launch(context.Background(), "counter")
	require.NoError(t, err)

	root := env.doc.QuerySelector(`[data-shell-app="counter"]`)
	require.NotNil(t, root)

	// Handler text never survives into the view, bound or not.
	inc := root.QuerySelector("#inc")
	require.NotNil(t, inc)
	_, has := inc.Attr("onclick")
	assert.False(t, has)
	noisy := root.QuerySelector("#noisy")
	require.NotNil(t, noisy)
	_, has = noisy.Attr("onclick")
	assert.False(t, has)

	n := env.dispatcher.Dispatch(dom.Event{Type: "click", Target: inc.Ref()})
	assert.Equal(t, 1, n)
	assert.Equal(t, "bumped:click", root.QuerySelector("#n").Text())

	// A compound expression is dropped rather than evaluated.
	assert.Equal(t, 0, env.dispatcher.Dispatch(dom.Event{Type: "click", Target: noisy.Ref()}))
}

func TestParseInlineHandler(t *testing.T) {
	cases := []struct {
		value string
		name  string
		ok    bool
	}{
		{"bump", "bump", true},
		{"bump()", "bump", true},
		{"bump(event)", "bump", true},
		{"bump();", "bump", true},
		{" bump ( event ) ; ", "bump", true},
		{"$go_2()", "$go_2", true},
		{"alert('x'); steal()", "", false},
		{"obj.method()", "", false},
		{"bump(1)", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		name, ok := parseInlineHandler(tc.value)
		assert.Equal(t, tc.ok, ok, "value %q", tc.value)
		assert.Equal(t, tc.name, name, "value %q", tc.value)
	}
}

func TestLaunchCarriesAppScale(t *testing.T) {
	env := newLaunchEnv(t)
	env.addApp("scaled", types.LaunchPayload{
		App:         types.Manifest{Name: "Scaled", Type: types.TypeBuiltin, HTML: `<div></div>`},
		Preferences: types.LaunchPreferences{AppScale: 125},
	})
	env.addApp("plain", types.LaunchPayload{
		App: types.Manifest{Name: "Plain", Type: types.TypeBuiltin, HTML: `<div></div>`},
	})

	prep, err := env.orch.Launch(context.Background(), "scaled")
	require.NoError(t, err)
	assert.InDelta(t, 1.25, prep.Scale, 1e-9)

	prep, err = env.orch.Launch(context.Background(), "plain")
	require.NoError(t, err)
	assert.Zero(t, prep.Scale, "a payload without preferences must not reset the scale")
}

func TestSettingsAppScaleWrite(t *testing.T) {
	env := newLaunchEnv(t)
	scaler := &fakeScaler{}
	env.orch.SetScaler(scaler)
	env.addApp("system-settings", types.LaunchPayload{
		App: types.Manifest{
			Name: "Settings",
			Type: types.TypeSettings,
			HTML: `<div></div><script>nimbus.setSetting("app_scale", "125"); nimbus.setSetting("theme", "dark");</script>`,
		},
	})

	_, err := env.orch.Launch(context.Background(), "system-settings")
	require.NoError(t, err)

	env.backend.mu.Lock()
	pref := env.backend.prefs["ui/app_scale"]
	stored := env.backend.settings["system-settings"]["app_scale"]
	themePref, themePromoted := env.backend.prefs["ui/theme"]
	env.backend.mu.Unlock()

	assert.Equal(t, "125", pref)
	assert.Equal(t, "125", stored)
	assert.False(t, themePromoted, "only app_scale is promoted, got %q", themePref)

	scaler.mu.Lock()
	defer scaler.mu.Unlock()
	require.Len(t, scaler.scales, 1)
	assert.InDelta(t, 1.25, scaler.scales[0], 1e-9)
}

func TestScaleWriteIgnoredForOrdinaryApps(t *testing.T) {
	env := newLaunchEnv(t)
	scaler := &fakeScaler{}
	env.orch.SetScaler(scaler)
	env.addApp("notes", types.LaunchPayload{
		App: types.Manifest{
			Name: "Notes",
			Type: types.TypeBuiltin,
			HTML: `<div></div><script>nimbus.setSetting("app_scale", "50");</script>`,
		},
	})

	_, err := env.orch.Launch(context.Background(), "notes")
	require.NoError(t, err)

	env.backend.mu.Lock()
	_, promoted := env.backend.prefs["ui/app_scale"]
	env.backend.mu.Unlock()
	assert.False(t, promoted)

	scaler.mu.Lock()
	defer scaler.mu.Unlock()
	assert.Empty(t, scaler.scales)
}

func TestAppManagementThroughBridge(t *testing.T) {
	env := newLaunchEnv(t)
	env.backend.mu.Lock()
	env.backend.manifests = []types.Manifest{
		{ID: "todo", Name: "Todo", Type: types.TypeUserApp, Version: "1.0.0"},
		{ID: "system-settings", Name: "Settings", Type: types.TypeSettings},
	}
	env.backend.mu.Unlock()
	env.addApp("manager", types.LaunchPayload{
		App: types.Manifest{
			Name: "Manager",
			Type: types.TypeBuiltin,
			HTML: `<div id="out"></div>
<script>
var apps = nimbus.apps.list();
nimbus.apps.install("todo.napp", "pkg");
nimbus.apps.uninstall("todo");
getElementById("out").textContent = apps.length + ":" + apps[0].id;
</script>`,
		},
	})

	_, err := env.orch.Launch(context.Background(), "manager")
	require.NoError(t, err)

	out := env.doc.QuerySelector(`[data-shell-app="manager"] #out`)
	require.NotNil(t, out)
	assert.Equal(t, "1:todo", out.Text(), "only user apps are listed")

	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	assert.Equal(t, 1, env.backend.installs)
	assert.Equal(t, 1, env.backend.uninstalls)
	assert.Equal(t, 2, env.backend.refreshes, "install and uninstall each rescan")
}

func TestAppManagementDeniedForUserApps(t *testing.T) {
	env := newLaunchEnv(t)
	env.addApp("wannabe", types.LaunchPayload{
		App: types.Manifest{
			Name: "Wannabe",
			Type: types.TypeUserApp,
			HTML: `<div id="out"></div>
<script>getElementById("out").textContent = String(nimbus.apps.refresh()) + "," + String(nimbus.apps.install("x", "y"));</script>`,
		},
	})

	_, err := env.orch.Launch(context.Background(), "wannabe")
	require.NoError(t, err)

	out := env.doc.QuerySelector(`[data-shell-app="wannabe"] #out`)
	require.NotNil(t, out)
	assert.Equal(t, "false,false", out.Text())

	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	assert.Zero(t, env.backend.installs)
	assert.Zero(t, env.backend.refreshes)
}

func TestExtractScripts(t *testing.T) {
	markup := `<style>.a { color: red; }</style>
<div class="a">hello</div>
<script>first();</script>
<script src="https://cdn.example.com/lib.js"></script>
<script>second();</script>`

	scripts, external, rest, err := extractScripts(markup)
	require.NoError(t, err)

	require.Len(t, scripts, 2)
	assert.Equal(t, "first();", strings.TrimSpace(scripts[0]))
	assert.Equal(t, "second();", strings.TrimSpace(scripts[1]))
	assert.Equal(t, []string{"https://cdn.example.com/lib.js"}, external)

	assert.Contains(t, rest, `<style>.a { color: red; }</style>`)
	assert.Contains(t, rest, `<div class="a">hello</div>`)
	assert.NotContains(t, rest, "<script")
}

func TestExtractScriptsPlainMarkup(t *testing.T) {
	scripts, external, rest, err := extractScripts(`<p>static</p>`)
	require.NoError(t, err)
	assert.Empty(t, scripts)
	assert.Empty(t, external)
	assert.Contains(t, rest, "<p>static</p>")
}

func TestExpandPlaceholders(t *testing.T) {
	specs := []types.SettingSpec{
		{Key: "city", Value: "Paris"},
		{Key: "units", Value: "metric"},
	}
	stored := map[string]string{"city": "Oslo"}

	cases := []struct {
		name   string
		markup string
		want   string
	}{
		{"stored wins", "at {{city}}", "at Oslo"},
		{"default fallback", "in {{units}}", "in metric"},
		{"trimmed key", "at {{  city  }}", "at Oslo"},
		{"unknown verbatim", "see {{nope}}", "see {{nope}}"},
		{"no placeholders", "plain text", "plain text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, expandPlaceholders(tc.markup, stored, specs))
		})
	}
}

func TestWindowMarkupEscapes(t *testing.T) {
	markup := windowMarkup(`x"y`, `<b>Title</b>`, "fas fa-x")
	assert.NotContains(t, markup, `<b>`)
	assert.Contains(t, markup, "&lt;b&gt;Title&lt;/b&gt;")
	assert.NotContains(t, markup, `data-shell-app="x"y"`)
}
