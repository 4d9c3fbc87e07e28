package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/logging"
)

const shellMarkup = `<html><head><title>shell</title></head><body>
<div id="desktop">
<div class="window" data-shell-app="app-a"><div class="window-content" id="root-a">
<button id="btn">Go</button><div id="out"></div>
</div></div>
<div class="window" data-shell-app="app-b"><div class="window-content" id="root-b">
<div id="out"></div>
</div></div>
</div>
</body></html>`

type mountEnv struct {
	doc        *dom.Document
	dispatcher *dom.Dispatcher
	mounter    *Mounter
}

func newEnv(t *testing.T) *mountEnv {
	t.Helper()
	doc, err := dom.NewDocument(shellMarkup)
	require.NoError(t, err)

	dispatcher := dom.NewDispatcher()
	cfg := config.SandboxConfig{MountTimeout: 2 * time.Second, EnableConsole: true}
	return &mountEnv{
		doc:        doc,
		dispatcher: dispatcher,
		mounter:    NewMounter(cfg, doc, dispatcher, logging.NewNop(), nil),
	}
}

func (e *mountEnv) mount(t *testing.T, appID, rootID, script string, names ...string) *Handle {
	t.Helper()
	root := e.doc.GetElementByID(rootID)
	require.NotNil(t, root)

	h, err := e.mounter.Mount(context.Background(), appID, script, names, root, NopBridge{})
	require.NoError(t, err)
	return h
}

func (e *mountEnv) outText(rootID string) string {
	return e.doc.GetElementByID(rootID).QuerySelector("#out").Text()
}

type recordingBridge struct {
	NopBridge
	mu        sync.Mutex
	settings  map[string]string
	notes     []string
	reloads   int
	installed []AppSummary
	appCalls  []string
	uploads   []string
}

func (b *recordingBridge) Setting(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.settings[key]
	return v, ok
}

func (b *recordingBridge) SetSetting(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.settings == nil {
		b.settings = make(map[string]string)
	}
	b.settings[key] = value
	return nil
}

func (b *recordingBridge) Notify(level, title, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = append(b.notes, level+":"+title+":"+message)
}

func (b *recordingBridge) Reload() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloads++
}

func (b *recordingBridge) AppsList() ([]AppSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appCalls = append(b.appCalls, "list")
	return b.installed, nil
}

func (b *recordingBridge) AppsInstall(filename, pkg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appCalls = append(b.appCalls, "install:"+filename)
	return nil
}

func (b *recordingBridge) AppsUninstall(appID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appCalls = append(b.appCalls, "uninstall:"+appID)
	return nil
}

func (b *recordingBridge) AppsRefresh() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appCalls = append(b.appCalls, "refresh")
	return nil
}

func (b *recordingBridge) VFSUpload(parent, name, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, parent+"|"+name+"|"+content)
	return nil
}

func TestMountCapturesFunctions(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `
function greet(name) { return "hi " + name; }
function answer() { return 42; }
`, "greet", "answer")

	assert.ElementsMatch(t, []string{"greet", "answer"}, h.Functions())

	got, err := h.Call("greet", "bob")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", got)

	num, err := h.Call("answer")
	require.NoError(t, err)
	assert.EqualValues(t, 42, num)
}

func TestCallUnknownFunction(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `function greet() { return 1; }`, "greet")

	_, err := h.Call("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRegistryIsolation(t *testing.T) {
	e := newEnv(t)
	a := e.mount(t, "app-a", "root-a", `function current() { return "alpha"; }`, "current")
	b := e.mount(t, "app-b", "root-b", `function current() { return "beta"; }`, "current")

	got, err := a.Call("current")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got)

	got, err = b.Call("current")
	require.NoError(t, err)
	assert.Equal(t, "beta", got)
}

func TestQueriesScopedToWindow(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `getElementById("out").textContent = "from-a";`)

	assert.Equal(t, "from-a", e.outText("root-a"))
	assert.Equal(t, "", e.outText("root-b"), "the other window's #out must stay untouched")
}

func TestQuerySelectorAllScoped(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `
const divs = querySelectorAll("div");
getElementById("out").textContent = "count=" + divs.length;
`)
	assert.Equal(t, "count=1", e.outText("root-a"))
}

func TestMountScriptErrorDegrades(t *testing.T) {
	e := newEnv(t)
	root := e.doc.GetElementByID("root-a")

	h, err := e.mounter.Mount(context.Background(), "app-a", `
function render() { return "still here"; }
throw new Error("boom");
`, []string{"render"}, root, NopBridge{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	require.NotNil(t, h, "a failed script still yields a usable handle")

	// Declarations hoist above the failure point, so the registry
	// keeps what the script managed to define.
	got, callErr := h.Call("render")
	require.NoError(t, callErr)
	assert.Equal(t, "still here", got)
}

func TestMountSyntaxError(t *testing.T) {
	e := newEnv(t)
	root := e.doc.GetElementByID("root-a")

	h, err := e.mounter.Mount(context.Background(), "app-a", `function ((({`, []string{"render"}, root, NopBridge{})
	require.Error(t, err)
	require.NotNil(t, h)
	assert.Empty(t, h.Functions())
}

func TestWatchdogStopsRunawayScript(t *testing.T) {
	e := newEnv(t)
	cfg := config.SandboxConfig{MountTimeout: 100 * time.Millisecond, EnableConsole: false}
	m := NewMounter(cfg, e.doc, e.dispatcher, logging.NewNop(), nil)
	root := e.doc.GetElementByID("root-a")

	start := time.Now()
	_, err := m.Mount(context.Background(), "app-a", `while (true) {}`, nil, root, NopBridge{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHostGlobalsScrubbed(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `
getElementById("out").textContent = typeof require + "," + typeof process + "," + typeof module;
`)
	assert.Equal(t, "undefined,undefined,undefined", e.outText("root-a"))
}

func TestConsoleAvailable(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `
console.log("hello", 1, true);
console.warn("careful");
console.error("bad");
getElementById("out").textContent = "done";
`)
	assert.Equal(t, "done", e.outText("root-a"))
}

func TestTimersSweptAtCleanup(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `
setTimeout(function() {}, 60000);
setInterval(function() {}, 60000);
`)
	timers, _ := h.Tracker().Counts()
	assert.Equal(t, 2, timers)

	cleared, _ := h.Cleanup()
	assert.Equal(t, 2, cleared)

	timers, _ = h.Tracker().Counts()
	assert.Equal(t, 0, timers)
}

func TestClearTimeoutUntracks(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `
const tid = setTimeout(function() {}, 60000);
clearTimeout(tid);
const iid = setInterval(function() {}, 60000);
clearInterval(iid);
`)
	timers, _ := h.Tracker().Counts()
	assert.Equal(t, 0, timers)
}

func TestTimeoutFiresAndForgets(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `
setTimeout(function() { getElementById("out").textContent = "fired"; }, 5);
`)
	require.Eventually(t, func() bool {
		return e.outText("root-a") == "fired"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		timers, _ := h.Tracker().Counts()
		return timers == 0
	}, 2*time.Second, 10*time.Millisecond, "a fired one-shot must drop out of the tracker")
}

func TestListenerDispatch(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `
getElementById("btn").addEventListener("click", function(ev) {
  getElementById("out").textContent = "clicked:" + ev.type;
});
getElementById("btn").addEventListener("input", function(ev) {
  getElementById("out").textContent = ev.value;
});
`)
	_, listeners := h.Tracker().Counts()
	assert.Equal(t, 2, listeners)

	btnRef := e.doc.GetElementByID("root-a").QuerySelector("#btn").Ref()

	n := e.dispatcher.Dispatch(dom.Event{Type: "click", Target: btnRef})
	assert.Equal(t, 1, n)
	assert.Equal(t, "clicked:click", e.outText("root-a"))

	n = e.dispatcher.Dispatch(dom.Event{Type: "input", Target: btnRef, Value: "typed text"})
	assert.Equal(t, 1, n)
	assert.Equal(t, "typed text", e.outText("root-a"))
}

func TestRemoveEventListener(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `
function onClick(ev) { getElementById("out").textContent = "should not run"; }
getElementById("btn").addEventListener("click", onClick);
getElementById("btn").removeEventListener("click", onClick);
`)
	_, listeners := h.Tracker().Counts()
	assert.Equal(t, 0, listeners)

	btnRef := e.doc.GetElementByID("root-a").QuerySelector("#btn").Ref()
	n := e.dispatcher.Dispatch(dom.Event{Type: "click", Target: btnRef})
	assert.Equal(t, 0, n)
	assert.Equal(t, "", e.outText("root-a"))
}

func TestListenersDetachedAtCleanup(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `
getElementById("btn").addEventListener("click", function() {
  getElementById("out").textContent = "late";
});
`)
	_, removed := h.Cleanup()
	assert.Equal(t, 1, removed)

	btnRef := e.doc.GetElementByID("root-a").QuerySelector("#btn").Ref()
	n := e.dispatcher.Dispatch(dom.Event{Type: "click", Target: btnRef})
	assert.Equal(t, 0, n)
}

func TestCleanupIdempotent(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `setTimeout(function() {}, 60000);`)

	timers, _ := h.Cleanup()
	assert.Equal(t, 1, timers)
	assert.True(t, h.Closed())

	timers, listeners := h.Cleanup()
	assert.Zero(t, timers)
	assert.Zero(t, listeners)
}

func TestCallAfterCleanup(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `function greet() { return 1; }`, "greet")
	h.Cleanup()

	_, err := h.Call("greet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestStorageThroughBridge(t *testing.T) {
	e := newEnv(t)
	bridge := &recordingBridge{}
	root := e.doc.GetElementByID("root-a")

	_, err := e.mounter.Mount(context.Background(), "app-a", `
setAppStorage("theme", "dark");
getElementById("out").textContent = String(getAppStorage("theme")) + "," + String(getAppStorage("missing"));
`, nil, root, bridge)
	require.NoError(t, err)

	assert.Equal(t, "dark,null", e.outText("root-a"))
	assert.Equal(t, "dark", bridge.settings["theme"])
}

func TestSessionStorageIsolatedPerApp(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `
setAppSessionStorage("k", "va");
getElementById("out").textContent = String(getAppSessionStorage("k"));
`)
	e.mount(t, "app-b", "root-b", `
getElementById("out").textContent = String(getAppSessionStorage("k"));
`)
	assert.Equal(t, "va", e.outText("root-a"))
	assert.Equal(t, "null", e.outText("root-b"))
}

func TestNavigationMapsToReload(t *testing.T) {
	e := newEnv(t)
	bridge := &recordingBridge{}
	root := e.doc.GetElementByID("root-a")

	_, err := e.mounter.Mount(context.Background(), "app-a", `
reloadApp();
setAppLocation("https://elsewhere.example");
pushAppHistory({}, "", "/inner");
`, nil, root, bridge)
	require.NoError(t, err)
	assert.Equal(t, 2, bridge.reloads)
}

func TestNimbusAPI(t *testing.T) {
	e := newEnv(t)
	bridge := &recordingBridge{settings: map[string]string{"volume": "0.8"}}
	root := e.doc.GetElementByID("root-a")

	_, err := e.mounter.Mount(context.Background(), "app-a", `
nimbus.notify("info", "Saved", "All good");
getElementById("out").textContent = nimbus.appId + "," + nimbus.getSetting("volume", "0") + "," + nimbus.getSetting("missing", "fallback");
`, nil, root, bridge)
	require.NoError(t, err)

	assert.Equal(t, "app-a,0.8,fallback", e.outText("root-a"))
	require.Len(t, bridge.notes, 1)
	assert.Equal(t, "info:Saved:All good", bridge.notes[0])
}

func TestBindFunctionDispatch(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `
function handleClick(ev) { getElementById("out").textContent = "ran:" + ev.type; }
`, "handleClick")

	btn := e.doc.GetElementByID("root-a").QuerySelector("#btn")
	require.NotNil(t, btn)
	assert.True(t, h.BindFunction(btn, "click", "handleClick"))
	assert.False(t, h.BindFunction(btn, "click", "missing"), "unknown names must not bind")

	n := e.dispatcher.Dispatch(dom.Event{Type: "click", Target: btn.Ref()})
	assert.Equal(t, 1, n)
	assert.Equal(t, "ran:click", e.outText("root-a"))
}

func TestBindFunctionSweptAtCleanup(t *testing.T) {
	e := newEnv(t)
	h := e.mount(t, "app-a", "root-a", `function go() {}`, "go")

	btn := e.doc.GetElementByID("root-a").QuerySelector("#btn")
	require.True(t, h.BindFunction(btn, "click", "go"))

	_, removed := h.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, e.dispatcher.Dispatch(dom.Event{Type: "click", Target: btn.Ref()}))
}

func TestNimbusAppsAPI(t *testing.T) {
	e := newEnv(t)
	bridge := &recordingBridge{installed: []AppSummary{
		{ID: "todo", Name: "Todo List", Icon: "fas fa-list", Type: "user_app", Version: "1.2.0"},
	}}
	root := e.doc.GetElementByID("root-a")

	_, err := e.mounter.Mount(context.Background(), "app-a", `
var apps = nimbus.apps.list();
nimbus.apps.install("todo.napp", "payload");
nimbus.apps.uninstall("todo");
nimbus.apps.refresh();
getElementById("out").textContent = apps.length + ":" + apps[0].name + ":" + apps[0].version;
`, nil, root, bridge)
	require.NoError(t, err)

	assert.Equal(t, "1:Todo List:1.2.0", e.outText("root-a"))
	assert.Equal(t, []string{"list", "install:todo.napp", "uninstall:todo", "refresh"}, bridge.appCalls)
}

func TestNimbusUploadFile(t *testing.T) {
	e := newEnv(t)
	bridge := &recordingBridge{}
	root := e.doc.GetElementByID("root-a")

	_, err := e.mounter.Mount(context.Background(), "app-a", `
getElementById("out").textContent = String(nimbus.uploadFile("/docs", "notes.txt", "hello"));
`, nil, root, bridge)
	require.NoError(t, err)

	assert.Equal(t, "true", e.outText("root-a"))
	assert.Equal(t, []string{"/docs|notes.txt|hello"}, bridge.uploads)
}

func TestAsyncTopLevelAwait(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `
const v = await Promise.resolve(21);
getElementById("out").textContent = "v=" + (v * 2);
`)
	assert.Equal(t, "v=42", e.outText("root-a"))
}

func TestAppendToHeadTaggedAndSwept(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `appendToHead('<style>.accent { color: red; }</style>');`)

	styleEl := e.doc.Head().QuerySelector("style")
	require.NotNil(t, styleEl)
	assert.Equal(t, "app-a", styleEl.AttrOr("data-shell-app", ""))

	removed := e.doc.RemoveAppNodes("app-a")
	assert.GreaterOrEqual(t, removed, 1)
	assert.Nil(t, e.doc.Head().QuerySelector("style"))
}

func TestCreateElementThenAppend(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `
const el = createElement("p");
el.textContent = "made";
getElementById("out").appendChild(el);
`)
	out := e.doc.GetElementByID("root-a").QuerySelector("#out")
	p := out.QuerySelector("p")
	require.NotNil(t, p)
	assert.Equal(t, "made", p.Text())

	staging := e.doc.GetElementByID("root-a").QuerySelector("[data-shell-staging]")
	require.NotNil(t, staging)
	assert.Nil(t, staging.QuerySelector("p"), "appendChild must move the node out of staging")
}

func TestStyleAndDatasetAccess(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `
const el = getElementById("out");
el.style.backgroundColor = "blue";
el.dataset.userRole = "admin";
el.textContent = el.style.backgroundColor + "|" + el.dataset.userRole;
`)
	out := e.doc.GetElementByID("root-a").QuerySelector("#out")
	assert.Equal(t, "blue|admin", out.Text())
	assert.Contains(t, out.AttrOr("style", ""), "background-color: blue")
	assert.Equal(t, "admin", out.AttrOr("data-user-role", ""))
}

func TestClassListOps(t *testing.T) {
	e := newEnv(t)
	e.mount(t, "app-a", "root-a", `
const el = getElementById("out");
el.classList.add("active");
el.classList.add("hot");
el.classList.remove("hot");
el.textContent = String(el.classList.contains("active")) + "," + String(el.classList.contains("hot"));
`)
	out := e.doc.GetElementByID("root-a").QuerySelector("#out")
	assert.Equal(t, "true,false", out.Text())
	assert.True(t, out.HasClass("active"))
	assert.False(t, out.HasClass("hot"))
}
