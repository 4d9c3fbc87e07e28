package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/notify"
	"github.com/nimbusos/shell/internal/shared/id"
	"github.com/nimbusos/shell/internal/taskbar"
	"github.com/nimbusos/shell/internal/terminal"
	"github.com/nimbusos/shell/internal/window"
)

const desktopMarkup = `<html><head></head><body><div id="desktop"></div></body></html>`

type fakeShell struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeShell) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeShell) has(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeShell) OpenApp(_ context.Context, appID string) error {
	if appID == "broken" {
		return errors.New("launch exploded")
	}
	f.record("open:" + appID)
	return nil
}

func (f *fakeShell) CloseApp(_ context.Context, appID string) error {
	f.record("close:" + appID)
	return nil
}

func (f *fakeShell) Minimize(appID string) error {
	if appID == "ghost" {
		return errors.New("no window for ghost")
	}
	f.record("minimize:" + appID)
	return nil
}

func (f *fakeShell) Restore(appID string) error {
	f.record("restore:" + appID)
	return nil
}

func (f *fakeShell) ToggleMaximize(appID string) error {
	f.record("maximize:" + appID)
	return nil
}

func (f *fakeShell) Focus(appID string) error {
	f.record("focus:" + appID)
	return nil
}

func (f *fakeShell) StartDrag(appID string, x, y float64) error {
	f.record(fmt.Sprintf("drag:%s:%.0f,%.0f", appID, x, y))
	return nil
}

func (f *fakeShell) StartResize(appID, dir string, x, y float64) error {
	f.record(fmt.Sprintf("resize:%s:%s", appID, dir))
	return nil
}

func (f *fakeShell) PointerMove(x, y float64) {
	f.record(fmt.Sprintf("move:%.0f,%.0f", x, y))
}

func (f *fakeShell) PointerUp() {
	f.record("up")
}

func (f *fakeShell) SetViewport(width, height int) {
	f.record(fmt.Sprintf("viewport:%dx%d", width, height))
}

type fakeTerms struct {
	mu     sync.Mutex
	writes []string
	killed []id.TermID
}

func (f *fakeTerms) Create(appID string, cols, rows int) (terminal.Info, error) {
	if appID == "no-term" {
		return terminal.Info{}, errors.New("terminal bridge disabled")
	}
	return terminal.Info{
		ID:        "term_test1",
		AppID:     appID,
		Shell:     "/bin/sh",
		Cols:      cols,
		Rows:      rows,
		StartedAt: time.Now(),
		Active:    true,
	}, nil
}

func (f *fakeTerms) Write(termID id.TermID, data []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, string(termID)+":"+string(data))
	f.mu.Unlock()
	return nil
}

func (f *fakeTerms) Resize(termID id.TermID, cols, rows int) error { return nil }

func (f *fakeTerms) Replay(termID id.TermID) ([]byte, error) {
	return []byte("replayed output"), nil
}

func (f *fakeTerms) Kill(termID id.TermID) error {
	f.mu.Lock()
	f.killed = append(f.killed, termID)
	f.mu.Unlock()
	return nil
}

func (f *fakeTerms) wrote(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.writes {
		if w == s {
			return true
		}
	}
	return false
}

type env struct {
	hub        *Hub
	shell      *fakeShell
	terms      *fakeTerms
	doc        *dom.Document
	dispatcher *dom.Dispatcher
	url        string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	doc, err := dom.NewDocument(desktopMarkup)
	require.NoError(t, err)
	dispatcher := dom.NewDispatcher()
	shell := &fakeShell{}
	terms := &fakeTerms{}

	hub := NewHub(doc, dispatcher, shell, terms, logging.NewNop(), nil)
	doc.SetOnMutation(hub.WakeDOM)

	router := gin.New()
	router.GET("/stream", hub.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)

	return &env{
		hub:        hub,
		shell:      shell,
		terms:      terms,
		doc:        doc,
		dispatcher: dispatcher,
		url:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
	}
}

func (e *env) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Outbound
	require.NoError(t, sonic.Unmarshal(data, &ev))
	return ev
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

// drainHello consumes the welcome and initial render every new view
// receives.
func drainHello(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ev := readEvent(t, conn)
	require.Equal(t, EvSystem, ev.Type)
	ev = readEvent(t, conn)
	require.Equal(t, EvRender, ev.Type)
}

func TestHelloSendsWelcomeAndRender(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)

	ev := readEvent(t, conn)
	assert.Equal(t, EvSystem, ev.Type)
	assert.Equal(t, "connected", ev.Data)

	ev = readEvent(t, conn)
	assert.Equal(t, EvRender, ev.Type)
	html, ok := ev.Data.(string)
	require.True(t, ok)
	assert.Contains(t, html, `id="desktop"`)
}

func TestPingPong(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	send(t, conn, `{"type":"ping"}`)
	ev := readEvent(t, conn)
	assert.Equal(t, EvPong, ev.Type)
}

func TestCommandsReachShell(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	send(t, conn, `{"type":"command","action":"minimize","appId":"notes"}`)
	send(t, conn, `{"type":"command","action":"focus","appId":"notes"}`)
	send(t, conn, `{"type":"command","action":"maximize","appId":"notes"}`)
	send(t, conn, `{"type":"command","action":"open","appId":"clock"}`)
	send(t, conn, `{"type":"command","action":"close","appId":"clock"}`)

	for _, want := range []string{
		"minimize:notes", "focus:notes", "maximize:notes", "open:clock", "close:clock",
	} {
		require.Eventually(t, func() bool { return e.shell.has(want) },
			2*time.Second, 10*time.Millisecond, "missing %s", want)
	}
}

func TestCommandErrorsReturnToSender(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	send(t, conn, `{"type":"command","action":"open","appId":"broken"}`)
	ev := readEvent(t, conn)
	assert.Equal(t, EvError, ev.Type)
	assert.Equal(t, "broken", ev.AppID)
	assert.Equal(t, "launch exploded", ev.Data)

	send(t, conn, `{"type":"command","action":"minimize","appId":"ghost"}`)
	ev = readEvent(t, conn)
	assert.Equal(t, EvError, ev.Type)
	assert.Contains(t, ev.Data, "no window")

	send(t, conn, `{"type":"command","action":"teleport","appId":"notes"}`)
	ev = readEvent(t, conn)
	assert.Equal(t, EvError, ev.Type)
	assert.Contains(t, ev.Data, "unknown action")
}

func TestPointerGestures(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	send(t, conn, `{"type":"pointer.down","appId":"notes","x":10,"y":20}`)
	send(t, conn, `{"type":"pointer.move","x":15,"y":25}`)
	send(t, conn, `{"type":"pointer.up"}`)
	send(t, conn, `{"type":"pointer.down","appId":"notes","dir":"se","x":5,"y":5}`)
	send(t, conn, `{"type":"viewport","width":1280,"height":720}`)

	for _, want := range []string{
		"drag:notes:10,20", "move:15,25", "up", "resize:notes:se", "viewport:1280x720",
	} {
		require.Eventually(t, func() bool { return e.shell.has(want) },
			2*time.Second, 10*time.Millisecond, "missing %s", want)
	}
}

func TestDOMEventsReachDispatcher(t *testing.T) {
	e := newEnv(t)

	var mu sync.Mutex
	var got []dom.Event
	e.dispatcher.Add("r7", "click", func(ev dom.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	conn := e.dial(t)
	drainHello(t, conn)

	send(t, conn, `{"type":"event","event":{"type":"click","target":"r7","value":"go"}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "click", got[0].Type)
	assert.Equal(t, "go", got[0].Value)
}

func TestBroadcastReachesEveryView(t *testing.T) {
	e := newEnv(t)
	first := e.dial(t)
	drainHello(t, first)
	second := e.dial(t)
	drainHello(t, second)

	e.hub.PublishWindowEvent(window.Event{Kind: window.EventOpened, AppID: "notes"})

	for _, conn := range []*websocket.Conn{first, second} {
		ev := readEvent(t, conn)
		assert.Equal(t, "window.opened", ev.Type)
		assert.Equal(t, "notes", ev.AppID)
	}
}

func TestHistoryReplaysToLateJoiner(t *testing.T) {
	e := newEnv(t)

	e.hub.PublishWindowEvent(window.Event{Kind: window.EventOpened, AppID: "notes"})
	e.hub.PublishTaskbar([]taskbar.Entry{{AppID: "notes", Title: "Notes", State: "focused", Active: true}})

	conn := e.dial(t)
	drainHello(t, conn)

	ev := readEvent(t, conn)
	assert.Equal(t, "window.opened", ev.Type)
	assert.Equal(t, "notes", ev.AppID)

	ev = readEvent(t, conn)
	assert.Equal(t, EvTaskbar, ev.Type)
	entries, ok := ev.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 1)
}

func TestMutationsFlushAsBatch(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	desktop := e.doc.GetElementByID("desktop")
	require.NotNil(t, desktop)
	desktop.SetText("hello from the shell")

	ev := readEvent(t, conn)
	require.Equal(t, EvMutations, ev.Type)
	muts, ok := ev.Data.([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, muts)

	first, ok := muts[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(dom.MutSetText), first["type"])
	assert.Equal(t, "hello from the shell", first["value"])
}

func TestTerminalLifecycleOverStream(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	send(t, conn, `{"type":"terminal.open","appId":"terminal","cols":80,"rows":24}`)
	ev := readEvent(t, conn)
	assert.Equal(t, EvTermOpened, ev.Type)
	assert.Equal(t, "term_test1", ev.Term)
	assert.Equal(t, "terminal", ev.AppID)

	// "ls\n" base64-encoded
	send(t, conn, `{"type":"terminal.input","term":"term_test1","data":"bHMK"}`)
	require.Eventually(t, func() bool { return e.terms.wrote("term_test1:ls\n") },
		2*time.Second, 10*time.Millisecond)

	send(t, conn, `{"type":"terminal.replay","term":"term_test1","appId":"terminal"}`)
	ev = readEvent(t, conn)
	assert.Equal(t, EvTermData, ev.Type)
	assert.Equal(t, "cmVwbGF5ZWQgb3V0cHV0", ev.Data)

	send(t, conn, `{"type":"terminal.close","term":"term_test1"}`)
	require.Eventually(t, func() bool {
		e.terms.mu.Lock()
		defer e.terms.mu.Unlock()
		return len(e.terms.killed) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminalOpenFailureReportsError(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	send(t, conn, `{"type":"terminal.open","appId":"no-term"}`)
	ev := readEvent(t, conn)
	assert.Equal(t, EvError, ev.Type)
	assert.Contains(t, ev.Data, "disabled")
}

func TestMalformedAndUnknownMessages(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	send(t, conn, `this is not json`)
	ev := readEvent(t, conn)
	assert.Equal(t, EvError, ev.Type)
	assert.Equal(t, "malformed message", ev.Data)

	send(t, conn, `{"type":"warp"}`)
	ev = readEvent(t, conn)
	assert.Equal(t, EvError, ev.Type)
	assert.Contains(t, ev.Data, "unknown message type")
}

func TestStatusReportsClientsAndHistory(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	drainHello(t, conn)

	e.hub.PublishNotification(notify.Notification{
		ID:      "noti_test1",
		Level:   notify.LevelError,
		Title:   "App error",
		Message: "boom",
	})
	readEvent(t, conn)

	require.Eventually(t, func() bool { return e.hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	st := e.hub.Status()
	require.Len(t, st.Clients, 1)
	assert.NotEmpty(t, st.Clients[0].ID)
	require.Len(t, st.Recent, 1)
	assert.Equal(t, EvNotification, st.Recent[0].Type)

	conn.Close()
	require.Eventually(t, func() bool { return e.hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
