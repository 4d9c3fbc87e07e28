package taskbar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusos/shell/internal/window"
)

type fakeSource struct {
	wins []window.Info
}

func (s *fakeSource) Windows() []window.Info { return s.wins }

func TestSnapshotExcludesBackground(t *testing.T) {
	src := &fakeSource{wins: []window.Info{
		{AppID: "notes", Title: "Notes", Icon: "fa-note"},
		{AppID: "sync-agent", Title: "Sync", Background: true},
		{AppID: "files", Title: "Files", Icon: "fa-folder", Active: true},
	}}
	p := NewPresenter(src)

	strip := p.Snapshot()
	require.Len(t, strip, 2)
	assert.Equal(t, "notes", strip[0].AppID)
	assert.Equal(t, "files", strip[1].AppID)
	assert.True(t, strip[1].Active)
}

func TestSnapshotStates(t *testing.T) {
	src := &fakeSource{wins: []window.Info{
		{AppID: "plain"},
		{AppID: "hidden", Minimized: true},
		{AppID: "full", Maximized: true},
		{AppID: "both", Minimized: true, Maximized: true},
	}}
	p := NewPresenter(src)

	strip := p.Snapshot()
	require.Len(t, strip, 4)
	assert.Equal(t, "normal", strip[0].State)
	assert.Equal(t, "minimized", strip[1].State)
	assert.Equal(t, "maximized", strip[2].State)
	assert.Equal(t, "maximized", strip[3].State)
	assert.True(t, strip[3].Minimized)
}

func TestSubscribeReceivesRefreshes(t *testing.T) {
	src := &fakeSource{wins: []window.Info{{AppID: "notes", Title: "Notes"}}}
	p := NewPresenter(src)

	ch, cancel := p.Subscribe()
	defer cancel()

	p.HandleEvent(window.Event{Kind: window.EventOpened, AppID: "notes"})
	select {
	case strip := <-ch:
		require.Len(t, strip, 1)
		assert.Equal(t, "notes", strip[0].AppID)
	case <-time.After(time.Second):
		t.Fatal("no refresh delivered")
	}
}

func TestGeometryEventsSkipped(t *testing.T) {
	p := NewPresenter(&fakeSource{})
	ch, cancel := p.Subscribe()
	defer cancel()

	p.HandleEvent(window.Event{Kind: window.EventMoved, AppID: "notes"})
	p.HandleEvent(window.Event{Kind: window.EventResized, AppID: "notes"})

	select {
	case <-ch:
		t.Fatal("geometry event should not refresh the strip")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelClosesChannel(t *testing.T) {
	p := NewPresenter(&fakeSource{})
	ch, cancel := p.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}
