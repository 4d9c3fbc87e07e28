// Package terminal manages pty-backed sessions for the shell's
// terminal windows. Output streams through a single callback the
// gateway registers; a bounded replay ring lets a reconnecting view
// repaint without losing scrollback.
package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/shared/id"
)

const (
	defaultCols = 80
	defaultRows = 24
	replaySize  = 256 * 1024
)

var (
	// ErrDisabled is returned when the terminal bridge is turned off.
	ErrDisabled = errors.New("terminal bridge disabled")
	// ErrNotFound marks an unknown or ended session.
	ErrNotFound = errors.New("terminal session not found")
)

// Info is a session snapshot.
type Info struct {
	ID        id.TermID `json:"id"`
	AppID     string    `json:"appId"`
	Shell     string    `json:"shell"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	StartedAt time.Time `json:"startedAt"`
	Active    bool      `json:"active"`
}

type session struct {
	info   Info
	cmd    *exec.Cmd
	ptmx   *os.File
	replay *ring

	mu     sync.Mutex
	closed bool
}

// Manager owns all pty sessions, keyed by term id and grouped by the
// app that opened them.
type Manager struct {
	cfg config.TerminalConfig
	log *logging.Logger

	mu       sync.RWMutex
	sessions map[id.TermID]*session
	onData   func(Info, []byte)
	onClose  func(Info)
}

// NewManager creates a session manager.
func NewManager(cfg config.TerminalConfig, log *logging.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log.Component("terminal"),
		sessions: make(map[id.TermID]*session),
	}
}

// SetOnData registers the output sink. Chunks arrive from reader
// goroutines, one per session; the sink must not block.
func (m *Manager) SetOnData(fn func(Info, []byte)) {
	m.mu.Lock()
	m.onData = fn
	m.mu.Unlock()
}

// SetOnClose registers the teardown sink, fired once per session
// whether it was killed or the shell exited on its own.
func (m *Manager) SetOnClose(fn func(Info)) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

// Create starts a new pty session owned by appID.
func (m *Manager) Create(appID string, cols, rows int) (Info, error) {
	if !m.cfg.Enabled {
		return Info{}, ErrDisabled
	}
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	shell := m.cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return Info{}, fmt.Errorf("start pty for %s: %w", appID, err)
	}

	s := &session{
		info: Info{
			ID:        id.NewTermID(),
			AppID:     appID,
			Shell:     shell,
			Cols:      cols,
			Rows:      rows,
			StartedAt: time.Now(),
			Active:    true,
		},
		cmd:    cmd,
		ptmx:   ptmx,
		replay: newRing(replaySize),
	}

	m.mu.Lock()
	m.sessions[s.info.ID] = s
	m.mu.Unlock()

	go m.readLoop(s)
	go m.reap(s)

	m.log.Info("terminal session started",
		zap.String("term_id", string(s.info.ID)),
		zap.String("app_id", appID),
		zap.String("shell", shell))
	return s.info, nil
}

// readLoop pumps pty output into the replay ring and the sink until
// the pty closes.
func (m *Manager) readLoop(s *session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.replay.write(chunk)

			m.mu.RLock()
			sink := m.onData
			m.mu.RUnlock()
			if sink != nil {
				sink(s.info, chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// reap waits for the shell process and retires the session. Every
// teardown path converges here: an explicit kill, the owning window
// closing, and the shell exiting on its own.
func (m *Manager) reap(s *session) {
	s.cmd.Wait()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ptmx.Close()

	m.mu.Lock()
	delete(m.sessions, s.info.ID)
	sink := m.onClose
	m.mu.Unlock()

	m.log.Info("terminal session ended", zap.String("term_id", string(s.info.ID)))
	if sink != nil {
		info := s.info
		info.Active = false
		sink(info)
	}
}

func (m *Manager) get(termID id.TermID) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[termID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", termID, ErrNotFound)
	}
	return s, nil
}

// Write sends input to the session's pty.
func (m *Manager) Write(termID id.TermID, data []byte) error {
	s, err := m.get(termID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", termID, ErrNotFound)
	}

	_, err = s.ptmx.Write(data)
	return err
}

// Resize adjusts the pty dimensions.
func (m *Manager) Resize(termID id.TermID, cols, rows int) error {
	s, err := m.get(termID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%s: %w", termID, ErrNotFound)
	}
	s.info.Cols = cols
	s.info.Rows = rows
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Replay returns the session's buffered output for a repaint.
func (m *Manager) Replay(termID id.TermID) ([]byte, error) {
	s, err := m.get(termID)
	if err != nil {
		return nil, err
	}
	return s.replay.bytes(), nil
}

// Kill ends a session and removes it.
func (m *Manager) Kill(termID id.TermID) error {
	m.mu.Lock()
	s, ok := m.sessions[termID]
	if ok {
		delete(m.sessions, termID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", termID, ErrNotFound)
	}

	m.stop(s)
	return nil
}

// KillApp ends every session owned by appID and reports how many.
func (m *Manager) KillApp(appID string) int {
	m.mu.Lock()
	var doomed []*session
	for termID, s := range m.sessions {
		if s.info.AppID == appID {
			doomed = append(doomed, s)
			delete(m.sessions, termID)
		}
	}
	m.mu.Unlock()

	for _, s := range doomed {
		m.stop(s)
	}
	return len(doomed)
}

// Shutdown ends all sessions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[id.TermID]*session)
	m.mu.Unlock()

	for _, s := range all {
		m.stop(s)
	}
}

// stop signals the shell to die; reap finishes the accounting once
// the process is gone.
func (m *Manager) stop(s *session) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}

// List snapshots all sessions, newest last.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		info := s.info
		info.Active = !s.closed
		s.mu.Unlock()
		out = append(out, info)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
