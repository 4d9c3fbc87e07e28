// Package auth holds the gateway's credential store and opaque
// session tokens. Users are provisioned through numbered environment
// variables (AUTH_USER_1=name:bcrypt-hash, AUTH_USER_2=..., counting
// up until the first gap).
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/shared/id"
)

var (
	// ErrBadCredentials covers unknown users and wrong passwords alike.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrNoSession marks a missing or expired session token.
	ErrNoSession = errors.New("no active session")
)

// dummyHash is compared against for unknown usernames so login timing
// does not reveal which names exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Session is an issued login session.
type Session struct {
	Token   id.SessionID `json:"token"`
	User    string       `json:"user"`
	Expires time.Time    `json:"expires"`
}

// LoadUsers reads AUTH_USER_n variables into a name -> hash map.
// Malformed entries (no colon) are skipped.
func LoadUsers() map[string]string {
	users := make(map[string]string)
	for n := 1; ; n++ {
		entry := os.Getenv(fmt.Sprintf("AUTH_USER_%d", n))
		if entry == "" {
			break
		}
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			continue
		}
		users[name] = hash
	}
	return users
}

// Store verifies credentials and tracks sessions in memory. Sessions
// expire after the configured TTL; expired entries are dropped lazily
// on validation and by Sweep.
type Store struct {
	enabled bool
	ttl     time.Duration
	log     *logging.Logger

	mu       sync.RWMutex
	users    map[string]string
	sessions map[id.SessionID]Session
}

// NewStore builds a session store over the given credential set.
func NewStore(cfg config.AuthConfig, users map[string]string, log *logging.Logger) *Store {
	s := &Store{
		enabled:  cfg.Enabled,
		ttl:      cfg.SessionTTL,
		log:      log.Component("auth"),
		users:    users,
		sessions: make(map[id.SessionID]Session),
	}
	if s.enabled && len(users) == 0 {
		s.log.Error("auth enabled but no AUTH_USER_n credentials configured; every login will fail")
	}
	return s
}

// Enabled reports whether the gateway requires authentication.
func (s *Store) Enabled() bool { return s.enabled }

// Login checks the password against the stored bcrypt hash and issues
// a session token.
func (s *Store) Login(username, password string) (Session, error) {
	s.mu.RLock()
	hash, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		hash = dummyHash
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil || !ok {
		return Session{}, fmt.Errorf("login %s: %w", username, ErrBadCredentials)
	}

	sess := Session{
		Token:   id.NewSessionID(),
		User:    username,
		Expires: time.Now().Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	s.log.Info("session issued", zap.String("user", username))
	return sess, nil
}

// Validate resolves a token to its session, dropping it when expired.
func (s *Store) Validate(token id.SessionID) (Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrNoSession
	}
	if time.Now().After(sess.Expires) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Logout drops the session. Unknown tokens are a no-op.
func (s *Store) Logout(token id.SessionID) {
	s.mu.Lock()
	sess, ok := s.sessions[token]
	if ok {
		delete(s.sessions, token)
	}
	s.mu.Unlock()
	if ok {
		s.log.Info("session ended", zap.String("user", sess.User))
	}
}

// Sweep removes expired sessions and reports how many were dropped.
func (s *Store) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for token, sess := range s.sessions {
		if now.After(sess.Expires) {
			delete(s.sessions, token)
			dropped++
		}
	}
	return dropped
}

// Sessions reports the number of live sessions.
func (s *Store) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
