// Package session manages the per-tab session identifier shared by all
// tracking components.
package session

import (
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"

	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/storage"
)

// sessionKey is the tab-scoped storage key for the session id.
const sessionKey = "waypost_session_id"

const randomSuffixLen = 13

// Manager hands out a stable session id for the lifetime of a tab.
// Storage failures degrade to an in-memory id; callers never see an error.
type Manager struct {
	store storage.KeyValueStore
	clock clock.Clock

	mu        sync.Mutex
	sessionID string
}

// NewManager creates a session manager over the tab-scoped store.
func NewManager(store storage.KeyValueStore, clk clock.Clock) *Manager {
	return &Manager{store: store, clock: clk}
}

// SessionID returns the current session id, generating and persisting a
// new one if none exists yet.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID != "" {
		return m.sessionID
	}

	if v, ok, err := m.store.Get(sessionKey); err == nil && ok && v != "" {
		m.sessionID = v
		return m.sessionID
	}

	m.sessionID = m.generate()
	if err := m.store.Set(sessionKey, m.sessionID); err != nil {
		// Keep the in-memory id for the rest of the tab's lifetime.
		log.Printf("session: failed to persist session id: %v", err)
	}
	return m.sessionID
}

// StartNew forces generation of a fresh session id.
func (m *Manager) StartNew() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionID = m.generate()
	if err := m.store.Set(sessionKey, m.sessionID); err != nil {
		log.Printf("session: failed to persist session id: %v", err)
	}
	return m.sessionID
}

// End clears the current session.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionID = ""
	if err := m.store.Remove(sessionKey); err != nil {
		log.Printf("session: failed to clear session id: %v", err)
	}
}

// generate builds an id of the form session_<millis>_<13 base36 chars>.
func (m *Manager) generate() string {
	return fmt.Sprintf("session_%d_%s", m.clock.Now().UnixMilli(), RandomBase36(randomSuffixLen))
}

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomBase36 returns n random base36 characters.
func RandomBase36(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(base36Chars[rand.Intn(len(base36Chars))])
	}
	return b.String()
}
