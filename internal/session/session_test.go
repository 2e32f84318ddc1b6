package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/storage"
)

// failingStore rejects every write.
type failingStore struct {
	storage.KeyValueStore
}

func (f *failingStore) Get(key string) (string, bool, error)  { return "", false, storage.ErrUnavailable }
func (f *failingStore) Set(key, value string) error           { return storage.ErrUnavailable }
func (f *failingStore) Remove(key string) error               { return storage.ErrUnavailable }
func (f *failingStore) Keys(prefix string) ([]string, error)  { return nil, storage.ErrUnavailable }

func TestSessionID_StableWithinTab(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), clock.Real{})

	id1 := m.SessionID()
	id2 := m.SessionID()
	assert.Equal(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "session_"))

	parts := strings.SplitN(id1, "_", 3)
	assert.Len(t, parts, 3)
	assert.Len(t, parts[2], 13)
}

func TestSessionID_RestoredFromStore(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Set(sessionKey, "session_1_abc")

	m := NewManager(store, clock.Real{})
	assert.Equal(t, "session_1_abc", m.SessionID())
}

func TestStartNew_Regenerates(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), clock.Real{})

	id1 := m.SessionID()
	id2 := m.StartNew()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, id2, m.SessionID())
}

func TestEnd_ClearsSession(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, clock.Real{})

	m.SessionID()
	m.End()

	_, ok, _ := store.Get(sessionKey)
	assert.False(t, ok)

	// Next call mints a fresh id
	assert.NotEmpty(t, m.SessionID())
}

func TestSessionID_StorageFailureDegradesInMemory(t *testing.T) {
	m := NewManager(&failingStore{}, clock.Real{})

	id1 := m.SessionID()
	id2 := m.SessionID()
	assert.NotEmpty(t, id1)
	assert.Equal(t, id1, id2)
}

func TestSessionID_UsesClockMillis(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	m := NewManager(storage.NewMemoryStore(), fake)

	id := m.SessionID()
	assert.True(t, strings.HasPrefix(id, "session_1700000000000_"))
}
