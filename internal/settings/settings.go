// Package settings persists named byte blobs across power cycles.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/errcode"
)

// ErrNotFound is returned by Load when nothing is stored under the name.
var ErrNotFound = errors.New("setting not found")

// Store saves and loads named byte blobs.
type Store interface {
	Save(name string, value []byte) error
	Load(name string) ([]byte, error)
}

// SQLiteStore keeps settings in the settings table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts value under name.
func (s *SQLiteStore) Save(name string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, name, value, time.Now().UTC().Unix())
	if err != nil {
		return errcode.New(errcode.PersistenceFailure, "settings.save", name, err)
	}
	return nil
}

// Load returns the value stored under name.
func (s *SQLiteStore) Load(name string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errcode.New(errcode.PersistenceFailure, "settings.load", name, err)
	}
	return value, nil
}

// Clear deletes every setting.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM settings`); err != nil {
		return errcode.New(errcode.PersistenceFailure, "settings.clear", "", err)
	}
	return nil
}

// MemoryStore is a Store held in memory.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
	err    error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Save(name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return errcode.New(errcode.PersistenceFailure, "settings.save", name, m.err)
	}
	m.values[name] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Load(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, errcode.New(errcode.PersistenceFailure, "settings.load", name, m.err)
	}
	v, ok := m.values[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// FailWith makes every subsequent call fail with err (nil clears it).
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Keys of the persisted light state.
const (
	KeyOnOff = "light/on_off"
	KeyLevel = "light/level"
)

// LightState is the persisted subset of the light attributes.
type LightState struct {
	OnOff bool
	Level uint8
}

// LoadLightState reads both light keys into def. Missing keys, keys with
// a length other than one byte, and load errors leave the corresponding
// default untouched; the first load error is returned.
func LoadLightState(s Store, def LightState) (LightState, error) {
	out := def
	var firstErr error

	if v, err := loadByte(s, KeyOnOff); err != nil {
		firstErr = err
	} else if v != nil {
		out.OnOff = *v != 0
	}

	if v, err := loadByte(s, KeyLevel); err != nil && firstErr == nil {
		firstErr = err
	} else if err == nil && v != nil {
		out.Level = *v
	}

	return out, firstErr
}

// SaveLightState writes both keys. Both writes are attempted; the first
// error is returned.
func SaveLightState(s Store, st LightState) error {
	var onOff byte
	if st.OnOff {
		onOff = 1
	}
	err1 := s.Save(KeyOnOff, []byte{onOff})
	err2 := s.Save(KeyLevel, []byte{st.Level})
	if err1 != nil {
		return fmt.Errorf("save light state: %w", err1)
	}
	if err2 != nil {
		return fmt.Errorf("save light state: %w", err2)
	}
	return nil
}

func loadByte(s Store, name string) (*byte, error) {
	v, err := s.Load(name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		log.Warn().Str("key", name).Int("len", len(v)).Msg("Ignoring setting with invalid length")
		return nil, nil
	}
	return &v[0], nil
}
