package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/store"
)

// ErrClosed is returned when the manager has been shut down.
var ErrClosed = errors.New("settings manager closed")

// Manager serializes every read-modify-write of the settings document
// through a single goroutine. The document is one record in the key-value
// store; without this funnel two concurrent appends for different tabs
// would overwrite each other's entries.
type Manager struct {
	store     store.Store
	ops       chan op
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type op struct {
	ctx    context.Context
	mutate func(*Settings) error
	reply  chan opResult
}

type opResult struct {
	settings *Settings
	err      error
}

// NewManager creates a Manager and starts its writer goroutine.
func NewManager(st store.Store) *Manager {
	m := &Manager{
		store: st,
		ops:   make(chan op),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case o := <-m.ops:
			s, err := m.apply(o.ctx, o.mutate)
			o.reply <- opResult{settings: s, err: err}
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) apply(ctx context.Context, mutate func(*Settings) error) (*Settings, error) {
	s, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := mutate(s); err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := m.store.Set(ctx, StorageKey, data); err != nil {
		return nil, fmt.Errorf("failed to persist settings: %w", err)
	}
	return s, nil
}

func (m *Manager) load(ctx context.Context) (*Settings, error) {
	data, err := m.store.Get(ctx, StorageKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		// Load falls back to defaults; save never guesses
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	s := &Settings{}
	if err := json.Unmarshal(data, s); err != nil {
		L_warn("settings: stored document is corrupt, using defaults", "error", err)
		return Defaults(), nil
	}
	s.normalize()
	return s, nil
}

// Load returns the current settings document. Missing or corrupt documents
// fall back to defaults.
func (m *Manager) Load(ctx context.Context) (*Settings, error) {
	return m.load(ctx)
}

// Update runs mutate against the current document and persists the result.
// Mutations from concurrent callers are applied one at a time, in arrival
// order. The returned settings are the post-mutation document.
func (m *Manager) Update(ctx context.Context, mutate func(*Settings) error) (*Settings, error) {
	o := op{ctx: ctx, mutate: mutate, reply: make(chan opResult, 1)}
	select {
	case m.ops <- o:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.quit:
		return nil, ErrClosed
	}
	select {
	case res := <-o.reply:
		return res.settings, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Save replaces the whole document (SAVE_SETTINGS). Conversations already
// on disk are preserved unless the caller supplies replacements.
func (m *Manager) Save(ctx context.Context, incoming *Settings) (*Settings, error) {
	return m.Update(ctx, func(s *Settings) error {
		s.Provider = incoming.Provider
		if incoming.ChatHistory != nil {
			s.ChatHistory = incoming.ChatHistory
		}
		if incoming.TabConversations != nil {
			s.TabConversations = incoming.TabConversations
		}
		return nil
	})
}

// Subscribe returns a channel receiving the raw settings document after
// every persisted change. The UI re-renders from these notifications.
func (m *Manager) Subscribe() <-chan json.RawMessage {
	return m.store.Subscribe(StorageKey)
}

// Close stops the writer goroutine. Safe to call more than once; updates
// arriving after Close return ErrClosed instead of panicking.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
}
