package bot

import (
	"context"
	"sync"

	"github.com/memu-digital/memu-bot/internal/household"
)

// ModeStore persists per-room assistant modes.
type ModeStore interface {
	RoomMode(ctx context.Context, roomID string) (household.Mode, error)
	SetRoomMode(ctx context.Context, roomID string, mode household.Mode) error
	RoomModes(ctx context.Context) (map[string]household.Mode, error)
}

// modeCache fronts the mode table. Writes go to the store first and
// reach the cache only when that succeeds.
type modeCache struct {
	store ModeStore

	mu    sync.RWMutex
	modes map[string]household.Mode
}

func newModeCache(store ModeStore) *modeCache {
	return &modeCache{store: store, modes: make(map[string]household.Mode)}
}

// load warms the cache with every stored setting.
func (c *modeCache) load(ctx context.Context) error {
	modes, err := c.store.RoomModes(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for room, m := range modes {
		c.modes[room] = m
	}
	return nil
}

// get returns the room's mode, reading through to the store on a miss.
// A store failure yields the default mode without caching it.
func (c *modeCache) get(ctx context.Context, roomID string) (household.Mode, error) {
	c.mu.RLock()
	m, ok := c.modes[roomID]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := c.store.RoomMode(ctx, roomID)
	if err != nil {
		return household.DefaultMode, err
	}
	c.mu.Lock()
	c.modes[roomID] = m
	c.mu.Unlock()
	return m, nil
}

// set writes through to the store, then updates the cache.
func (c *modeCache) set(ctx context.Context, roomID string, mode household.Mode) error {
	if err := c.store.SetRoomMode(ctx, roomID, mode); err != nil {
		return err
	}
	c.mu.Lock()
	c.modes[roomID] = mode
	c.mu.Unlock()
	return nil
}
