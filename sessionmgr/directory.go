package sessionmgr

import (
	"context"
	"sync"
)

// memoryDirectory is the default Directory: an in-process sessionId→
// connectionId map guarded by a mutex. Sufficient for a single proxy
// instance; a multi-instance deployment wanting session affinity across
// instances supplies a RedisDirectory instead via WithDirectory.
type memoryDirectory struct {
	mu sync.RWMutex
	m  map[string]string
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{m: make(map[string]string)}
}

func (d *memoryDirectory) Get(_ context.Context, sessionID string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	connID, ok := d.m[sessionID]
	return connID, ok, nil
}

func (d *memoryDirectory) Put(_ context.Context, sessionID, connectionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[sessionID] = connectionID
	return nil
}

func (d *memoryDirectory) Delete(_ context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, sessionID)
	return nil
}

var _ Directory = (*memoryDirectory)(nil)
