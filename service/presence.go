package service

import (
	"context"
	"sync"
)

// MemoryPresence is a process-local PresenceChecker driven by the realtime
// layer's connect/disconnect callbacks.
type MemoryPresence struct {
	mu        sync.RWMutex
	connected map[string]struct{}
}

// NewMemoryPresence creates an empty presence registry
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{connected: make(map[string]struct{})}
}

// Connect marks the address as connected
func (p *MemoryPresence) Connect(address string) {
	p.mu.Lock()
	p.connected[address] = struct{}{}
	p.mu.Unlock()
}

// Disconnect marks the address as disconnected
func (p *MemoryPresence) Disconnect(address string) {
	p.mu.Lock()
	delete(p.connected, address)
	p.mu.Unlock()
}

// IsConnected reports whether the address currently holds a connection
func (p *MemoryPresence) IsConnected(ctx context.Context, address string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.connected[address]
	return ok, nil
}
