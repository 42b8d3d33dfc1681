package service

import (
	"sync"
)

// memorySnapshots is the in-memory PriceSnapshots implementation. The live
// price feed overwrites a match's snapshot on every push; settlement reads
// the last one and discards it. Lost on crash, in which case open positions
// are closed at entry for zero pnl.
type memorySnapshots struct {
	mu        sync.RWMutex
	snapshots map[string]map[string]float64
}

// NewMemorySnapshots creates an in-memory price snapshot store
func NewMemorySnapshots() PriceSnapshots {
	return &memorySnapshots{
		snapshots: make(map[string]map[string]float64),
	}
}

func (m *memorySnapshots) Set(matchID string, prices map[string]float64) {
	copied := make(map[string]float64, len(prices))
	for asset, price := range prices {
		copied[asset] = price
	}

	m.mu.Lock()
	m.snapshots[matchID] = copied
	m.mu.Unlock()
}

func (m *memorySnapshots) Get(matchID string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[matchID]
}

func (m *memorySnapshots) Discard(matchID string) {
	m.mu.Lock()
	delete(m.snapshots, matchID)
	m.mu.Unlock()
}
