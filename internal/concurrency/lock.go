package concurrency

import "sync"

// ChannelLockManager serializes evaluation cycles per marketing channel.
// Cycles for different channels run concurrently; two snapshots for the
// same channel never overlap.
type ChannelLockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewChannelLockManager() *ChannelLockManager {
	return &ChannelLockManager{locks: make(map[string]*sync.Mutex)}
}

// mutexFor returns the mutex guarding channelID, creating it on first use.
// Mutexes are never removed; the channel universe is small and stable.
func (m *ChannelLockManager) mutexFor(channelID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[channelID]
	if !ok {
		lock = new(sync.Mutex)
		m.locks[channelID] = lock
	}
	return lock
}

func (m *ChannelLockManager) Lock(channelID string) {
	m.mutexFor(channelID).Lock()
}

func (m *ChannelLockManager) Unlock(channelID string) {
	m.mutexFor(channelID).Unlock()
}
