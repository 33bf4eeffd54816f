package idempotency

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Store deduplicates human response events: a Slack retry or a Telegram
// redelivery must not resolve an approval twice. Keys carry a unix expiry
// and are persisted as a single JSON document.
type Store struct {
	mu   sync.Mutex
	path string
	keys map[string]int64
}

type storeFile struct {
	Keys map[string]int64 `json:"keys"`
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path, keys: make(map[string]int64)}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.persist(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case len(data) > 0:
		var f storeFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.Keys != nil {
			s.keys = f.Keys
		}
	}

	return s, nil
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(storeFile{Keys: s.keys}, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

// CheckAndMark reports whether the key was already processed and still
// within its TTL. A fresh or expired key is (re)marked and reported as new.
func (s *Store) CheckAndMark(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if expiry, seen := s.keys[key]; seen && expiry > now {
		return true
	}

	s.keys[key] = now + int64(ttl.Seconds())
	return false
}

// Prune drops expired keys and returns how many were removed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	removed := 0
	for key, expiry := range s.keys {
		if expiry < now {
			delete(s.keys, key)
			removed++
		}
	}
	return removed
}
