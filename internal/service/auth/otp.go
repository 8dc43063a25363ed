package auth

import (
	"sync"
	"time"
)

// OTPStore keeps one-time codes keyed by mobile number for a bounded time.
type OTPStore interface {
	Put(mobile, code string, ttl time.Duration)
	Get(mobile string) (string, bool)
	Del(mobile string)
}

type otpEntry struct {
	code      string
	expiresAt time.Time
}

// MemoryOTPStore is an in-process OTPStore. Expired entries are dropped
// lazily on access.
type MemoryOTPStore struct {
	mu      sync.Mutex
	entries map[string]otpEntry
}

// NewMemoryOTPStore creates an empty in-memory store.
func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{entries: make(map[string]otpEntry)}
}

// Put stores the code, replacing any previous one for the same mobile.
func (s *MemoryOTPStore) Put(mobile, code string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[mobile] = otpEntry{code: code, expiresAt: time.Now().Add(ttl)}
}

// Get returns the live code for the mobile, if any.
func (s *MemoryOTPStore) Get(mobile string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[mobile]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, mobile)
		return "", false
	}

	return e.code, true
}

// Del removes the code for the mobile.
func (s *MemoryOTPStore) Del(mobile string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, mobile)
}
