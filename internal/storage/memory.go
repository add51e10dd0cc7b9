package storage

import (
	"sync"
	"time"
)

type memCookie struct {
	value   string
	expires time.Time
}

// Memory is an in-process Store. Nothing survives the process.
type Memory struct {
	mu      sync.Mutex
	kv      map[string]string
	cookies map[string]memCookie
	closed  bool
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{kv: map[string]string{}, cookies: map[string]memCookie{}, now: time.Now}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.kv[key] = value
	return nil
}

func (m *Memory) Remove(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(m.kv, k)
	}
	return nil
}

func (m *Memory) Cookie(name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	c, ok := m.cookies[name]
	if !ok || (!c.expires.IsZero() && !c.expires.After(m.now())) {
		return "", false, nil
	}
	return c.value, true, nil
}

func (m *Memory) SetCookie(name, value string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cookies[name] = memCookie{value: value, expires: expires}
	return nil
}

func (m *Memory) ExpireCookie(name string) error {
	return m.SetCookie(name, "", cookieEpoch)
}

// Keys returns a snapshot of the stored keys, for tests and diagnostics.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.kv))
	for k := range m.kv {
		out = append(out, k)
	}
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
