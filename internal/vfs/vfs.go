// Package vfs implements the kernel's virtual filesystem collaborator: a
// path-to-blob mapping with glob listing and change notification, backed by
// an in-memory map, an on-disk directory watched with fsnotify, or an S3
// bucket.
package vfs

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ChangeType distinguishes the kind of mutation a subscriber is told about.
type ChangeType string

const (
	ChangeWrite  ChangeType = "write"
	ChangeDelete ChangeType = "delete"
)

// Change is delivered to subscribers on every mutation, in mutation order.
type Change struct {
	Path string
	Type ChangeType
	At   time.Time
}

// VFS is the full kernel-facing virtual filesystem contract. ToolDispatcher
// and Registry consume the narrower interfaces they actually need; VFS
// satisfies both.
type VFS interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, pattern string) ([]string, error)

	// Subscribe registers listener to be called, in registration order and
	// in mutation order, for every Write/Delete. It returns an unsubscribe
	// func. listener here only receives the path, for callers that don't
	// need to distinguish a write from a delete; use SubscribeChange for
	// the full Change, as internal/registry does to unregister on delete.
	Subscribe(listener func(path string)) (unsubscribe func())

	// SubscribeChange is like Subscribe but also reports the change kind.
	SubscribeChange(listener func(Change)) (unsubscribe func())
}

// ErrNotFound is returned by Read/Delete when path does not exist.
type ErrNotFound struct{ Path string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("vfs: not found: %s", e.Path) }

// Memory is the default, in-process VFS backend: a mutex-guarded
// path->bytes map. All mutation serializes through the single mu.Lock
// critical section in Write/Delete, matching spec §5's single queued
// mutation step requirement (no callback recursion: listeners are invoked
// after the lock is released).
type Memory struct {
	mu        sync.RWMutex
	files     map[string][]byte
	listeners []func(Change)
	seq       uint64
}

// NewMemory creates an empty in-memory VFS, optionally seeded with files.
func NewMemory(seed map[string][]byte) *Memory {
	files := make(map[string][]byte, len(seed))
	for k, v := range seed {
		files[k] = append([]byte(nil), v...)
	}
	return &Memory{files: files}
}

func (m *Memory) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, &ErrNotFound{Path: path}
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Write(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	m.files[path] = append([]byte(nil), data...)
	listeners := append([]func(Change){}, m.listeners...)
	m.mu.Unlock()

	notify(listeners, Change{Path: path, Type: ChangeWrite, At: time.Now()})
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	if _, ok := m.files[path]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Path: path}
	}
	delete(m.files, path)
	listeners := append([]func(Change){}, m.listeners...)
	m.mu.Unlock()

	notify(listeners, Change{Path: path, Type: ChangeDelete, At: time.Now()})
	return nil
}

func (m *Memory) List(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for path := range m.files {
		ok, err := filepath.Match(pattern, path)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Paths returns every path currently stored, for Levenshtein suggestion on
// a vfs_read miss.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Subscribe(listener func(path string)) (unsubscribe func()) {
	return m.SubscribeChange(func(c Change) { listener(c.Path) })
}

func (m *Memory) SubscribeChange(listener func(Change)) (unsubscribe func()) {
	m.mu.Lock()
	idx := len(m.listeners)
	m.listeners = append(m.listeners, listener)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = func(Change) {}
		}
	}
}

func notify(listeners []func(Change), c Change) {
	for _, l := range listeners {
		if l != nil {
			l(c)
		}
	}
}
