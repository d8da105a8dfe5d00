package vfs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Disk is a VFS backed by a real directory tree. It watches Root with
// fsnotify so that edits made outside the kernel (a human in their editor)
// still trigger the registry's hot-reload path, matching spec §5's "the
// VFS and AgentRegistry are the only genuinely shared mutable state" note:
// here the editor is a second writer the kernel must still observe.
type Disk struct {
	root string
	log  *slog.Logger

	mu        sync.Mutex
	listeners []func(Change)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDisk creates a Disk VFS rooted at root and starts watching it.
func NewDisk(root string, log *slog.Logger) (*Disk, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir root: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new fsnotify watcher: %w", err)
	}
	if err := addRecursive(watcher, root); err != nil {
		watcher.Close()
		return nil, err
	}

	d := &Disk{
		root:    root,
		log:     log.With("component", "vfs.disk", "root", root),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go d.watchLoop()
	return d, nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (d *Disk) watchLoop() {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn("fsnotify error", "error", err)
		case <-d.done:
			return
		}
	}
}

func (d *Disk) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(d.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		d.mu.Lock()
		listeners := append([]func(Change){}, d.listeners...)
		d.mu.Unlock()
		notify(listeners, Change{Path: rel, Type: ChangeWrite, At: time.Now()})
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		d.mu.Lock()
		listeners := append([]func(Change){}, d.listeners...)
		d.mu.Unlock()
		notify(listeners, Change{Path: rel, Type: ChangeDelete, At: time.Now()})
	}
}

// Close stops the filesystem watcher.
func (d *Disk) Close() error {
	close(d.done)
	return d.watcher.Close()
}

func (d *Disk) abs(path string) string { return filepath.Join(d.root, filepath.FromSlash(path)) }

func (d *Disk) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(d.abs(path))
	if os.IsNotExist(err) {
		return nil, &ErrNotFound{Path: path}
	}
	return data, err
}

func (d *Disk) Write(_ context.Context, path string, data []byte) error {
	full := d.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (d *Disk) Delete(_ context.Context, path string) error {
	err := os.Remove(d.abs(path))
	if os.IsNotExist(err) {
		return &ErrNotFound{Path: path}
	}
	return err
}

func (d *Disk) List(_ context.Context, pattern string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(d.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if ok, matchErr := filepath.Match(pattern, rel); matchErr == nil && ok {
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}

func (d *Disk) Subscribe(listener func(path string)) (unsubscribe func()) {
	return d.SubscribeChange(func(c Change) { listener(c.Path) })
}

func (d *Disk) SubscribeChange(listener func(Change)) (unsubscribe func()) {
	d.mu.Lock()
	idx := len(d.listeners)
	d.listeners = append(d.listeners, listener)
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if idx < len(d.listeners) {
			d.listeners[idx] = func(Change) {}
		}
	}
}
