// Package sessions tracks live sessions by id so external commands can
// reach them.
package sessions

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

var ErrSessionExists = errors.New("session already registered")

// Handle exposes the operations a registered session supports. Any field
// may be nil.
type Handle struct {
	// Cancel aborts the in-flight turn.
	Cancel func()
	// Stop ends audio capture and lets the turn proceed.
	Stop  func()
	State func() string

	CreatedAt time.Time
}

type Info struct {
	ID        string
	State     string
	CreatedAt time.Time
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*trackedSession),
	}
}

// Register adds a session and returns the function that removes exactly
// this entry. A second registration under a live id fails with
// ErrSessionExists.
func (r *Registry) Register(sessionID string, h Handle) (unregister func(), err error) {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	entry := &trackedSession{handle: h}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = make(map[string]*trackedSession)
	}
	if _, ok := r.sessions[sessionID]; ok {
		return nil, ErrSessionExists
	}
	r.sessions[sessionID] = entry
	r.wg.Add(1)

	return func() { r.unregister(sessionID, entry) }, nil
}

func (r *Registry) unregister(sessionID string, entry *trackedSession) {
	if entry == nil {
		return
	}
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[sessionID] == entry {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Unregister removes whatever entry is registered under sessionID.
func (r *Registry) Unregister(sessionID string) {
	r.unregister(sessionID, r.lookup(sessionID))
}

func (r *Registry) lookup(sessionID string) *trackedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// Cancel invokes the session's cancel handle. It reports false when no
// such session is registered. The entry stays registered until its owner
// unregisters it.
func (r *Registry) Cancel(sessionID string) bool {
	entry := r.lookup(sessionID)
	if entry == nil || entry.handle.Cancel == nil {
		return false
	}
	entry.handle.Cancel()
	return true
}

func (r *Registry) Stop(sessionID string) bool {
	entry := r.lookup(sessionID)
	if entry == nil || entry.handle.Stop == nil {
		return false
	}
	entry.handle.Stop()
	return true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns a snapshot of registered sessions ordered by creation time.
func (r *Registry) List() []Info {
	type snapshot struct {
		id     string
		handle Handle
	}

	r.mu.Lock()
	entries := make([]snapshot, 0, len(r.sessions))
	for id, entry := range r.sessions {
		entries = append(entries, snapshot{id: id, handle: entry.handle})
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		info := Info{ID: entry.id, CreatedAt: entry.handle.CreatedAt}
		if entry.handle.State != nil {
			info.State = entry.handle.State()
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

func (r *Registry) CancelAll() (canceled int) {
	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx is
// done. It reports whether all sessions finished.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
