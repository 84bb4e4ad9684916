package repo

import (
	"context"
	"sync"
	"time"

	"github.com/libraryid/server/internal/model"
)

// memoryEntry guards one identity. Updates on different identities never contend
// on the same lock.
type memoryEntry struct {
	mu      sync.Mutex
	session model.Session
	deleted bool
}

type memorySessionRepo struct {
	mu      sync.Mutex // guards entries
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemorySessionRepo creates an in-process SessionRepo. State is lost on restart.
func NewMemorySessionRepo() SessionRepo {
	return &memorySessionRepo{
		entries: make(map[string]*memoryEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *memorySessionRepo) entry(identity string) (*memoryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[identity]
	return e, ok
}

func (r *memorySessionRepo) Get(_ context.Context, identity string) (model.Session, error) {
	e, ok := r.entry(identity)
	if !ok {
		return model.Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return model.Session{}, ErrSessionNotFound
	}
	return e.session, nil
}

func (r *memorySessionRepo) Create(_ context.Context, identity string) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[identity]; ok {
		return model.Session{}, ErrSessionExists
	}
	s := model.NewSession(identity, r.now())
	r.entries[identity] = &memoryEntry{session: s}
	return s, nil
}

func (r *memorySessionRepo) Update(ctx context.Context, identity string, fn Mutator) (model.Session, error) {
	e, ok := r.entry(identity)
	if !ok {
		return model.Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return model.Session{}, ErrSessionNotFound
	}
	if err := ctx.Err(); err != nil {
		return model.Session{}, err
	}

	after := e.session
	if err := fn(&after); err != nil {
		return model.Session{}, err
	}
	if err := model.ValidateTransition(e.session, after); err != nil {
		return model.Session{}, err
	}
	after.UpdatedAt = r.now()
	e.session = after
	return after, nil
}

func (r *memorySessionRepo) DeleteIdleBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for identity, e := range r.entries {
		// Skip entries with an update in flight; they are not idle.
		if !e.mu.TryLock() {
			continue
		}
		if e.session.UpdatedAt.Before(cutoff) {
			e.deleted = true
			delete(r.entries, identity)
			deleted++
		}
		e.mu.Unlock()
	}
	return deleted, nil
}
