package session

import (
	"sync"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
)

// Credential is the opaque bearer access token. The empty value means no
// credential is held.
type Credential string

// Snapshot is a consistent view of the session at one point in time.
type Snapshot struct {
	Credential Credential
	Profile    *client.Profile
}

// Authenticated reports whether both halves of the session are present.
func (s Snapshot) Authenticated() bool {
	return s.Credential != "" && s.Profile != nil
}

// Store holds the current credential and user profile and notifies
// subscribers on every change. It never talks to the network.
type Store struct {
	mu         sync.RWMutex
	credential Credential
	profile    *client.Profile
	generation uint64

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextID    int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{observers: make(map[int]func(Snapshot))}
}

// Credential returns the access credential, or "" when none is held.
func (s *Store) Credential() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

func (s *Store) credentialAt() (Credential, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.generation
}

// Profile returns a copy of the cached profile, or nil.
func (s *Store) Profile() *client.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyProfile(s.profile)
}

// Snapshot returns credential and profile read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Credential: s.credential, Profile: copyProfile(s.profile)}
}

// Generation changes every time a session is started or cleared. Writers
// that raced with such a change use it to drop their stale result.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SetCredential replaces the credential and keeps the profile.
func (s *Store) SetCredential(c Credential) {
	s.mu.Lock()
	s.credential = c
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SetCredentialIf replaces the credential only while the generation is still
// gen. It reports whether the write happened.
func (s *Store) SetCredentialIf(gen uint64, c Credential) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}
	s.credential = c
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

// StartSession installs a credential for a new login and returns the new
// generation. Any profile of a previous session is dropped.
func (s *Store) StartSession(c Credential) uint64 {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.credential = c
	s.profile = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return gen
}

// SetProfile replaces the profile unconditionally.
func (s *Store) SetProfile(p *client.Profile) {
	s.mu.Lock()
	s.profile = copyProfile(p)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SetProfileIf sets p only while the generation is still gen and a
// credential is held. It reports whether the write happened.
func (s *Store) SetProfileIf(gen uint64, p *client.Profile) bool {
	s.mu.Lock()
	if s.generation != gen || s.credential == "" {
		s.mu.Unlock()
		return false
	}
	s.profile = copyProfile(p)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

// ReplaceProfile sets p only when a credential is held, so a late profile
// response cannot resurrect a cleared session.
func (s *Store) ReplaceProfile(p *client.Profile) bool {
	s.mu.Lock()
	if s.credential == "" {
		s.mu.Unlock()
		return false
	}
	s.profile = copyProfile(p)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

// Clear drops credential and profile. It reports whether anything was held;
// subscribers are only notified in that case.
func (s *Store) Clear() bool {
	s.mu.Lock()
	changed := s.clearLocked()
	s.mu.Unlock()

	if changed {
		s.notify(Snapshot{})
	}
	return changed
}

// ClearIf clears the session only while the generation is still gen.
// applied is false when a newer session was started or the session was
// already cleared since gen was read.
func (s *Store) ClearIf(gen uint64) (changed, applied bool) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false, false
	}
	changed = s.clearLocked()
	s.mu.Unlock()

	if changed {
		s.notify(Snapshot{})
	}
	return changed, true
}

func (s *Store) clearLocked() bool {
	s.generation++
	changed := s.credential != "" || s.profile != nil
	s.credential = ""
	s.profile = nil
	return changed
}

// Subscribe registers fn to be called with the new snapshot after each
// change. Calls happen on the writer's goroutine, outside the store's lock.
// The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.obsMu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(snap Snapshot) {
	s.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func copyProfile(p *client.Profile) *client.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
