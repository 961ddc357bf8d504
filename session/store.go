package session

import (
	"errors"
	"sync"
	"time"

	"github.com/clinware/sessionguard/internal/integrity"
)

// ErrDuplicateSessionID is returned when an insert collides with an existing
// session id. Collisions are statistically negligible; the check is a
// defensive invariant, not an expected path.
var ErrDuplicateSessionID = errors.New("duplicate session id")

// ErrSessionNotFound is returned by Replace when the rotated-out id is gone.
var ErrSessionNotFound = errors.New("session not found in store")

// Store is the authoritative keyed collection of sessions plus two secondary
// indices (by principal, by source address). A single RWMutex covers the map
// and both indices, so no caller can observe the store and an index
// disagreeing about which sessions exist.
type Store struct {
	mu    sync.RWMutex
	guard *integrity.Guard

	sessions    map[string]*Session
	byPrincipal map[string]map[string]struct{}
	byAddress   map[string]map[string]struct{}
}

func NewStore(guard *integrity.Guard) *Store {
	return &Store{
		guard:       guard,
		sessions:    make(map[string]*Session),
		byPrincipal: make(map[string]map[string]struct{}),
		byAddress:   make(map[string]map[string]struct{}),
	}
}

func (s *Store) tag(sess *Session) [32]byte {
	return s.guard.Tag(sess.SessionID, sess.PrincipalID, sess.CreatedAt, sess.DeviceFingerprint)
}

// Put inserts or overwrites a session by id, recomputing its integrity tag
// and maintaining both indices.
func (s *Store) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(sess)
}

// Insert adds a session, failing on id collision.
func (s *Store) Insert(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.SessionID]; exists {
		return ErrDuplicateSessionID
	}
	s.putLocked(sess)
	return nil
}

// InsertExclusive atomically inserts a session and, when singleSession is
// set, removes every other active session of the same principal. The removed
// sessions are returned so the caller can audit them outside the lock.
func (s *Store) InsertExclusive(sess Session, singleSession bool) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.SessionID]; exists {
		return nil, ErrDuplicateSessionID
	}

	var replaced []Session
	if singleSession {
		for id := range s.byPrincipal[sess.PrincipalID] {
			existing := s.sessions[id]
			if existing == nil || existing.Status != StatusActive {
				continue
			}
			replaced = append(replaced, *existing)
			s.removeLocked(id)
		}
	}

	s.putLocked(sess)
	return replaced, nil
}

// Get returns a copy of the stored session.
func (s *Store) Get(sessionID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// RemoveWithIndices removes the record and prunes it from both indices.
// Removing an unknown id is a no-op. The removed session is returned for
// audit purposes.
func (s *Store) RemoveWithIndices(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	removed := *sess
	s.removeLocked(sessionID)
	return removed, true
}

// Replace atomically removes the session stored under oldID and inserts its
// replacement under the new id. Used for full session-id rotation.
func (s *Store) Replace(oldID string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[oldID]; !ok {
		return ErrSessionNotFound
	}
	if oldID != sess.SessionID {
		if _, exists := s.sessions[sess.SessionID]; exists {
			return ErrDuplicateSessionID
		}
	}

	s.removeLocked(oldID)
	s.putLocked(sess)
	return nil
}

// Update applies mutate to the stored session and re-persists it under the
// same id, retagging and reindexing, all under one lock. It fails when the id
// is absent, so an update can never resurrect a concurrently removed session.
// The session id itself is pinned; id rotation goes through Replace.
func (s *Store) Update(sessionID string, mutate func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	updated := *sess
	mutate(&updated)
	updated.SessionID = sessionID
	s.putLocked(updated)
	return *s.sessions[sessionID], true
}

// Restore inserts a record as-is, preserving its existing integrity tag. Used
// to load sessions persisted by an earlier process run: tags from that run are
// verified on use rather than reissued at load.
func (s *Store) Restore(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(sess)
}

// Touch updates LastActivityAt and bumps the access counter.
func (s *Store) Touch(sessionID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	sess.LastActivityAt = at
	sess.AccessCount++
	return true
}

// MarkStatus flips the session status in place. The tag covers only identity
// and binding fields, so no recompute is needed.
func (s *Store) MarkStatus(sessionID string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	sess.Status = status
	return true
}

// SetPayload attaches the opaque encrypted payload to a stored session.
func (s *Store) SetPayload(sessionID string, blob []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	sess.EncryptedPayload = blob
	return true
}

// ActiveSessionsFor returns copies of the active sessions of a principal.
func (s *Store) ActiveSessionsFor(principalID string) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for id := range s.byPrincipal[principalID] {
		sess := s.sessions[id]
		if sess != nil && sess.Status == StatusActive {
			out = append(out, *sess)
		}
	}
	return out
}

// SessionsForAddress returns copies of all sessions bound to a source address.
func (s *Store) SessionsForAddress(address string) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for id := range s.byAddress[address] {
		if sess := s.sessions[id]; sess != nil {
			out = append(out, *sess)
		}
	}
	return out
}

// Snapshot returns a point-in-time copy of every stored session. Background
// tasks iterate the snapshot so they never hold the lock across lifecycle
// calls.
func (s *Store) Snapshot() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Verify checks the integrity tag of a session copy against the guard key.
func (s *Store) Verify(sess Session) bool {
	return s.guard.Verify(sess.SessionID, sess.PrincipalID, sess.CreatedAt, sess.DeviceFingerprint, sess.IntegrityTag)
}

// PurgeExpiredBefore removes every session whose expiry is older than cutoff,
// regardless of status, and returns the removed records.
func (s *Store) PurgeExpiredBefore(cutoff time.Time) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []Session
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(cutoff) {
			purged = append(purged, *sess)
			s.removeLocked(id)
		}
	}
	return purged
}

func (s *Store) putLocked(sess Session) {
	sess.IntegrityTag = s.tag(&sess)
	s.storeLocked(sess)
}

func (s *Store) storeLocked(sess Session) {
	if old, ok := s.sessions[sess.SessionID]; ok {
		// Re-index in case an overwrite ever changes a binding field.
		s.dropIndex(s.byPrincipal, old.PrincipalID, old.SessionID)
		s.dropIndex(s.byAddress, old.SourceAddress, old.SessionID)
	}

	stored := sess
	s.sessions[sess.SessionID] = &stored
	s.addIndex(s.byPrincipal, sess.PrincipalID, sess.SessionID)
	s.addIndex(s.byAddress, sess.SourceAddress, sess.SessionID)
}

func (s *Store) removeLocked(sessionID string) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)
	s.dropIndex(s.byPrincipal, sess.PrincipalID, sessionID)
	s.dropIndex(s.byAddress, sess.SourceAddress, sessionID)
}

func (s *Store) addIndex(index map[string]map[string]struct{}, key, sessionID string) {
	bucket, ok := index[key]
	if !ok {
		bucket = make(map[string]struct{})
		index[key] = bucket
	}
	bucket[sessionID] = struct{}{}
}

func (s *Store) dropIndex(index map[string]map[string]struct{}, key, sessionID string) {
	bucket, ok := index[key]
	if !ok {
		return
	}
	delete(bucket, sessionID)
	if len(bucket) == 0 {
		delete(index, key)
	}
}
