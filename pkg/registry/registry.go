/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package registry tracks open heartbeat connections and the set of live
// device identifiers. It is the single source of truth for "is this device
// online right now"; no other component mutates its state directly.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Session is one open heartbeat connection. The identifier stays empty
// until the first valid heartbeat resolves it, and is fixed for the
// session's lifetime once bound.
type Session struct {
	id         uuid.UUID
	identifier string
	closed     bool
}

// ID returns the session's transient id, used only for logging.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// ConnectionRegistry owns the session set and the live identifier
// refcounts. All fields are guarded by mu; every method is safe under
// arbitrary concurrent invocation from connection handlers.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	live     map[string]int
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		sessions: make(map[uuid.UUID]*Session),
		live:     make(map[string]int),
	}
}

// Register adds a session for a freshly accepted connection. The session is
// observable to liveness queries as soon as it is identified.
func (r *ConnectionRegistry) Register() *Session {
	session := &Session{id: uuid.New()}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.id] = session

	return session
}

// MarkIdentified binds an identifier to the session and returns the bound
// value. Only the first call binds; later calls return the original
// identifier regardless of the argument, so a session's identity never
// changes mid-stream.
func (r *ConnectionRegistry) MarkIdentified(session *Session, identifier string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.closed || session.identifier != "" {
		return session.identifier
	}

	session.identifier = identifier
	r.live[identifier]++

	return identifier
}

// Unregister removes the session. It reports the session's identifier and
// whether this removal took the identifier offline (last session bound to
// it). Calling Unregister twice for the same session is a no-op the second
// time, so the caller's teardown write cannot fire more than once.
func (r *ConnectionRegistry) Unregister(session *Session) (identifier string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.closed {
		return "", false
	}

	session.closed = true
	delete(r.sessions, session.id)

	identifier = session.identifier
	if identifier == "" {
		return "", false
	}

	r.live[identifier]--
	if r.live[identifier] <= 0 {
		delete(r.live, identifier)
		wentOffline = true
	}

	return identifier, wentOffline
}

// IsLive reports whether at least one open session is bound to identifier.
func (r *ConnectionRegistry) IsLive(identifier string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.live[identifier] > 0
}

// SessionCount returns the number of open heartbeat sessions.
func (r *ConnectionRegistry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// LiveIdentifiers returns a snapshot of the currently live identifiers.
func (r *ConnectionRegistry) LiveIdentifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identifiers := make([]string, 0, len(r.live))
	for identifier := range r.live {
		identifiers = append(identifiers, identifier)
	}

	return identifiers
}
