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

// Package broadcast fans out refresh notices to passive observer
// connections, decoupled from the heartbeat write path.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/playpulse/presenced/pkg/logger"
)

const (
	// RefreshToken is the literal frame observers receive when device state
	// changed. It carries no payload; observers re-pull the snapshot.
	RefreshToken = "update"

	// KeepaliveToken is an application-level ping so dead observers are
	// detached promptly. Observers ignore it.
	KeepaliveToken = "ping"

	defaultWriteTimeout = 5 * time.Second
)

// Conn is the writable transport handle of one observer connection.
// *websocket.Conn satisfies it.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Observer is one attached dashboard connection. Writes to the underlying
// transport are serialized through the observer's own mutex so refresh
// notices and keepalives never interleave on the wire.
type Observer struct {
	id   uuid.UUID
	conn Conn
	mu   sync.Mutex
}

// ID returns the observer's transient id, used only for logging.
func (o *Observer) ID() uuid.UUID {
	return o.id
}

func (o *Observer) send(token string, timeout time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	return o.conn.WriteMessage(websocket.TextMessage, []byte(token))
}

// Broadcaster owns the attached observer set.
type Broadcaster struct {
	mu           sync.RWMutex
	observers    map[uuid.UUID]*Observer
	writeTimeout time.Duration
	logger       logger.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log logger.Logger) *Broadcaster {
	return &Broadcaster{
		observers:    make(map[uuid.UUID]*Observer),
		writeTimeout: defaultWriteTimeout,
		logger:       log,
	}
}

// Attach registers an observer connection and returns its handle.
func (b *Broadcaster) Attach(conn Conn) *Observer {
	observer := &Observer{id: uuid.New(), conn: conn}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.observers[observer.id] = observer

	b.logger.Debug().
		Str("observer_id", observer.id.String()).
		Int("observer_count", len(b.observers)).
		Msg("observer attached")

	return observer
}

// Detach removes an observer. Safe to call for an already-detached observer.
func (b *Broadcaster) Detach(observer *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.observers, observer.id)
}

// ObserverCount returns the number of attached observers.
func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.observers)
}

// NotifyAll pushes the refresh token to every attached observer,
// best-effort. A send failure detaches that observer and closes its
// transport; delivery to the others proceeds, and the caller never sees an
// error. Each send carries its own deadline so one stalled observer cannot
// hold up the rest.
func (b *Broadcaster) NotifyAll() {
	for _, observer := range b.snapshot() {
		if err := observer.send(RefreshToken, b.writeTimeout); err != nil {
			b.logger.Warn().
				Err(err).
				Str("observer_id", observer.id.String()).
				Msg("failed to notify observer; detaching")

			b.Detach(observer)
			_ = observer.conn.Close()
		}
	}
}

// Keepalive sends the keepalive token to one observer; the observer loop
// uses the error to decide when to tear the connection down.
func (b *Broadcaster) Keepalive(observer *Observer) error {
	return observer.send(KeepaliveToken, b.writeTimeout)
}

func (b *Broadcaster) snapshot() []*Observer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	observers := make([]*Observer, 0, len(b.observers))
	for _, observer := range b.observers {
		observers = append(observers, observer)
	}

	return observers
}
