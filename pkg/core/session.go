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

package core

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/playpulse/presenced/pkg/broadcast"
	"github.com/playpulse/presenced/pkg/identity"
	"github.com/playpulse/presenced/pkg/models"
	"github.com/playpulse/presenced/pkg/presence"
	"github.com/playpulse/presenced/pkg/registry"
)

const (
	// ReplyAccepted is sent back for an authorized heartbeat.
	ReplyAccepted = "Success!"

	// ReplyRejected is sent back for an unauthorized or unprocessable
	// heartbeat. Malformed frames and store failures use it too, so the
	// client cannot distinguish a server fault from a denial.
	ReplyRejected = "Failed to check user"

	replyWriteTimeout = 5 * time.Second
	teardownTimeout   = 5 * time.Second

	observerKeepaliveInterval = 30 * time.Second
)

// SessionConn is the transport handle of one heartbeat connection.
// *websocket.Conn satisfies it.
type SessionConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ObserverConn is the transport handle of one observer connection.
type ObserverConn interface {
	broadcast.Conn
	ReadMessage() (messageType int, p []byte, err error)
}

// ServeHeartbeat runs the read loop for one device connection until the
// peer disconnects or ctx is canceled. It owns the connection: the
// transport is closed before returning, and the registry session it opened
// is always unregistered exactly once.
func (s *Service) ServeHeartbeat(ctx context.Context, conn SessionConn, remoteAddr string) {
	session := s.registry.Register()
	networkAddress := hostOnly(remoteAddr)

	log := s.logger.With().
		Str("session_id", session.ID().String()).
		Str("remote_addr", remoteAddr).
		Logger()

	log.Debug().Msg("heartbeat connection opened")

	defer func() {
		_ = conn.Close()

		identifier, wentOffline := s.registry.Unregister(session)
		if identifier == "" {
			log.Debug().Msg("heartbeat connection closed before identification")
			return
		}

		log.Info().
			Str("identifier", identifier).
			Bool("went_offline", wentOffline).
			Int("live_devices", len(s.registry.LiveIdentifiers())).
			Msg("heartbeat connection closed")

		if !wentOffline {
			return
		}

		// The connection's context is gone by now; the terminal
		// last_active write gets its own deadline.
		teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := s.reconciler.Finalize(teardownCtx, identifier, time.Now().UTC()); err != nil {
			log.Error().Err(err).Str("identifier", identifier).Msg("failed to record final last_active")
		}

		s.broadcaster.NotifyAll()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		s.handleHeartbeat(ctx, session, conn, payload, networkAddress, log)
	}
}

func (s *Service) handleHeartbeat(
	ctx context.Context,
	session *registry.Session,
	conn SessionConn,
	payload []byte,
	networkAddress string,
	log zerolog.Logger,
) {
	var hb models.HeartbeatRequest
	if err := json.Unmarshal(payload, &hb); err != nil {
		log.Warn().Err(err).Msg("discarding malformed heartbeat")
		s.reply(conn, ReplyRejected, log)

		return
	}

	resolved := identity.Resolve(hb.DeviceID, networkAddress)
	identifier := s.registry.MarkIdentified(session, resolved)

	decision, err := s.reconciler.Reconcile(ctx, identifier, &hb, networkAddress, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("identifier", identifier).Msg("failed to reconcile heartbeat")
		s.reply(conn, ReplyRejected, log)

		return
	}

	if decision == presence.Accepted {
		s.reply(conn, ReplyAccepted, log)
	} else {
		s.reply(conn, ReplyRejected, log)
	}

	s.broadcaster.NotifyAll()
}

func (s *Service) reply(conn SessionConn, message string, log zerolog.Logger) {
	if err := conn.SetWriteDeadline(time.Now().Add(replyWriteTimeout)); err != nil {
		log.Warn().Err(err).Msg("failed to set reply deadline")
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		log.Warn().Err(err).Msg("failed to send heartbeat reply")
	}
}

// ServeObserver attaches a dashboard connection to the broadcaster and
// blocks until it drops. Observers never send meaningful frames; the read
// loop exists only to detect disconnects.
func (s *Service) ServeObserver(ctx context.Context, conn ObserverConn) {
	observer := s.broadcaster.Attach(conn)

	defer func() {
		s.broadcaster.Detach(observer)
		_ = conn.Close()

		s.logger.Debug().
			Str("observer_id", observer.ID().String()).
			Msg("observer connection closed")
	}()

	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(observerKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := s.broadcaster.Keepalive(observer); err != nil {
				return
			}
		}
	}
}

// hostOnly strips the port from a remote address; addresses without a port
// pass through unchanged.
func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}

	return host
}
