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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playpulse/presenced/pkg/db"
	"github.com/playpulse/presenced/pkg/logger"
	"github.com/playpulse/presenced/pkg/models"
)

type fakeStore struct {
	mu      sync.Mutex
	devices map[string]*models.Device
	touches []string
	upserts int
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: make(map[string]*models.Device)}
}

func (f *fakeStore) UpsertHeartbeat(_ context.Context, upsert *models.DeviceUpsert) (*models.AuthState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failing {
		return nil, errors.New("store unavailable")
	}

	f.upserts++

	device, ok := f.devices[upsert.UniqueIdentifier]
	if !ok {
		device = &models.Device{
			UniqueIdentifier: upsert.UniqueIdentifier,
			RealNickname:     "-",
		}
		f.devices[upsert.UniqueIdentifier] = device
	}

	device.DeviceID = upsert.DeviceID
	device.IP = upsert.IP
	device.Server = upsert.Server
	device.Nickname = upsert.Nickname
	device.LicenseActive = upsert.LicenseActive
	device.LastActive = upsert.LastActive

	return &models.AuthState{Allowed: device.Allowed, ExpireDate: device.ExpireDate}, nil
}

func (f *fakeStore) TouchLastActive(_ context.Context, identifier string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	device, ok := f.devices[identifier]
	if !ok {
		return db.ErrDeviceNotFound
	}

	device.LastActive = now
	f.touches = append(f.touches, identifier)

	return nil
}

func (f *fakeStore) GetDevice(_ context.Context, identifier string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	device, ok := f.devices[identifier]
	if !ok {
		return nil, db.ErrDeviceNotFound
	}

	return device, nil
}

func (f *fakeStore) ListDevices(_ context.Context) ([]*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	devices := make([]*models.Device, 0, len(f.devices))
	for _, device := range f.devices {
		devices = append(devices, device)
	}

	return devices, nil
}

func (*fakeStore) Close() {}

func (f *fakeStore) allow(identifier string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	device, ok := f.devices[identifier]
	if !ok {
		device = &models.Device{UniqueIdentifier: identifier, RealNickname: "-"}
		f.devices[identifier] = device
	}

	device.Allowed = true
}

func (f *fakeStore) touchLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.touches))
	copy(out, f.touches)

	return out
}

// fakeSessionConn feeds scripted inbound frames to ServeHeartbeat and
// records everything written back.
type fakeSessionConn struct {
	inbound chan []byte

	mu      sync.Mutex
	replies []string
	closed  bool
}

func newFakeSessionConn() *fakeSessionConn {
	return &fakeSessionConn{inbound: make(chan []byte, 16)}
}

func (f *fakeSessionConn) ReadMessage() (int, []byte, error) {
	payload, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}

	return 1, payload, nil
}

func (f *fakeSessionConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.replies = append(f.replies, string(data))

	return nil
}

func (*fakeSessionConn) SetWriteDeadline(_ time.Time) error { return nil }

func (f *fakeSessionConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeSessionConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.replies))
	copy(out, f.replies)

	return out
}

func serveAndWait(s *Service, conn *fakeSessionConn, remoteAddr string) chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.ServeHeartbeat(context.Background(), conn, remoteAddr)
	}()

	return done
}

func waitForReplies(t *testing.T, conn *fakeSessionConn, n int) []string {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		replies := conn.sent()
		if len(replies) >= n {
			return replies
		}

		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d replies, got %d", n, len(conn.sent()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServeHeartbeatRejectsUnknownDevice(t *testing.T) {
	store := newFakeStore()
	s := NewService(store, logger.NewTestLogger())

	conn := newFakeSessionConn()
	done := serveAndWait(s, conn, "203.0.113.7:5100")

	conn.inbound <- []byte(`{"deviceid":"dev-1","nickname":"player","server":"eu-1","gamestate":1}`)

	replies := waitForReplies(t, conn, 1)
	assert.Equal(t, ReplyRejected, replies[0])

	assert.True(t, s.registry.IsLive("dev-1"))

	close(conn.inbound)
	<-done

	assert.False(t, s.registry.IsLive("dev-1"))
}

func TestServeHeartbeatAcceptsAllowedDevice(t *testing.T) {
	store := newFakeStore()
	store.allow("dev-1")

	s := NewService(store, logger.NewTestLogger())

	conn := newFakeSessionConn()
	done := serveAndWait(s, conn, "203.0.113.7:5100")

	conn.inbound <- []byte(`{"deviceid":"dev-1","nickname":"player","server":"eu-1","gamestate":1}`)

	replies := waitForReplies(t, conn, 1)
	assert.Equal(t, ReplyAccepted, replies[0])

	close(conn.inbound)
	<-done
}

func TestServeHeartbeatFallsBackToNetworkAddress(t *testing.T) {
	store := newFakeStore()
	s := NewService(store, logger.NewTestLogger())

	conn := newFakeSessionConn()
	done := serveAndWait(s, conn, "203.0.113.7:5100")

	conn.inbound <- []byte(`{"deviceid":"-","nickname":"player","server":"eu-1","gamestate":0}`)

	waitForReplies(t, conn, 1)
	assert.True(t, s.registry.IsLive("203.0.113.7"))

	close(conn.inbound)
	<-done
}

func TestServeHeartbeatSurvivesMalformedFrame(t *testing.T) {
	store := newFakeStore()
	store.allow("dev-1")

	s := NewService(store, logger.NewTestLogger())

	conn := newFakeSessionConn()
	done := serveAndWait(s, conn, "203.0.113.7:5100")

	conn.inbound <- []byte(`not json at all`)
	conn.inbound <- []byte(`{"deviceid":"dev-1","nickname":"player","server":"eu-1","gamestate":1}`)

	replies := waitForReplies(t, conn, 2)
	assert.Equal(t, ReplyRejected, replies[0], "malformed frame gets a rejection, not a disconnect")
	assert.Equal(t, ReplyAccepted, replies[1])

	close(conn.inbound)
	<-done
}

func TestServeHeartbeatStoreFailureKeepsConnection(t *testing.T) {
	store := newFakeStore()
	store.failing = true

	s := NewService(store, logger.NewTestLogger())

	conn := newFakeSessionConn()
	done := serveAndWait(s, conn, "203.0.113.7:5100")

	conn.inbound <- []byte(`{"deviceid":"dev-1","nickname":"player","server":"eu-1","gamestate":1}`)

	replies := waitForReplies(t, conn, 1)
	assert.Equal(t, ReplyRejected, replies[0])

	close(conn.inbound)
	<-done
}

func TestTeardownWritesLastActiveOnce(t *testing.T) {
	store := newFakeStore()
	s := NewService(store, logger.NewTestLogger())

	first := newFakeSessionConn()
	second := newFakeSessionConn()

	firstDone := serveAndWait(s, first, "203.0.113.7:5100")
	secondDone := serveAndWait(s, second, "203.0.113.7:5200")

	hb := []byte(`{"deviceid":"dev-1","nickname":"player","server":"eu-1","gamestate":1}`)
	first.inbound <- hb
	second.inbound <- hb

	waitForReplies(t, first, 1)
	waitForReplies(t, second, 1)

	// First connection down: the identifier is still live, so no teardown
	// write yet.
	close(first.inbound)
	<-firstDone

	assert.True(t, s.registry.IsLive("dev-1"))
	assert.Empty(t, store.touchLog())

	close(second.inbound)
	<-secondDone

	assert.False(t, s.registry.IsLive("dev-1"))
	require.Equal(t, []string{"dev-1"}, store.touchLog(), "exactly one terminal last_active write")
}

func TestConcurrentFirstHeartbeatsCreateOneRow(t *testing.T) {
	store := newFakeStore()
	s := NewService(store, logger.NewTestLogger())

	first := newFakeSessionConn()
	second := newFakeSessionConn()

	firstDone := serveAndWait(s, first, "203.0.113.7:5100")
	secondDone := serveAndWait(s, second, "198.51.100.9:6200")

	hb := []byte(`{"deviceid":"dev-new","nickname":"player","server":"eu-1","gamestate":1}`)

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		first.inbound <- hb
	}()

	go func() {
		defer wg.Done()
		second.inbound <- hb
	}()

	wg.Wait()

	firstReplies := waitForReplies(t, first, 1)
	secondReplies := waitForReplies(t, second, 1)

	// Neither racing first heartbeat may be admitted.
	assert.Equal(t, ReplyRejected, firstReplies[0])
	assert.Equal(t, ReplyRejected, secondReplies[0])

	store.mu.Lock()
	rows := len(store.devices)
	upserts := store.upserts
	store.mu.Unlock()

	assert.Equal(t, 1, rows, "racing first heartbeats must collapse into one row")
	assert.Equal(t, 2, upserts, "both heartbeats reach the store; the upsert absorbs the conflict")

	close(first.inbound)
	close(second.inbound)
	<-firstDone
	<-secondDone
}

func TestUnidentifiedSessionNoTeardownWrite(t *testing.T) {
	store := newFakeStore()
	s := NewService(store, logger.NewTestLogger())

	conn := newFakeSessionConn()
	done := serveAndWait(s, conn, "203.0.113.7:5100")

	// Disconnect without ever sending a heartbeat.
	close(conn.inbound)
	<-done

	assert.Empty(t, store.touchLog())
	assert.Equal(t, 0, s.registry.SessionCount())
}

type fakeObserverConn struct {
	*fakeSessionConn
}

func TestServeObserverReceivesUpdates(t *testing.T) {
	store := newFakeStore()
	s := NewService(store, logger.NewTestLogger())

	observer := &fakeObserverConn{fakeSessionConn: newFakeSessionConn()}

	observerDone := make(chan struct{})

	go func() {
		defer close(observerDone)
		s.ServeObserver(context.Background(), observer)
	}()

	// Wait for the observer to attach before driving a heartbeat.
	deadline := time.After(2 * time.Second)
	for s.ObserverCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("observer never attached")
		case <-time.After(5 * time.Millisecond):
		}
	}

	device := newFakeSessionConn()
	deviceDone := serveAndWait(s, device, "203.0.113.7:5100")

	device.inbound <- []byte(`{"deviceid":"dev-1","nickname":"player","server":"eu-1","gamestate":1}`)
	waitForReplies(t, device, 1)

	assertEventually(t, func() bool {
		for _, msg := range observer.sent() {
			if msg == "update" {
				return true
			}
		}

		return false
	}, "observer never received the refresh token")

	close(device.inbound)
	<-deviceDone

	close(observer.inbound)
	<-observerDone

	assert.Equal(t, 0, s.ObserverCount())
}

func assertEventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		if cond() {
			return
		}

		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
