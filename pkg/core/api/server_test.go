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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playpulse/presenced/pkg/core"
	"github.com/playpulse/presenced/pkg/db"
	"github.com/playpulse/presenced/pkg/logger"
	"github.com/playpulse/presenced/pkg/models"
)

type memStore struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

func newMemStore() *memStore {
	return &memStore{devices: make(map[string]*models.Device)}
}

func (m *memStore) UpsertHeartbeat(_ context.Context, upsert *models.DeviceUpsert) (*models.AuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[upsert.UniqueIdentifier]
	if !ok {
		device = &models.Device{UniqueIdentifier: upsert.UniqueIdentifier, RealNickname: "-"}
		m.devices[upsert.UniqueIdentifier] = device
	}

	device.DeviceID = upsert.DeviceID
	device.IP = upsert.IP
	device.Server = upsert.Server
	device.Nickname = upsert.Nickname
	device.LicenseActive = upsert.LicenseActive
	device.LastActive = upsert.LastActive

	return &models.AuthState{Allowed: device.Allowed, ExpireDate: device.ExpireDate}, nil
}

func (m *memStore) TouchLastActive(_ context.Context, identifier string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[identifier]
	if !ok {
		return db.ErrDeviceNotFound
	}

	device.LastActive = now

	return nil
}

func (m *memStore) GetDevice(_ context.Context, identifier string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[identifier]
	if !ok {
		return nil, db.ErrDeviceNotFound
	}

	return device, nil
}

func (m *memStore) ListDevices(_ context.Context) ([]*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]*models.Device, 0, len(m.devices))
	for _, device := range m.devices {
		devices = append(devices, device)
	}

	return devices, nil
}

func (*memStore) Close() {}

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()

	store := newMemStore()
	service := core.NewService(store, logger.NewTestLogger())
	apiServer := NewAPIServer(service, logger.NewTestLogger())

	ts := httptest.NewServer(apiServer.Router())
	t.Cleanup(ts.Close)

	return ts, store
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestDashboardServed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestDataEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/data")
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []models.DeviceView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	assert.Empty(t, views)
}

func TestHeartbeatOverWebSocket(t *testing.T) {
	ts, store := newTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
	require.NoError(t, err)

	defer resp.Body.Close()
	defer conn.Close()

	hb := `{"deviceid":"dev-1","nickname":"player","server":"eu-1","gamestate":1}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(hb)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, core.ReplyRejected, string(reply), "unknown device must be rejected")

	store.mu.Lock()
	_, persisted := store.devices["dev-1"]
	store.mu.Unlock()
	assert.True(t, persisted, "heartbeat must persist the device row")
}

func TestObserverReceivesRefreshToken(t *testing.T) {
	ts, _ := newTestServer(t)

	observer, observerResp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/observe"), nil)
	require.NoError(t, err)

	defer observerResp.Body.Close()
	defer observer.Close()

	device, deviceResp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
	require.NoError(t, err)

	defer deviceResp.Body.Close()
	defer device.Close()

	hb := `{"deviceid":"dev-1","nickname":"player","server":"eu-1","gamestate":1}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(hb)))

	require.NoError(t, observer.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, token, err := observer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "update", string(token))
}

func TestDisallowedOriginCannotUpgrade(t *testing.T) {
	store := newMemStore()
	service := core.NewService(store, logger.NewTestLogger())
	apiServer := NewAPIServer(service, logger.NewTestLogger(),
		WithCORSConfig(models.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}))

	ts := httptest.NewServer(apiServer.Router())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), header) //nolint:bodyclose // no body on failed upgrade
	if conn != nil {
		conn.Close()
	}

	if resp != nil {
		defer resp.Body.Close()
	}

	assert.Error(t, err)
}
