// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cadencecrm/realtime/internal/auth"
	"github.com/cadencecrm/realtime/internal/bus"
	"github.com/cadencecrm/realtime/internal/config"
	"github.com/cadencecrm/realtime/internal/notify"
	"github.com/cadencecrm/realtime/internal/realtime"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	srv      *httptest.Server
	mem      *bus.Memory
	manager  *realtime.Manager
	notifier *notify.Service
	verifier *auth.Verifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
		},
		Auth: config.AuthConfig{JWTSecret: testSecret},
		WebSocket: config.WebSocketConfig{
			SendBuffer:       64,
			MaxMessageSize:   64 << 10,
			InboundRateLimit: 100,
			InboundRateBurst: 200,
		},
	}

	mem := bus.NewMemory()
	manager := realtime.NewManager(mem, mem)
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	notifier := notify.NewService(mem, mem, manager)

	handler := NewHandler(cfg, manager, notifier, verifier)
	mw := NewMiddleware(MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	})
	srv := httptest.NewServer(NewRouter(handler, mw).Setup())

	t.Cleanup(func() {
		srv.Close()
		manager.Close()
		mem.Close()
	})

	return &testEnv{srv: srv, mem: mem, manager: manager, notifier: notifier, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, identity auth.Identity) string {
	t.Helper()
	token, err := e.verifier.Sign(identity, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body []byte) (*http.Response, APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	var parsed APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return resp, parsed
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, parsed := env.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !parsed.Success {
		t.Error("Success = false, want true")
	}
}

func TestStatsRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, parsed := env.request(t, http.MethodGet, "/api/v1/ws/stats", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if parsed.Error == nil || parsed.Error.Code != "UNAUTHORIZED" {
		t.Errorf("error = %+v, want UNAUTHORIZED", parsed.Error)
	}

	resp, _ = env.request(t, http.MethodGet, "/api/v1/ws/stats", "garbage-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with bad token = %d, want 401", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, auth.Identity{UserID: 1, TenantID: uuid.New()})

	resp, parsed := env.request(t, http.MethodGet, "/api/v1/ws/stats", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	data, ok := parsed.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want object", parsed.Data)
	}
	for _, field := range []string{"total_connections", "users_connected", "tenants_active", "active_channels", "bus_subscriptions"} {
		if _, present := data[field]; !present {
			t.Errorf("stats missing field %q", field)
		}
	}
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t)
	tenant := uuid.New()
	token := env.token(t, auth.Identity{UserID: 1, TenantID: tenant})

	sub, err := env.mem.Subscribe(context.Background(), realtime.TenantBroadcastChannel)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	body := []byte(`{"type":"announcement","data":{"title":"maintenance"}}`)
	resp, parsed := env.request(t, http.MethodPost, "/api/v1/ws/broadcast/"+tenant.String(), token, body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, error = %+v", resp.StatusCode, parsed.Error)
	}

	select {
	case payload := <-sub:
		n, err := realtime.DecodeNotification(payload)
		if err != nil {
			t.Fatalf("DecodeNotification() error = %v", err)
		}
		if n.Type != "announcement" || n.TenantID == nil || *n.TenantID != tenant {
			t.Errorf("published notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never reached the bus")
	}
}

func TestBroadcastForeignTenantForbidden(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, auth.Identity{UserID: 1, TenantID: uuid.New()})

	body := []byte(`{"type":"announcement"}`)
	resp, parsed := env.request(t, http.MethodPost, "/api/v1/ws/broadcast/"+uuid.NewString(), token, body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if parsed.Error == nil || parsed.Error.Code != "FORBIDDEN" {
		t.Errorf("error = %+v, want FORBIDDEN", parsed.Error)
	}
}

func TestBroadcastValidation(t *testing.T) {
	env := newTestEnv(t)
	tenant := uuid.New()
	token := env.token(t, auth.Identity{UserID: 1, TenantID: tenant})

	// Bad tenant id in the path.
	resp, _ := env.request(t, http.MethodPost, "/api/v1/ws/broadcast/not-a-uuid", token, []byte(`{"type":"x"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad tenant status = %d, want 400", resp.StatusCode)
	}

	// Missing type field.
	resp, _ = env.request(t, http.MethodPost, "/api/v1/ws/broadcast/"+tenant.String(), token, []byte(`{"data":{}}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing type status = %d, want 400", resp.StatusCode)
	}

	// Malformed body.
	resp, _ = env.request(t, http.MethodPost, "/api/v1/ws/broadcast/"+tenant.String(), token, []byte(`{broken`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}
}

func TestOfflineDrain(t *testing.T) {
	env := newTestEnv(t)
	tenant := uuid.New()
	token := env.token(t, auth.Identity{UserID: 7, TenantID: tenant})

	// Queue one notification for an offline user.
	if err := env.notifier.NotifyUser(context.Background(), 7, tenant, notify.EventDealUpdated, map[string]any{"deal_id": "d-1"}); err != nil {
		t.Fatalf("NotifyUser() error = %v", err)
	}

	resp, parsed := env.request(t, http.MethodGet, "/api/v1/ws/notifications/offline", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	data, ok := parsed.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want object", parsed.Data)
	}
	if count, _ := data["count"].(float64); count != 1 {
		t.Errorf("count = %v, want 1", data["count"])
	}

	// Draining empties the queue.
	_, parsed = env.request(t, http.MethodGet, "/api/v1/ws/notifications/offline", token, nil)
	data = parsed.Data.(map[string]any)
	if count, _ := data["count"].(float64); count != 0 {
		t.Errorf("second drain count = %v, want 0", data["count"])
	}
}
