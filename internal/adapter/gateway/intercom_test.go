package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fxpanel/internal/domain"
)

type intercomHarness struct {
	api *apiHarness
	ic  *Intercom
}

func newIntercomAPI(t *testing.T, token string) *intercomHarness {
	t.Helper()
	sup := newStubSupervisor()
	sup.status.Uptime = 90 * time.Second
	cfg := testGatewayConfig()
	srv := NewServer(&testBus{}, AuthFromConfig(cfg.Auth), cfg, discardLogger)
	ic := NewIntercom(token, "1.2.3", sup, discardLogger)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ic.started = base
	ic.now = func() time.Time { return base.Add(10 * time.Minute) }
	RegisterIntercom(srv, ic)

	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &intercomHarness{api: &apiHarness{url: ts.URL, sup: sup}, ic: ic}
}

func TestIntercomRejectsBadToken(t *testing.T) {
	h := newIntercomAPI(t, "fx-secret")

	for _, body := range []string{
		``,
		`{"txAdminToken":"wrong"}`,
		`{"txAdminToken":42}`,
	} {
		status, resp := h.api.do(t, "POST", "/intercom/monitor", "", body)
		if status != http.StatusUnauthorized {
			t.Errorf("body %q: status = %d", body, status)
		}
		if resp["type"] != "danger" {
			t.Errorf("body %q: resp = %v", body, resp)
		}
	}
	if !h.ic.LastHeartbeat().IsZero() {
		t.Error("rejected request recorded a heartbeat")
	}
}

func TestIntercomEmptyTokenRejectsAll(t *testing.T) {
	h := newIntercomAPI(t, "")

	status, _ := h.api.do(t, "POST", "/intercom/monitor", "", `{"txAdminToken":""}`)
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d", status)
	}
}

func TestIntercomIgnoresOperatorToken(t *testing.T) {
	h := newIntercomAPI(t, "fx-secret")

	status, _ := h.api.do(t, "POST", "/intercom/monitor", "test-token", `{}`)
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d", status)
	}
}

func TestIntercomMonitor(t *testing.T) {
	h := newIntercomAPI(t, "fx-secret")

	status, resp := h.api.do(t, "POST", "/intercom/monitor", "", `{"txAdminToken":"fx-secret"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if resp["version"] != "1.2.3" || resp["fxServerState"] != string(domain.ServerStateRunning) {
		t.Errorf("resp = %v", resp)
	}
	if resp["panelUptime"] != float64(600) || resp["fxServerUptime"] != float64(90) {
		t.Errorf("uptimes = %v / %v", resp["panelUptime"], resp["fxServerUptime"])
	}
	if got := h.ic.LastHeartbeat(); !got.Equal(h.ic.now()) {
		t.Errorf("heartbeat = %v", got)
	}
}

func TestIntercomResources(t *testing.T) {
	h := newIntercomAPI(t, "fx-secret")

	status, resp := h.api.do(t, "POST", "/intercom/resources", "",
		`{"txAdminToken":"fx-secret","resources":[{"name":"chat"},{"name":"spawnmanager"}]}`)
	if status != http.StatusOK || resp["type"] != "success" {
		t.Fatalf("status = %d resp = %v", status, resp)
	}

	list, at := h.ic.Resources()
	if len(list) != 2 || !strings.Contains(string(list[0]), "chat") {
		t.Errorf("resources = %s", list)
	}
	if !at.Equal(h.ic.now()) {
		t.Errorf("resources at = %v", at)
	}
}

func TestIntercomResourcesRequireList(t *testing.T) {
	h := newIntercomAPI(t, "fx-secret")

	for _, field := range []string{``, `,"resources":null`, `,"resources":{"name":"chat"}`, `,"resources":"chat"`} {
		body := fmt.Sprintf(`{"txAdminToken":"fx-secret"%s}`, field)
		status, resp := h.api.do(t, "POST", "/intercom/resources", "", body)
		if status != http.StatusBadRequest || resp["message"] != "Invalid Request" {
			t.Errorf("body %s: status = %d resp = %v", body, status, resp)
		}
	}
	if list, _ := h.ic.Resources(); len(list) != 0 {
		t.Errorf("invalid request stored resources: %s", list)
	}
}

func TestIntercomUnknownScope(t *testing.T) {
	h := newIntercomAPI(t, "fx-secret")

	status, resp := h.api.do(t, "POST", "/intercom/players", "", `{"txAdminToken":"fx-secret"}`)
	if status != http.StatusNotFound {
		t.Errorf("status = %d", status)
	}
	if resp["type"] != "danger" || resp["message"] != "Unknown intercom scope." {
		t.Errorf("resp = %v", resp)
	}
}

func TestIntercomSetToken(t *testing.T) {
	h := newIntercomAPI(t, "old")
	h.ic.SetToken("new")

	if status, _ := h.api.do(t, "POST", "/intercom/monitor", "", `{"txAdminToken":"old"}`); status != http.StatusUnauthorized {
		t.Errorf("old token status = %d", status)
	}
	if status, _ := h.api.do(t, "POST", "/intercom/monitor", "", `{"txAdminToken":"new"}`); status != http.StatusOK {
		t.Errorf("new token status = %d", status)
	}
}
