package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/bookwell/bookwell/libs/auth"
	"github.com/bookwell/bookwell/libs/runtime"
)

type seen struct {
	Path       string `json:"path"`
	UserID     string `json:"userId"`
	BusinessID string `json:"businessId"`
	Role       string `json:"role"`
}

func echoUpstream(t *testing.T, name string) *url.URL {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", name)
		_ = json.NewEncoder(w).Encode(seen{
			Path:       r.URL.Path,
			UserID:     r.Header.Get(headerUserID),
			BusinessID: r.Header.Get(headerBusinessID),
			Role:       r.Header.Get(headerRole),
		})
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	return u
}

func newGateway(t *testing.T) (http.Handler, *auth.HS256) {
	t.Helper()
	signer := auth.NewHS256("test-secret", "bookwell", time.Hour)
	mux := runtime.NewBaseMuxWithReady()
	registerRoutes(mux, upstreams{
		Auth:    echoUpstream(t, "auth"),
		Booking: echoUpstream(t, "booking"),
	}, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return mux, signer
}

func send(h http.Handler, method, path, token string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func TestRequireRole(t *testing.T) {
	h := requireRole(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), auth.RoleOwner, auth.RoleStaff)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set(headerRole, "customer")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}

	reqOK := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqOK.Header.Set(headerRole, auth.RoleStaff)
	rwOK := httptest.NewRecorder()
	h.ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rwOK.Code)
	}
}

func TestAdminRoutesInjectIdentity(t *testing.T) {
	h, signer := newGateway(t)
	token, _, err := signer.Sign("user-1", "biz-1", auth.RoleOwner, "owner@example.com")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	rw := send(h, http.MethodGet, "/api/appointments?date=2026-03-02", token, map[string]string{headerBusinessID: "someone-else"})
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if rw.Header().Get("X-Upstream") != "booking" {
		t.Fatalf("expected booking upstream, got %q", rw.Header().Get("X-Upstream"))
	}
	var got seen
	if err := json.Unmarshal(rw.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != "user-1" || got.BusinessID != "biz-1" || got.Role != auth.RoleOwner {
		t.Fatalf("unexpected identity headers: %+v", got)
	}

	for _, path := range []string{"/api/customers", "/api/onboarding", "/api/appointments/a1/cancel"} {
		if rw := send(h, http.MethodGet, path, "", nil); rw.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", path, rw.Code)
		}
	}
	if rw := send(h, http.MethodGet, "/api/customers", "badtoken", nil); rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rw.Code)
	}

	other := auth.NewHS256("other-secret", "bookwell", time.Hour)
	forged, _, _ := other.Sign("user-1", "biz-1", auth.RoleOwner, "")
	if rw := send(h, http.MethodGet, "/api/customers", forged, nil); rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token signed with another key, got %d", rw.Code)
	}

	customer, _, _ := signer.Sign("user-2", "biz-1", "customer", "")
	if rw := send(h, http.MethodGet, "/api/customers", customer, nil); rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-staff role, got %d", rw.Code)
	}
}

func TestPublicRoutesSkipAuthAndDropIdentity(t *testing.T) {
	h, _ := newGateway(t)

	cases := map[string]string{
		"/api/public/business/studio":  "booking",
		"/api/billing/webhooks/stripe": "booking",
		"/api/auth/send-otp":           "auth",
	}
	for path, upstream := range cases {
		rw := send(h, http.MethodPost, path, "", map[string]string{headerBusinessID: "forged", headerRole: auth.RoleOwner})
		if rw.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rw.Code)
		}
		if got := rw.Header().Get("X-Upstream"); got != upstream {
			t.Fatalf("%s: expected %s upstream, got %q", path, upstream, got)
		}
		var got seen
		if err := json.Unmarshal(rw.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.BusinessID != "" || got.Role != "" {
			t.Fatalf("%s: identity headers leaked upstream: %+v", path, got)
		}
		if got.Path != path {
			t.Fatalf("expected path %s upstream, got %s", path, got.Path)
		}
	}

	if rw := send(h, http.MethodGet, "/api/unknown", "", nil); rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown routes, got %d", rw.Code)
	}
	if rw := send(h, http.MethodGet, "/healthz", "", nil); rw.Code != http.StatusOK {
		t.Fatalf("expected healthz to stay reachable, got %d", rw.Code)
	}
}
