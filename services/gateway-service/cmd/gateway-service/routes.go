package main

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/bookwell/bookwell/libs/auth"
	"github.com/bookwell/bookwell/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Identity headers set by the gateway for upstream services. Client supplied
// values are always dropped.
const (
	headerUserID     = "X-User-Id"
	headerBusinessID = "X-Business-Id"
	headerRole       = "X-Role"
)

type upstreams struct {
	Auth    *url.URL
	Booking *url.URL
}

func newProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = otelhttp.NewTransport(http.DefaultTransport)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.ErrorContext(r.Context(), "upstream request failed", "upstream", target.Host, "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, httpx.CodeUnavailable, "upstream unavailable")
	}
	return proxy
}

func registerRoutes(mux *http.ServeMux, up upstreams, verifier *auth.HS256, logger *slog.Logger) {
	authProxy := newProxy(up.Auth, logger)
	bookingProxy := newProxy(up.Booking, logger)

	registerProxy(mux, "/api/auth", stripIdentity(authProxy))
	registerProxy(mux, "/api/public", stripIdentity(bookingProxy))
	// Stripe has no JWT; the signature check in booking is the auth.
	registerProxy(mux, "/api/billing/webhooks", stripIdentity(bookingProxy))

	admin := requireAuth(requireRole(bookingProxy, auth.RoleOwner, auth.RoleStaff), verifier)
	registerProxy(mux, "/api/appointments", admin)
	registerProxy(mux, "/api/customers", admin)
	registerProxy(mux, "/api/onboarding", admin)

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "route not found")
	})
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	mux.Handle(prefix, handler)
	mux.Handle(prefix+"/", handler)
}

func stripIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(headerUserID)
		r.Header.Del(headerBusinessID)
		r.Header.Del(headerRole)
		next.ServeHTTP(w, r)
	})
}

// requireAuth verifies the bearer token and forwards the caller identity as
// headers.
func requireAuth(next http.Handler, verifier *auth.HS256) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing or invalid Authorization header")
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid token")
			return
		}

		r.Header.Set(headerUserID, claims.UserID())
		r.Header.Set(headerBusinessID, claims.BusinessID)
		r.Header.Set(headerRole, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(headerRole)]; !ok {
			httpx.WriteError(w, http.StatusForbidden, httpx.CodeForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
