package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(t *testing.T, opt SecurityOptions, pre gin.HandlerFunc, req *http.Request) http.Header {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.Any("/*path", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecurity(t, SecurityOptions{}, func(c *gin.Context) {
		c.Header(requestIDHeader, "rid-1")
		c.Next()
	}, httptest.NewRequest(http.MethodGet, "/chats", nil))

	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" || h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %v", h)
	}
	for _, k := range []string{"Permissions-Policy", "Cache-Control", "Strict-Transport-Security"} {
		if h.Get(k) != "" {
			t.Errorf("unexpected %s=%q", k, h.Get(k))
		}
	}
	if got := h.Get("Access-Control-Expose-Headers"); got != "X-Request-ID, Idempotency-Replayed" {
		t.Fatalf("expose = %q", got)
	}
}

func TestSecurityHeaders_ExposeMergesWithoutDuplicates(t *testing.T) {
	h := serveSecurity(t, SecurityOptions{}, func(c *gin.Context) {
		c.Header(requestIDHeader, "rid-1")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, Foo")
		c.Next()
	}, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := h.Get("Access-Control-Expose-Headers"); got != "X-Request-ID, Foo, Idempotency-Replayed" {
		t.Fatalf("expose = %q", got)
	}
}

func TestSecurityHeaders_NoStorePathsOnly(t *testing.T) {
	opt := SecurityOptions{NoStorePaths: []string{"/api/v1/pantry"}}
	if h := serveSecurity(t, opt, nil, httptest.NewRequest(http.MethodGet, "/api/v1/pantry/export", nil)); h.Get("Cache-Control") != "no-store" || h.Get("Expires") != "0" {
		t.Fatalf("pantry route should be no-store: %v", h)
	}
	if h := serveSecurity(t, opt, nil, httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)); h.Get("Cache-Control") != "" {
		t.Fatalf("chats route should be cacheable: %v", h)
	}
}

func TestSecurityHeaders_PolicyAndHSTS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	h := serveSecurity(t, SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour, NoStore: true, EnablePolicy: true}, nil, req)

	if h.Get("X-Permitted-Cross-Domain-Policies") != "none" || h.Get("Permissions-Policy") == "" {
		t.Fatalf("policy headers: %v", h)
	}
	if h.Get("Pragma") != "no-cache" {
		t.Fatalf("no-store headers: %v", h)
	}
	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains; preload" {
		t.Fatalf("hsts = %q", got)
	}

	plain := serveSecurity(t, SecurityOptions{EnableHSTS: true}, nil, httptest.NewRequest(http.MethodGet, "/", nil))
	if plain.Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must not be sent over plain HTTP")
	}
}

func TestIsHTTPS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(req) {
		t.Fatal("plain request reported as https")
	}
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	if !isHTTPS(req) {
		t.Fatal("forwarded proto ignored")
	}
}
