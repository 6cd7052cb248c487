package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/baroque-dev/baroque/internal/config"
)

func newTestRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw...)
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.POST("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return router
}

func TestBasicAuth(t *testing.T) {
	router := newTestRouter(BasicAuth(config.AdminConfig{Username: "admin", Password: "secret"}))

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{"missing", "", "", false, http.StatusUnauthorized},
		{"wrong password", "admin", "nope", true, http.StatusUnauthorized},
		{"wrong user", "root", "secret", true, http.StatusUnauthorized},
		{"valid", "admin", "secret", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("Expected WWW-Authenticate header")
			}
		})
	}
}

func TestBasicAuthDisabledWithoutCredentials(t *testing.T) {
	for _, cfg := range []config.AdminConfig{{}, {Username: "admin"}, {Password: "secret"}} {
		router := newTestRouter(BasicAuth(cfg))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code != http.StatusOK {
			t.Errorf("%+v: expected status 200, got %d", cfg, w.Code)
		}
	}
}

func TestLocalhostOnly(t *testing.T) {
	tests := []struct {
		remote      string
		allowRemote bool
		want        int
	}{
		{"127.0.0.1:5000", false, http.StatusOK},
		{"[::1]:5000", false, http.StatusOK},
		{"10.1.2.3:5000", false, http.StatusForbidden},
		{"10.1.2.3:5000", true, http.StatusOK},
	}
	for _, tt := range tests {
		router := newTestRouter(LocalhostOnly(config.AdminConfig{AllowRemote: tt.allowRemote}))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = tt.remote
		router.ServeHTTP(w, req)

		if w.Code != tt.want {
			t.Errorf("%s (allowRemote=%v): expected %d, got %d", tt.remote, tt.allowRemote, tt.want, w.Code)
		}
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	router := newTestRouter(CORS("http://localhost:5173", "https://board.example.com/"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://board.example.com")
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://board.example.com" {
		t.Errorf("Expected origin to be echoed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials allowed, got %q", got)
	}
}

func TestCORSRejectedOrigin(t *testing.T) {
	router := newTestRouter(CORS("http://localhost:5173"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected request to pass through, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS("http://localhost:5173"))
	router.POST("/api/register", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/register", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Errorf("Expected requested headers to be allowed, got %q", got)
	}
}

func TestRequestLoggerPassesThrough(t *testing.T) {
	router := newTestRouter(RequestLogger())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Errorf("Unexpected response %d %q", w.Code, w.Body.String())
	}
}
