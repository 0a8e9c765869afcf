package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func preflight(handler http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	handler := CORS([]string{" https://shop.example.com/ ", ""})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	resp := preflight(handler, "https://shop.example.com")
	assert.Equal(t, "https://shop.example.com", resp.Header().Get("Access-Control-Allow-Origin"))

	denied := preflight(handler, "https://evil.example.com")
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSFallsBackToLocalOrigin(t *testing.T) {
	handler := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	resp := preflight(handler, localOrigin)
	assert.Equal(t, localOrigin, resp.Header().Get("Access-Control-Allow-Origin"))
}
