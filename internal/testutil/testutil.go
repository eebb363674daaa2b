// Package testutil provides shared test helpers for the HTTP debug
// surfaces.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// LoopbackRequest creates a request that appears to come from localhost,
// which tsweb.AllowDebugAccess requires for /debug/ routes.
func LoopbackRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Get serves a loopback GET request for path on h and returns the recorded
// response.
func Get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, LoopbackRequest(http.MethodGet, path))
	return rec
}

// GetOK is Get followed by a check for 200 OK.
func GetOK(t *testing.T, h http.Handler, path string) string {
	t.Helper()
	rec := Get(t, h, path)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	return rec.Body.String()
}
