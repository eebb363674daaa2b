package testutil

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAssertStatusCode_Pass(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestAssertNoError_Pass(t *testing.T) {
	AssertNoError(t, nil)
}

func TestGet(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.RemoteAddr != "127.0.0.1:12345" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if r.URL.Path != "/ok" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "fine")
	})

	if body := GetOK(t, h, "/ok"); body != "fine" {
		t.Errorf("body = %q, want %q", body, "fine")
	}
	if rec := Get(t, h, "/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
