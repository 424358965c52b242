package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testOrigin = "https://runnerz.example.com"

// TestCORSMiddleware_CreateRun_ExposesLocation はPOST /api/runs の201応答で
// ブラウザがLocationとX-Request-IDを読めることを検証する。
func TestCORSMiddleware_CreateRun_ExposesLocation(t *testing.T) {
	mw := NewCORSMiddleware(testOrigin)

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.Header().Set("Location", "/api/runs/1")
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"id":1}`))
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if !handlerCalled {
		t.Fatal("next handler should be called for POST request")
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if got := resp.Header.Get("Location"); got != "/api/runs/1" {
		t.Errorf("Location = %q, want %q", got, "/api/runs/1")
	}

	exposed := resp.Header.Get("Access-Control-Expose-Headers")
	for _, h := range []string{"Location", "Retry-After", RequestIDHeader} {
		if !strings.Contains(exposed, h) {
			t.Errorf("Access-Control-Expose-Headers = %q, %s を含むべき", exposed, h)
		}
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, testOrigin)
	}
	if got := resp.Header.Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want %q", got, "Origin")
	}
}

// TestCORSMiddleware_RunPreflight はラン単体への更新・削除のプリフライトが
// ハンドラーに届かず204で終わることを検証する。
func TestCORSMiddleware_RunPreflight(t *testing.T) {
	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			mw := NewCORSMiddleware(testOrigin)

			handlerCalled := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))

			req := httptest.NewRequest(http.MethodOptions, "/api/runs/1", nil)
			req.Header.Set("Origin", testOrigin)
			req.Header.Set("Access-Control-Request-Method", method)
			req.Header.Set("Access-Control-Request-Headers", "content-type, x-request-id")
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusNoContent {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
			}
			if handlerCalled {
				t.Error("next handler should not be called for OPTIONS preflight")
			}
			if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, method) {
				t.Errorf("Access-Control-Allow-Methods = %q, %s を含むべき", got, method)
			}
			if got := resp.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, RequestIDHeader) {
				t.Errorf("Access-Control-Allow-Headers = %q, %s を含むべき", got, RequestIDHeader)
			}
			if got := resp.Header.Get("Access-Control-Max-Age"); got != "86400" {
				t.Errorf("Access-Control-Max-Age = %q, want %q", got, "86400")
			}
		})
	}
}

// TestCORSMiddleware_VaryKeepsExistingValues は既存のVaryを上書きしないことを検証する。
func TestCORSMiddleware_VaryKeepsExistingValues(t *testing.T) {
	mw := NewCORSMiddleware(testOrigin)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()
	w.Header().Set("Vary", "Accept-Encoding")

	handler.ServeHTTP(w, req)

	got := w.Result().Header.Values("Vary")
	if len(got) != 2 || got[0] != "Accept-Encoding" || got[1] != "Origin" {
		t.Errorf("Vary = %v, want [Accept-Encoding Origin]", got)
	}
}
