package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func csrfHandler(t *testing.T, called *bool) http.Handler {
	t.Helper()
	return NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddleware_SafeMethods_PassWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			req := httptest.NewRequest(method, "/api/vocab/card", nil)
			w := httptest.NewRecorder()

			csrfHandler(t, &called).ServeHTTP(w, req)

			if !called {
				t.Fatalf("handler should have been called for %s", method)
			}
		})
	}
}

func TestCSRFMiddleware_StateChangingMethods(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		bearer     bool
		wantStatus int
	}{
		{"no cookie", "", "token", false, http.StatusForbidden},
		{"no header", "token", "", false, http.StatusForbidden},
		{"mismatch", "token-a", "token-b", false, http.StatusForbidden},
		{"match", "token", "token", false, http.StatusOK},
		{"bearer skips check", "", "", true, http.StatusOK},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				called := false
				req := httptest.NewRequest(method, "/api/score", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				if tt.bearer {
					req.Header.Set("Authorization", "Bearer id-token")
				}
				w := httptest.NewRecorder()

				csrfHandler(t, &called).ServeHTTP(w, req)

				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if called != (tt.wantStatus == http.StatusOK) {
					t.Errorf("handler called = %v", called)
				}
			})
		}
	}
}

func TestCSRFMiddleware_ForbiddenResponseIsJSON(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodPost, "/api/score", nil)
	w := httptest.NewRecorder()

	csrfHandler(t, &called).ServeHTTP(w, req)

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != csrfError.Code {
		t.Errorf("code = %q, want %q", body.Code, csrfError.Code)
	}
}

func TestCSRFMiddleware_GETRequest_SetsCookieOnce(t *testing.T) {
	called := false
	handler := csrfHandler(t, &called)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("csrf_token cookie should be set")
	}
	if issued.HttpOnly {
		t.Error("csrf_token cookie should be readable from JavaScript")
	}
	if len(issued.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(issued.Value))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(issued)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			t.Error("existing csrf_token cookie should not be replaced")
		}
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true})

	t.Run("new token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		cookies := w.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Value != body.Token {
			t.Fatalf("cookie and body token should match, cookies = %v", cookies)
		}
		if !cookies[0].Secure {
			t.Error("cookie should be Secure")
		}
	})

	t.Run("existing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Token != "existing-csrf-token" {
			t.Errorf("token = %q, want %q", body.Token, "existing-csrf-token")
		}
	})
}
