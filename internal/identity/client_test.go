package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), "test-key", srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeProviderError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": 400, "message": message},
	})
}

func TestNewClient_DefaultEndpoints(t *testing.T) {
	c := NewClient(http.DefaultClient, "k", "", slog.Default())
	if c.accountsEndpoint != defaultAccountsEndpoint || c.tokenEndpoint != defaultTokenEndpoint {
		t.Errorf("endpoints = %s, %s", c.accountsEndpoint, c.tokenEndpoint)
	}
}

func TestSignInWithPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/identitytoolkit.googleapis.com/v1/accounts:signInWithPassword" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %s, want test-key", r.URL.Query().Get("key"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@example.com" || body["password"] != "secret1" || body["returnSecureToken"] != true {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"localId":      "uid-1",
			"email":        "a@example.com",
			"displayName":  "Ayesha Khan",
			"idToken":      "id-token",
			"refreshToken": "refresh-token",
		})
	})

	a, err := c.SignInWithPassword(context.Background(), "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword がエラーを返した: %v", err)
	}
	if a.UID != "uid-1" || a.DisplayName != "Ayesha Khan" || a.RefreshToken != "refresh-token" {
		t.Errorf("account = %+v", a)
	}
	if a.ProviderID != ProviderPassword {
		t.Errorf("ProviderID = %q, want %q", a.ProviderID, ProviderPassword)
	}
}

func TestSignInWithPassword_ProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeProviderError(w, "INVALID_LOGIN_CREDENTIALS")
	})

	_, err := c.SignInWithPassword(context.Background(), "a@example.com", "bad")

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if pe.Code != CodeInvalidCredential || pe.Status != http.StatusBadRequest {
		t.Errorf("ProviderError = %+v", pe)
	}
	if MessageFor(err) != "Incorrect email or password. Please try again." {
		t.Errorf("MessageFor = %q", MessageFor(err))
	}
}

func TestSignUp_SetsDisplayName(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		switch {
		case strings.HasSuffix(r.URL.Path, "accounts:signUp"):
			json.NewEncoder(w).Encode(map[string]any{
				"localId": "uid-2", "email": "b@example.com",
				"idToken": "id-1", "refreshToken": "refresh-1",
			})
		case strings.HasSuffix(r.URL.Path, "accounts:update"):
			if body["idToken"] != "id-1" || body["displayName"] != "Karim Hasan" {
				t.Errorf("update body = %v", body)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"localId": "uid-2", "email": "b@example.com", "displayName": "Karim Hasan",
				"idToken": "id-2", "refreshToken": "refresh-2",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	a, err := c.SignUp(context.Background(), "b@example.com", "secret1", "Karim Hasan")
	if err != nil {
		t.Fatalf("SignUp がエラーを返した: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("呼び出し回数 = %d, want 2", len(calls))
	}
	if a.DisplayName != "Karim Hasan" || a.IDToken != "id-2" || a.ProviderID != ProviderPassword {
		t.Errorf("account = %+v", a)
	}
}

func TestSignUp_WeakPasswordWithDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeProviderError(w, "WEAK_PASSWORD : Password should be at least 6 characters")
	})

	_, err := c.SignUp(context.Background(), "b@example.com", "123", "A B")

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Code != CodeWeakPassword {
		t.Fatalf("error = %v, want WEAK_PASSWORD", err)
	}
	if pe.Detail != "Password should be at least 6 characters" {
		t.Errorf("Detail = %q", pe.Detail)
	}
	if MessageFor(err) != "Password must be at least 6 characters." {
		t.Errorf("MessageFor = %q", MessageFor(err))
	}
}

func TestSignInWithIdP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		postBody, _ := url.ParseQuery(body["postBody"].(string))
		if postBody.Get("id_token") != "google-id-token" || postBody.Get("providerId") != ProviderGoogle {
			t.Errorf("postBody = %v", postBody)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"localId": "uid-3", "email": "c@gmail.com", "displayName": "Nadia",
			"photoUrl": "https://lh3.example.com/p.jpg", "idToken": "id", "refreshToken": "rt",
			"providerId": "google.com",
		})
	})

	a, err := c.SignInWithIdP(context.Background(), ProviderGoogle, "google-id-token")
	if err != nil {
		t.Fatalf("SignInWithIdP がエラーを返した: %v", err)
	}
	if a.PhotoURL != "https://lh3.example.com/p.jpg" || a.ProviderID != ProviderGoogle {
		t.Errorf("account = %+v", a)
	}
}

func TestSendPasswordReset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["requestType"] != "PASSWORD_RESET" || body["email"] != "a@example.com" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(`{"email":"a@example.com"}`))
	})

	if err := c.SendPasswordReset(context.Background(), "a@example.com"); err != nil {
		t.Errorf("SendPasswordReset がエラーを返した: %v", err)
	}
}

func TestRefresh(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/securetoken.googleapis.com/v1/token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rt-1" {
			t.Errorf("form = %v", r.PostForm)
		}
		w.Write([]byte(`{"id_token":"new-id","refresh_token":"rt-2","user_id":"uid-1","expires_in":"3600"}`))
	})

	a, err := c.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("Refresh がエラーを返した: %v", err)
	}
	if a.IDToken != "new-id" || a.RefreshToken != "rt-2" || a.UID != "uid-1" {
		t.Errorf("account = %+v", a)
	}
}

func TestLookup(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"users":[{"localId":"uid-1","email":"a@example.com","displayName":"A","photoUrl":"https://p/x.jpg","providerUserInfo":[{"providerId":"google.com"}]}]}`))
	})

	a, err := c.Lookup(context.Background(), "id-token")
	if err != nil {
		t.Fatalf("Lookup がエラーを返した: %v", err)
	}
	if a.UID != "uid-1" || a.ProviderID != ProviderGoogle || a.IDToken != "id-token" {
		t.Errorf("account = %+v", a)
	}
}

func TestLookup_NoUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"users":[]}`))
	})

	_, err := c.Lookup(context.Background(), "id-token")
	if MessageFor(err) != "No account found with this email." {
		t.Errorf("MessageFor = %q", MessageFor(err))
	}
}

func TestProviderError_NonJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	err := c.SendPasswordReset(context.Background(), "a@example.com")

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Status != http.StatusBadGateway {
		t.Fatalf("error = %v, want ProviderError 502", err)
	}
	if MessageFor(err) != GenericMessage {
		t.Errorf("MessageFor = %q, want generic", MessageFor(err))
	}
}

func TestMessageFor(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{CodeInvalidCredential, "Incorrect email or password. Please try again."},
		{CodeUserNotFound, "No account found with this email."},
		{CodeWrongPassword, "Wrong password! Please try again."},
		{CodeEmailInUse, "This email is already used. Try logging in."},
		{CodeWeakPassword, "Password must be at least 6 characters."},
		{CodeInvalidEmail, "Please enter a valid email address."},
		{CodeTooManyRequests, "Too many failed attempts. Please try again later."},
		{"OPERATION_NOT_ALLOWED", GenericMessage},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := MessageFor(&ProviderError{Status: 400, Code: tt.code})
			if got != tt.want {
				t.Errorf("MessageFor(%s) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}

	if got := MessageFor(errors.New("dial tcp: connection refused")); got != GenericMessage {
		t.Errorf("通信エラーの MessageFor = %q, want generic", got)
	}
}
