package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// rewriteTransport は全リクエストをテストサーバーへ転送する。
type rewriteTransport struct {
	target *url.URL
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestGuard(t *testing.T, handler http.HandlerFunc) *ssrfGuard {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	target, _ := url.Parse(ts.URL)
	return newSSRFGuardWithClient(&http.Client{Transport: &rewriteTransport{target: target}})
}

// TestNewSSRFGuard はSSRFGuardの生成をテストする。
func TestNewSSRFGuard(t *testing.T) {
	guard := NewSSRFGuard(5 * time.Second)
	if guard == nil || guard.client == nil {
		t.Fatal("NewSSRFGuard() returned nil client")
	}
	if guard.client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, guard.client.Timeout)
	}
	if guard.client.Transport == nil || guard.client.Transport == http.DefaultTransport {
		t.Error("expected custom Transport")
	}
}

// TestSSRFGuard_BlocksLoopbackAtDial はsafeurlクライアントがループバックへの接続を拒否することをテストする。
func TestSSRFGuard_BlocksLoopbackAtDial(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
	}))
	defer ts.Close()

	guard := NewSSRFGuard(5 * time.Second)
	if _, err := guard.client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// TestValidateURL_PublicURL は公開URLの検証が成功することをテストする。
func TestValidateURL_PublicURL(t *testing.T) {
	guard := NewSSRFGuard(time.Second)

	publicURLs := []string{
		"https://example.com/avatar.png",
		"https://lh3.googleusercontent.com/a/photo",
		"http://images.example.org/me.jpg",
	}

	for _, u := range publicURLs {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", u, err)
			}
		})
	}
}

// TestValidateURL_Blocked は危険なURLの拒否をテストする。
func TestValidateURL_Blocked(t *testing.T) {
	guard := NewSSRFGuard(time.Second)

	blocked := []string{
		"",
		"not-a-url",
		"ftp://example.com/a.png",
		"file:///etc/passwd",
		"data:image/png;base64,AAAA",
		"http://10.0.0.1/a.png",
		"http://172.16.0.1/a.png",
		"http://192.168.1.100/a.png",
		"http://127.0.0.1/a.png",
		"http://localhost/a.png",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/a.png",
		"http://0.0.0.0/a.png",
	}

	for _, u := range blocked {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			if !errors.Is(err, ErrBlockedURL) {
				t.Errorf("ValidateURL(%q) = %v, want ErrBlockedURL", u, err)
			}
		})
	}
}

// TestCheckImage_ImageContentType は画像を返すURLが受け入れられることをテストする。
func TestCheckImage_ImageContentType(t *testing.T) {
	guard := newTestGuard(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
	})

	ct, err := guard.CheckImage(context.Background(), "https://images.example.com/me.jpg")
	if err != nil {
		t.Fatalf("CheckImage returned error: %v", err)
	}
	if ct != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", ct)
	}
}

// TestCheckImage_NotAnImage はHTMLを返すURLが拒否されることをテストする。
func TestCheckImage_NotAnImage(t *testing.T) {
	guard := newTestGuard(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	})

	_, err := guard.CheckImage(context.Background(), "https://example.com/page")
	if !errors.Is(err, ErrNotImage) {
		t.Errorf("CheckImage = %v, want ErrNotImage", err)
	}
}

// TestCheckImage_NotFound はエラーステータスが拒否されることをテストする。
func TestCheckImage_NotFound(t *testing.T) {
	guard := newTestGuard(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := guard.CheckImage(context.Background(), "https://example.com/missing.png")
	if !errors.Is(err, ErrNotImage) {
		t.Errorf("CheckImage = %v, want ErrNotImage", err)
	}
}

// TestCheckImage_FallsBackToGet はHEAD非対応サーバーでGETにフォールバックすることをテストする。
func TestCheckImage_FallsBackToGet(t *testing.T) {
	var methods []string
	guard := newTestGuard(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "image/webp")
		w.Write([]byte("RIFF"))
	})

	ct, err := guard.CheckImage(context.Background(), "https://example.com/me.webp")
	if err != nil {
		t.Fatalf("CheckImage returned error: %v", err)
	}
	if ct != "image/webp" {
		t.Errorf("content type = %q, want image/webp", ct)
	}
	if len(methods) != 2 || methods[1] != http.MethodGet {
		t.Errorf("methods = %v, want [HEAD GET]", methods)
	}
}

// TestCheckImage_ValidatesBeforeRequest は静的検証で拒否されたURLにはリクエストしないことをテストする。
func TestCheckImage_ValidatesBeforeRequest(t *testing.T) {
	called := false
	guard := newTestGuard(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := guard.CheckImage(context.Background(), "http://169.254.169.254/latest/meta-data/")
	if !errors.Is(err, ErrBlockedURL) {
		t.Errorf("CheckImage = %v, want ErrBlockedURL", err)
	}
	if called {
		t.Error("blocked URL should not be requested")
	}
}

// TestSSRFGuardInterface はインターフェースを正しく実装していることをテストする。
func TestSSRFGuardInterface(t *testing.T) {
	var _ ImageURLGuard = NewSSRFGuard(time.Second)
}
