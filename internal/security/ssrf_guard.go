// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrBlockedURL は安全性チェックで拒否されたURLを表す。
	ErrBlockedURL = errors.New("blocked url")
	// ErrNotImage はURLの応答が画像ではないことを表す。
	ErrNotImage = errors.New("url does not serve an image")
)

// ImageURLGuard は学習者が指定した外部画像URLを検証する。
// プロフィール写真URLの保存前に使用される。
type ImageURLGuard interface {
	// ValidateURL はURLの安全性をDNS解決なしで静的に検証する。
	ValidateURL(rawURL string) error

	// CheckImage はURLへ実際にリクエストし、画像を返すことを確認する。
	// 戻り値は応答のContent-Type。
	CheckImage(ctx context.Context, rawURL string) (string, error)
}

// allowedSchemes はSSRF防止で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はSSRF防止でブロックされるネットワーク範囲。
// safeurlはDialerレベルでDNS解決後のIPアドレスも検証する。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（メタデータIPを含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// ssrfGuard はImageURLGuardの実装。
type ssrfGuard struct {
	client *http.Client
}

// NewSSRFGuard はsafeurlのHTTPクライアントを使うImageURLGuardを生成する。
// プライベートIP、ループバック、リンクローカルへの接続はDialerで拒否される。
func NewSSRFGuard(timeout time.Duration) *ssrfGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &ssrfGuard{client: safeurl.Client(config).Client}
}

// newSSRFGuardWithClient は任意のHTTPクライアントでssrfGuardを生成する。
func newSSRFGuardWithClient(client *http.Client) *ssrfGuard {
	return &ssrfGuard{client: client}
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS再バインディングはCheckImageが使うクライアント側で防止される。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrBlockedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrBlockedURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("%w: disallowed scheme: %s (allowed: %v)", ErrBlockedURL, scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host in URL: %s", ErrBlockedURL, rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked IP address: %s", ErrBlockedURL, ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("%w: blocked host: %s", ErrBlockedURL, host)
	}

	return nil
}

// CheckImage はHEADリクエストでContent-Typeを確認する。
// HEADを受け付けないサーバーにはGETで再確認し、本文は読み捨てる。
func (g *ssrfGuard) CheckImage(ctx context.Context, rawURL string) (string, error) {
	if err := g.ValidateURL(rawURL); err != nil {
		return "", err
	}

	resp, err := g.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = g.do(ctx, http.MethodGet, rawURL)
		if err != nil {
			return "", err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrNotImage, resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%w: content type %q", ErrNotImage, resp.Header.Get("Content-Type"))
	}
	return mediaType, nil
}

func (g *ssrfGuard) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrBlockedURL, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp, nil
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
}

// isBlockedHostname はホスト名がブロック対象かを検証する。
func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ ImageURLGuard = (*ssrfGuard)(nil)
