// Package identity は外部IdP（Identity Toolkit互換のREST API）との連携を提供する。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	// defaultAccountsEndpoint はアカウント操作APIのエンドポイント。
	defaultAccountsEndpoint = "https://identitytoolkit.googleapis.com/v1"
	// defaultTokenEndpoint はトークン更新APIのエンドポイント。
	defaultTokenEndpoint = "https://securetoken.googleapis.com/v1"
	// maxErrorBody はエラーレスポンスとして読み取る最大バイト数。
	maxErrorBody = 64 * 1024
)

// ProviderGoogle はGoogleアカウントのプロバイダID。
const ProviderGoogle = "google.com"

// ProviderPassword はメールアドレスとパスワードのプロバイダID。
const ProviderPassword = "password"

// Account はIdPのアカウント情報とトークンを表す。
type Account struct {
	UID          string
	Email        string
	DisplayName  string
	PhotoURL     string
	IDToken      string
	RefreshToken string
	ProviderID   string
}

// Provider はIdPの操作を抽象化するインターフェース。
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Account, error)
	SignUp(ctx context.Context, email, password, displayName string) (*Account, error)
	SignInWithIdP(ctx context.Context, providerID, idToken string) (*Account, error)
	SendPasswordReset(ctx context.Context, email string) error
	UpdateDisplayName(ctx context.Context, idToken, displayName string) (*Account, error)
	Refresh(ctx context.Context, refreshToken string) (*Account, error)
	Lookup(ctx context.Context, idToken string) (*Account, error)
}

// Client はIdPのREST APIクライアント。
type Client struct {
	httpClient       *http.Client
	apiKey           string
	accountsEndpoint string
	tokenEndpoint    string
	logger           *slog.Logger
}

// NewClient はClientを生成する。
// baseURLを指定した場合はエミュレータ形式（{baseURL}/identitytoolkit.googleapis.com/v1 など）で接続する。
func NewClient(httpClient *http.Client, apiKey, baseURL string, logger *slog.Logger) *Client {
	c := &Client{
		httpClient:       httpClient,
		apiKey:           apiKey,
		accountsEndpoint: defaultAccountsEndpoint,
		tokenEndpoint:    defaultTokenEndpoint,
		logger:           logger,
	}
	if baseURL != "" {
		base := strings.TrimRight(baseURL, "/")
		c.accountsEndpoint = base + "/identitytoolkit.googleapis.com/v1"
		c.tokenEndpoint = base + "/securetoken.googleapis.com/v1"
	}
	return c
}

// accountResponse はアカウント操作APIのレスポンス。
type accountResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ProviderID   string `json:"providerId"`
}

func (r *accountResponse) account() *Account {
	return &Account{
		UID:          r.LocalID,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		PhotoURL:     r.PhotoURL,
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
		ProviderID:   r.ProviderID,
	}
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Account, error) {
	var resp accountResponse
	err := c.post(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	a := resp.account()
	a.ProviderID = ProviderPassword
	return a, nil
}

// SignUp はアカウントを作成し、表示名を設定する。
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*Account, error) {
	var resp accountResponse
	err := c.post(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	created := resp.account()
	created.ProviderID = ProviderPassword

	if displayName == "" {
		return created, nil
	}
	updated, err := c.UpdateDisplayName(ctx, created.IDToken, displayName)
	if err != nil {
		return nil, err
	}
	updated.ProviderID = ProviderPassword
	if updated.IDToken == "" {
		updated.IDToken = created.IDToken
		updated.RefreshToken = created.RefreshToken
	}
	return updated, nil
}

// SignInWithIdP は外部プロバイダのIDトークンでサインインする。
func (c *Client) SignInWithIdP(ctx context.Context, providerID, idToken string) (*Account, error) {
	postBody := url.Values{}
	postBody.Set("id_token", idToken)
	postBody.Set("providerId", providerID)

	var resp accountResponse
	err := c.post(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            postBody.Encode(),
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	a := resp.account()
	if a.ProviderID == "" {
		a.ProviderID = providerID
	}
	return a, nil
}

// SendPasswordReset はパスワード再設定メールの送信を依頼する。
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// UpdateDisplayName は表示名を更新する。
func (c *Client) UpdateDisplayName(ctx context.Context, idToken, displayName string) (*Account, error) {
	var resp accountResponse
	err := c.post(ctx, "accounts:update", map[string]any{
		"idToken":           idToken,
		"displayName":       displayName,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.account(), nil
}

// Lookup はIDトークンの持ち主のアカウント情報を取得する。
func (c *Client) Lookup(ctx context.Context, idToken string) (*Account, error) {
	var resp struct {
		Users []struct {
			LocalID          string `json:"localId"`
			Email            string `json:"email"`
			DisplayName      string `json:"displayName"`
			PhotoURL         string `json:"photoUrl"`
			ProviderUserInfo []struct {
				ProviderID string `json:"providerId"`
			} `json:"providerUserInfo"`
		} `json:"users"`
	}
	if err := c.post(ctx, "accounts:lookup", map[string]any{"idToken": idToken}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, &ProviderError{Status: http.StatusBadRequest, Code: CodeUserNotFound}
	}

	u := resp.Users[0]
	a := &Account{
		UID:         u.LocalID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		IDToken:     idToken,
	}
	if len(u.ProviderUserInfo) > 0 {
		a.ProviderID = u.ProviderUserInfo[0].ProviderID
	}
	return a, nil
}

// Refresh は更新トークンから新しいIDトークンを取得する。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Account, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.tokenEndpoint+"/token?key="+url.QueryEscape(c.apiKey),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		UserID       string `json:"user_id"`
	}
	if err := c.do(req, "token", &resp); err != nil {
		return nil, err
	}
	return &Account{
		UID:          resp.UserID,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// post はアカウント操作APIにJSONをPOSTし、レスポンスをoutにデコードする。
func (c *Client) post(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.accountsEndpoint+"/"+method+"?key="+url.QueryEscape(c.apiKey),
		bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("IdPの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp, method)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response, method string) error {
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Message == "" {
		c.logger.Error("IdPがエラーステータスを返しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
		)
		return &ProviderError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	}

	pe := newProviderError(resp.StatusCode, body.Error.Message)
	c.logger.Warn("IdPがエラーを返しました",
		slog.String("method", method),
		slog.Int("http_status", resp.StatusCode),
		slog.String("code", pe.Code),
	)
	return pe
}

// compile-time interface check
var _ Provider = (*Client)(nil)
