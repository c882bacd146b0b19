// Package auth はサインイン・登録・パスワード再設定・セッション管理を提供する。
// 資格情報の検証は外部IdPが行い、サーバーはローカルユーザーとセッションを管理する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ieltsprep/internal/identity"
	"github.com/hitoshi/ieltsprep/internal/metrics"
	"github.com/hitoshi/ieltsprep/internal/model"
	"github.com/hitoshi/ieltsprep/internal/repository"
)

// IdentityProviderName はidentitiesテーブルに記録するIdPの名前。
// IdPのUIDはサインイン方法によらず同じため、1つのプロバイダとして扱う。
const IdentityProviderName = "identitytoolkit"

// 認証イベント名
const (
	EventSignIn        = "signin"
	EventRegister      = "register"
	EventFederated     = "federated"
	EventPasswordReset = "password_reset"
	EventLogout        = "logout"
	EventDisplayName   = "display_name"
	EventBearer        = "bearer"
)

// ErrSessionNotFound はセッションが存在しないか期限切れの場合のエラー。
var ErrSessionNotFound = errors.New("session not found or expired")

// OAuthProvider は外部サインイン（Google）の認可コードフローを抽象化する。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをプロバイダのIDトークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// TokenVerifier はBearerで渡されたIdPのIDトークンを検証する。
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*identity.TokenClaims, error)
}

// AuthMetrics は認証イベントのメトリクス記録先。
type AuthMetrics interface {
	RecordAuthEvent(event, outcome string)
}

// IdentityListener は現在のユーザーが変わったときに呼ばれる。
// サインアウト時はuserがnilになる。
type IdentityListener func(userID string, user *model.User)

// Principal はリクエストの認証主体を表す。
// Cookie認証ではSessionID、Bearer認証ではIDTokenが設定される。
type Principal struct {
	UserID    string
	SessionID string
	IDToken   string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	idp         identity.Provider
	oauth       OAuthProvider
	verifier    TokenVerifier
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	metrics     AuthMetrics
	config      ServiceConfig
	now         func() time.Time

	mu        sync.RWMutex
	listeners map[int]IdentityListener
	nextID    int
}

// NewService はServiceを生成する。
// oauthがnilの場合はGoogleサインインを無効とする。metricsはnilでもよい。
func NewService(
	idp identity.Provider,
	oauth OAuthProvider,
	verifier TokenVerifier,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	m AuthMetrics,
	config ServiceConfig,
) *Service {
	return &Service{
		idp:         idp,
		oauth:       oauth,
		verifier:    verifier,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		metrics:     m,
		config:      config,
		now:         time.Now,
		listeners:   make(map[int]IdentityListener),
	}
}

// OnIdentityChange はユーザーの変化を受け取るリスナーを登録する。
// 返される関数で登録を解除する。
func (s *Service) OnIdentityChange(listener IdentityListener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SignIn はメールアドレスとパスワードでサインインし、セッションを発行する。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	account, err := s.idp.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, nil, s.providerFailure(EventSignIn, err)
	}
	return s.establish(ctx, EventSignIn, account)
}

// Register はアカウントを作成してサインインする。
// 表示名は "名 姓" とし、どちらかが空の場合はIdPを呼び出さない。
func (s *Service) Register(ctx context.Context, firstName, lastName, email, password string) (*model.Session, *model.User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, nil, model.NewNameRequiredError()
	}

	displayName := firstName + " " + lastName
	account, err := s.idp.SignUp(ctx, strings.TrimSpace(email), password, displayName)
	if err != nil {
		return nil, nil, s.providerFailure(EventRegister, err)
	}
	return s.establish(ctx, EventRegister, account)
}

// FederatedLoginURL はGoogleサインインの認証URLを返す。
func (s *Service) FederatedLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", model.NewFederatedDisabledError()
	}
	return s.oauth.GetLoginURL(state), nil
}

// HandleFederatedCallback はGoogleの認可コードでサインインし、セッションを発行する。
func (s *Service) HandleFederatedCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	if s.oauth == nil {
		return nil, nil, model.NewFederatedDisabledError()
	}

	googleIDToken, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.record(EventFederated, metrics.OutcomeFailure)
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	account, err := s.idp.SignInWithIdP(ctx, identity.ProviderGoogle, googleIDToken)
	if err != nil {
		return nil, nil, s.providerFailure(EventFederated, err)
	}
	return s.establish(ctx, EventFederated, account)
}

// SendPasswordReset はパスワード再設定メールの送信を依頼する。
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewEmailRequiredError()
	}
	if err := s.idp.SendPasswordReset(ctx, email); err != nil {
		return s.providerFailure(EventPasswordReset, err)
	}
	s.record(EventPasswordReset, metrics.OutcomeSuccess)
	slog.Info("password reset requested")
	return nil
}

// Logout はセッションを破棄し、リスナーにサインアウトを通知する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.record(EventLogout, metrics.OutcomeSuccess)
	if session != nil {
		slog.Info("user logged out", slog.String("user_id", session.UserID))
		s.notify(session.UserID, nil)
	}
	return nil
}

// UpdateDisplayName はIdPの表示名を更新し、ローカルのユーザーにも反映する。
// Cookie認証の場合はセッションの更新トークンから新しいIDトークンを取得してから呼び出す。
func (s *Service) UpdateDisplayName(ctx context.Context, p Principal, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewInvalidRequestError()
	}

	user, err := s.userRepo.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.Name == name {
		return user, nil
	}

	idToken, err := s.idTokenFor(ctx, p)
	if err != nil {
		return nil, err
	}

	account, err := s.idp.UpdateDisplayName(ctx, idToken, name)
	if err != nil {
		return nil, s.providerFailure(EventDisplayName, err)
	}
	if p.SessionID != "" && account.RefreshToken != "" {
		if err := s.sessionRepo.UpdateRefreshToken(ctx, p.SessionID, account.RefreshToken); err != nil {
			slog.Warn("failed to store refreshed token", slog.String("error", err.Error()))
		}
	}

	user.Name = name
	user.UpdatedAt = s.now()
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.record(EventDisplayName, metrics.OutcomeSuccess)
	slog.Info("display name updated", slog.String("user_id", user.ID))
	s.notify(user.ID, user)
	return user, nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// ResolveIDToken はBearerで渡されたIDトークンを検証し、対応するユーザーを返す。
// ローカルにユーザーがいない場合はトークンのクレームから作成する。
func (s *Service) ResolveIDToken(ctx context.Context, token string) (*model.User, error) {
	if s.verifier == nil {
		return nil, identity.ErrInvalidToken
	}
	claims, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.record(EventBearer, metrics.OutcomeFailure)
		return nil, err
	}

	user, _, err := s.upsertUser(ctx, &identity.Account{
		UID:         claims.UID,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// establish はIdPのアカウントに対応するローカルユーザーを用意し、セッションを発行する。
func (s *Service) establish(ctx context.Context, event string, account *identity.Account) (*model.Session, *model.User, error) {
	user, created, err := s.upsertUser(ctx, account)
	if err != nil {
		s.record(event, metrics.OutcomeFailure)
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID, account.RefreshToken)
	if err != nil {
		s.record(event, metrics.OutcomeFailure)
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.record(event, metrics.OutcomeSuccess)
	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("event", event),
		slog.String("provider", account.ProviderID),
		slog.Bool("new_user", created),
	)
	s.notify(user.ID, user)
	return session, user, nil
}

// upsertUser はIdPのUIDからローカルユーザーを特定し、なければ作成する。
// 既存ユーザーのメールアドレス・表示名・写真はIdPの値に同期する。
func (s *Service) upsertUser(ctx context.Context, account *identity.Account) (*model.User, bool, error) {
	ident, err := s.identRepo.FindByUID(ctx, IdentityProviderName, account.UID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find identity: %w", err)
	}

	now := s.now()
	if ident == nil {
		user := &model.User{
			ID:        uuid.New().String(),
			Email:     account.Email,
			Name:      account.DisplayName,
			PhotoURL:  account.PhotoURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		newIdentity := &model.Identity{
			ID:             uuid.New().String(),
			UserID:         user.ID,
			Provider:       IdentityProviderName,
			ProviderUserID: account.UID,
			SignInMethod:   account.ProviderID,
			LastSignInAt:   &now,
			CreatedAt:      now,
		}
		if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
			return nil, false, fmt.Errorf("failed to create user and identity: %w", err)
		}
		return user, true, nil
	}

	// 記録に失敗してもサインインは続ける
	if err := s.identRepo.RecordSignIn(ctx, ident.ID, account.ProviderID, now); err != nil {
		slog.Warn("failed to record sign-in",
			slog.String("identity_id", ident.ID),
			slog.String("error", err.Error()),
		)
	}

	user, err := s.userRepo.FindByID(ctx, ident.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, false, fmt.Errorf("user not found for identity %s", ident.ID)
	}

	if account.Email != "" && account.Email != user.Email ||
		account.DisplayName != "" && account.DisplayName != user.Name ||
		account.PhotoURL != user.PhotoURL {
		if account.Email != "" {
			user.Email = account.Email
		}
		if account.DisplayName != "" {
			user.Name = account.DisplayName
		}
		user.PhotoURL = account.PhotoURL
		user.UpdatedAt = now
		if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
			return nil, false, fmt.Errorf("failed to sync user profile: %w", err)
		}
	}
	return user, false, nil
}

// idTokenFor はIdPの操作に使うIDトークンを返す。
func (s *Service) idTokenFor(ctx context.Context, p Principal) (string, error) {
	if p.IDToken != "" {
		return p.IDToken, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, p.SessionID)
	if err != nil {
		return "", fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.RefreshToken == "" {
		return "", model.NewUnauthorizedError()
	}

	account, err := s.idp.Refresh(ctx, session.RefreshToken)
	if err != nil {
		return "", s.providerFailure(EventDisplayName, err)
	}
	if account.RefreshToken != "" && account.RefreshToken != session.RefreshToken {
		if err := s.sessionRepo.UpdateRefreshToken(ctx, session.ID, account.RefreshToken); err != nil {
			slog.Warn("failed to store refreshed token", slog.String("error", err.Error()))
		}
	}
	return account.IDToken, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID, refreshToken string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:           sessionID,
		UserID:       userID,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:    now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// providerFailure はIdPのエラーを学習者向けのAPIErrorに変換する。
func (s *Service) providerFailure(event string, err error) error {
	s.record(event, metrics.OutcomeFailure)
	slog.Warn("identity provider request failed",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
	return model.NewIdentityProviderError(identity.MessageFor(err))
}

func (s *Service) record(event, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuthEvent(event, outcome)
	}
}

func (s *Service) notify(userID string, user *model.User) {
	s.mu.RLock()
	listeners := make([]IdentityListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(userID, user)
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
