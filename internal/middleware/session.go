// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/ieltsprep/internal/auth"
	"github.com/hitoshi/ieltsprep/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// BearerResolver はBearerトークンからユーザーを解決するインターフェース。
type BearerResolver interface {
	ResolveIDToken(ctx context.Context, token string) (*model.User, error)
}

// NewSessionMiddleware はHTTP Only CookieのセッションまたはBearerトークンで
// リクエストを認証するミドルウェアを返す。
// 認証済みの主体をリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。bearerがnilの場合はCookieのみ受け付ける。
func NewSessionMiddleware(sessionFinder SessionFinder, bearer BearerResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Bearerトークン
			if token, ok := BearerToken(r); ok {
				if bearer == nil {
					writeUnauthorized(w)
					return
				}
				user, err := bearer.ResolveIDToken(r.Context(), token)
				if err != nil || user == nil {
					slog.Warn("bearer token rejected",
						slog.String("path", r.URL.Path),
					)
					writeUnauthorized(w)
					return
				}
				ctx := ContextWithPrincipal(r.Context(), auth.Principal{UserID: user.ID, IDToken: token})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// 2. CookieからセッションIDを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeUnauthorized(w)
				return
			}

			// 3. セッションの有効性を検証
			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w)
				return
			}
			if session == nil {
				writeUnauthorized(w)
				return
			}

			// 4. 認証済みの主体をコンテキストに注入
			ctx := ContextWithPrincipal(r.Context(), auth.Principal{UserID: session.UserID, SessionID: session.ID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, err := PrincipalFromContext(ctx)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

// PrincipalFromContext はリクエストコンテキストから認証主体を取得する。
func PrincipalFromContext(ctx context.Context) (auth.Principal, error) {
	p, ok := ctx.Value(principalContextKey).(auth.Principal)
	if !ok || p.UserID == "" {
		return auth.Principal{}, fmt.Errorf("user ID not found in context")
	}
	return p, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithPrincipal(ctx, auth.Principal{UserID: userID})
}

// ContextWithPrincipal はコンテキストに認証主体を注入する。
func ContextWithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	annotateUserID(ctx, p.UserID)
	return context.WithValue(ctx, principalContextKey, p)
}

func writeUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}
