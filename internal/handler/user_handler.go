package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ieltsprep/internal/auth"
	"github.com/hitoshi/ieltsprep/internal/middleware"
	"github.com/hitoshi/ieltsprep/internal/model"
)

// UserFinder はユーザーをIDで取得するインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// AccountServiceInterface はアカウント操作に必要な認証サービスの部分集合。
type AccountServiceInterface interface {
	UpdateDisplayName(ctx context.Context, p auth.Principal, name string) (*model.User, error)
}

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// 受験記録、写真、プロフィール文書、セッション、ユーザーを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// ProfileReader は実効写真を解決するインターフェース。
type ProfileReader interface {
	Get(ctx context.Context, user *model.User) (*model.Profile, error)
}

// ProgressReader は1日の進捗を参照するインターフェース。
type ProgressReader interface {
	Get(userID string) model.DailyProgress
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	users    UserFinder
	account  AccountServiceInterface
	service  UserServiceInterface
	profiles ProfileReader
	progress ProgressReader
	config   AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(
	users UserFinder,
	account AccountServiceInterface,
	service UserServiceInterface,
	profiles ProfileReader,
	progress ProgressReader,
	config AuthHandlerConfig,
) *UserHandler {
	return &UserHandler{
		users:    users,
		account:  account,
		service:  service,
		profiles: profiles,
		progress: progress,
		config:   config,
	}
}

type updateMeRequest struct {
	DisplayName string `json:"displayName"`
}

// meResponse はホーム画面に必要なユーザー情報。
type meResponse struct {
	ID       string              `json:"id"`
	Email    string              `json:"email"`
	Name     string              `json:"name"`
	PhotoURL string              `json:"photoURL,omitempty"`
	Progress model.DailyProgress `json:"progress"`
}

// Get はユーザー情報、実効写真、1日の進捗を返す。
// GET /api/me
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := loadUser(w, r, h.users)
	if !ok {
		return
	}

	resp := meResponse{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		PhotoURL: user.PhotoURL,
		Progress: h.progress.Get(user.ID),
	}

	profile, err := h.profiles.Get(r.Context(), user)
	if err != nil {
		// 写真が取れなくてもホーム画面は表示する
		slog.Warn("failed to resolve profile photo",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		resp.PhotoURL = profile.PhotoURL
	}

	writeJSON(w, http.StatusOK, resp)
}

// Update は表示名を変更する。
// PATCH /api/me
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req updateMeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.account.UpdateDisplayName(r.Context(), p, req.DisplayName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// loadUser はコンテキストのユーザーIDからユーザーを取得する。
func loadUser(w http.ResponseWriter, r *http.Request, users UserFinder) (*model.User, bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return nil, false
	}
	user, err := users.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	if user == nil {
		handleServiceError(w, model.NewUserNotFoundError())
		return nil, false
	}
	return user, true
}
