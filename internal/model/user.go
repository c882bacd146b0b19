// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Name と PhotoURL はIdPが所有する値のコピーで、サインインのたびに同期する。
type User struct {
	ID        string
	Email     string
	Name      string
	PhotoURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はIdPのアカウントとローカルユーザーの紐付けを表す。
// SignInMethod は直近のサインイン方法（"password"、"google.com"など）。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	SignInMethod   string
	LastSignInAt   *time.Time
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// RefreshToken はIdPの更新トークンで、表示名変更などIdP側の操作に使う。
type Session struct {
	ID           string
	UserID       string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}
