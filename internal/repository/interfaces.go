// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はIdPから取得したメールアドレス・表示名・写真URLを反映する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、profile_documentsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository はIdPアカウントとの紐付けの永続化インターフェース。
type IdentityRepository interface {
	// FindByUID はIdPのUIDでidentityを検索する。見つからない場合はnilを返す。
	FindByUID(ctx context.Context, provider, uid string) (*model.Identity, error)

	// RecordSignIn は直近のサインイン方法と日時を記録する。
	RecordSignIn(ctx context.Context, id, method string, at time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// UpdateRefreshToken はセッションに保存したIdPの更新トークンを置き換える。
	UpdateRefreshToken(ctx context.Context, id, refreshToken string) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はユーザーごとに1件のプロフィール文書の永続化インターフェース。
type ProfileRepository interface {
	// Get は文書を取得する。文書が存在しない場合はnilを返す。
	Get(ctx context.Context, userID string) (*model.ProfileDocument, error)

	// Merge は指定したフィールドだけを文書に上書きする（なければ作成する）。
	// 指定しないフィールドは変更しない。同じ内容で何度呼んでも結果は同じ。
	Merge(ctx context.Context, userID string, fields map[string]any) (*model.ProfileDocument, error)

	// Delete は文書を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, userID string) error
}

// ProfileChangeSource はプロフィール文書の変更通知を購読するインターフェース。
type ProfileChangeSource interface {
	// Subscribe は指定ユーザーの文書が変更されるたびに値を受け取るチャネルを返す。
	// 返される関数で購読を解除する。
	Subscribe(userID string) (<-chan struct{}, func())
}

// ErrAttemptNotFound は更新対象の受験記録が存在しない（期限切れを含む）ことを表す。
var ErrAttemptNotFound = errors.New("attempt not found")

// AttemptStore は模試の受験記録を一時的に保持するインターフェース。
// ユーザーごとに直近の1件だけを保持する。
type AttemptStore interface {
	// Save は受験記録を保存する。同じユーザーの別の受験記録は破棄される。
	Save(ctx context.Context, attempt *model.Attempt) error

	// Update は既存の受験記録を上書きする。
	// 存在しない、または期限切れの場合はErrAttemptNotFoundを返す。
	Update(ctx context.Context, attempt *model.Attempt) error

	// Get は受験記録を取得する。見つからない、または期限切れの場合はnilを返す。
	Get(ctx context.Context, id string) (*model.Attempt, error)

	// DeleteByUserID はユーザーの受験記録を破棄する。
	DeleteByUserID(ctx context.Context, userID string) error
}
