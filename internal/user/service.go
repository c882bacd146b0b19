// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/ieltsprep/internal/model"
	"github.com/hitoshi/ieltsprep/internal/repository"
)

// ProfileStore はプロフィール文書の取得と削除のインターフェース。
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*model.ProfileDocument, error)
	Delete(ctx context.Context, userID string) error
}

// AttemptDeleter は受験記録の一括削除インターフェース。
type AttemptDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// ObjectDeleter はアップロード済み写真の削除インターフェース。
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	profiles    ProfileStore
	attempts    AttemptDeleter
	objects     ObjectDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	profiles ProfileStore,
	attempts AttemptDeleter,
	objects ObjectDeleter,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		profiles:    profiles,
		attempts:    attempts,
		objects:     objects,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: attempts → 写真オブジェクト → profile文書 → sessions → user（+ CASCADE: identities）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. 受験中の模試を破棄
	if s.attempts != nil {
		if err := s.attempts.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("受験記録の削除に失敗しました: %w", err)
		}
	}

	// 2. プロフィール文書と写真を削除
	if s.profiles != nil {
		doc, err := s.profiles.Get(ctx, userID)
		if err != nil {
			return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
		}
		if doc != nil && doc.PhotoKey != "" && s.objects != nil {
			// 写真の削除失敗では退会を止めない
			if err := s.objects.Delete(ctx, doc.PhotoKey); err != nil {
				slog.Warn("プロフィール写真の削除に失敗しました",
					slog.String("user_id", userID),
					slog.String("key", doc.PhotoKey),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := s.profiles.Delete(ctx, userID); err != nil {
			return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
		}
	}

	// 3. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 4. ユーザーを削除（identitiesはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
