// Package profile はユーザーごとのプロフィール文書と実効写真URLを扱う。
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"github.com/hitoshi/ieltsprep/internal/model"
	"github.com/hitoshi/ieltsprep/internal/repository"
	"github.com/hitoshi/ieltsprep/internal/security"
	"github.com/hitoshi/ieltsprep/internal/storage"
)

const (
	// jpegQuality はアップロード写真の再エンコード品質。
	jpegQuality = 70
	// presignExpiry は写真URLの有効期間。
	presignExpiry = time.Hour
)

// 文書のフィールド名
const (
	fieldPhotoURL  = "photoURL"
	fieldPhotoKey  = "photoKey"
	fieldUpdatedAt = "updatedAt"
)

// Config はプロフィールサービスの設定。
type Config struct {
	AppID         string
	PhotoMaxWidth int
	PhotoMaxBytes int64
}

// Service はプロフィール文書の読み書きと変更の購読を提供する。
type Service struct {
	repo    repository.ProfileRepository
	objects storage.ObjectStorage
	guard   security.ImageURLGuard
	changes repository.ProfileChangeSource
	config  Config
	now     func() time.Time
}

// NewService はServiceを生成する。changesがnilの場合、Watchは初期状態のみを配信する。
func NewService(
	repo repository.ProfileRepository,
	objects storage.ObjectStorage,
	guard security.ImageURLGuard,
	changes repository.ProfileChangeSource,
	config Config,
) *Service {
	if config.PhotoMaxWidth <= 0 {
		config.PhotoMaxWidth = 500
	}
	return &Service{
		repo:    repo,
		objects: objects,
		guard:   guard,
		changes: changes,
		config:  config,
		now:     time.Now,
	}
}

// DocumentPath は文書の論理パスを返す。
func DocumentPath(appID, userID string) string {
	return fmt.Sprintf("artifacts/%s/users/%s/profile/info", appID, userID)
}

// PhotoKey はアップロード写真の保存キーを返す。
func PhotoKey(userID string) string {
	return fmt.Sprintf("profiles/%s/photo.jpg", userID)
}

// Get はプロフィールを取得する。
// 文書がない、または写真参照がない場合はIdPの写真を実効写真とする。
func (s *Service) Get(ctx context.Context, user *model.User) (*model.Profile, error) {
	doc, err := s.repo.Get(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile document: %w", err)
	}
	return s.resolve(ctx, user, doc)
}

// SetPhotoURL は外部画像URLを写真として保存する。
// URLが画像を返すことを確認してから文書にマージする。
func (s *Service) SetPhotoURL(ctx context.Context, user *model.User, rawURL string) (*model.Profile, error) {
	contentType, err := s.guard.CheckImage(ctx, rawURL)
	if err != nil {
		if errors.Is(err, security.ErrNotImage) {
			return nil, model.NewInvalidPhotoError("The link does not point to an image.")
		}
		slog.Warn("photo url rejected",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPhotoURLBlockedError()
	}

	previous, err := s.repo.Get(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile document: %w", err)
	}

	doc, err := s.repo.Merge(ctx, user.ID, map[string]any{
		fieldPhotoURL:  rawURL,
		fieldPhotoKey:  "",
		fieldUpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save photo url: %w", err)
	}

	if previous != nil && previous.PhotoKey != "" {
		if err := s.objects.Delete(ctx, previous.PhotoKey); err != nil {
			slog.Warn("failed to delete replaced photo",
				slog.String("key", previous.PhotoKey),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("profile photo url saved",
		slog.String("document", DocumentPath(s.config.AppID, user.ID)),
		slog.String("content_type", contentType),
	)
	return s.resolve(ctx, user, doc)
}

// UploadPhoto は画像を縮小・再エンコードして保存し、文書にキーをマージする。
// 幅がPhotoMaxWidthを超える場合は縦横比を保って縮小する。
func (s *Service) UploadPhoto(ctx context.Context, user *model.User, r io.Reader) (*model.Profile, error) {
	if s.config.PhotoMaxBytes > 0 {
		r = io.LimitReader(r, s.config.PhotoMaxBytes+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	if s.config.PhotoMaxBytes > 0 && int64(len(raw)) > s.config.PhotoMaxBytes {
		return nil, model.NewInvalidPhotoError("The image is too large.")
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, model.NewInvalidPhotoError("The file is not a supported image.")
	}

	encoded, err := s.encode(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode photo: %w", err)
	}

	key := PhotoKey(user.ID)
	if err := s.objects.Upload(ctx, key, bytes.NewReader(encoded), "image/jpeg"); err != nil {
		return nil, fmt.Errorf("failed to upload photo: %w", err)
	}

	doc, err := s.repo.Merge(ctx, user.ID, map[string]any{
		fieldPhotoKey:  key,
		fieldPhotoURL:  "",
		fieldUpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save photo key: %w", err)
	}

	slog.Info("profile photo uploaded",
		slog.String("document", DocumentPath(s.config.AppID, user.ID)),
		slog.Int("bytes", len(encoded)),
	)
	return s.resolve(ctx, user, doc)
}

// Watch は現在のプロフィールを配信し、以後は文書が変わるたびに読み直して順に配信する。
// 読み取りと購読の間の変更を取りこぼさないよう、購読してから現在の状態を読む。
// ctxが終了するとチャネルを閉じる。
func (s *Service) Watch(ctx context.Context, user *model.User) (<-chan *model.Profile, error) {
	var notify <-chan struct{}
	cancel := func() {}
	if s.changes != nil {
		notify, cancel = s.changes.Subscribe(user.ID)
	}

	current, err := s.Get(ctx, user)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan *model.Profile, 1)
	out <- current

	go func() {
		defer close(out)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				p, err := s.Get(ctx, user)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					slog.Warn("failed to reload profile",
						slog.String("user_id", user.ID),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// encode は画像を最大幅に収めてJPEGにする。
func (s *Service) encode(img image.Image) ([]byte, error) {
	if img.Bounds().Dx() > s.config.PhotoMaxWidth {
		img = imaging.Resize(img, s.config.PhotoMaxWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resolve は文書から実効写真URLを決める。
func (s *Service) resolve(ctx context.Context, user *model.User, doc *model.ProfileDocument) (*model.Profile, error) {
	p := &model.Profile{
		UserID:   user.ID,
		PhotoURL: user.PhotoURL,
		Document: doc,
	}

	switch {
	case doc == nil:
	case doc.PhotoKey != "":
		u, err := s.objects.PresignedURL(ctx, doc.PhotoKey, presignExpiry)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve photo url: %w", err)
		}
		p.PhotoURL = u
	case doc.PhotoURL != "":
		p.PhotoURL = doc.PhotoURL
	}
	return p, nil
}
