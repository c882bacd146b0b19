package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// photoFormField はアップロードする画像のフォーム項目名。
const photoFormField = "photo"

// multipartOverhead は画像以外のフォーム部分に許す大きさ。
const multipartOverhead = 1 << 20

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, user *model.User) (*model.Profile, error)
	SetPhotoURL(ctx context.Context, user *model.User, rawURL string) (*model.Profile, error)
	UploadPhoto(ctx context.Context, user *model.User, r io.Reader) (*model.Profile, error)
	Watch(ctx context.Context, user *model.User) (<-chan *model.Profile, error)
}

// ProfileHandlerConfig はプロフィールハンドラーの設定。
type ProfileHandlerConfig struct {
	// PhotoMaxBytes はアップロード画像の上限。0の場合は制限しない。
	PhotoMaxBytes int64
	// AllowedOrigin はWebSocket接続を受け付けるOrigin。空の場合は同一オリジンのみ。
	AllowedOrigin string
}

// ProfileHandler はプロフィール関連のHTTPハンドラー。
type ProfileHandler struct {
	users   UserFinder
	service ProfileServiceInterface
	config  ProfileHandlerConfig
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(users UserFinder, service ProfileServiceInterface, config ProfileHandlerConfig) *ProfileHandler {
	return &ProfileHandler{
		users:   users,
		service: service,
		config:  config,
	}
}

type photoURLRequest struct {
	PhotoURL string `json:"photoURL"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	Type        string     `json:"type,omitempty"`
	PhotoURL    string     `json:"photoURL,omitempty"`
	HasDocument bool       `json:"hasDocument"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func toProfileResponse(p *model.Profile) profileResponse {
	resp := profileResponse{
		PhotoURL:    p.PhotoURL,
		HasDocument: p.Document != nil,
	}
	if p.Document != nil && !p.Document.UpdatedAt.IsZero() {
		t := p.Document.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

// Get はプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := loadUser(w, r, h.users)
	if !ok {
		return
	}

	profile, err := h.service.Get(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// SetPhotoURL は外部画像URLを写真として設定する。
// PUT /api/profile/photo-url
func (h *ProfileHandler) SetPhotoURL(w http.ResponseWriter, r *http.Request) {
	user, ok := loadUser(w, r, h.users)
	if !ok {
		return
	}

	var req photoURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PhotoURL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPhotoError("No photo URL was given."))
		return
	}

	profile, err := h.service.SetPhotoURL(r.Context(), user, req.PhotoURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// UploadPhoto は画像をアップロードして写真として設定する。
// POST /api/profile/photo (multipart/form-data, field "photo")
func (h *ProfileHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	user, ok := loadUser(w, r, h.users)
	if !ok {
		return
	}

	if h.config.PhotoMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.PhotoMaxBytes+multipartOverhead)
	}

	file, _, err := r.FormFile(photoFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidPhotoError("The image is too large."))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPhotoError("No image was attached."))
		return
	}
	defer file.Close()

	profile, err := h.service.UploadPhoto(r.Context(), user, file)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// Stream はプロフィールの変更をWebSocketで配信する。
// GET /api/profile/stream
func (h *ProfileHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user, ok := loadUser(w, r, h.users)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, acceptOptions(h.config.AllowedOrigin))
	if err != nil {
		slog.Warn("failed to accept profile stream", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	// クライアントからのメッセージは読み捨て、切断でctxを終了させる
	ctx := conn.CloseRead(r.Context())

	updates, err := h.service.Watch(ctx, user)
	if err != nil {
		slog.Error("failed to watch profile",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		conn.Close(websocket.StatusInternalError, "profile unavailable")
		return
	}

	for profile := range updates {
		msg := toProfileResponse(profile)
		msg.Type = "profile"
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			if ctx.Err() == nil {
				slog.Debug("profile stream write failed", slog.String("error", err.Error()))
			}
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// acceptOptions はWebSocketのOrigin検証設定を返す。
func acceptOptions(allowedOrigin string) *websocket.AcceptOptions {
	if allowedOrigin == "" {
		return nil
	}
	return &websocket.AcceptOptions{OriginPatterns: []string{originHost(allowedOrigin)}}
}

// originHost はOrigin URLからホスト部分を取り出す。
// coder/websocketのOriginPatternsはホストに対して照合する。
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
