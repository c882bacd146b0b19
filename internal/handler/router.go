package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ieltsprep/internal/middleware"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認の待ち時間。
const healthCheckTimeout = 3 * time.Second

// HealthChecker はDBの疎通確認を行うインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Logger         *slog.Logger
	StatusMetrics  middleware.StatusMetrics

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	BearerResolver    middleware.BearerResolver
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService    AuthServiceInterface
	AuthConfig     AuthHandlerConfig
	AccountService AccountServiceInterface

	// ユーザー・プロフィール
	UserFinder     UserFinder
	UserService    UserServiceInterface
	ProfileService ProfileServiceInterface
	ProfileConfig  ProfileHandlerConfig
	Progress       ProgressReader

	// 学習
	VocabService    VocabServiceInterface
	WritingService  WritingServiceInterface
	MockTestService MockTestServiceInterface
	SpeakingService SpeakingServiceInterface
	SpeakingConfig  SpeakingHandlerConfig

	// FilesDir はローカル保存した写真の配信元。空の場合は/files/*を公開しない。
	FilesDir string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Session → CSRF → RateLimit(General) [→ RateLimit(AI)]
//
// 認証ルート（/auth/*）とヘルスチェックはSession以降のチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusMetrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserFinder, deps.AccountService, deps.UserService,
		deps.ProfileService, deps.Progress, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.UserFinder, deps.ProfileService, deps.ProfileConfig)
	progressHandler := NewProgressHandler(deps.Progress)
	vocabHandler := NewVocabHandler(deps.VocabService)
	writingHandler := NewWritingHandler(deps.WritingService)
	mockHandler := NewMockTestHandler(deps.MockTestService)
	speakingHandler := NewSpeakingHandler(deps.SpeakingService, deps.SpeakingConfig)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.FilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(deps.FilesDir))))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", authHandler.SignIn)
		r.Post("/register", authHandler.Register)
		r.Post("/password-reset", authHandler.PasswordReset)
		r.Post("/logout", authHandler.Logout)
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/me", authHandler.Me)
	})

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.BearerResolver))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		ai := deps.RateLimiter.AIMiddleware()

		// アカウント
		r.Route("/api/me", func(r chi.Router) {
			r.Get("/", userHandler.Get)
			r.Patch("/", userHandler.Update)
			r.Delete("/", userHandler.Withdraw)
		})

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Put("/photo-url", profileHandler.SetPhotoURL)
			r.Post("/photo", profileHandler.UploadPhoto)
			r.Get("/stream", profileHandler.Stream)
		})

		// 進捗・スコア
		r.Get("/api/progress", progressHandler.Get)
		r.Post("/api/score", progressHandler.Score)

		// 単語カード
		r.Route("/api/vocab", func(r chi.Router) {
			r.Get("/", vocabHandler.List)
			r.Get("/card", vocabHandler.Card)
			r.Put("/search", vocabHandler.Search)
			r.Post("/next", vocabHandler.Next)
			r.Post("/prev", vocabHandler.Prev)
			r.Post("/random", vocabHandler.Random)
		})

		// ライティング練習
		r.Route("/api/writing", func(r chi.Router) {
			r.Get("/topic/default", writingHandler.DefaultTopic)
			r.With(ai).Post("/topic", writingHandler.NewTopic)
			r.With(ai).Post("/essays", writingHandler.SubmitEssay)
		})

		// 模試
		r.Route("/api/mock", func(r chi.Router) {
			r.With(ai).Post("/reading", mockHandler.StartReading)
			r.With(ai).Post("/listening", mockHandler.StartListening)
			r.With(ai).Post("/writing", mockHandler.StartWriting)
			r.With(ai).Post("/writing/grade", mockHandler.GradeWriting)
			r.With(ai).Get("/speaking/ws", speakingHandler.Interview)

			r.Route("/attempts/{id}", func(r chi.Router) {
				r.Get("/", mockHandler.GetAttempt)
				r.Put("/answers/{q}", mockHandler.SelectAnswer)
				r.Post("/submit", mockHandler.Submit)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を含むヘルスチェックのハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
