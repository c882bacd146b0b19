package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/ieltsprep/internal/auth"
	"github.com/hitoshi/ieltsprep/internal/coach"
	"github.com/hitoshi/ieltsprep/internal/config"
	"github.com/hitoshi/ieltsprep/internal/database"
	"github.com/hitoshi/ieltsprep/internal/handler"
	"github.com/hitoshi/ieltsprep/internal/identity"
	"github.com/hitoshi/ieltsprep/internal/logger"
	"github.com/hitoshi/ieltsprep/internal/metrics"
	"github.com/hitoshi/ieltsprep/internal/middleware"
	"github.com/hitoshi/ieltsprep/internal/mocktest"
	"github.com/hitoshi/ieltsprep/internal/model"
	"github.com/hitoshi/ieltsprep/internal/profile"
	"github.com/hitoshi/ieltsprep/internal/progress"
	"github.com/hitoshi/ieltsprep/internal/repository"
	"github.com/hitoshi/ieltsprep/internal/security"
	"github.com/hitoshi/ieltsprep/internal/storage"
	"github.com/hitoshi/ieltsprep/internal/user"
	"github.com/hitoshi/ieltsprep/internal/vocab"
	"github.com/hitoshi/ieltsprep/internal/worker/cleanup"
	"github.com/hitoshi/ieltsprep/internal/writing"
)

const (
	// outboundTimeout はIdP・画像確認など外部HTTP呼び出しのタイムアウト。
	outboundTimeout  = 10 * time.Second
	dbConnectTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envがあれば環境変数に読み込み、JSON構造化ログをセットアップしてからConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（既存の環境変数は上書きしない）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// 設定を必要としないサブコマンドはフル初期化をスキップする
	if !cmd.NeedsConfig() {
		if cmd == CommandHelp {
			writeUsage(w)
			return nil
		}
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)

	profileListener, err := repository.NewProfileListener(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to start profile listener: %w", err)
	}
	defer profileListener.Close()
	go profileListener.Run(ctx)

	attempts, closeAttempts, err := openAttemptStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAttempts()

	objects, filesDir, err := openObjectStorage(cfg)
	if err != nil {
		return err
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 外部サービスのクライアント
	outbound := &http.Client{Timeout: outboundTimeout}
	idp := identity.NewClient(outbound, cfg.IdentityAPIKey, cfg.IdentityBaseURL,
		logger.WithComponent(slog.Default(), "identity"))
	verifier := identity.NewTokenVerifier(outbound, cfg.IdentityProjectID, "")

	// Googleサインインは設定が揃っている場合のみ有効にする
	var oauth auth.OAuthProvider
	if cfg.FederatedEnabled() {
		oauth = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}

	generator, err := coach.NewGeminiGenerator(ctx, coach.GeminiConfig{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.GeminiModel,
		BaseURL:    cfg.GeminiBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.AITimeout},
	})
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	// 5. ドメインサービスの初期化
	coachService := coach.NewService(generator, security.NewTextSanitizer(), collector, cfg.AITimeout)
	tracker := progress.NewTracker(cfg.DailyGoal, collector)

	deck, err := vocab.LoadDeck()
	if err != nil {
		return fmt.Errorf("failed to load vocabulary deck: %w", err)
	}
	vocabService := vocab.NewService(deck, tracker)
	writingService := writing.NewService(coachService, tracker)
	mockService := mocktest.NewService(attempts, coachService, tracker)

	profileService := profile.NewService(profileRepo, objects, security.NewSSRFGuard(outboundTimeout), profileListener,
		profile.Config{
			AppID:         cfg.AppID,
			PhotoMaxWidth: cfg.PhotoMaxWidth,
			PhotoMaxBytes: cfg.PhotoMaxBytes,
		})
	userService := user.NewService(userRepo, sessionRepo, profileRepo, attempts, objects)

	authService := auth.NewService(
		idp, oauth, verifier, userRepo, identRepo, sessionRepo, collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	unsubscribe := authService.OnIdentityChange(forgetOnSignOut(vocabService))
	defer unsubscribe()

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAI))
	defer rateLimiter.Stop()

	authConfig := handler.AuthHandlerConfig{
		BaseURL:       cfg.BaseURL,
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		SessionMaxAge: cfg.SessionMaxAge,
	}

	deps := &handler.RouterDeps{
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		Logger:         slog.Default(),
		StatusMetrics:  collector,

		SessionFinder:     sessionRepo,
		BearerResolver:    authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		RateLimiter: rateLimiter,

		AuthService:    authService,
		AuthConfig:     authConfig,
		AccountService: authService,

		UserFinder:     userRepo,
		UserService:    userService,
		ProfileService: profileService,
		ProfileConfig: handler.ProfileHandlerConfig{
			PhotoMaxBytes: cfg.PhotoMaxBytes,
			AllowedOrigin: cfg.CORSAllowedOrigin,
		},
		Progress: tracker,

		VocabService:    vocabService,
		WritingService:  writingService,
		MockTestService: mockService,
		SpeakingService: mockService,
		SpeakingConfig: handler.SpeakingHandlerConfig{
			AllowedOrigin: cfg.CORSAllowedOrigin,
		},

		FilesDir: filesDir,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	// WebSocketと生成AIの応答待ちがあるためWriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openAttemptStore は受験記録の保存先を開く。
// REDIS_URLが設定されていればRedis、なければプロセス内メモリを使う。
func openAttemptStore(ctx context.Context, cfg *config.Config) (repository.AttemptStore, func(), error) {
	if cfg.RedisURL == "" {
		slog.Info("attempt store: memory", slog.Duration("ttl", cfg.AttemptTTL))
		return repository.NewMemoryAttemptStore(cfg.AttemptTTL), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("attempt store: redis",
		slog.String("addr", opts.Addr),
		slog.Duration("ttl", cfg.AttemptTTL),
	)
	return repository.NewRedisAttemptStore(client, cfg.AttemptTTL), func() { client.Close() }, nil
}

// openObjectStorage は写真の保存先を開く。
// ローカル保存の場合は/files/*で配信するディレクトリも返す。
func openObjectStorage(cfg *config.Config) (storage.ObjectStorage, string, error) {
	switch cfg.StorageBackend {
	case "s3":
		s3, err := storage.NewS3(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to open s3 storage: %w", err)
		}
		slog.Info("object storage: s3", slog.String("bucket", cfg.S3Bucket))
		return s3, "", nil
	default:
		local, err := storage.NewLocal(cfg.StorageLocalDir, strings.TrimRight(cfg.BaseURL, "/")+"/files")
		if err != nil {
			return nil, "", fmt.Errorf("failed to open local storage: %w", err)
		}
		slog.Info("object storage: local", slog.String("dir", local.Dir()))
		return local, local.Dir(), nil
	}
}

// browserForgetter はサインアウトしたユーザーの単語カード閲覧状態を破棄する。
type browserForgetter interface {
	Forget(userID string)
}

// forgetOnSignOut はサインアウト時に単語カードの閲覧状態だけを破棄するリスナーを返す。
// 1日の進捗はプロセスの再起動までそのまま残す。
func forgetOnSignOut(vocab browserForgetter) func(userID string, u *model.User) {
	return func(userID string, u *model.User) {
		if u == nil {
			vocab.Forget(userID)
		}
	}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの削除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	job := cleanup.NewCleanupJob(db, logger.WithComponent(slog.Default(), "cleanup"), nil)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("dirty", status.Dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
