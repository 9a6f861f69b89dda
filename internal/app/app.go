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
	"syscall"
	"time"

	"github.com/hitoshi/moviecritics/internal/auth"
	"github.com/hitoshi/moviecritics/internal/backend"
	"github.com/hitoshi/moviecritics/internal/config"
	"github.com/hitoshi/moviecritics/internal/database"
	"github.com/hitoshi/moviecritics/internal/gate"
	"github.com/hitoshi/moviecritics/internal/handler"
	"github.com/hitoshi/moviecritics/internal/logger"
	"github.com/hitoshi/moviecritics/internal/metrics"
	"github.com/hitoshi/moviecritics/internal/middleware"
	"github.com/hitoshi/moviecritics/internal/movie"
	"github.com/hitoshi/moviecritics/internal/repository"
	"github.com/hitoshi/moviecritics/internal/security"
	"github.com/hitoshi/moviecritics/internal/session"
	"github.com/hitoshi/moviecritics/internal/worker/cleanup"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const (
	// gateIdleTTL はアクセスのないSession Gateを破棄するまでの時間。
	gateIdleTTL = 24 * time.Hour
	// gateEvictInterval はアイドルなSession Gateの削除間隔。
	gateEvictInterval = 10 * time.Minute

	shutdownTimeout = 30 * time.Second
)

// ErrDatabaseRequired はDATABASE_URLが必要なコマンドで未設定の場合のエラー。
var ErrDatabaseRequired = errors.New("DATABASE_URL is required for this command")

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
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
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runCommand は設定を読み込んでサブコマンドを実行する。
func runCommand(cmd *cobra.Command, w io.Writer, command Command) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch command {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openRegistry はDATABASE_URLが設定されていればPostgreSQLのレジストリを、
// なければインメモリのレジストリを返す。closeは常に呼び出してよい。
func openRegistry(ctx context.Context, cfg *config.Config) (registry repository.SessionRegistry, closeFn func(), err error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is not set; sessions are kept in memory and lost on restart")
		return session.NewMemoryRegistry(), func() {}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		return nil, nil, err
	}
	slog.Info("database connection established")
	return repository.NewPostgresSessionRegistry(db), func() { db.Close() }, nil
}

// server はrunServeが起動するHTTPサーバーと付随するバックグラウンド処理。
type server struct {
	http    *http.Server
	gates   *gate.Tracker
	limiter *middleware.RateLimiter
	cleanup *cleanup.CleanupJob // インメモリレジストリの場合のみ
}

// newServer は全依存関係をワイヤリングしてサーバーを構築する。
func newServer(cfg *config.Config, registry repository.SessionRegistry) (*server, error) {
	log := slog.Default()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. Session Store
	codec, err := session.NewCodec(cfg.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_SECRET: %w", err)
	}
	store := session.NewStore(registry, codec, session.StoreConfig{
		MaxAge:   time.Duration(cfg.SessionMaxAge) * time.Second,
		Logger:   log,
		Observer: collector,
	})

	// 3. Backend Auth Gateway
	gateway := backend.NewClient(backend.ClientConfig{
		BaseURL:    cfg.BackendAPIURL,
		HTTPClient: &http.Client{Timeout: cfg.BackendTimeout},
		Logger:     log,
		Observer:   collector,
	})

	// 4. 認証サービス（OAuth未設定の場合はGoogleログインを無効化する）
	var oauthProvider auth.OAuthProvider
	if cfg.OAuthEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	} else {
		slog.Info("google sign-in disabled: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET is not set")
	}
	authService := auth.NewService(
		auth.NewCredentialValidator(gateway, log),
		auth.NewOAuthExchanger(gateway, log),
		oauthProvider,
		store,
		auth.ServiceConfig{
			ExchangeFailurePolicy: cfg.ExchangeFailurePolicy,
			Logger:                log,
			Observer:              collector,
		},
	)

	// 5. Movie Directory
	directory := movie.NewDirectory(gateway, security.NewTextSanitizer(), log)

	// 6. ビュー
	renderer, err := handler.NewRenderer()
	if err != nil {
		return nil, err
	}

	gates := gate.NewTracker(gateIdleTTL, collector)
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitLogin))

	// 7. ルーターの構築
	cookie := middleware.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Cookie:            cookie,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Sessions:          store,
		AuthService:       authService,
		Encoder:           store,
		Gates:             gates,
		Movies:            directory,
		Renderer:          renderer,
		HealthChecker:     store,
		BackendChecker:    gateway,
		MetricsHandler:    metrics.Handler(reg),
	})

	srv := &server{
		http: &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		gates:   gates,
		limiter: limiter,
	}

	// インメモリレジストリはworkerプロセスから見えないため、同じプロセスで掃除する
	if cfg.DatabaseURL == "" {
		srv.cleanup = cleanup.NewCleanupJob(registry, log, collector)
	}
	return srv, nil
}

// startBackground はゲートの破棄とレジストリのクリーンアップをctxが終わるまで実行する。
func (s *server) startBackground(ctx context.Context, cleanupInterval time.Duration) {
	go func() {
		ticker := time.NewTicker(gateEvictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.gates.EvictIdle(); n > 0 {
					slog.Debug("evicted idle session gates", slog.Int("count", n))
				}
			}
		}
	}()

	if s.cleanup != nil && cleanupInterval > 0 {
		go s.cleanup.Start(ctx, cleanupInterval)
	}
}

// runServe はWebサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	registry, closeRegistry, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()

	srv, err := newServer(cfg, registry)
	if err != nil {
		return err
	}
	defer srv.limiter.Stop()

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv.startBackground(bgCtx, cfg.SessionCleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", srv.http.Addr),
			slog.Bool("oauth_enabled", cfg.OAuthEnabled()),
		)
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down web server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はセッションレジストリのクリーンアップワーカーを起動する。
// PostgreSQLのレジストリが必要。ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return ErrDatabaseRequired
	}

	registry, closeRegistry, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()

	job := cleanup.NewCleanupJob(registry, slog.Default(), nil)
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return ErrDatabaseRequired
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	url := fmt.Sprintf("http://localhost:%s/health", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
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

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
