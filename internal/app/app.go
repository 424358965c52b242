package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/netutil"

	"github.com/hitoshi/runnerz/internal/config"
	"github.com/hitoshi/runnerz/internal/database"
	"github.com/hitoshi/runnerz/internal/handler"
	"github.com/hitoshi/runnerz/internal/logger"
	"github.com/hitoshi/runnerz/internal/metrics"
	"github.com/hitoshi/runnerz/internal/middleware"
	"github.com/hitoshi/runnerz/internal/repository"
	"github.com/hitoshi/runnerz/internal/run"
	"github.com/hitoshi/runnerz/internal/security"
	"github.com/hitoshi/runnerz/internal/seed"
	"github.com/hitoshi/runnerz/internal/user"
)

const (
	storePingTimeout = 5 * time.Second
	shutdownTimeout  = 30 * time.Second
)

// maxConnections は同時に受け付けるTCP接続の上限。
const maxConnections = 512

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数・.envからConfigを読み込み、
// LOG_LEVELに従ってログレベルを設定し直す。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
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
		slog.String("store", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(ctx, cfg)
	default:
		return serve(ctx, cfg)
	}
}

// store は選択されたランストアと、Postgresの場合はその接続を保持する。
type store struct {
	repo repository.RunRepository
	db   *sql.DB
	name string
}

// Close はDB接続を閉じる。インメモリストアの場合は何もしない。
func (s *store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// healthChecker はヘルスチェック用の疎通確認先を返す。
// インメモリストアの場合はnilインターフェースを返す。
func (s *store) healthChecker() handler.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

// openStore はSTORE_DRIVERに従ってランストアを構築する。
// Postgresの場合は接続を確認し、MIGRATE_ON_STARTが有効ならマイグレーションを適用する。
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Info("using in-memory run store")
		return &store{repo: repository.NewInMemoryRunRepo(), name: config.StoreDriverMemory}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if cfg.MigrateOnStart {
		if err := runMigrate(cfg); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &store{repo: repository.NewPostgresRunRepo(db), db: db, name: config.StoreDriverPostgres}, nil
}

// seedSource はSEED_FILEが指定されていればファイル、なければ同梱データセットを返す。
func seedSource(cfg *config.Config) seed.Source {
	if cfg.SeedFile != "" {
		return seed.FileSource(cfg.SeedFile)
	}
	return seed.EmbeddedSource()
}

// seedStore はストアが空の場合に初期データを投入し、件数をメトリクスに記録する。
func seedStore(ctx context.Context, cfg *config.Config, s *store, recorder metrics.MetricsCollector) (int, error) {
	loader := seed.NewLoader(s.repo, seedSource(cfg), slog.Default())
	n, err := loader.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed failed: %w", err)
	}
	if recorder != nil {
		recorder.RecordRunsSeeded(n)
	}
	return n, nil
}

// newUserHTTPClient はユーザーサービス用のHTTPクライアントを構築する。
// USER_SERVICE_ALLOW_PRIVATEが無効な場合はベースURLを検証し、SSRF対策済みのクライアントを使う。
func newUserHTTPClient(cfg *config.Config) (*http.Client, error) {
	if cfg.UserServiceAllowPrivate {
		slog.Warn("user service SSRF guard is disabled",
			slog.String("base_url", cfg.UserServiceBaseURL),
		)
		return &http.Client{Timeout: cfg.UserServiceTimeout}, nil
	}

	guard := security.NewSSRFGuard()
	if err := guard.ValidateBaseURL(cfg.UserServiceBaseURL); err != nil {
		return nil, fmt.Errorf("invalid USER_SERVICE_BASE_URL: %w", err)
	}
	return guard.NewSafeClient(cfg.UserServiceTimeout), nil
}

// application はserveモードで起動する依存関係一式。
type application struct {
	handler     http.Handler
	store       *store
	rateLimiter *middleware.RateLimiter
}

// Close はレート制限のクリーンアップを停止し、ストアを閉じる。
func (a *application) Close() error {
	a.rateLimiter.Stop()
	return a.store.Close()
}

// buildApplication はストアの構築・シード投入・全依存関係のワイヤリングを行う。
func buildApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. ストア
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 3. 初期データ
	if cfg.SeedEnabled {
		if _, err := seedStore(ctx, cfg, s, collector); err != nil {
			s.Close()
			return nil, err
		}
	}

	// 4. サービス
	runService := run.NewService(s.repo, security.NewTitleSanitizer(), slog.Default()).
		WithRecorder(collector)

	httpClient, err := newUserHTTPClient(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	userClient := user.NewClient(httpClient, slog.Default(), cfg.UserServiceBaseURL).
		WithRecorder(collector)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite),
		slog.Default(),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,
		TrustProxy:        cfg.TrustProxy,

		RunService:  runService,
		UserFetcher: userClient,

		HealthChecker:   s.healthChecker(),
		StoreName:       s.name,
		MetricsGatherer: registry,
	})

	return &application{handler: router, store: s, rateLimiter: rateLimiter}, nil
}

// serve はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINTまたはSIGTERMを受信する）とグレースフルシャットダウンを行う。
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := buildApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.ServerPort, err)
	}
	ln = netutil.LimitListener(ln, maxConnections)

	server := &http.Server{
		Handler:           a.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", ln.Addr().String()),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s, got %q", config.StoreDriverPostgres, cfg.StoreDriver)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runSeed は初期データを1回だけ投入して終了する。
func runSeed(ctx context.Context, cfg *config.Config) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := seedStore(ctx, cfg, s, nil)
	if err != nil {
		return err
	}

	slog.Info("seed completed",
		slog.Int("runs", n),
		slog.String("store", s.name),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
