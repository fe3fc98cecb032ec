package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openbank/openbank-core/internal/app/auth"
	"github.com/openbank/openbank-core/internal/app/core/adapter/in/rest"
	memory_adapter "github.com/openbank/openbank-core/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/openbank/openbank-core/internal/app/core/adapter/out/mysql"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
	"github.com/openbank/openbank-core/internal/observe"
	"github.com/openbank/openbank-core/pkg/mysql"
	"github.com/openbank/openbank-core/pkg/wal"
)

// 儲存後端種類
const (
	StorageMemory = "memory"
	StorageMySQL  = "mysql"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Storage struct {
		Backend string `yaml:"backend"` // memory | mysql
		WALPath string `yaml:"wal_path"`
	} `yaml:"storage"`
	MySQL mysql.Config `yaml:"mysql"`
	Auth  struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Currency string `yaml:"currency"`
	LogLevel string `yaml:"log_level"`
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg := loadConfig(*configPath)

	logger := newLogger(cfg.LogLevel)

	// 2. 指標（注入式，不使用全域單例）
	metrics := observe.New()
	hook := metrics.SessionHook()

	// 3. 初始化儲存後端
	var (
		sessions usecase.SessionCoordinator
		accounts usecase.AccountStore
		ledger   usecase.TransactionLedger
		users    usecase.UserStore
	)
	switch cfg.Storage.Backend {
	case StorageMemory:
		walFile, err := wal.NewWAL(cfg.Storage.WALPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init WAL")
		}
		defer walFile.Close()

		store, err := memory_adapter.NewStore(walFile, logger, memory_adapter.WithSessionHook(hook))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init memory store")
		}
		sessions, accounts, ledger, users = store, store, store, store

	case StorageMySQL:
		dbClient, err := mysql.NewClient(cfg.MySQL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to MySQL")
		}
		defer dbClient.Close()
		logger.Info().Str("host", cfg.MySQL.Host).Msg("connected to MySQL")

		store := mysql_adapter.NewStore(dbClient, logger, mysql_adapter.WithSessionHook(hook))
		if err := store.AutoMigrate(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate schema")
		}
		sessions, accounts, ledger, users = store, store, store, store

	default:
		logger.Fatal().Str("backend", cfg.Storage.Backend).Msg("invalid storage backend")
	}

	// 4. 交易引擎
	engine := usecase.NewEngine(sessions, accounts, ledger, logger,
		usecase.WithCurrency(cfg.Currency),
		usecase.WithRecorder(metrics),
	)

	// 5. 協作者與 HTTP adapter
	authSvc := auth.NewService(users, []byte(cfg.Auth.JWTSecret), logger)
	server := rest.NewServer(engine, authSvc, users, logger)

	// 6. /metrics 獨立監聽
	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(metrics)}
	go func() {
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("starting HTTP server")
		if err := server.Listen(cfg.Server.Addr); err != nil {
			logger.Fatal().Err(err).Msg("failed to serve")
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server...")

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}
	logger.Info().Msg("server exited")
}

func metricsMux(metrics *observe.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func loadConfig(path string) Config {
	cfgData, err := os.ReadFile(path)
	if err != nil {
		// 設定檔讀不到直接結束，logger 還沒建立所以用 stderr
		os.Stderr.WriteString("failed to read config file: " + err.Error() + "\n")
		os.Exit(1)
	}
	var cfg Config
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		os.Stderr.WriteString("failed to parse config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// 補全預設配置 (如果 yaml 沒寫)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9100"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
	}
	if cfg.Storage.WALPath == "" {
		cfg.Storage.WALPath = "wal.log"
	}
	if cfg.Currency == "" {
		cfg.Currency = usecase.DefaultCurrency
	}
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 100
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 10
	}
	if cfg.MySQL.ConnMaxLifetime == 0 {
		cfg.MySQL.ConnMaxLifetime = mysql.Duration(30 * time.Minute)
	}
	return cfg
}
