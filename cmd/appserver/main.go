package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	app "github.com/carbonledger/platform/internal/app"
	"github.com/carbonledger/platform/internal/app/httpapi"
	"github.com/carbonledger/platform/internal/app/services/authmgr"
	"github.com/carbonledger/platform/internal/app/storage/postgres"
	"github.com/carbonledger/platform/internal/app/storage/postgres/migrations"
	"github.com/carbonledger/platform/pkg/config"
	"github.com/carbonledger/platform/pkg/logger"
	_ "github.com/lib/pq"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	apiTokensFlag := flag.String("api-tokens", "", "comma-separated API tokens for HTTP authentication")
	flag.Parse()

	var cfg *config.Config

	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := loadConfigFile(trimmed)
		if err != nil {
			fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	} else if loaded, err := config.Load(); err == nil {
		cfg = loaded
	}

	log := newLogger(cfg)

	stores := app.Stores{}

	var db *sql.DB
	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	if dsnVal != "" {
		opened, err := sql.Open("postgres", dsnVal)
		if err != nil {
			fatalf("connect to postgres: %v", err)
		}
		if err := opened.PingContext(rootCtx); err != nil {
			fatalf("ping postgres: %v", err)
		}
		db = opened
		configurePool(db, cfg)

		if *runMigrations {
			if err := migrations.New(log).Apply(db); err != nil {
				fatalf("apply migrations: %v", err)
			}
		}

		store := postgres.New(db)
		stores = app.Stores{
			Users:         store,
			Companies:     store,
			Facilities:    store,
			Activities:    store,
			Templates:     store,
			Parameters:    store,
			Invoices:      store,
			Reports:       store,
			Suppliers:     store,
			Notifications: store,
			Badges:        store,
			Events:        store,
		}
	}

	if db != nil {
		defer db.Close()
	}

	runtime := resolveRuntimeConfig(cfg, dsnVal)

	application, err := app.New(stores, log, app.WithRuntimeConfig(runtime))
	if err != nil {
		fatalf("initialise application: %v", err)
	}

	var userStore = stores.Users
	if userStore == nil {
		userStore = application.Stores.Users
	}
	authManager := authmgr.New(userStore, runtime.JWTSecret)

	listenAddr := determineAddr(*addr, cfg)
	tokens := resolveAPITokens(*apiTokensFlag, runtime.APITokens)

	httpService := httpapi.NewService(application, listenAddr, tokens, authManager, log, db)
	if err := application.Attach(httpService); err != nil {
		fatalf("attach http service: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		fatalf("start application: %v", err)
	}
	log.Infof("carbonledger listening on %s", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		fatalf("shutdown: %v", err)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func newLogger(cfg *config.Config) *logger.Logger {
	if cfg == nil {
		return logger.NewDefault("carbonledger")
	}
	return logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	if cfg != nil {
		host := strings.TrimSpace(cfg.Server.Host)
		port := cfg.Server.Port
		if port != 0 {
			if host == "" {
				host = "0.0.0.0"
			}
			return fmt.Sprintf("%s:%d", host, port)
		}
	}
	return ":8080"
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func loadConfigFile(path string) (*config.Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.LoadFile(path)
	case ".json":
		return config.LoadConfig(path)
	default:
		if cfg, err := config.LoadFile(path); err == nil {
			return cfg, nil
		}
		return config.LoadConfig(path)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg == nil {
		return ""
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

// resolveRuntimeConfig builds the RuntimeConfig handed to app.New from the
// resolved DSN and the loaded config's auth/calculation/notification/storage
// sections. With a nil cfg only the DSN is set. The result replaces the
// environment-derived RuntimeConfig app.New would otherwise build; it is not
// merged with it, and the vision-service URL and API key are left empty.
func resolveRuntimeConfig(cfg *config.Config, dsn string) app.RuntimeConfig {
	rc := app.RuntimeConfig{PostgresDSN: dsn}
	if cfg == nil {
		return rc
	}
	rc.JWTSecret = cfg.Auth.JWTSecret
	rc.APITokens = cfg.Auth.Tokens
	rc.Calculation = cfg.Calculation
	rc.Notification = cfg.Notification
	rc.Storage = cfg.Storage
	return rc
}

func resolveAPITokens(flagTokens string, configured []string) []string {
	var tokens []string
	tokens = append(tokens, splitTokens(flagTokens)...)
	tokens = append(tokens, splitTokens(os.Getenv("API_TOKENS"))...)
	if token := strings.TrimSpace(os.Getenv("API_TOKEN")); token != "" {
		tokens = append(tokens, token)
	}
	tokens = append(tokens, configured...)
	return tokens
}

func splitTokens(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed
}
