package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/config"
)

// Open builds the credential store selected by configuration. Source
// "auto" probes in order: file, kv, document, redis, env.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	source := strings.ToLower(strings.TrimSpace(cfg.Credentials.Source))
	switch source {
	case "file":
		return openFile(cfg)
	case "kv":
		return openSQLite(ctx, cfg)
	case "document":
		return openMongo(ctx, cfg)
	case "redis":
		return openRedis(ctx, cfg)
	case "env":
		return openEnv()
	case "", "auto":
	default:
		return nil, fmt.Errorf("unknown credential source %q", source)
	}

	if cfg.Credentials.FilePath != "" {
		if _, err := os.Stat(cfg.Credentials.FilePath); err == nil {
			return openFile(cfg)
		}
	}
	if cfg.Credentials.SQLitePath != "" {
		if _, err := os.Stat(cfg.Credentials.SQLitePath); err == nil {
			return openSQLite(ctx, cfg)
		}
	}
	if cfg.Mongo.URI != "" {
		if st, err := openMongo(ctx, cfg); err == nil {
			return st, nil
		} else {
			log.WithError(err).Warn("document credential store unavailable; continuing auto-detection")
		}
	}
	if cfg.Redis.Addr != "" {
		if st, err := openRedis(ctx, cfg); err == nil {
			return st, nil
		} else {
			log.WithError(err).Warn("redis credential store unavailable; continuing auto-detection")
		}
	}
	if st := NewEnvStore(); st.Available() {
		return st, nil
	}
	return nil, errors.New("no credential source detected; set KIRO_CREDENTIALS_FILE, KIRO_SQLITE_DB, MONGODB_URI, REDIS_ADDR, or KIRO_REFRESH_TOKEN")
}

func openFile(cfg *config.Config) (Store, error) {
	if cfg.Credentials.FilePath == "" {
		return nil, errors.New("credential source file requires KIRO_CREDENTIALS_FILE")
	}
	return NewFileStore(cfg.Credentials.FilePath), nil
}

func openSQLite(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.Credentials.SQLitePath == "" {
		return nil, errors.New("credential source kv requires KIRO_SQLITE_DB")
	}
	st, err := NewSQLiteStore(cfg.Credentials.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func openMongo(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.Mongo.URI == "" {
		return nil, errors.New("credential source document requires MONGODB_URI")
	}
	return NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.CredentialsColl)
}

func openRedis(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.Redis.Addr == "" {
		return nil, errors.New("credential source redis requires REDIS_ADDR")
	}
	st := NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func openEnv() (Store, error) {
	st := NewEnvStore()
	if !st.Available() {
		return nil, errors.New("credential source env requires KIRO_REFRESH_TOKEN")
	}
	return st, nil
}
