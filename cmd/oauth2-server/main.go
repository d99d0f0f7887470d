package main

import (
	"net/http"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ghtak/stardust/cmd/oauth2-server/api"
	"github.com/ghtak/stardust/internal/audit"
	"github.com/ghtak/stardust/internal/config"
	"github.com/ghtak/stardust/internal/directory"
	"github.com/ghtak/stardust/internal/oauth"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config.LoadEnv(".env", logger)

	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("loading configuration", zap.Error(err))
	}

	store, err := oauth.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connecting to postgres", zap.Error(err))
	}
	defer store.Close()

	// Pending authorize requests live in Redis when available; Postgres
	// serves as the single-node fallback.
	var requests oauth.RequestStore = store
	if cfg.RedisURL != "" {
		redisStore, err := oauth.NewRedisRequestStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		defer redisStore.Close()
		requests = redisStore
	}

	var auditPub *audit.Publisher
	if cfg.AMQPURL != "" {
		auditPub, err = audit.NewPublisher(cfg.AMQPURL, cfg.AuditExchange, logger)
		if err != nil {
			logger.Fatal("connecting to amqp", zap.Error(err))
		}
		defer auditPub.Close()
	}

	var verifier api.TokenVerifier
	var dir directory.Directory = directory.NewStaticDirectory()
	if cfg.IdPJWKSURL != "" {
		idp := directory.NewIdentityProvider(cfg.IdPJWKSURL, cfg.IdPIssuer)
		verifier = idp
		dir = idp
	} else {
		logger.Warn("identity provider not configured, authorize requests cannot be authenticated")
	}

	clients := oauth.NewClientService(store, &oauth.BcryptHasher{Cost: bcrypt.DefaultCost}, auditPub, logger)
	authz := oauth.NewAuthorizationService(clients, store, dir, oauth.TokenTTL{
		Code:    cfg.CodeTTL,
		Access:  cfg.AccessTTL,
		Refresh: cfg.RefreshTTL,
	}, auditPub, logger)

	server := api.NewServer(clients, authz, requests, verifier, cfg.LoginURL, logger)

	logger.Info("oauth2 server listening", zap.String("addr", cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, server.Routes()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
