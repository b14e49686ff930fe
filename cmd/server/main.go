package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"wallet-auth/internal/config"
	"wallet-auth/internal/domain"
	apphttp "wallet-auth/internal/http"
	"wallet-auth/internal/repository/sqlite"
	"wallet-auth/internal/service"
	"wallet-auth/internal/signature"
	"wallet-auth/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	identityRepo := sqlite.NewIdentityRepository(db)
	tokenRepo := sqlite.NewRefreshTokenRepository(db)

	if err := identityRepo.Init(ctx); err != nil {
		logger.Fatalf("init identity repository: %v", err)
	}
	if err := tokenRepo.Init(ctx); err != nil {
		logger.Fatalf("init refresh token repository: %v", err)
	}

	authService, err := service.NewAuthService(identityRepo, tokenRepo, signature.Ed25519Verifier{}, service.AuthConfig{
		JWTSecret:       cfg.Auth.JWTSecret,
		SignInMessage:   cfg.Auth.SignInMessage,
		AccessTokenTTL:  cfg.AccessTokenTTL(),
		RefreshTokenTTL: cfg.RefreshTokenTTL(),
	}, logger)
	if err != nil {
		logger.Fatalf("setup auth service: %v", err)
	}

	factors, err := loadFactors(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("load emission factors: %v", err)
	}
	emissionService, err := service.NewEmissionService(factors)
	if err != nil {
		logger.Fatalf("setup emission service: %v", err)
	}

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		runJanitor(ctx, authService, cfg.PurgeInterval(), logger)
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(authService, emissionService, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	<-janitorDone

	logger.Info("bye")
}

// runJanitor drops expired refresh tokens until ctx is done.
func runJanitor(ctx context.Context, auth service.AuthService, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := auth.PurgeExpired(ctx)
			if err != nil {
				logger.Warnf("purge expired refresh tokens: %v", err)
				continue
			}
			if n > 0 {
				logger.Infof("purged %d expired refresh tokens", n)
			}
		}
	}
}

func loadFactors(ctx context.Context, cfg config.Config, logger *logrus.Logger) ([]domain.EmissionFactor, error) {
	if cfg.Emissions.FactorsKey == "" {
		logger.Info("using built-in emission factors")
		return nil, nil
	}

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	factors, err := service.LoadFactors(loadCtx, store, cfg.Storage.Bucket, cfg.Emissions.FactorsKey)
	if err != nil {
		return nil, err
	}
	logger.Infof("loaded %d emission factors from s3://%s/%s", len(factors), cfg.Storage.Bucket, cfg.Emissions.FactorsKey)
	return factors, nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
