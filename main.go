package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"dicomweb-oauth-proxy/internal/cache"
	"dicomweb-oauth-proxy/internal/circuitbreaker"
	"dicomweb-oauth-proxy/internal/common/logging"
	"dicomweb-oauth-proxy/internal/config"
	"dicomweb-oauth-proxy/internal/crypto"
	"dicomweb-oauth-proxy/internal/handlers"
	"dicomweb-oauth-proxy/internal/jwtvalidator"
	"dicomweb-oauth-proxy/internal/metrics"
	"dicomweb-oauth-proxy/internal/middleware"
	"dicomweb-oauth-proxy/internal/providers"
	"dicomweb-oauth-proxy/internal/proxy"
	"dicomweb-oauth-proxy/internal/ratelimit"
	"dicomweb-oauth-proxy/internal/redis"
	"dicomweb-oauth-proxy/internal/server"
	"dicomweb-oauth-proxy/internal/tokens"
)

// encryptedSecretPrefix marks a ClientSecret value that must be decrypted
// with SECRETS_ENCRYPTION_KEY before use.
const encryptedSecretPrefix = "enc:"

func main() {
	_ = godotenv.Load()
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level: logging.ParseLevel(cfg.LogLevel),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)
	defer logging.MustSync()

	servers, err := config.LoadServers(cfg.ServersConfigPath)
	if err != nil {
		log.Fatalf("Failed to load server configuration: %v", err)
	}

	if err := decryptSecrets(servers, cfg.EncryptionKey); err != nil {
		log.Fatalf("Failed to decrypt client secrets: %v", err)
	}

	// Optional Redis-backed shared token cache.
	var (
		redisClient  *redis.Client
		sharedTokens cache.Backend
	)
	if cfg.RedisAddress != "" {
		db, _ := strconv.Atoi(cfg.RedisDB)
		poolSize, _ := strconv.Atoi(cfg.RedisPoolSize)
		redisClient, err = redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       db,
			PoolSize: poolSize,
		})
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		sharedTokens = cache.NewRedisBackend(redisClient, "dicomweb-oauth:")
		logger.Info("shared token cache enabled", logging.String("redis_address", cfg.RedisAddress))
	}

	mx := metrics.New()

	var refreshLock tokens.Locker
	if redisClient != nil {
		refreshLock = redisClient
	}

	registry := tokens.NewRegistry()
	for name, serverCfg := range servers {
		manager, err := buildManager(name, serverCfg, logger, mx, sharedTokens, refreshLock)
		if err != nil {
			log.Fatalf("Failed to configure server %q: %v", name, err)
		}
		registry.Register(name, serverCfg.Url, manager)
		logger.Info("server configured",
			logging.String("server_name", name),
			logging.String("url", serverCfg.Url),
			logging.String("provider_type", serverCfg.ProviderType),
		)
	}

	perMinute, _ := strconv.Atoi(cfg.RateLimitPerMinute)
	burst, _ := strconv.Atoi(cfg.RateLimitBurst)
	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		RequestsPerMinute: perMinute,
		Burst:             burst,
		Enabled:           cfg.RateLimitEnabled,
	})

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(limiter.HTTPMiddleware(ratelimit.IPBasedKey))

	handlers.New(registry, redisClient, logger).RegisterRoutes(router)
	proxy.NewHandler(registry, nil, logger, mx).Routes(router)
	router.Handle("/metrics", mx.Handler()).Methods("GET")

	srv := server.New(router, cfg.Port, cfg.TLSCertFile, cfg.TLSKeyFile)
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
	fmt.Printf("DICOMweb OAuth proxy listening on port %s (%d servers)\n", cfg.Port, len(servers))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
}

// buildManager assembles one server's provider, breaker, validator, and
// lifecycle manager.
func buildManager(name string, serverCfg *config.ServerConfig, logger logging.Logger,
	mx *metrics.Metrics, shared cache.Backend, lock tokens.Locker) (*tokens.Manager, error) {

	provider, err := providers.New(serverCfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []tokens.Option{
		tokens.WithMetrics(mx),
		tokens.WithBreaker(circuitbreaker.New(circuitbreaker.TokenEndpointConfig(name), logger)),
	}

	if shared != nil {
		opts = append(opts, tokens.WithSharedCache(shared))
	}
	if lock != nil {
		opts = append(opts, tokens.WithLocker(lock))
	}

	validator, err := jwtvalidator.New(jwtvalidator.Config{
		PublicKeyPEM: serverCfg.JWTPublicKeyPEM,
		Issuer:       serverCfg.JWTIssuer,
		Audience:     serverCfg.JWTAudience,
	})
	if err != nil {
		return nil, err
	}
	if validator != nil {
		opts = append(opts, tokens.WithValidator(validator))
	}

	return tokens.NewManager(tokens.Config{
		ServerName:          name,
		RefreshBuffer:       serverCfg.RefreshBuffer(),
		ExpiryFallback:      serverCfg.TokenExpiryFallback(),
		MaxRetries:          serverCfg.MaxRetries,
		RetryBaseDelay:      serverCfg.RetryBaseDelay(),
		ServeStaleOnFailure: serverCfg.ServeStaleOnFailure,
	}, provider, logger, opts...), nil
}

// decryptSecrets resolves enc:-prefixed client secrets using the configured
// encryption key. Plaintext secrets pass through untouched.
func decryptSecrets(servers map[string]*config.ServerConfig, key string) error {
	var encryptor *crypto.SecretsEncryptor
	for name, serverCfg := range servers {
		if !strings.HasPrefix(serverCfg.ClientSecret, encryptedSecretPrefix) {
			continue
		}
		if encryptor == nil {
			if key == "" {
				return fmt.Errorf("server %q has an encrypted secret but SECRETS_ENCRYPTION_KEY is not set", name)
			}
			var err error
			encryptor, err = crypto.NewSecretsEncryptor(key)
			if err != nil {
				return err
			}
		}
		plaintext, err := encryptor.Decrypt(strings.TrimPrefix(serverCfg.ClientSecret, encryptedSecretPrefix))
		if err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
		serverCfg.ClientSecret = plaintext
	}
	return nil
}
