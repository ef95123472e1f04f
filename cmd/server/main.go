package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/qcom/otpguard/internal/config"
	"github.com/qcom/otpguard/internal/delivery"
	"github.com/qcom/otpguard/internal/handlers"
	"github.com/qcom/otpguard/internal/middleware"
	"github.com/qcom/otpguard/internal/ratelimit"
	"github.com/qcom/otpguard/internal/repository"
	"github.com/qcom/otpguard/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var redisClient *redis.Client
	if cfg.OTP.Store == config.BackendRedis || cfg.RateLimit.Backend == config.BackendRedis {
		redisClient, err = initRedis(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Redis")
		}
		defer redisClient.Close()
	}

	// Initialize storage
	var otpStore service.OTPStore
	switch cfg.OTP.Store {
	case config.BackendRedis:
		otpStore = repository.NewRedisOTPRepository(redisClient, cfg.OTP.Retention, logger)
	case config.BackendDynamoDB:
		dynamoClient, err := initDynamoDB(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize DynamoDB")
		}
		otpStore = repository.NewOTPRepository(dynamoClient, cfg.DynamoDB.TableName, cfg.OTP.Retention, logger)
	default:
		memStore := repository.NewMemoryOTPRepository(cfg.OTP.Retention, nil)
		memStore.StartJanitor(ctx, cfg.RateLimit.CleanupEvery)
		otpStore = memStore
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Cooldown)
	default:
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Cooldown,
			ratelimit.WithCapacity(cfg.RateLimit.Capacity),
			ratelimit.WithCleanupEvery(cfg.RateLimit.CleanupEvery),
		)
		memLimiter.StartJanitor(ctx)
		limiter = memLimiter
	}

	sender, closeSender, err := initSender(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP delivery")
	}
	defer closeSender()

	// Initialize services
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	otpService := service.NewOTPService(otpStore, limiter, sender, &cfg.OTP, cfg.Delivery.Timeout, logger)
	otpHandlers := handlers.NewOTPHandlers(otpService, jwtService, logger)

	authMiddleware := middleware.NewAuthMiddleware(jwtService, logger)
	clientLimiter := middleware.NewClientLimiter(cfg.RateLimit.ClientRPS, cfg.RateLimit.ClientBurst, cfg.RateLimit.Cooldown)
	clientLimiter.StartJanitor(ctx, cfg.RateLimit.CleanupEvery)

	router := setupRouter(otpHandlers, authMiddleware, clientLimiter, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":         cfg.Server.Port,
			"otp_store":    cfg.OTP.Store,
			"rate_limiter": cfg.RateLimit.Backend,
			"delivery":     cfg.Delivery.Backend,
			"cooldown":     cfg.RateLimit.Cooldown.String(),
			"otp_expiry":   cfg.OTP.Expiry.String(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Redis.Endpoint, err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func initSender(cfg *config.Config, logger *logrus.Logger) (delivery.Sender, func(), error) {
	if cfg.Delivery.Backend != config.BackendNATS {
		logger.Warn("Using log delivery, OTP codes will be written to the log")
		return delivery.NewLogSender(logger), func() {}, nil
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("otpguard"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.NATS.URL, err)
	}

	sender, err := delivery.NewNATSSender(nc, cfg.NATS.Subject)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	logger.WithField("subject", cfg.NATS.Subject).Info("NATS delivery initialized")
	return sender, func() {
		if err := nc.Drain(); err != nil {
			logger.WithError(err).Warn("Failed to drain NATS connection")
		}
	}, nil
}

func setupRouter(
	otpHandlers *handlers.OTPHandlers,
	authMiddleware *middleware.AuthMiddleware,
	clientLimiter *middleware.ClientLimiter,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", otpHandlers.Health).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	otp := api.PathPrefix("/otp").Subrouter()
	otp.Use(clientLimiter.Middleware)
	otp.HandleFunc("/request", otpHandlers.RequestOTP).Methods("POST", "OPTIONS")
	otp.HandleFunc("/verify", otpHandlers.VerifyOTP).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireVerification)
	protected.HandleFunc("/whoami", otpHandlers.WhoAmI).Methods("GET")

	return router
}
