package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/servicehub/backend/docs"
	"github.com/servicehub/backend/internal/config"
	"github.com/servicehub/backend/internal/database"
	"github.com/servicehub/backend/internal/features"
	"github.com/servicehub/backend/internal/handlers"
	"github.com/servicehub/backend/internal/metrics"
	mW "github.com/servicehub/backend/internal/middleware"
	"github.com/servicehub/backend/internal/notify"
	"github.com/servicehub/backend/internal/services"
	"github.com/servicehub/backend/internal/settlement"
	"github.com/servicehub/backend/internal/store/postgres"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title ServiceHub Backend API
// @version 1.0
// @description Wallet ledger and appointment lifecycle for the service marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	logger := logrus.StandardLogger()
	if err := viper.ReadInConfig(); err != nil {
		logger.WithError(err).Info("Config file not found, using defaults")
	}

	cfg := config.Load(viper.GetViper())
	cfg.Log.ConfigureLogger(logger)
	if cfg.JWT.SecretKey == "" {
		logger.Fatal("JWT_SECRET_KEY is required")
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	db := database.InitDatabase()
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Fatal("Failed to apply migrations")
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	st := postgres.New(db)
	flags := features.New(cfg.Features, redisClient, logger)
	notifier := notify.New(redisClient, logger)
	processor := settlement.NewClient(settlement.Config{
		BaseURL: cfg.Settlement.BaseURL,
		APIKey:  cfg.Settlement.APIKey,
		Timeout: cfg.Settlement.Timeout,
	}, logger)

	ledgerService := services.NewLedgerService(st, st, flags, processor, logger)
	appointmentService := services.NewAppointmentService(st, ledgerService, st, flags, processor, notifier, logger)
	moneyRequestService := services.NewMoneyRequestService(redisClient, ledgerService, flags, notifier, cfg.MoneyRequest.TTL, logger)

	reconciler := services.NewReconciler(st, cfg.Reconcile.PendingAfter, cfg.Reconcile.Lookback, logger)
	if err := reconciler.Start(cfg.Reconcile.Schedule); err != nil {
		logger.WithError(err).Fatal("Invalid reconcile schedule")
	}
	defer reconciler.Stop()

	walletHandler := handlers.NewWalletHandler(ledgerService)
	appointmentHandler := handlers.NewAppointmentHandler(appointmentService)
	qrHandler := handlers.NewQRHandler(moneyRequestService)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	limiter := mW.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	limiter.StartCleanup(ctx, 10*time.Minute)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(mW.SecurityHeaders)
	r.Use(mW.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.InstrumentHandler)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	r.Handle("/metrics", metrics.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware([]byte(cfg.JWT.SecretKey), logger))
		r.Use(limiter.Handler)

		r.Get("/wallet", walletHandler.GetWallet)
		r.Get("/wallet/entries", walletHandler.ListEntries)
		r.Post("/wallet/topup", walletHandler.TopUp)
		r.Post("/wallet/send", walletHandler.SendMoney)
		r.Post("/wallet/withdraw", walletHandler.Withdraw)

		r.Post("/money-requests", qrHandler.CreateRequest)
		r.Post("/money-requests/pay", qrHandler.PayRequest)

		r.Post("/appointments", appointmentHandler.Book)
		r.Get("/appointments/{id}", appointmentHandler.Get)
		r.Post("/appointments/{id}/transition", appointmentHandler.Transition)
		r.Post("/appointments/{id}/pay/wallet", appointmentHandler.PayWithWallet)
		r.Post("/appointments/{id}/pay/card", appointmentHandler.PayWithCard)
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		logger.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}
