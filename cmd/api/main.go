package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nomisafe/backend/internal/config"
	"github.com/nomisafe/backend/internal/handlers"
	"github.com/nomisafe/backend/internal/middleware"
	"github.com/nomisafe/backend/internal/models"
	"github.com/nomisafe/backend/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()
	if cfg.Env == "production" && cfg.JWTSecret == "your-secret-key" {
		log.Fatal("JWT_SECRET must be set in production")
	}

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Initialize services
	smsService := services.NewSMSService(cfg)
	otpLedger := services.NewOTPLedger(db)
	userStore := services.NewUserStore(db)
	tokenStore := services.NewRefreshTokenStore(db)
	authService := services.NewAuthService(otpLedger, userStore, tokenStore, smsService, redisClient, cfg)

	// Periodic cleanup of expired refresh tokens and dead OTP rows
	go func() {
		for {
			if err := authService.CleanupExpired(context.Background()); err != nil {
				log.Printf("Cleanup error: %v", err)
			}
			time.Sleep(1 * time.Hour)
		}
	}()

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Setup routes
	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/otp/request/", authHandler.RequestOTP)
			auth.POST("/otp/verify/", authHandler.VerifyOTP)
			auth.POST("/token/refresh/", authHandler.RefreshToken)
			auth.POST("/logout", middleware.Auth(authService), authHandler.Logout)
			auth.GET("/me", middleware.Auth(authService), authHandler.Me)
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
