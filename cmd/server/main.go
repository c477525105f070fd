package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jankos/backend/docs"
	"github.com/jankos/backend/internal/config"
	"github.com/jankos/backend/internal/database"
	"github.com/jankos/backend/internal/gemini"
	"github.com/jankos/backend/internal/handlers"
	mW "github.com/jankos/backend/internal/middleware"
	"github.com/jankos/backend/internal/services"
	"github.com/jankos/backend/internal/storage"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Jankos Backend API
// @version 1.0
// @description API for AI-assisted YouTube content tooling with credit billing
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

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

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	viper.BindEnv("stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET")

	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("gemini.base_url", "GEMINI_BASE_URL")
	viper.BindEnv("gemini.text_model", "GEMINI_TEXT_MODEL")
	viper.BindEnv("gemini.image_model", "GEMINI_IMAGE_MODEL")

	viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	viper.BindEnv("storage.region", "STORAGE_REGION")
	viper.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	viper.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
	viper.BindEnv("storage.public_base_url", "STORAGE_PUBLIC_BASE_URL")

	viper.BindEnv("app.base_url", "APP_BASE_URL")
	viper.BindEnv("app.checkout_success_url", "APP_CHECKOUT_SUCCESS_URL")
	viper.BindEnv("app.checkout_cancel_url", "APP_CHECKOUT_CANCEL_URL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Jankos Backend API"
	docs.SwaggerInfo.Description = "API for AI-assisted YouTube content tooling with credit billing"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	pricing := config.LoadPricingConfig()

	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	geminiClient := gemini.NewClient(gemini.Config{
		APIKey:     viper.GetString("gemini.api_key"),
		BaseURL:    viper.GetString("gemini.base_url"),
		TextModel:  viper.GetString("gemini.text_model"),
		ImageModel: viper.GetString("gemini.image_model"),
	}, slogger)

	var uploader services.ArtifactUploader
	if viper.GetString("storage.bucket") != "" {
		up, err := storage.NewUploader(storage.Config{
			Endpoint:      viper.GetString("storage.endpoint"),
			Region:        viper.GetString("storage.region"),
			AccessKey:     viper.GetString("storage.access_key"),
			SecretKey:     viper.GetString("storage.secret_key"),
			Bucket:        viper.GetString("storage.bucket"),
			PublicBaseURL: viper.GetString("storage.public_base_url"),
		}, slogger)
		if err != nil {
			log.Fatalf("Failed to initialize storage uploader: %v", err)
		}
		uploader = up
	} else {
		log.Println("No storage bucket configured, generated images will be returned inline")
	}

	walletService := services.NewWalletService(db)
	affiliateService := services.NewAffiliateService(db, pricing)
	authService := services.NewAuthService(db, redisClient, walletService, affiliateService, pricing)
	billingService := services.NewBillingService(db, walletService, pricing)
	teamService := services.NewTeamService(db, pricing)
	generationService := services.NewGenerationService(db, walletService, geminiClient, uploader, pricing)
	generationHandler := handlers.NewGenerationHandler(generationService, walletService)
	affiliateHandler := handlers.NewAffiliateHandler(affiliateService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(3 * time.Minute)) // generation calls are slow

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Post("/stripe/webhook", billingService.HandleWebhook)
		r.Post("/team/accept", teamService.AcceptInviteHandler)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			r.Get("/credits/balance", walletService.GetCreditBalance)
			r.Get("/transactions", walletService.ListTransactions)

			r.Post("/stripe/checkout", billingService.CreateCheckout)

			// Generation endpoints share a per-user rate limit
			r.Group(func(r chi.Router) {
				r.Use(mW.RateLimit(redisClient, pricing.MaxGenerationPerUser, pricing.RateLimitWindow))

				r.Post("/generate/thumbnails", generationHandler.GenerateThumbnails)
				r.Post("/generate/viral-ideas", generationHandler.GenerateViralIdeas)
				r.Post("/generate/keywords", generationHandler.GenerateKeywords)
			})

			r.Get("/projects", generationHandler.ListProjects)
			r.Get("/projects/{id}", generationHandler.GetProject)

			// Affiliate endpoints
			r.Get("/affiliate/code", affiliateService.GetMyCode)
			r.Post("/affiliate/register", affiliateService.RegisterReferralHandler)
			r.Get("/affiliate/referrals", affiliateService.GetMyReferrals)
			r.Get("/affiliate/earnings", affiliateService.GetMyEarnings)
			r.Get("/affiliate/qr", affiliateHandler.ReferralQR)

			// Team endpoints
			r.Post("/team/invite", teamService.InviteMember)
			r.Get("/team/members", teamService.GetMembers)
			r.Delete("/team/members/{id}", func(w http.ResponseWriter, r *http.Request) {
				userID := services.RequestUserID(r)
				if userID == "" {
					services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
					return
				}
				if err := teamService.RemoveMember(userID, chi.URLParam(r, "id")); err != nil {
					services.SendErrorResponse(w, "Member not found", http.StatusNotFound, nil)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
