package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quest-approval-system/handlers"
	"quest-approval-system/middleware"
	"quest-approval-system/models"
	"quest-approval-system/services"
	"quest-approval-system/utils"
	"quest-approval-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024, // 50MB — submission attachments
	})

	// No workflow operation may leak a fault past its boundary
	app.Use(recover.New())

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.QuestProgress{},
		&models.UserStats{},
		&models.Reviewer{},
		&models.ChangeEvent{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	questServiceToken := os.Getenv("QUEST_SERVICE_TOKEN")
	if questServiceToken == "" {
		log.Fatal("QUEST_SERVICE_TOKEN environment variable not set")
	}

	authClient := services.NewAuthServiceClient(authServiceURL, questServiceToken)
	statsService := services.NewStatsService(db)
	engine := services.NewWorkflowEngine(db, authClient, statsService)
	bulkCoordinator := services.NewBulkApprovalCoordinator(engine)
	changeFeed := services.NewChangeFeed(db)
	notifier := services.NewChangeNotifier(db, changeFeed, services.LogSink{})
	sessionCaches := services.NewSessionCacheRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := notifier.Start(ctx); err != nil {
		log.Fatal("failed to start change notifier:", err)
	}
	notifier.StartReminderScheduler(1*time.Hour, 24*time.Hour)

	syncWorker := workers.NewReviewerSyncWorker(db, authServiceURL, "/api/v1/public/reviewers", questServiceToken)
	go syncWorker.Start(ctx)

	handlers.SetupWorkflowRoutes(app, engine, bulkCoordinator, statsService, sessionCaches)
	handlers.SetupNotificationRoutes(app, notifier, authClient)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Change notifier watching progress feed")
	log.Println("✅ Reviewer Sync Worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
