package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"scrim-coordination-system/handlers"
	"scrim-coordination-system/middleware"
	"scrim-coordination-system/models"
	"scrim-coordination-system/services"
	"scrim-coordination-system/utils"
	"scrim-coordination-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 32 * 1024 * 1024, // 32MB — banner uploads only
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
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
		&models.Scrim{},
		&models.ScrimParticipant{},
		&models.ScrimChannelSet{},
		&models.Team{},
		&models.TeamMember{},
		&models.PlayerProfile{},
		&models.Match{},
		&models.MatchResult{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	botToken := os.Getenv("DISCORD_BOT_TOKEN")
	if botToken == "" {
		log.Fatal("DISCORD_BOT_TOKEN environment variable not set")
	}
	guildID := os.Getenv("DISCORD_GUILD_ID")
	if guildID == "" {
		log.Fatal("DISCORD_GUILD_ID environment variable not set")
	}

	discordClient := services.NewDiscordClient(botToken, guildID)
	orchestrator := services.NewChannelOrchestrator(db, discordClient, guildID)
	roster := services.NewDBRosterSource(db)
	scrimService := services.NewScrimService(db, orchestrator, roster)

	// --- CONFIGURE Stats Service Details for Player Profiles ---
	statsServiceURL := os.Getenv("STATS_SERVICE_URL")
	if statsServiceURL == "" {
		log.Fatal("STATS_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("SCRIM_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("SCRIM_SERVICE_TOKEN environment variable not set")
	}
	// --- END CONFIG ---

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rosterSyncWorker := workers.NewRosterSyncWorker(db, statsServiceURL, "/api/v1/public/player-profiles", serviceToken)
	go func() {
		log.Println("Starting Roster Sync Worker...")
		rosterSyncWorker.Start(ctx)
	}()

	teardownWorker := workers.NewTeardownWorker(db, orchestrator)
	teardownWorker.Start()
	defer teardownWorker.Stop()

	handlers.SetupScrimRoutes(app, scrimService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Roster Sync Worker running")
	log.Println("✅ Teardown Worker running (every 30s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	scrimService.Drain()
}
