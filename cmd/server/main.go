package main

import (
	"log"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	config "hermes-chat-api/configs"
	"hermes-chat-api/pkg/groq"
	"hermes-chat-api/pkg/handlers"
	"hermes-chat-api/pkg/services"
)

func main() {
	// .envファイルを読み込む(存在しない場合は環境変数から直接読み込む)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.LoadConfig()

	prompts, err := config.LoadPrompts(cfg.PromptFile)
	if err != nil {
		log.Printf("プロンプト設定の読み込みに失敗、組み込みデフォルトを使用: %v", err)
		prompts = config.DefaultPrompts()
	}

	// データセットは起動時に一度だけ読み込む。失敗したら起動しない。
	dataset := services.NewDatasetService()
	if err := dataset.LoadFile(cfg.DataFile); err != nil {
		log.Fatalf("データセットの読み込みに失敗: %v", err)
	}
	log.Printf("Loaded %d shipment records from %s", dataset.Count(), cfg.DataFile)

	groqClient := groq.NewClient(cfg.GroqBaseURL, cfg.GroqAPIKey)
	if !groqClient.Configured() {
		log.Println("GROQ_API_KEY not set, running with rule-based resolution only")
	}

	var resolver services.IntentResolver
	if groqClient.Configured() {
		resolver = services.NewLLMResolver(groqClient, prompts)
	} else {
		resolver = services.NewRuleBasedResolver()
	}

	metadata := services.NewMetadataService(groqClient, dataset, prompts)
	planner := services.NewPlannerService(groqClient, prompts)
	pipeline := services.NewPipeline(dataset, resolver, metadata, planner, services.NewAnalyticsService(), services.NewForecastService())

	history := services.NewHistoryService()
	monitor := services.NewMonitoringService()

	chatHandler := handlers.NewChatHandler(pipeline, history)
	dataHandler := handlers.NewDataHandler(dataset)
	monitoringHandler := handlers.NewMonitoringHandler(monitor)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(monitor.Middleware())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-API-KEY"}
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", handlers.HealthCheck)

	api := r.Group("/api/v1")
	api.Use(handlers.APIKeyAuth(cfg.APIKey))
	{
		api.POST("/chat", chatHandler.HandleChat)
		api.GET("/ws/chat", chatHandler.HandleWebSocket)
		api.GET("/data", dataHandler.GetData)
		api.GET("/monitoring/logs", monitoringHandler.GetLogs)
	}

	log.Printf("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("サーバーの起動に失敗: %v", err)
	}
}
