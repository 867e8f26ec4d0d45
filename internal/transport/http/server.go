package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"lexchat/internal/ai"
	appsvc "lexchat/internal/app"
	"lexchat/internal/bootstrap"
	"lexchat/internal/cache"
	"lexchat/internal/platform/rabbitmq"
	"lexchat/internal/repository"
	"lexchat/internal/transport/http/handler"
	"lexchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	conversationRepo := repository.NewConversationRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)
	fileRepo := repository.NewUserFileRepository(app.MySQL)

	publisher := rabbitmq.NewMessagePublisher(app.MQConn, app.Config.RabbitMQ.MessagePersistQueue)
	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	llmClient := ai.NewClient(app.Config.LLM.BaseURL, app.Config.LLM.APIKey)
	assistantClient := ai.NewClient(app.Config.Assistant.BaseURL, app.Config.Assistant.APIKey)

	assistantService := appsvc.NewAssistantService(assistantClient, userRepo, fileRepo, appsvc.AssistantOptions{
		Model:               app.Config.Assistant.Model,
		MasterVectorStoreID: app.Config.Assistant.MasterVectorStoreID,
		PollInterval:        time.Duration(app.Config.Assistant.PollIntervalSeconds) * time.Second,
		MaxPolls:            app.Config.Assistant.MaxPolls,
	})
	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireHour)*time.Hour,
	)
	chatService := appsvc.NewChatService(
		conversationRepo,
		messageRepo,
		publisher,
		historyCache,
		llmClient,
		assistantService,
		userRepo,
		app.Config.LLM.Model,
		app.Config.LLM.MaxContextMessage,
	)
	exportService := appsvc.NewExportService(conversationRepo, messageRepo, userRepo)
	adminService := appsvc.NewAdminService(userRepo, conversationRepo, messageRepo, fileRepo, assistantService)

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(chatService, exportService)
	filesHandler := handler.NewFilesHandler(
		assistantService,
		userRepo,
		fileRepo,
		app.Config.Upload.Dir,
		app.Config.Upload.MaxFiles,
		app.Config.Upload.MaxFileSizeMB,
	)
	adminHandler := handler.NewAdminHandler(adminService, exportService)

	jwtSecret := app.Config.Auth.JWTSecret
	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(jwtSecret), authHandler.Me)
	authGroup.PATCH("/profile", middleware.AuthJWT(jwtSecret), authHandler.UpdateProfile)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(middleware.AuthJWT(jwtSecret))
	chatGroup.POST("/conversations", chatHandler.CreateConversation)
	chatGroup.GET("/conversations", chatHandler.ListConversations)
	chatGroup.GET("/conversations/:id", chatHandler.GetConversation)
	chatGroup.PATCH("/conversations/:id", chatHandler.RenameConversation)
	chatGroup.DELETE("/conversations/:id", chatHandler.DeleteConversation)
	chatGroup.GET("/conversations/:id/messages", chatHandler.GetHistory)
	chatGroup.POST("/messages", chatHandler.SendMessage)
	chatGroup.GET("/export", chatHandler.Export)

	filesGroup := v1.Group("/files")
	filesGroup.Use(middleware.AuthJWT(jwtSecret))
	filesGroup.POST("/upload", filesHandler.Upload)
	filesGroup.POST("/ask", filesHandler.Ask)
	filesGroup.GET("", filesHandler.List)
	filesGroup.GET("/session", filesHandler.SessionInfo)
	filesGroup.DELETE("/session", filesHandler.Clear)

	adminGroup := v1.Group("/admin")
	adminGroup.Use(middleware.AuthJWT(jwtSecret))
	adminGroup.POST("/promote-first", adminHandler.PromoteFirstAdmin)
	adminGroup.Use(middleware.RequireAdmin(userRepo))
	adminGroup.GET("/users", adminHandler.ListUsers)
	adminGroup.GET("/users/:id", adminHandler.GetUser)
	adminGroup.PATCH("/users/:id/admin", adminHandler.SetAdmin)
	adminGroup.DELETE("/users/:id", adminHandler.DeleteUser)
	adminGroup.GET("/stats", adminHandler.Stats)
	adminGroup.GET("/export", adminHandler.Export)

	return router
}
