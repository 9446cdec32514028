package main

import (
	"fmt"
	"log"
	"os"
	_ "queue_system/docs"
	"queue_system/internal/auth"
	"queue_system/internal/handlers"
	"queue_system/internal/models"
	"queue_system/internal/storage"
	"queue_system/internal/tasks"
	"queue_system/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @Title						Система электронной очереди
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load()
		if err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectDatabase()

	if err := storage.DB.AutoMigrate(&models.User{}, &models.Queue{}, &models.QueueEntry{}); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	storage.InitRedis()

	tasks.InitScheduler()

	go ws.HubInstance.Run()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
	}

	r.GET("/api/queues/:id/ws", ws.QueueWebSocketHandler)

	queues := r.Group("/api/queues", auth.AuthMiddleware())
	{
		queues.GET("", handlers.ListQueuesHandler)
		queues.GET("/me", handlers.GetMyQueueStatusHandler)
		queues.POST("/:id/join", handlers.JoinQueueHandler)
		queues.POST("/leave", handlers.LeaveQueueHandler)
	}

	admin := r.Group("/api/queues", auth.AuthMiddleware(), auth.AdminMiddleware())
	{
		admin.POST("", handlers.CreateQueueHandler)
		admin.POST("/:id/next", handlers.ProcessNextHandler)
	}

	if err := r.Run(":8080"); err != nil {
		log.Fatal("Ошибка запуска сервера...", err.Error())
	}
}
