package tasks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"queue_system/internal/queue"
	"queue_system/internal/storage"

	"github.com/robfig/cron/v3"
)

var ctx = context.Background()

// AuditQueuePositions проверяет, что в каждой очереди позиции образуют
// плотный ряд 1..n. Нарушения только логируются: молча чинить нумерацию
// фоновая задача не должна.
func AuditQueuePositions() {
	issues, err := queue.CheckIntegrity(storage.DB)
	if err != nil {
		log.Println("Ошибка проверки целостности очередей:", err)
		return
	}
	if len(issues) == 0 {
		log.Println("Проверка очередей: нарушений нумерации не найдено.")
		return
	}
	for _, issue := range issues {
		log.Printf("Нарушение нумерации в очереди %d: позиции %v\n", issue.QueueID, issue.Positions)
	}
}

// RefreshQueuesCache обновляет кэш списка очередей в Redis.
func RefreshQueuesCache() {
	stats, err := queue.ListWithStats(storage.DB)
	if err != nil {
		log.Println("Ошибка обновления кэша очередей:", err)
		return
	}
	body, err := json.Marshal(stats)
	if err != nil {
		log.Println("Ошибка сериализации статистики очередей:", err)
		return
	}
	if storage.RedisClient == nil {
		return
	}
	if err := storage.RedisClient.Set(ctx, storage.QueuesCacheKey, string(body),
		time.Duration(storage.QueuesCacheTTL)*time.Second).Err(); err != nil {
		log.Println("Ошибка записи кэша очередей в Redis:", err)
	}
}

// InitScheduler инициализирует планировщик cron-задач.
func InitScheduler() *cron.Cron {
	c := cron.New(cron.WithSeconds())

	// Аудит нумерации позиций каждые 5 минут.
	_, err := c.AddFunc("0 */5 * * * *", AuditQueuePositions)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи AuditQueuePositions:", err)
	}

	// Обновление кэша списка очередей каждый час.
	_, err = c.AddFunc("0 0 * * * *", RefreshQueuesCache)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи RefreshQueuesCache:", err)
	}

	c.Start()
	log.Println("Cron-планировщик запущен.")
	return c
}
