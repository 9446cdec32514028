package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"queue_system/internal/queue"
	"queue_system/internal/response"
	"queue_system/internal/storage"
	"queue_system/internal/ws"

	"github.com/gin-gonic/gin"
)

var ctx = context.Background()

type CreateQueueRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateQueueHandler обрабатывает создание новой очереди администратором
// @Summary		Создание очереди
// @Description	Создаёт новую очередь обслуживания (только для администратора)
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			queue	body		CreateQueueRequest	true	"Название очереди"
// @Security		BearerAuth
// @Success		201	{object}	response.QueueResponse	"Созданная очередь"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		403	{object}	response.ErrorResponse	"Недостаточно прав (FORBIDDEN)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues [post]
func CreateQueueHandler(c *gin.Context) {
	var req CreateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Название очереди обязательно",
			Details: err.Error(),
		})
		return
	}

	q, err := queue.CreateQueue(storage.DB, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при создании очереди",
			Details: err.Error(),
		})
		return
	}

	invalidateQueuesCache()

	c.JSON(http.StatusCreated, response.QueueResponse{
		ID:        q.ID,
		Name:      q.Name,
		CreatedAt: q.CreatedAt.Format(time.RFC3339),
	})
}

// ListQueuesHandler обрабатывает запрос списка очередей со статистикой
// @Summary		Список очередей
// @Description	Возвращает все очереди с текущей длиной и оценкой ожидания, кэширует результат в Redis
// @Tags			queue
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		queue.QueueStats	"Очереди со статистикой"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues [get]
func ListQueuesHandler(c *gin.Context) {
	// Проверка кэша: список опрашивается клиентами постоянно.
	if storage.RedisClient != nil {
		cached, err := storage.RedisClient.Get(ctx, storage.QueuesCacheKey).Result()
		if err == nil && cached != "" {
			var stats []queue.QueueStats
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				c.JSON(http.StatusOK, stats)
				return
			}
		}
	}

	stats, err := queue.ListWithStats(storage.DB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки списка очередей",
			Details: err.Error(),
		})
		return
	}

	if storage.RedisClient != nil {
		if body, err := json.Marshal(stats); err == nil {
			storage.RedisClient.Set(ctx, storage.QueuesCacheKey, string(body),
				time.Duration(storage.QueuesCacheTTL)*time.Second)
		}
	}

	c.JSON(http.StatusOK, stats)
}

// ProcessNextHandler обрабатывает вызов следующего человека из очереди
// @Summary		Вызов следующего
// @Description	Удаляет первого в очереди и сдвигает остальных на одну позицию вперёд (только для администратора)
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Первый в очереди обработан"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_QUEUE_ID, QUEUE_EMPTY)"
// @Failure		403	{object}	response.ErrorResponse	"Недостаточно прав (FORBIDDEN)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues/{id}/next [post]
func ProcessNextHandler(c *gin.Context) {
	queueIDStr := c.Param("id")
	queueID, err := strconv.Atoi(queueIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_QUEUE_ID",
			Message: "Неверный идентификатор очереди",
		})
		return
	}

	entry, err := queue.ProcessNext(storage.DB, uint(queueID))
	if err != nil {
		if errors.Is(err, queue.ErrQueueEmpty) {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "QUEUE_EMPTY",
				Message: "В очереди никого нет",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при обработке очереди",
			Details: err.Error(),
		})
		return
	}

	invalidateQueuesCache()

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: "user_processed",
		QueueID:   queueIDStr,
		Data: map[string]interface{}{
			"user_id":  entry.UserID,
			"position": entry.Position,
		},
	})

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Первый в очереди обработан"})
}

// invalidateQueuesCache сбрасывает кэш списка очередей после любой мутации.
func invalidateQueuesCache() {
	if storage.RedisClient != nil {
		storage.RedisClient.Del(ctx, storage.QueuesCacheKey)
	}
}
