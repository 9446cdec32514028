package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"queue_system/internal/queue"
	"queue_system/internal/response"
	"queue_system/internal/storage"
	"queue_system/internal/ws"

	"github.com/gin-gonic/gin"
)

// JoinQueueHandler обрабатывает запрос на вступление в очередь
// @Summary		Вступление в очередь
// @Description	Добавляет пользователя в конец очереди и уведомляет других участников
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	response.JoinResponse	"Успешное вступление в очередь с указанием позиции"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_QUEUE_ID, ALREADY_IN_QUEUE)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues/{id}/join [post]
func JoinQueueHandler(c *gin.Context) {
	queueIDStr := c.Param("id")
	queueID, err := strconv.Atoi(queueIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_QUEUE_ID",
			Message: "Неверный идентификатор очереди",
		})
		return
	}

	userID := c.GetUint("userID")

	position, err := queue.Join(storage.DB, userID, uint(queueID))
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrAlreadyMember):
			// Проверка действует по всем очередям сразу: состоять можно
			// только в одной.
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "ALREADY_IN_QUEUE",
				Message: "Пользователь уже состоит в очереди",
			})
		case errors.Is(err, queue.ErrQueueNotFound):
			c.JSON(http.StatusNotFound, response.ErrorResponse{
				Code:    "QUEUE_NOT_FOUND",
				Message: "Очередь не найдена",
			})
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "DB_ERROR",
				Message: "Ошибка добавления в очередь",
				Details: err.Error(),
			})
		}
		return
	}

	invalidateQueuesCache()

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: "user_joined",
		QueueID:   queueIDStr,
		Data: map[string]interface{}{
			"user_id":  userID,
			"position": position,
		},
	})

	c.JSON(http.StatusOK, response.JoinResponse{
		Message:  "Вступление в очередь прошло успешно",
		Position: position,
	})
}

// LeaveQueueHandler обрабатывает запрос на выход из своей очереди
// @Summary		Выход из очереди
// @Description	Удаляет пользователя из его очереди, сдвигает стоящих позади и уведомляет участников
// @Tags			queue
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Успешный выход из очереди"
// @Failure		400	{object}	response.ErrorResponse	"Пользователь не состоит в очереди (NOT_IN_QUEUE)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues/leave [post]
func LeaveQueueHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	entry, err := queue.Leave(storage.DB, userID)
	if err != nil {
		if errors.Is(err, queue.ErrNotInQueue) {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "NOT_IN_QUEUE",
				Message: "Активная запись в очереди не найдена",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при выходе из очереди",
			Details: err.Error(),
		})
		return
	}

	invalidateQueuesCache()

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: "user_left",
		QueueID:   strconv.Itoa(int(entry.QueueID)),
		Data: map[string]interface{}{
			"user_id":       userID,
			"left_position": entry.Position,
		},
	})

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Вы успешно вышли из очереди"})
}

// UserStatusResponse — статус пользователя в очереди.
type UserStatusResponse struct {
	InQueue       bool   `json:"in_queue"`
	QueueID       uint   `json:"queue_id,omitempty"`
	QueueName     string `json:"queue_name,omitempty"`
	Position      int    `json:"position,omitempty"`
	EstimatedWait int    `json:"estimated_wait,omitempty"` // минут
}

// GetMyQueueStatusHandler обрабатывает запрос своего положения в очереди
// @Summary		Моё место в очереди
// @Description	Возвращает очередь пользователя, позицию и оценку ожидания. Если пользователь нигде не стоит — in_queue=false, это не ошибка
// @Tags			profile
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	UserStatusResponse	"Статус пользователя"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues/me [get]
func GetMyQueueStatusHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	status, err := queue.UserStatus(storage.DB, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки статуса пользователя",
			Details: err.Error(),
		})
		return
	}

	if status == nil {
		c.JSON(http.StatusOK, UserStatusResponse{InQueue: false})
		return
	}

	c.JSON(http.StatusOK, UserStatusResponse{
		InQueue:       true,
		QueueID:       status.QueueID,
		QueueName:     status.QueueName,
		Position:      status.Position,
		EstimatedWait: status.EstimatedWait,
	})
}
