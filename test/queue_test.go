package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"queue_system/internal/auth"
	"queue_system/internal/handlers"
	"queue_system/internal/models"
	"queue_system/internal/storage"
	"queue_system/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AuthMiddlewareTest подставляет userID из заголовка X-Test-UserID вместо
// разбора JWT токена.
func AuthMiddlewareTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr := c.Request.Header.Get("X-Test-UserID")
		if userIDStr == "" {
			// Значение по умолчанию
			c.Set("userID", uint(1))
		} else {
			id, err := strconv.Atoi(userIDStr)
			if err != nil {
				c.Set("userID", uint(1))
			} else {
				c.Set("userID", uint(id))
			}
		}
		c.Next()
	}
}

var testSetupOnce sync.Once

func setupTestServer() *httptest.Server {
	testSetupOnce.Do(func() {
		key := os.Getenv("ENV_CHEK")
		if key == "" {
			fmt.Println("Подключение к .env")
			err := godotenv.Load("../.env")
			if err != nil {
				log.Fatal("Ошибка получения .env")
			}
		}

		storage.ConnectTestingDatabase()

		if err := storage.DB.AutoMigrate(&models.User{}, &models.Queue{}, &models.QueueEntry{}); err != nil {
			log.Fatal("Ошибка при миграции... ", err.Error())
		}

		storage.InitRedis()

		go ws.HubInstance.Run()
	})

	r := gin.Default()

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
	}

	r.GET("/api/queues/:id/ws", ws.QueueWebSocketHandler)

	queues := r.Group("/api/queues", AuthMiddlewareTest())
	{
		queues.GET("", handlers.ListQueuesHandler)
		queues.GET("/me", handlers.GetMyQueueStatusHandler)
		queues.POST("/:id/join", handlers.JoinQueueHandler)
		queues.POST("/leave", handlers.LeaveQueueHandler)
	}

	admin := r.Group("/api/queues", AuthMiddlewareTest(), auth.AdminMiddleware())
	{
		admin.POST("", handlers.CreateQueueHandler)
		admin.POST("/:id/next", handlers.ProcessNextHandler)
	}

	return httptest.NewServer(r)
}

// Тестовые данные создаются с уникальными email, база между запусками не
// очищается: все проверки привязаны к созданным в тесте записям.
func createUser(t *testing.T, name, role string) models.User {
	user := models.User{
		Name:         name,
		Email:        fmt.Sprintf("%s_%d@example.com", name, time.Now().UnixNano()),
		PasswordHash: "hashed123",
		Role:         role,
	}
	require.NoError(t, storage.DB.Create(&user).Error, "Ошибка создания тестового пользователя")
	return user
}

func doJSON(t *testing.T, method, url string, userID uint, body interface{}) (*http.Response, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", userID))
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	json.NewDecoder(res.Body).Decode(&decoded)
	res.Body.Close()
	return res, decoded
}

func TestQueueFlow(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	adminUser := createUser(t, "admin", models.RoleAdmin)
	user1 := createUser(t, "ivan", models.RoleCustomer)
	user2 := createUser(t, "petr", models.RoleCustomer)
	user3 := createUser(t, "olga", models.RoleCustomer)

	// 1. Администратор создаёт очередь.
	res, created := doJSON(t, "POST", ts.URL+"/api/queues", adminUser.ID, map[string]string{"name": "Billing"})
	require.Equal(t, http.StatusCreated, res.StatusCode, "Администратор не смог создать очередь")
	queueID := int(created["id"].(float64))
	log.Println("Тестовая очередь создана, ID:", queueID)

	// Обычному пользователю создание очереди запрещено.
	res, forbidden := doJSON(t, "POST", ts.URL+"/api/queues", user1.ID, map[string]string{"name": "Хакерская очередь"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "FORBIDDEN", forbidden["code"])

	// Создание очереди без названия — ошибка валидации.
	res, invalid := doJSON(t, "POST", ts.URL+"/api/queues", adminUser.ID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", invalid["code"])

	// 2. Подписываемся на WS-события очереди до вступлений.
	wsURL := "ws" + ts.URL[4:] + "/api/queues/" + strconv.Itoa(queueID) + "/ws"
	wsConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "Ошибка подключения к WS")
	defer wsConn.Close()

	// 3. Три пользователя вступают в очередь, позиции выдаются по порядку.
	joinURL := ts.URL + "/api/queues/" + strconv.Itoa(queueID) + "/join"
	for i, u := range []models.User{user1, user2, user3} {
		res, joined := doJSON(t, "POST", joinURL, u.ID, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, "Пользователь не смог вступить в очередь")
		assert.Equal(t, float64(i+1), joined["position"], "Позиция должна совпадать с порядком вступления")
	}

	// Повторное вступление в другую очередь запрещено.
	res, second := doJSON(t, "POST", ts.URL+"/api/queues", adminUser.ID, map[string]string{"name": "Consulting"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	secondQueueID := int(second["id"].(float64))
	res, already := doJSON(t, "POST", ts.URL+"/api/queues/"+strconv.Itoa(secondQueueID)+"/join", user1.ID, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "ALREADY_IN_QUEUE", already["code"])

	// 4. Список очередей: длина 3, суммарное ожидание 15 минут.
	req, _ := http.NewRequest("GET", ts.URL+"/api/queues", nil)
	req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", user1.ID))
	listRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var stats []map[string]interface{}
	json.NewDecoder(listRes.Body).Decode(&stats)
	listRes.Body.Close()
	require.Equal(t, http.StatusOK, listRes.StatusCode)

	var billing map[string]interface{}
	for _, s := range stats {
		if int(s["id"].(float64)) == queueID {
			billing = s
		}
	}
	require.NotNil(t, billing, "Созданная очередь отсутствует в списке")
	assert.Equal(t, float64(3), billing["current_length"])
	assert.Equal(t, float64(15), billing["estimated_wait"])

	// 5. WS: первое событие — вступление первого пользователя.
	wsConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, wsMessage, err := wsConn.ReadMessage()
	require.NoError(t, err, "Ошибка чтения WS сообщения")
	var wsMsg map[string]interface{}
	require.NoError(t, json.Unmarshal(wsMessage, &wsMsg))
	assert.Equal(t, "user_joined", wsMsg["event_type"])

	// 6. Администратор вызывает следующего: уходит первый, остальные сдвигаются.
	nextURL := ts.URL + "/api/queues/" + strconv.Itoa(queueID) + "/next"
	res, _ = doJSON(t, "POST", nextURL, adminUser.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, "Администратор не смог вызвать следующего")

	res, status3 := doJSON(t, "GET", ts.URL+"/api/queues/me", user3.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, status3["in_queue"])
	assert.Equal(t, "Billing", status3["queue_name"])
	assert.Equal(t, float64(2), status3["position"])
	assert.Equal(t, float64(10), status3["estimated_wait"])

	// Вызов следующего обычным пользователем запрещён.
	res, forbiddenNext := doJSON(t, "POST", nextURL, user2.ID, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "FORBIDDEN", forbiddenNext["code"])

	// 7. Выход из середины очереди сдвигает стоящих позади.
	res, _ = doJSON(t, "POST", ts.URL+"/api/queues/leave", user2.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, "Пользователь не смог выйти из очереди")

	res, status3 = doJSON(t, "GET", ts.URL+"/api/queues/me", user3.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(1), status3["position"])
	assert.Equal(t, float64(5), status3["estimated_wait"])

	// Повторный выход — ошибка, записи больше нет.
	res, notIn := doJSON(t, "POST", ts.URL+"/api/queues/leave", user2.ID, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "NOT_IN_QUEUE", notIn["code"])

	// 8. Вызов следующего в пустой очереди — QUEUE_EMPTY, состояние не меняется.
	res, empty := doJSON(t, "POST", ts.URL+"/api/queues/"+strconv.Itoa(secondQueueID)+"/next", adminUser.ID, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "QUEUE_EMPTY", empty["code"])

	// 9. Статус пользователя вне очереди — не ошибка.
	res, statusOut := doJSON(t, "GET", ts.URL+"/api/queues/me", user2.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, false, statusOut["in_queue"])
}
