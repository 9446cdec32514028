package queue

import (
	"errors"
	"time"

	"queue_system/internal/models"

	"gorm.io/gorm"
)

// UnitWaitMinutes — оценка времени обслуживания одного человека в минутах.
const UnitWaitMinutes = 5

var (
	ErrAlreadyMember = errors.New("пользователь уже состоит в очереди")
	ErrNotInQueue    = errors.New("активная запись в очереди не найдена")
	ErrQueueNotFound = errors.New("очередь не найдена")
	ErrQueueEmpty    = errors.New("в очереди никого нет")
)

// CreateQueue создаёт новую очередь с указанным названием.
func CreateQueue(db *gorm.DB, name string) (*models.Queue, error) {
	q := models.Queue{Name: name}
	if err := db.Create(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// Join добавляет пользователя в конец очереди и возвращает выданную позицию.
// Пользователь может состоять не более чем в одной очереди во всей системе,
// поэтому проверка существующей записи идёт без фильтра по queue_id.
// Чтение максимальной позиции и вставка выполняются в одной транзакции,
// чтобы два одновременных вступления не получили одинаковую позицию.
func Join(db *gorm.DB, userID, queueID uint) (int, error) {
	var position int
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.QueueEntry
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		if err == nil {
			return ErrAlreadyMember
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var q models.Queue
		if err := tx.First(&q, queueID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQueueNotFound
			}
			return err
		}

		var maxPosition int
		row := tx.Model(&models.QueueEntry{}).
			Where("queue_id = ?", queueID).
			Select("COALESCE(MAX(position),0)").Row()
		if err := row.Scan(&maxPosition); err != nil {
			return err
		}
		position = maxPosition + 1

		entry := models.QueueEntry{
			UserID:   userID,
			QueueID:  queueID,
			Position: position,
			JoinedAt: time.Now(),
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return 0, err
	}
	return position, nil
}

// Leave удаляет единственную запись пользователя и сдвигает всех, кто стоял
// позади него, на одну позицию вперёд. Без сдвига выход из середины очереди
// оставлял бы разрыв в нумерации.
func Leave(db *gorm.DB, userID uint) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotInQueue
			}
			return err
		}
		if err := tx.Delete(&models.QueueEntry{}, entry.ID).Error; err != nil {
			return err
		}
		return renumberAfter(tx, entry.QueueID, entry.Position)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ProcessNext удаляет запись с минимальной позицией в очереди (первого в
// очереди) и сдвигает оставшихся. Возвращает обработанную запись.
func ProcessNext(db *gorm.DB, queueID uint) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("queue_id = ?", queueID).
			Order("position ASC").
			First(&entry).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQueueEmpty
			}
			return err
		}
		if err := tx.Delete(&models.QueueEntry{}, entry.ID).Error; err != nil {
			return err
		}
		return renumberAfter(tx, queueID, entry.Position)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// renumberAfter уменьшает на единицу позиции всех записей очереди, стоящих
// строго после removedPosition. Одним bulk-обновлением, без перебора строк.
// Формулировка "position > удалённой" сохраняет корректность, даже если
// нумерация уже была нарушена.
func renumberAfter(tx *gorm.DB, queueID uint, removedPosition int) error {
	return tx.Model(&models.QueueEntry{}).
		Where("queue_id = ? AND position > ?", queueID, removedPosition).
		UpdateColumn("position", gorm.Expr("position - 1")).Error
}

// UserStatusResult — положение пользователя в его очереди.
type UserStatusResult struct {
	QueueID       uint      `json:"queue_id"`
	QueueName     string    `json:"queue_name"`
	Position      int       `json:"position"`
	JoinedAt      time.Time `json:"joined_at"`
	EstimatedWait int       `json:"estimated_wait"` // position * UnitWaitMinutes, минут
}

// UserStatus возвращает запись пользователя вместе с названием очереди и
// оценкой ожидания. Если пользователь нигде не стоит — (nil, nil), это не
// ошибка.
func UserStatus(db *gorm.DB, userID uint) (*UserStatusResult, error) {
	var entry models.QueueEntry
	if err := db.Where("user_id = ?", userID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var q models.Queue
	if err := db.First(&q, entry.QueueID).Error; err != nil {
		return nil, err
	}

	return &UserStatusResult{
		QueueID:       q.ID,
		QueueName:     q.Name,
		Position:      entry.Position,
		JoinedAt:      entry.JoinedAt,
		EstimatedWait: entry.Position * UnitWaitMinutes,
	}, nil
}

// QueueStats — очередь с агрегатами для списка очередей.
type QueueStats struct {
	ID            uint      `json:"id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	CurrentLength int       `json:"current_length"`
	EstimatedWait int       `json:"estimated_wait"` // суммарное ожидание всей очереди, минут
}

// ListWithStats возвращает все очереди с текущей длиной и суммарным временем
// ожидания. Здесь estimated_wait считается от длины очереди, а не от позиции
// конкретного пользователя — это другая величина, чем в UserStatus.
func ListWithStats(db *gorm.DB) ([]QueueStats, error) {
	var queues []models.Queue
	if err := db.Order("id ASC").Find(&queues).Error; err != nil {
		return nil, err
	}

	stats := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		var count int64
		if err := db.Model(&models.QueueEntry{}).
			Where("queue_id = ?", q.ID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		stats = append(stats, QueueStats{
			ID:            q.ID,
			Name:          q.Name,
			CreatedAt:     q.CreatedAt,
			CurrentLength: int(count),
			EstimatedWait: int(count) * UnitWaitMinutes,
		})
	}
	return stats, nil
}

// IntegrityIssue — очередь, у которой набор позиций не равен {1..n}.
type IntegrityIssue struct {
	QueueID   uint
	Positions []int
}

// CheckIntegrity проверяет плотность нумерации по всем очередям. Только
// читает и сообщает, ничего не исправляет.
func CheckIntegrity(db *gorm.DB) ([]IntegrityIssue, error) {
	var entries []models.QueueEntry
	if err := db.Order("queue_id ASC, position ASC").Find(&entries).Error; err != nil {
		return nil, err
	}

	byQueue := make(map[uint][]int)
	for _, e := range entries {
		byQueue[e.QueueID] = append(byQueue[e.QueueID], e.Position)
	}

	var issues []IntegrityIssue
	for queueID, positions := range byQueue {
		for i, p := range positions {
			if p != i+1 {
				issues = append(issues, IntegrityIssue{QueueID: queueID, Positions: positions})
				break
			}
		}
	}
	return issues, nil
}
