package models

import (
	"time"

	"gorm.io/gorm"
)

// Роли пользователей системы.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

type User struct {
	gorm.Model
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null;default:customer"` // customer или admin
}

type Queue struct {
	gorm.Model
	Name string `gorm:"not null"` // Название услуги, уникальность имени не требуется
}

type QueueEntry struct {
	gorm.Model
	UserID   uint      `gorm:"index;not null"`
	User     User      `gorm:"foreignKey:UserID"`
	QueueID  uint      `gorm:"index;not null"`
	Queue    Queue     `gorm:"foreignKey:QueueID"`
	Position int       `gorm:"index;not null"` // Текущая позиция в очереди, нумерация с 1 без пропусков
	JoinedAt time.Time `gorm:"not null"`       // Время вступления в очередь
}
