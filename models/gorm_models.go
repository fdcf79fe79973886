// models/gorm_models.go
package models

import (
	"time"
)

// GormDocument 文档存储的行模型，每个实体一行
type GormDocument struct {
	Collection string `gorm:"primaryKey;size:32"`
	DocID      string `gorm:"primaryKey;size:64"`
	Version    int64  `gorm:"not null;default:1"`
	PinCode    string `gorm:"index;size:16"`
	Status     string `gorm:"index;size:32"`
	Data       []byte `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (GormDocument) TableName() string {
	return "documents"
}
