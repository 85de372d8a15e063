package common

import (
	"time"
)

// Model 证书相关记录只会追加或更新状态，不做软删除
type Model struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
