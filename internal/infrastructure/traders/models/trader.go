package models

import "time"

type TraderModel struct {
	Name      string    `gorm:"primaryKey;column:name;type:varchar(128);not null"`
	Group     string    `gorm:"column:trader_group;type:varchar(128);not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:CURRENT_TIMESTAMP"`
}

func (TraderModel) TableName() string { return "traders" }

// AliasModel maps a raw pod label to a trader name.
type AliasModel struct {
	PodLabel   string `gorm:"primaryKey;column:pod_label;type:varchar(128);not null"`
	TraderName string `gorm:"column:trader_name;type:varchar(128);not null;index"`
}

func (AliasModel) TableName() string { return "trader_aliases" }
