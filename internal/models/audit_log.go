package models

import "gorm.io/gorm"

// AuditLog records a lifecycle step of a what-if session.
type AuditLog struct {
	gorm.Model
	UserID   string `gorm:"index;size:64"`
	Action   string `gorm:"size:64;not null"`
	MetaJSON string `gorm:"type:text"`
}
