// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency is the SQL row behind one idempotency key. A row starts as a
// pending reservation owned by Token and becomes completed once the guarded
// handler succeeds, at which point StatusCode, ContentType, Location and Body
// hold the response replayed to every retry until ExpiresAt.
type Idempotency struct {
	Key         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Token       string    `gorm:"type:TEXT NOT NULL"`
	State       string    `gorm:"type:TEXT NOT NULL;check:chk_idempotency_state,state IN ('pending','completed')"`
	StatusCode  int       `gorm:"type:INTEGER NOT NULL;default:0"`
	ContentType string    `gorm:"type:TEXT NOT NULL;default:''"`
	Location    string    `gorm:"type:TEXT NOT NULL;default:''"`
	Body        []byte    `gorm:"type:BLOB"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency_records" }
