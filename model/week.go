package model

import "time"

// Week is a raid week. Numbers are assigned by the caller.
type Week struct {
	Number    int       `gorm:"primaryKey;autoIncrement:false" json:"week_number"`
	IsCurrent bool      `gorm:"not null;index:idx_week_current" json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
}
