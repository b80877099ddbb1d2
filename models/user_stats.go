package models

import "time"

// UserStats holds per-user counters derived from progression events
// (denormalized for performance). Mutated only by the stats service,
// upserted idempotently keyed by external_user_id.
type UserStats struct {
	ExternalUserID  string `gorm:"primaryKey" json:"external_user_id"` // links to profile service
	LoginCount      int64  `gorm:"default:0" json:"login_count"`
	LastLoginDate   string `gorm:"size:10" json:"last_login_date"` // date-only, YYYY-MM-DD
	QuestClearCount int64  `gorm:"default:0" json:"quest_clear_count"`
	TotalExperience int64  `gorm:"default:0" json:"total_experience"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
