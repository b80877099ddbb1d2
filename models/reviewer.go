package models

import (
	"time"
)

// Reviewer is a local snapshot of reviewer identities needed for the
// approval pipeline. Populated via sync worker from the auth/profile
// service; used for best-effort display-name resolution only.
// Authorization decisions always go back to the auth service.
type Reviewer struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // the auth service's user id
	Email          string `json:"email,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	IsActive       bool   `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
