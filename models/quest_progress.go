package models

import (
	"time"
)

// ProgressStatus is the lifecycle state of a single quest stage for one user
type ProgressStatus string

const (
	StatusLocked          ProgressStatus = "locked"
	StatusCurrent         ProgressStatus = "current"
	StatusPendingApproval ProgressStatus = "pending_approval"
	StatusCompleted       ProgressStatus = "completed"
)

// Stage ids are fixed — the quest line is exactly six stages, stage 6 has no successor
const (
	MinStageID = 1
	MaxStageID = 6
)

// QuestProgress is one user's state for one stage. At most one row exists per
// (external_user_id, stage_id), and rows are never deleted — rejections keep
// rejected_at/rejected_by as an audit trail.
type QuestProgress struct {
	ID             string         `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string         `gorm:"uniqueIndex:idx_user_stage;not null" json:"external_user_id"` // links to profile service
	StageID        int            `gorm:"uniqueIndex:idx_user_stage;not null" json:"stage_id"`
	Status         ProgressStatus `gorm:"not null;default:'locked';index" json:"status"`

	// Submission state — cleared when a reviewer rejects
	FormSubmitted bool    `gorm:"default:false" json:"form_submitted"`
	AttachmentURL *string `gorm:"type:text" json:"attachment_url,omitempty"`

	// Review audit trail
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  *string    `json:"approved_by,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	RejectedBy  *string    `json:"rejected_by,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ValidStageID reports whether id is inside the fixed 1..6 quest line.
func ValidStageID(id int) bool {
	return id >= MinStageID && id <= MaxStageID
}
