package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeAction is the kind of row mutation a ChangeEvent records
type ChangeAction string

const (
	ActionInsert ChangeAction = "insert"
	ActionUpdate ChangeAction = "update"
)

// Table names the change feed can be filtered by
const (
	QuestProgressTable = "quest_progresses"
)

// ChangeEvent is one row of the append-only changelog backing the change
// feed. Every progress mutation writes one of these in the same transaction,
// carrying before/after snapshots of the row as JSON. The feed tails this
// table by id, so ids must be monotonically increasing.
type ChangeEvent struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	TableName string         `gorm:"index;not null" json:"table_name"`
	Action    ChangeAction   `gorm:"not null" json:"action"`
	OldData   datatypes.JSON `json:"old_data,omitempty"` // nil for inserts
	NewData   datatypes.JSON `json:"new_data"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
}
