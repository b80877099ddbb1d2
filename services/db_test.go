package services

import (
	"fmt"
	"path/filepath"
	"testing"

	"quest-approval-system/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// newTestDB opens an isolated sqlite database per test. File-backed so
// concurrent writers serialize on the file lock instead of colliding.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "pipeline.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&models.QuestProgress{},
		&models.UserStats{},
		&models.Reviewer{},
		&models.ChangeEvent{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// stubIdentity is a test double for the auth collaborator.
type stubIdentity struct {
	active map[string]bool
	err    error
}

func (s *stubIdentity) IsActiveReviewer(userID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.active[userID], nil
}

func newTestEngine(t *testing.T) (*WorkflowEngine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	identity := &stubIdentity{active: map[string]bool{
		"rev-a": true,
		"rev-b": true,
	}}
	return NewWorkflowEngine(db, identity, NewStatsService(db)), db
}

func seedProgress(t *testing.T, db *gorm.DB, userID string, stageID int, status models.ProgressStatus) *models.QuestProgress {
	t.Helper()
	rec := models.QuestProgress{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
		StageID:        stageID,
		Status:         status,
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed progress: %v", err)
	}
	return &rec
}

func loadProgress(t *testing.T, db *gorm.DB, userID string, stageID int) *models.QuestProgress {
	t.Helper()
	var rec models.QuestProgress
	if err := db.Where("external_user_id = ? AND stage_id = ?", userID, stageID).First(&rec).Error; err != nil {
		t.Fatalf("load progress for %s stage %d: %v", userID, stageID, err)
	}
	return &rec
}

func countProgress(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.QuestProgress{}).Where("external_user_id = ?", userID).Count(&count).Error; err != nil {
		t.Fatalf("count progress: %v", err)
	}
	return count
}
