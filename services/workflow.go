package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"quest-approval-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkflowEngine validates and applies stage transitions against the
// progress store. Approve/reject are guarded by a single conditional
// UPDATE on the expected status — the precondition is re-checked at
// mutation time, never assumed from an earlier read, so two reviewers
// racing on one submission can never both win.
type WorkflowEngine struct {
	DB       *gorm.DB
	Identity IdentityProvider
	Stats    *StatsService
}

func NewWorkflowEngine(db *gorm.DB, identity IdentityProvider, stats *StatsService) *WorkflowEngine {
	return &WorkflowEngine{
		DB:       db,
		Identity: identity,
		Stats:    stats,
	}
}

// authorizeReviewer revalidates the acting reviewer against the auth
// service. Collaborator errors fail closed.
func (e *WorkflowEngine) authorizeReviewer(reviewerID string) error {
	if reviewerID == "" {
		return fmt.Errorf("%w: no session", ErrUnauthorized)
	}
	active, err := e.Identity.IsActiveReviewer(reviewerID)
	if err != nil {
		log.Printf("[WORKFLOW] ❌ reviewer check failed for %s, denying: %v", reviewerID, err)
		return fmt.Errorf("%w: reviewer check failed", ErrUnauthorized)
	}
	if !active {
		return fmt.Errorf("%w: %s is not an active reviewer", ErrUnauthorized, reviewerID)
	}
	return nil
}

// ProvisionUser ensures the user's stage-1 record exists as current
// (idempotent). Called when a user first shows up.
func (e *WorkflowEngine) ProvisionUser(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	return e.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.QuestProgress
		err := tx.Where("external_user_id = ? AND stage_id = ?", userID, models.MinStageID).
			First(&existing).Error
		if err == nil {
			return nil // already provisioned
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		record := models.QuestProgress{
			ID:             uuid.NewString(),
			ExternalUserID: userID,
			StageID:        models.MinStageID,
			Status:         models.StatusCurrent,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return RecordProgressChange(tx, models.ActionInsert, nil, &record)
	})
}

// Submit transitions the user's stage from current to pending_approval,
// stamping submitted_at and the submission flag. attachmentURL is optional
// evidence uploaded ahead of the transition.
func (e *WorkflowEngine) Submit(userID string, stageID int, attachmentURL *string) error {
	if !models.ValidStageID(stageID) {
		return fmt.Errorf("%w: stage id %d outside [%d,%d]", ErrInvalidArgument, stageID, models.MinStageID, models.MaxStageID)
	}
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}

	return e.DB.Transaction(func(tx *gorm.DB) error {
		oldRow, err := e.loadRecord(tx, userID, stageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no record for user %s stage %d", ErrInvalidTransition, userID, stageID)
			}
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":         models.StatusPendingApproval,
			"submitted_at":   now,
			"form_submitted": true,
			"updated_at":     now,
		}
		if attachmentURL != nil {
			updates["attachment_url"] = *attachmentURL
		}

		res := tx.Model(&models.QuestProgress{}).
			Where("external_user_id = ? AND stage_id = ? AND status = ?", userID, stageID, models.StatusCurrent).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: stage %d is not in current status", ErrInvalidTransition, stageID)
		}

		newRow, err := e.loadRecord(tx, userID, stageID)
		if err != nil {
			return err
		}
		return RecordProgressChange(tx, models.ActionUpdate, oldRow, newRow)
	})
}

// Approve completes a pending submission and cascades the unlock of the
// next stage. Returns whether a successor was newly unlocked. A submission
// already resolved by another reviewer yields ErrNotFound.
func (e *WorkflowEngine) Approve(reviewerID, userID string, stageID int) (bool, error) {
	if err := e.authorizeReviewer(reviewerID); err != nil {
		return false, err
	}
	if !models.ValidStageID(stageID) {
		return false, fmt.Errorf("%w: stage id %d outside [%d,%d]", ErrInvalidArgument, stageID, models.MinStageID, models.MaxStageID)
	}

	unlockedNext := false
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		oldRow, err := e.loadRecord(tx, userID, stageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no pending submission for user %s stage %d", ErrNotFound, userID, stageID)
			}
			return err
		}

		now := time.Now()
		// Compare-and-transition: the status precondition rides on the
		// UPDATE itself. RowsAffected == 0 means someone else got here first.
		res := tx.Model(&models.QuestProgress{}).
			Where("external_user_id = ? AND stage_id = ? AND status = ?", userID, stageID, models.StatusPendingApproval).
			Updates(map[string]interface{}{
				"status":      models.StatusCompleted,
				"approved_at": now,
				"approved_by": reviewerID,
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: no pending submission for user %s stage %d", ErrNotFound, userID, stageID)
		}

		newRow, err := e.loadRecord(tx, userID, stageID)
		if err != nil {
			return err
		}
		if err := RecordProgressChange(tx, models.ActionUpdate, oldRow, newRow); err != nil {
			return err
		}

		if stageID < models.MaxStageID {
			unlockedNext, err = e.unlockSuccessor(tx, userID, stageID+1)
			if err != nil {
				return err
			}
		}

		// Counters commit with the transition itself — a stats failure
		// rolls the approval back rather than leaving them out of step.
		return e.Stats.RecordEventTx(tx, userID, QuestCompletedEvent{})
	})
	if err != nil {
		return false, err
	}

	log.Printf("✅ Stage approved: user=%s stage=%d by=%s (unlocked_next=%t)", userID, stageID, reviewerID, unlockedNext)
	return unlockedNext, nil
}

// unlockSuccessor creates the next stage as current, or flips an existing
// locked placeholder. A successor already current or further along is
// left untouched.
func (e *WorkflowEngine) unlockSuccessor(tx *gorm.DB, userID string, stageID int) (bool, error) {
	successor, err := e.loadRecord(tx, userID, stageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record := models.QuestProgress{
			ID:             uuid.NewString(),
			ExternalUserID: userID,
			StageID:        stageID,
			Status:         models.StatusCurrent,
		}
		if err := tx.Create(&record).Error; err != nil {
			return false, err
		}
		if err := RecordProgressChange(tx, models.ActionInsert, nil, &record); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if successor.Status != models.StatusLocked {
		return false, nil
	}

	res := tx.Model(&models.QuestProgress{}).
		Where("external_user_id = ? AND stage_id = ? AND status = ?", userID, stageID, models.StatusLocked).
		Updates(map[string]interface{}{
			"status":     models.StatusCurrent,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	newRow, err := e.loadRecord(tx, userID, stageID)
	if err != nil {
		return false, err
	}
	return true, RecordProgressChange(tx, models.ActionUpdate, successor, newRow)
}

// Reject returns a pending submission to current for resubmission. The
// approval fields and submission flag are cleared; rejected_at/rejected_by
// are kept as audit trail. No successor or stats side effects.
func (e *WorkflowEngine) Reject(reviewerID, userID string, stageID int) error {
	if err := e.authorizeReviewer(reviewerID); err != nil {
		return err
	}
	if !models.ValidStageID(stageID) {
		return fmt.Errorf("%w: stage id %d outside [%d,%d]", ErrInvalidArgument, stageID, models.MinStageID, models.MaxStageID)
	}

	err := e.DB.Transaction(func(tx *gorm.DB) error {
		oldRow, err := e.loadRecord(tx, userID, stageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no pending submission for user %s stage %d", ErrNotFound, userID, stageID)
			}
			return err
		}

		now := time.Now()
		res := tx.Model(&models.QuestProgress{}).
			Where("external_user_id = ? AND stage_id = ? AND status = ?", userID, stageID, models.StatusPendingApproval).
			Updates(map[string]interface{}{
				"status":         models.StatusCurrent,
				"rejected_at":    now,
				"rejected_by":    reviewerID,
				"approved_at":    nil,
				"approved_by":    nil,
				"form_submitted": false,
				"attachment_url": nil,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: no pending submission for user %s stage %d", ErrNotFound, userID, stageID)
		}

		newRow, err := e.loadRecord(tx, userID, stageID)
		if err != nil {
			return err
		}
		return RecordProgressChange(tx, models.ActionUpdate, oldRow, newRow)
	})
	if err != nil {
		return err
	}

	log.Printf("↩️ Stage rejected: user=%s stage=%d by=%s", userID, stageID, reviewerID)
	return nil
}

func (e *WorkflowEngine) loadRecord(tx *gorm.DB, userID string, stageID int) (*models.QuestProgress, error) {
	var record models.QuestProgress
	if err := tx.Where("external_user_id = ? AND stage_id = ?", userID, stageID).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// GetUserProgress returns all of a user's stage records ordered by stage.
func (e *WorkflowEngine) GetUserProgress(userID string) ([]models.QuestProgress, error) {
	var records []models.QuestProgress
	err := e.DB.Where("external_user_id = ?", userID).
		Order("stage_id ASC").
		Find(&records).Error
	return records, err
}

// GetPendingReview returns the paginated set of submissions awaiting
// review, oldest first.
func (e *WorkflowEngine) GetPendingReview(page, size int) ([]models.QuestProgress, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	var total int64
	if err := e.DB.Model(&models.QuestProgress{}).
		Where("status = ?", models.StatusPendingApproval).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []models.QuestProgress
	err := e.DB.Where("status = ?", models.StatusPendingApproval).
		Order("submitted_at ASC").
		Limit(size).Offset(offset).
		Find(&records).Error
	return records, total, err
}
