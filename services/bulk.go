package services

import (
	"errors"
	"fmt"
)

// MaxBulkApprovalItems caps a single bulk request. Oversized batches are
// rejected before any item is touched.
const MaxBulkApprovalItems = 50

type BulkItem struct {
	UserID  string `json:"user_id"`
	StageID int    `json:"stage_id"`
}

type BulkItemFailure struct {
	UserID  string `json:"user_id"`
	StageID int    `json:"stage_id"`
	Reason  string `json:"reason"`
}

type BulkResult struct {
	Success      bool              `json:"success"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	Failures     []BulkItemFailure `json:"failures,omitempty"`
}

// BulkApprovalCoordinator sequences a batch of approvals through the
// workflow engine. Items run strictly one at a time — batches often share
// a user or stage, and sequential processing keeps contention out of the
// picture. One item's failure never aborts the rest.
type BulkApprovalCoordinator struct {
	Engine *WorkflowEngine
}

func NewBulkApprovalCoordinator(engine *WorkflowEngine) *BulkApprovalCoordinator {
	return &BulkApprovalCoordinator{Engine: engine}
}

// ApproveAll processes items in order and reports per-item outcomes. The
// batch counts as successful if at least one item succeeded.
func (b *BulkApprovalCoordinator) ApproveAll(reviewerID string, items []BulkItem) (*BulkResult, error) {
	if len(items) > MaxBulkApprovalItems {
		return nil, fmt.Errorf("%w: %d items exceeds the %d-item cap", ErrPayloadTooLarge, len(items), MaxBulkApprovalItems)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidArgument)
	}

	// Unauthorized aborts the whole batch up front; each item still
	// revalidates inside the engine.
	if err := b.Engine.authorizeReviewer(reviewerID); err != nil {
		return nil, err
	}

	result := &BulkResult{}
	for _, item := range items {
		if _, err := b.Engine.Approve(reviewerID, item.UserID, item.StageID); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				// Reviewer deactivated mid-batch — nothing further can succeed
				return nil, err
			}
			result.FailureCount++
			result.Failures = append(result.Failures, BulkItemFailure{
				UserID:  item.UserID,
				StageID: item.StageID,
				Reason:  err.Error(),
			})
			continue
		}
		result.SuccessCount++
	}

	result.Success = result.SuccessCount > 0
	return result, nil
}
