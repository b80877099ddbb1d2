// services/scheduler.go
package services

import (
	"fmt"
	"log"
	"time"

	"quest-approval-system/models"

	"github.com/go-co-op/gocron/v2"
)

// StartReminderScheduler sweeps for submissions stuck in pending_approval
// longer than maxAge and nudges reviewers through the notifier.
func (n *ChangeNotifier) StartReminderScheduler(sweepEvery, maxAge time.Duration) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(func() {
			cutoff := time.Now().Add(-maxAge)
			var stale []models.QuestProgress
			err := n.DB.Where("status = ? AND submitted_at <= ?", models.StatusPendingApproval, cutoff).
				Order("submitted_at ASC").
				Find(&stale).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}

			for _, rec := range stale {
				n.EmitReminder(
					"Submission awaiting review",
					fmt.Sprintf("%s for %s has been pending since %s",
						models.StageTitle(rec.StageID),
						rec.ExternalUserID,
						rec.SubmittedAt.Format("2006-01-02 15:04"),
					),
				)
			}
			if len(stale) > 0 {
				log.Printf("⏰ Reminded reviewers about %d stale submission(s)", len(stale))
			}
		}),
	)
}
