package services

import (
	"errors"
	"fmt"
	"time"

	"quest-approval-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExperiencePerQuest is the flat XP grant for every approved stage.
const ExperiencePerQuest = 100

// StatsEvent is a tagged progression event. Each variant builds its own
// upsert assignment set — no untyped payload assembly.
type StatsEvent interface {
	statsEvent()
}

// QuestCompletedEvent — a stage was approved for the user.
type QuestCompletedEvent struct{}

// LoginEvent — the user started a session today.
type LoginEvent struct{}

func (QuestCompletedEvent) statsEvent() {}
func (LoginEvent) statsEvent()          {}

type StatsService struct {
	DB *gorm.DB

	// Now is swappable for tests; date-only granularity for login dates.
	Now func() time.Time
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{
		DB:  db,
		Now: time.Now,
	}
}

// RecordEvent applies one progression event to the user's counters.
// Upserts are keyed on external_user_id with atomic SQL increments, so
// concurrent events for the same user cannot lose counts.
func (s *StatsService) RecordEvent(userID string, event StatsEvent) error {
	return s.RecordEventTx(s.DB, userID, event)
}

// RecordEventTx applies the event on an existing transaction, so callers
// can commit counters atomically with the mutation that caused them.
func (s *StatsService) RecordEventTx(tx *gorm.DB, userID string, event StatsEvent) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}

	switch event.(type) {
	case QuestCompletedEvent:
		return s.recordQuestCompleted(tx, userID)
	case LoginEvent:
		return s.recordLogin(tx, userID)
	default:
		return fmt.Errorf("%w: unknown stats event %T", ErrInvalidArgument, event)
	}
}

func (s *StatsService) recordQuestCompleted(tx *gorm.DB, userID string) error {
	row := models.UserStats{
		ExternalUserID:  userID,
		QuestClearCount: 1,
		TotalExperience: ExperiencePerQuest,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quest_clear_count": gorm.Expr("user_stats.quest_clear_count + 1"),
			"total_experience":  gorm.Expr("user_stats.total_experience + ?", ExperiencePerQuest),
			"updated_at":        s.Now(),
		}),
	}).Create(&row).Error
}

func (s *StatsService) recordLogin(tx *gorm.DB, userID string) error {
	today := s.Now().Format("2006-01-02")
	row := models.UserStats{
		ExternalUserID: userID,
		LoginCount:     1,
		LastLoginDate:  today,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"login_count":     gorm.Expr("user_stats.login_count + 1"),
			"last_login_date": today,
			"updated_at":      s.Now(),
		}),
	}).Create(&row).Error
}

// GetStats returns the user's counters, treating absence as zeroes.
func (s *StatsService) GetStats(userID string) (*models.UserStats, error) {
	var stats models.UserStats
	err := s.DB.Where("external_user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserStats{ExternalUserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
