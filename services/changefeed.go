package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"quest-approval-system/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FeedEvent is one insert/update observed on a store table, with
// before/after row snapshots. Old/New are decoded for the progress table;
// the raw payloads are always carried.
type FeedEvent struct {
	ID     uint64
	Table  string
	Action models.ChangeAction
	OldRaw datatypes.JSON
	NewRaw datatypes.JSON
	Old    *models.QuestProgress // nil for inserts
	New    *models.QuestProgress
}

// ChangeFeed tails the progress_change_events changelog and delivers
// events to subscribers. Polling with an id cursor stands in for a push
// feed; writers append changelog rows in the same transaction as the row
// mutation, so the feed never observes a half-applied change.
type ChangeFeed struct {
	DB           *gorm.DB
	PollInterval time.Duration
	RetryDelay   time.Duration // fixed delay between retries after a feed error, retried indefinitely

	// OnStateChange, if set, is called with true when the feed is healthy
	// and false when it enters its retry loop.
	OnStateChange func(connected bool)
}

func NewChangeFeed(db *gorm.DB) *ChangeFeed {
	return &ChangeFeed{
		DB:           db,
		PollInterval: 1 * time.Second,
		RetryDelay:   5 * time.Second,
	}
}

// RecordProgressChange appends a changelog row for a progress mutation.
// Must be called on the same tx as the mutation itself.
func RecordProgressChange(tx *gorm.DB, action models.ChangeAction, oldRow, newRow *models.QuestProgress) error {
	event := models.ChangeEvent{
		TableName: models.QuestProgressTable,
		Action:    action,
	}
	if oldRow != nil {
		data, err := json.Marshal(oldRow)
		if err != nil {
			return err
		}
		event.OldData = data
	}
	if newRow != nil {
		data, err := json.Marshal(newRow)
		if err != nil {
			return err
		}
		event.NewData = data
	}
	return tx.Create(&event).Error
}

// Subscribe starts tailing the changelog for one table. Only events written
// after the subscription starts are delivered. The returned channel closes
// when ctx is cancelled — cancelling is the only way to tear the feed down.
func (f *ChangeFeed) Subscribe(ctx context.Context, table string) (<-chan FeedEvent, error) {
	var cursor uint64
	if err := f.DB.Model(&models.ChangeEvent{}).
		Select("COALESCE(MAX(id), 0)").
		Where("table_name = ?", table).
		Scan(&cursor).Error; err != nil {
		return nil, err
	}

	ch := make(chan FeedEvent, 64)
	go f.run(ctx, table, cursor, ch)
	return ch, nil
}

func (f *ChangeFeed) run(ctx context.Context, table string, cursor uint64, ch chan<- FeedEvent) {
	defer close(ch)

	// Connected is only ever reported after a poll has succeeded — the
	// retry delay elapsing says nothing about the store's health.
	connected := false
	ticker := time.NewTicker(f.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.setState(false)
			return
		case <-ticker.C:
			events, err := f.fetchSince(table, cursor)
			if err != nil {
				log.Printf("[FEED] ❌ changelog query failed, retrying in %s: %v", f.RetryDelay, err)
				connected = false
				f.setState(false)
				select {
				case <-time.After(f.RetryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}
			if !connected {
				connected = true
				f.setState(true)
			}

			for _, ev := range events {
				cursor = ev.ID
				select {
				case ch <- ev:
				case <-ctx.Done():
					f.setState(false)
					return
				}
			}
		}
	}
}

func (f *ChangeFeed) setState(connected bool) {
	if f.OnStateChange != nil {
		f.OnStateChange(connected)
	}
}

func (f *ChangeFeed) fetchSince(table string, cursor uint64) ([]FeedEvent, error) {
	var rows []models.ChangeEvent
	if err := f.DB.
		Where("table_name = ? AND id > ?", table, cursor).
		Order("id ASC").
		Limit(256).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]FeedEvent, 0, len(rows))
	for _, row := range rows {
		ev := FeedEvent{
			ID:     row.ID,
			Table:  row.TableName,
			Action: row.Action,
			OldRaw: row.OldData,
			NewRaw: row.NewData,
		}
		if row.TableName == models.QuestProgressTable {
			ev.Old = decodeProgressSnapshot(row.OldData)
			ev.New = decodeProgressSnapshot(row.NewData)
		}
		events = append(events, ev)
	}
	return events, nil
}

// decodeProgressSnapshot degrades to nil on missing/corrupt payloads —
// a bad snapshot must not take the feed down.
func decodeProgressSnapshot(data datatypes.JSON) *models.QuestProgress {
	if len(data) == 0 {
		return nil
	}
	var row models.QuestProgress
	if err := json.Unmarshal(data, &row); err != nil {
		log.Printf("[FEED] ⚠️ corrupt row snapshot skipped: %v", err)
		return nil
	}
	return &row
}
