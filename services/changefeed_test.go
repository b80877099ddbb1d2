package services

import (
	"context"
	"testing"
	"time"

	"quest-approval-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newTestFeed(db *gorm.DB) *ChangeFeed {
	feed := NewChangeFeed(db)
	feed.PollInterval = 10 * time.Millisecond
	feed.RetryDelay = 10 * time.Millisecond
	return feed
}

func waitForEvent(t *testing.T, ch <-chan FeedEvent) FeedEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("feed channel closed while waiting for event")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for feed event")
	}
	return FeedEvent{}
}

func TestFeedDeliversInsertAndUpdateWithSnapshots(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := feed.Subscribe(ctx, models.QuestProgressTable)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	inserted := &models.QuestProgress{
		ID:             uuid.NewString(),
		ExternalUserID: "user-1",
		StageID:        1,
		Status:         models.StatusCurrent,
	}
	if err := RecordProgressChange(db, models.ActionInsert, nil, inserted); err != nil {
		t.Fatalf("record insert: %v", err)
	}

	ev := waitForEvent(t, events)
	if ev.Action != models.ActionInsert || ev.Table != models.QuestProgressTable {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Old != nil {
		t.Fatalf("insert must carry no before-snapshot")
	}
	if ev.New == nil || ev.New.ExternalUserID != "user-1" || ev.New.Status != models.StatusCurrent {
		t.Fatalf("after-snapshot mangled: %+v", ev.New)
	}

	updated := *inserted
	updated.Status = models.StatusPendingApproval
	if err := RecordProgressChange(db, models.ActionUpdate, inserted, &updated); err != nil {
		t.Fatalf("record update: %v", err)
	}

	ev = waitForEvent(t, events)
	if ev.Action != models.ActionUpdate {
		t.Fatalf("expected update, got %s", ev.Action)
	}
	if ev.Old == nil || ev.Old.Status != models.StatusCurrent {
		t.Fatalf("before-snapshot mangled: %+v", ev.Old)
	}
	if ev.New == nil || ev.New.Status != models.StatusPendingApproval {
		t.Fatalf("after-snapshot mangled: %+v", ev.New)
	}
}

func TestFeedSkipsEventsBeforeSubscription(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(db)

	early := &models.QuestProgress{ID: uuid.NewString(), ExternalUserID: "early", StageID: 1, Status: models.StatusCurrent}
	if err := RecordProgressChange(db, models.ActionInsert, nil, early); err != nil {
		t.Fatalf("record early event: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := feed.Subscribe(ctx, models.QuestProgressTable)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	late := &models.QuestProgress{ID: uuid.NewString(), ExternalUserID: "late", StageID: 1, Status: models.StatusCurrent}
	if err := RecordProgressChange(db, models.ActionInsert, nil, late); err != nil {
		t.Fatalf("record late event: %v", err)
	}

	ev := waitForEvent(t, events)
	if ev.New == nil || ev.New.ExternalUserID != "late" {
		t.Fatalf("received pre-subscription event: %+v", ev.New)
	}
}

func TestFeedFiltersByTable(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := feed.Subscribe(ctx, models.QuestProgressTable)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// An event on another table must not be delivered
	if err := db.Create(&models.ChangeEvent{
		TableName: "user_stats",
		Action:    models.ActionUpdate,
		NewData:   []byte(`{"external_user_id":"user-1"}`),
	}).Error; err != nil {
		t.Fatalf("seed foreign event: %v", err)
	}

	progress := &models.QuestProgress{ID: uuid.NewString(), ExternalUserID: "user-1", StageID: 1, Status: models.StatusCurrent}
	if err := RecordProgressChange(db, models.ActionInsert, nil, progress); err != nil {
		t.Fatalf("record progress event: %v", err)
	}

	ev := waitForEvent(t, events)
	if ev.Table != models.QuestProgressTable {
		t.Fatalf("received event for wrong table: %s", ev.Table)
	}
}

func TestFeedDegradesOnCorruptSnapshot(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := feed.Subscribe(ctx, models.QuestProgressTable)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := db.Create(&models.ChangeEvent{
		TableName: models.QuestProgressTable,
		Action:    models.ActionUpdate,
		NewData:   []byte(`{not json`),
	}).Error; err != nil {
		t.Fatalf("seed corrupt event: %v", err)
	}

	ev := waitForEvent(t, events)
	if ev.New != nil {
		t.Fatalf("corrupt snapshot should decode to nil, got %+v", ev.New)
	}
	if len(ev.NewRaw) == 0 {
		t.Fatalf("raw payload must still be carried")
	}
}

// The connected flag must track actual poll outcomes: a broken store
// stays reported as down until a poll succeeds again, not merely until
// the retry delay elapses.
func TestFeedReportsConnectedOnlyAfterSuccessfulPoll(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(db)

	states := make(chan bool, 64)
	feed.OnStateChange = func(connected bool) { states <- connected }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := feed.Subscribe(ctx, models.QuestProgressTable); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Healthy at first
	select {
	case connected := <-states:
		if !connected {
			t.Fatalf("expected connected after first successful poll")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no state change after startup")
	}

	// Break the store out from under the feed
	if err := db.Migrator().DropTable(&models.ChangeEvent{}); err != nil {
		t.Fatalf("drop changelog table: %v", err)
	}

	select {
	case connected := <-states:
		if connected {
			t.Fatalf("expected disconnected after poll failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("feed never reported the failure")
	}

	// Several retry cycles pass while the store is still broken — the feed
	// must not claim health in the meantime
	deadline := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case connected := <-states:
			if connected {
				t.Fatalf("feed reported connected while the store was still broken")
			}
		case <-deadline:
			break drain
		}
	}

	// Repair the store; the next successful poll flips the flag back
	if err := db.AutoMigrate(&models.ChangeEvent{}); err != nil {
		t.Fatalf("recreate changelog table: %v", err)
	}

	recovery := time.After(2 * time.Second)
	for {
		select {
		case connected := <-states:
			if connected {
				return
			}
		case <-recovery:
			t.Fatalf("feed never recovered after the store came back")
		}
	}
}

func TestFeedClosesChannelOnTeardown(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(db)

	states := make(chan bool, 8)
	feed.OnStateChange = func(connected bool) { states <- connected }

	ctx, cancel := context.WithCancel(context.Background())
	events, err := feed.Subscribe(ctx, models.QuestProgressTable)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// First state must be connected
	select {
	case connected := <-states:
		if !connected {
			t.Fatalf("expected connected on startup")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no state change on startup")
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}
