package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"quest-approval-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
)

type NotificationKind string

const (
	KindNewPending      NotificationKind = "new_pending"
	KindApprovedByOther NotificationKind = "approved_by_other"
	KindRejectedByOther NotificationKind = "rejected_by_other"
	KindReminder        NotificationKind = "reminder"
)

// Notification is one human-readable alert for reviewer sessions.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Severity  Severity         `json:"severity"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	ActorID   string           `json:"actor_id,omitempty"` // who caused the event; used to skip self-notifications
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationSink receives every emitted notification. How it renders
// them is not the notifier's business.
type NotificationSink interface {
	Deliver(severity Severity, title, message string)
}

// LogSink writes notifications to the service log.
type LogSink struct{}

func (LogSink) Deliver(severity Severity, title, message string) {
	log.Printf("🔔 [%s] %s — %s", severity, title, message)
}

// recentNotificationCap bounds the recent list; oldest entries drop off.
const recentNotificationCap = 50

type notifierListener struct {
	reviewerID string
	ch         chan Notification
}

// ChangeNotifier watches the progress change feed and fans human-readable
// notifications out to connected reviewer sessions. Events caused by a
// session's own reviewer are not echoed back to it.
type ChangeNotifier struct {
	DB    *gorm.DB
	Feed  *ChangeFeed
	Sinks []NotificationSink

	mu        sync.Mutex
	recent    []Notification
	listeners map[string]notifierListener
	connected bool

	changed chan struct{}
}

func NewChangeNotifier(db *gorm.DB, feed *ChangeFeed, sinks ...NotificationSink) *ChangeNotifier {
	return &ChangeNotifier{
		DB:        db,
		Feed:      feed,
		Sinks:     sinks,
		listeners: make(map[string]notifierListener),
		changed:   make(chan struct{}, 1),
	}
}

// Start subscribes to the feed and processes events until ctx is
// cancelled. Cancelling is the required teardown — it closes the feed and
// every listener channel.
func (n *ChangeNotifier) Start(ctx context.Context) error {
	n.Feed.OnStateChange = n.setConnected

	events, err := n.Feed.Subscribe(ctx, models.QuestProgressTable)
	if err != nil {
		return fmt.Errorf("failed to subscribe to progress feed: %w", err)
	}

	go func() {
		defer n.closeListeners()
		for ev := range events {
			n.handleEvent(ev)
		}
		log.Println("⏹️ Change notifier stopped")
	}()

	log.Println("📡 Change notifier watching quest progress feed")
	return nil
}

func (n *ChangeNotifier) handleEvent(ev FeedEvent) {
	// Every feed event is a cache-refresh trigger, classified or not
	n.signalChanged()

	if notif := n.classify(ev); notif != nil {
		n.emit(*notif)
	}
}

// classify maps a feed event onto a notification, or nil for events that
// only warrant the generic data-changed signal.
func (n *ChangeNotifier) classify(ev FeedEvent) *Notification {
	if ev.New == nil {
		return nil
	}

	switch {
	case ev.Action == models.ActionInsert && ev.New.Status == models.StatusPendingApproval:
		name := n.resolveDisplayName(ev.New.ExternalUserID)
		return &Notification{
			Kind:     KindNewPending,
			Severity: SeverityInfo,
			Title:    "New submission",
			Message:  fmt.Sprintf("%s submitted %s for review", name, models.StageTitle(ev.New.StageID)),
			ActorID:  ev.New.ExternalUserID,
		}

	case ev.Action == models.ActionUpdate && ev.New.Status == models.StatusCompleted && ev.New.ApprovedBy != nil:
		name := n.resolveDisplayName(*ev.New.ApprovedBy)
		return &Notification{
			Kind:     KindApprovedByOther,
			Severity: SeveritySuccess,
			Title:    "Submission approved",
			Message:  fmt.Sprintf("%s approved %s for %s", name, models.StageTitle(ev.New.StageID), ev.New.ExternalUserID),
			ActorID:  *ev.New.ApprovedBy,
		}

	case ev.Action == models.ActionUpdate && ev.New.Status == models.StatusCurrent &&
		ev.Old != nil && ev.Old.Status == models.StatusPendingApproval && ev.New.RejectedBy != nil:
		name := n.resolveDisplayName(*ev.New.RejectedBy)
		return &Notification{
			Kind:     KindRejectedByOther,
			Severity: SeverityWarning,
			Title:    "Submission rejected",
			Message:  fmt.Sprintf("%s rejected %s for %s", name, models.StageTitle(ev.New.StageID), ev.New.ExternalUserID),
			ActorID:  *ev.New.RejectedBy,
		}
	}

	return nil
}

// emit stamps, stores and fans out one notification.
func (n *ChangeNotifier) emit(notif Notification) {
	notif.ID = uuid.NewString()
	notif.CreatedAt = time.Now()

	n.mu.Lock()
	n.recent = append(n.recent, notif)
	if len(n.recent) > recentNotificationCap {
		n.recent = n.recent[len(n.recent)-recentNotificationCap:]
	}
	// Fan out under the lock so Unlisten can never close a channel
	// mid-send; sends are non-blocking either way.
	for _, l := range n.listeners {
		if l.reviewerID == notif.ActorID {
			continue // never echo a reviewer's own action back to them
		}
		select {
		case l.ch <- notif:
		default:
			// Slow session — drop rather than stall the feed
		}
	}
	n.mu.Unlock()

	for _, sink := range n.Sinks {
		sink.Deliver(notif.Severity, notif.Title, notif.Message)
	}
}

// EmitReminder publishes a reminder notification (used by the stale-pending
// sweep). Reminders have no actor, so every session sees them.
func (n *ChangeNotifier) EmitReminder(title, message string) {
	n.emit(Notification{
		Kind:     KindReminder,
		Severity: SeverityWarning,
		Title:    title,
		Message:  message,
	})
}

// resolveDisplayName is a best-effort lookup against the reviewer mirror.
// Any miss degrades to a generic placeholder — a name lookup must never
// fail a notification.
func (n *ChangeNotifier) resolveDisplayName(userID string) string {
	var reviewer models.Reviewer
	err := n.DB.Where("external_user_id = ?", userID).First(&reviewer).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[NOTIFY] ⚠️ name lookup failed for %s: %v", userID, err)
		}
		return "someone"
	}
	if reviewer.DisplayName != "" {
		return reviewer.DisplayName
	}
	if reviewer.Email != "" {
		return reviewer.Email
	}
	return "someone"
}

// Recent returns the bounded recent list, newest last, with the
// requesting reviewer's own actions filtered out.
func (n *ChangeNotifier) Recent(forReviewerID string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Notification, 0, len(n.recent))
	for _, notif := range n.recent {
		if notif.ActorID != "" && notif.ActorID == forReviewerID {
			continue
		}
		out = append(out, notif)
	}
	return out
}

// MarkRead flags one notification as read; returns false if unknown.
func (n *ChangeNotifier) MarkRead(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.recent {
		if n.recent[i].ID == id {
			n.recent[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllRead flags the whole recent list as read.
func (n *ChangeNotifier) MarkAllRead() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.recent {
		n.recent[i].Read = true
	}
}

// Connected reports whether the underlying feed is currently healthy.
func (n *ChangeNotifier) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *ChangeNotifier) setConnected(connected bool) {
	n.mu.Lock()
	n.connected = connected
	n.mu.Unlock()
}

// Changed yields a tick whenever any progress row changed — the generic
// refresh signal for session caches.
func (n *ChangeNotifier) Changed() <-chan struct{} {
	return n.changed
}

func (n *ChangeNotifier) signalChanged() {
	select {
	case n.changed <- struct{}{}:
	default:
	}
}

// Listen registers a reviewer session for live notifications. The caller
// must Unlisten when the session ends.
func (n *ChangeNotifier) Listen(reviewerID string) (string, <-chan Notification) {
	id := uuid.NewString()
	l := notifierListener{
		reviewerID: reviewerID,
		ch:         make(chan Notification, 16),
	}
	n.mu.Lock()
	n.listeners[id] = l
	n.mu.Unlock()
	return id, l.ch
}

// Unlisten removes a session's listener and closes its channel.
func (n *ChangeNotifier) Unlisten(id string) {
	n.mu.Lock()
	l, ok := n.listeners[id]
	if ok {
		delete(n.listeners, id)
	}
	n.mu.Unlock()
	if ok {
		close(l.ch)
	}
}

func (n *ChangeNotifier) closeListeners() {
	n.mu.Lock()
	listeners := n.listeners
	n.listeners = make(map[string]notifierListener)
	n.connected = false
	n.mu.Unlock()
	for _, l := range listeners {
		close(l.ch)
	}
}
