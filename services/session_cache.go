package services

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"quest-approval-system/models"
)

// SessionCache mirrors the store's progress records for one session. It
// applies submits optimistically before server confirmation and reconciles
// with authoritative records pushed by the notifier, matched by
// (user, stage). Corrupted or nil entries are filtered out rather than
// failing a read.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string]*models.QuestProgress
}

func NewSessionCache() *SessionCache {
	return &SessionCache{
		entries: make(map[string]*models.QuestProgress),
	}
}

func cacheKey(userID string, stageID int) string {
	return fmt.Sprintf("%s:%d", userID, stageID)
}

// Hydrate replaces the cached set with records from the store. Nil entries
// are dropped silently.
func (c *SessionCache) Hydrate(records []*models.QuestProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*models.QuestProgress, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		clone := *rec
		c.entries[cacheKey(rec.ExternalUserID, rec.StageID)] = &clone
	}
}

// ApplyOptimisticSubmit locally transitions a current record to
// pending_approval ahead of server confirmation. Returns false when no
// current record is cached — the caller then waits for the authoritative
// result instead.
func (c *SessionCache) ApplyOptimisticSubmit(userID string, stageID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[cacheKey(userID, stageID)]
	if !ok || rec == nil || rec.Status != models.StatusCurrent {
		return false
	}
	now := time.Now()
	rec.Status = models.StatusPendingApproval
	rec.SubmittedAt = &now
	rec.FormSubmitted = true
	return true
}

// Reconcile replaces the cached entry with the authoritative record —
// confirmation and contradiction look the same from here. Nil records are
// ignored.
func (c *SessionCache) Reconcile(rec *models.QuestProgress) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *rec
	c.entries[cacheKey(rec.ExternalUserID, rec.StageID)] = &clone
}

// Get returns the cached record for (user, stage) if present.
func (c *SessionCache) Get(userID string, stageID int) (models.QuestProgress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[cacheKey(userID, stageID)]
	if !ok || rec == nil {
		return models.QuestProgress{}, false
	}
	return *rec, true
}

// Snapshot returns the cached records ordered by user then stage.
func (c *SessionCache) Snapshot() []models.QuestProgress {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.QuestProgress, 0, len(c.entries))
	for _, rec := range c.entries {
		if rec == nil {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExternalUserID != out[j].ExternalUserID {
			return out[i].ExternalUserID < out[j].ExternalUserID
		}
		return out[i].StageID < out[j].StageID
	})
	return out
}

// Len reports the number of cached records.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save persists the cached set as JSON for session restore.
func (c *SessionCache) Save(w io.Writer) error {
	snapshot := c.Snapshot()
	return json.NewEncoder(w).Encode(snapshot)
}

// Restore loads a persisted snapshot, dropping entries that are invalid
// (out-of-range stage, empty user). A corrupt payload leaves the cache
// empty rather than half-loaded.
func (c *SessionCache) Restore(r io.Reader) error {
	var records []*models.QuestProgress
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		c.mu.Lock()
		c.entries = make(map[string]*models.QuestProgress)
		c.mu.Unlock()
		return fmt.Errorf("corrupt session cache snapshot: %w", err)
	}

	kept := make([]*models.QuestProgress, 0, len(records))
	for _, rec := range records {
		if rec == nil || rec.ExternalUserID == "" || !models.ValidStageID(rec.StageID) {
			continue
		}
		kept = append(kept, rec)
	}
	c.Hydrate(kept)
	return nil
}

// SessionCacheRegistry hands out one cache per active session.
type SessionCacheRegistry struct {
	mu     sync.Mutex
	caches map[string]*SessionCache
}

func NewSessionCacheRegistry() *SessionCacheRegistry {
	return &SessionCacheRegistry{
		caches: make(map[string]*SessionCache),
	}
}

// ForSession returns the session's cache, creating it on first use.
func (r *SessionCacheRegistry) ForSession(sessionID string) *SessionCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	cache, ok := r.caches[sessionID]
	if !ok {
		cache = NewSessionCache()
		r.caches[sessionID] = cache
	}
	return cache
}

// Drop discards a session's cache when the session ends.
func (r *SessionCacheRegistry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caches, sessionID)
}
