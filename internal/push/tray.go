package push

import (
	"context"
	"sort"
	"sync"

	"mealcue/internal/protocol"
	"mealcue/pkg/models"
)

// Poster delivers a message to every open window of a user.
type Poster interface {
	PostToUser(ctx context.Context, userID string, msg any) int
}

// Tray is the set of notifications currently on screen, keyed by user and
// tag. Showing a tag that is already present replaces it.
type Tray struct {
	mu     sync.RWMutex
	shown  map[string]map[string]models.NotificationRecord
	poster Poster
}

func NewTray(poster Poster) *Tray {
	return &Tray{
		shown:  make(map[string]map[string]models.NotificationRecord),
		poster: poster,
	}
}

func (t *Tray) SetPoster(p Poster) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.poster = p
}

func (t *Tray) Name() string { return "tray" }

func (t *Tray) Show(ctx context.Context, rec models.NotificationRecord) error {
	t.mu.Lock()
	byTag, ok := t.shown[rec.UserID]
	if !ok {
		byTag = make(map[string]models.NotificationRecord)
		t.shown[rec.UserID] = byTag
	}
	byTag[rec.Tag] = rec
	poster := t.poster
	t.mu.Unlock()

	if poster != nil {
		poster.PostToUser(ctx, rec.UserID, protocol.ShowNotification{Type: protocol.TypeShowNotification, Notification: rec})
	}
	return nil
}

func (t *Tray) Close(ctx context.Context, userID, tag string) error {
	if !t.remove(userID, tag) {
		return nil
	}

	t.mu.RLock()
	poster := t.poster
	t.mu.RUnlock()
	if poster != nil {
		poster.PostToUser(ctx, userID, protocol.CloseNotification{Type: protocol.TypeCloseNotification, Tag: tag})
	}
	return nil
}

func (t *Tray) remove(userID, tag string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	byTag, ok := t.shown[userID]
	if !ok {
		return false
	}
	if _, ok := byTag[tag]; !ok {
		return false
	}
	delete(byTag, tag)
	if len(byTag) == 0 {
		delete(t.shown, userID)
	}
	return true
}

// Get returns the displayed notification with tag, if any.
func (t *Tray) Get(userID, tag string) (models.NotificationRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.shown[userID][tag]
	return rec, ok
}

// List returns a user's displayed notifications, oldest first.
func (t *Tray) List(userID string) []models.NotificationRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.NotificationRecord, 0, len(t.shown[userID]))
	for _, rec := range t.shown[userID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShownAt.Before(out[j].ShownAt) })
	return out
}

// Count returns the number of notifications on screen across users.
func (t *Tray) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, byTag := range t.shown {
		n += len(byTag)
	}
	return n
}
