package notifications

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// Audience tags used as recipients when a notification targets a group.
const (
	AudienceReviewers   = "reviewers"
	AudienceSubscribers = "subscribers"
	AudienceAuthor      = "author"
)

// Outbox collects notifications until a delivery mechanism drains them.
// It never delivers anything itself.
type Outbox struct {
	mu    sync.Mutex
	items []types.Notification
	now   func() time.Time
}

// NewOutbox creates an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{now: time.Now}
}

// Add appends a notification and returns it with its id and timestamp set.
func (o *Outbox) Add(userID, contentID, message string) types.Notification {
	n := types.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		ContentID: contentID,
		Message:   message,
		Timestamp: o.now(),
	}
	o.mu.Lock()
	o.items = append(o.items, n)
	o.mu.Unlock()
	return n
}

// List returns a copy of the pending notifications in insertion order.
func (o *Outbox) List() []types.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.Notification, len(o.items))
	copy(out, o.items)
	return out
}

// Clear discards all pending notifications.
func (o *Outbox) Clear() {
	o.mu.Lock()
	o.items = nil
	o.mu.Unlock()
}

// Drain returns the pending notifications and clears the outbox in one step.
func (o *Outbox) Drain() []types.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.items
	o.items = nil
	return out
}
