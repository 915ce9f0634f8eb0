package workflow

import (
	"context"
	"fmt"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/backup"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/notifications"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/permissions"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// WorkflowContext is the parameter bag of one transition attempt. Guards see
// the history as it was before the attempt; actions see it with the new
// record appended.
type WorkflowContext struct {
	ContentID string
	UserID    string
	Event     types.Event
	From      types.WorkflowState
	To        types.WorkflowState
	Metadata  map[string]interface{}
	History   []types.StateTransition
}

// Guard decides whether a transition may proceed. It must not have side
// effects. An error counts as a rejection.
type Guard func(ctx context.Context, wc *WorkflowContext) (bool, error)

// Action defines the interface for side effects run after a transition commits.
type Action interface {
	// Execute runs the action. Its error is logged and otherwise ignored.
	Execute(ctx context.Context, wc *WorkflowContext) error
}

// ActionFunc is a function adapter for Action.
type ActionFunc func(ctx context.Context, wc *WorkflowContext) error

// Execute implements the Action interface.
func (f ActionFunc) Execute(ctx context.Context, wc *WorkflowContext) error {
	return f(ctx, wc)
}

func (e *Engine) builtinGuards() map[GuardName]Guard {
	return map[GuardName]Guard{
		GuardHasEditPermission:     e.capabilityGuard(permissions.CapabilityEdit),
		GuardHasApprovalPermission: e.capabilityGuard(permissions.CapabilityApprove),
		GuardHasPublishPermission:  e.capabilityGuard(permissions.CapabilityPublish),
		GuardHasArchivePermission:  e.capabilityGuard(permissions.CapabilityArchive),
		GuardContentIsValid:        e.contentIsValid,
	}
}

func (e *Engine) builtinActions() map[ActionName]Action {
	return map[ActionName]Action{
		ActionNotifyReviewers:     ActionFunc(e.notifyReviewers),
		ActionNotifyAuthor:        ActionFunc(e.notifyAuthor),
		ActionNotifySubscribers:   ActionFunc(e.notifySubscribers),
		ActionCreateArchiveBackup: ActionFunc(e.createArchiveBackup),
	}
}

func (e *Engine) capabilityGuard(c permissions.Capability) Guard {
	return func(ctx context.Context, wc *WorkflowContext) (bool, error) {
		return e.permissions.Allowed(ctx, wc.UserID, c)
	}
}

func (e *Engine) contentIsValid(ctx context.Context, wc *WorkflowContext) (bool, error) {
	attrs := make(map[string]interface{}, len(wc.Metadata)+4)
	for k, v := range wc.Metadata {
		attrs[k] = v
	}
	attrs["userId"] = wc.UserID
	attrs["event"] = string(wc.Event)
	attrs["from"] = string(wc.From)
	attrs["to"] = string(wc.To)
	return e.validator.Validate(ctx, wc.ContentID, attrs)
}

func (e *Engine) notifyReviewers(_ context.Context, wc *WorkflowContext) error {
	e.outbox.Add(notifications.AudienceReviewers, wc.ContentID,
		fmt.Sprintf("Content %s was submitted for review by %s", wc.ContentID, wc.UserID))
	return nil
}

func (e *Engine) notifyAuthor(_ context.Context, wc *WorkflowContext) error {
	var msg string
	switch wc.Event {
	case types.EventApprove:
		msg = fmt.Sprintf("Content %s was approved", wc.ContentID)
	case types.EventReject:
		msg = fmt.Sprintf("Content %s was rejected", wc.ContentID)
	case types.EventRequestChanges:
		msg = fmt.Sprintf("Changes were requested on content %s", wc.ContentID)
	default:
		msg = fmt.Sprintf("Content %s moved from %s to %s", wc.ContentID, wc.From, wc.To)
	}
	if reason, ok := wc.Metadata["reason"].(string); ok && reason != "" {
		msg += ": " + reason
	}
	e.outbox.Add(authorOf(wc), wc.ContentID, msg)
	return nil
}

func (e *Engine) notifySubscribers(_ context.Context, wc *WorkflowContext) error {
	msg := fmt.Sprintf("Content %s is now published", wc.ContentID)
	if wc.Event == types.EventUnpublish {
		msg = fmt.Sprintf("Content %s was unpublished", wc.ContentID)
	}
	e.outbox.Add(notifications.AudienceSubscribers, wc.ContentID, msg)
	return nil
}

func (e *Engine) createArchiveBackup(ctx context.Context, wc *WorkflowContext) error {
	snap := backup.Snapshot{
		Entity: types.Entity{
			ContentID: wc.ContentID,
			State:     wc.To,
			History:   wc.History,
		},
		ArchivedBy: wc.UserID,
	}
	if n := len(wc.History); n > 0 {
		snap.ArchivedAt = wc.History[n-1].Timestamp
		snap.Entity.UpdatedAt = snap.ArchivedAt
	}
	return e.backup.Backup(ctx, snap)
}

// authorOf picks the recipient of author notifications: metadata "authorId",
// else whoever last submitted the content for review, else the author audience.
func authorOf(wc *WorkflowContext) string {
	if id, ok := wc.Metadata["authorId"].(string); ok && id != "" {
		return id
	}
	for i := len(wc.History) - 1; i >= 0; i-- {
		if wc.History[i].Event == types.EventSubmitForReview && wc.History[i].UserID != "" {
			return wc.History[i].UserID
		}
	}
	return notifications.AudienceAuthor
}
