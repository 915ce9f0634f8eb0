package types

import (
	"fmt"
	"time"
)

// WorkflowState is a lifecycle stage of a content item.
type WorkflowState string

// Workflow states. StateArchived is terminal.
const (
	StateDraft     WorkflowState = "draft"
	StateReview    WorkflowState = "review"
	StateApproved  WorkflowState = "approved"
	StatePublished WorkflowState = "published"
	StateArchived  WorkflowState = "archived"
)

// States lists every workflow state in lifecycle order.
var States = []WorkflowState{StateDraft, StateReview, StateApproved, StatePublished, StateArchived}

// InitialState is the state of every content item that has never transitioned.
const InitialState = StateDraft

// ParseState converts a state name into a WorkflowState.
func ParseState(name string) (WorkflowState, error) {
	for _, s := range States {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown workflow state %q", name)
}

// Event names a transition request.
type Event string

// Workflow events. EventRollback only ever appears in history records.
const (
	EventSubmitForReview Event = "SUBMIT_FOR_REVIEW"
	EventApprove         Event = "APPROVE"
	EventReject          Event = "REJECT"
	EventPublish         Event = "PUBLISH"
	EventRequestChanges  Event = "REQUEST_CHANGES"
	EventArchive         Event = "ARCHIVE"
	EventUnpublish       Event = "UNPUBLISH"

	EventRollback Event = "ROLLBACK"
)

// Events lists the events a caller may request.
var Events = []Event{
	EventSubmitForReview,
	EventApprove,
	EventReject,
	EventPublish,
	EventRequestChanges,
	EventArchive,
	EventUnpublish,
}

// ParseEvent converts an event name into an Event. EventRollback is not accepted.
func ParseEvent(name string) (Event, error) {
	for _, e := range Events {
		if string(e) == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown workflow event %q", name)
}

// StateTransition is one immutable entry of a content item's history.
type StateTransition struct {
	ID        uint64                 `json:"id"`
	From      WorkflowState          `json:"from"`
	To        WorkflowState          `json:"to"`
	Event     Event                  `json:"event"`
	UserID    string                 `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entity is the persisted workflow record of one content item.
// State always equals the To field of the last history entry, or InitialState
// when History is empty.
type Entity struct {
	ContentID string            `json:"content_id"`
	State     WorkflowState     `json:"state"`
	History   []StateTransition `json:"history"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewEntity returns the implicit record of a content item that has never transitioned.
func NewEntity(contentID string) Entity {
	return Entity{ContentID: contentID, State: InitialState}
}

// LastTransition returns the most recent history entry.
func (e Entity) LastTransition() (StateTransition, bool) {
	if len(e.History) == 0 {
		return StateTransition{}, false
	}
	return e.History[len(e.History)-1], true
}

// Notification is an outbox entry produced by workflow actions.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"` // recipient or audience tag such as "reviewers"
	ContentID string    `json:"content_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
