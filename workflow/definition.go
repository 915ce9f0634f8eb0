package workflow

import (
	"sort"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// GuardName identifies a guard bound to an edge.
type GuardName string

// Built-in guards.
const (
	GuardHasEditPermission     GuardName = "hasEditPermission"
	GuardHasApprovalPermission GuardName = "hasApprovalPermission"
	GuardHasPublishPermission  GuardName = "hasPublishPermission"
	GuardHasArchivePermission  GuardName = "hasArchivePermission"
	GuardContentIsValid        GuardName = "contentIsValid"
)

// ActionName identifies an action bound to an edge.
type ActionName string

// Built-in actions.
const (
	ActionNotifyReviewers     ActionName = "notifyReviewers"
	ActionNotifyAuthor        ActionName = "notifyAuthor"
	ActionNotifySubscribers   ActionName = "notifySubscribers"
	ActionCreateArchiveBackup ActionName = "createArchiveBackup"
)

// Edge is one legal transition: (From, Event) → To, gated by Guards and
// followed by Actions, both in declared order.
type Edge struct {
	From    types.WorkflowState
	Event   types.Event
	To      types.WorkflowState
	Guards  []GuardName
	Actions []ActionName
}

type edgeKey struct {
	from  types.WorkflowState
	event types.Event
}

// edges is the content lifecycle. It is the same for every content item.
var edges = []Edge{
	{
		From: types.StateDraft, Event: types.EventSubmitForReview, To: types.StateReview,
		Guards:  []GuardName{GuardHasEditPermission, GuardContentIsValid},
		Actions: []ActionName{ActionNotifyReviewers},
	},
	{
		From: types.StateReview, Event: types.EventApprove, To: types.StateApproved,
		Guards:  []GuardName{GuardHasApprovalPermission},
		Actions: []ActionName{ActionNotifyAuthor},
	},
	{
		From: types.StateReview, Event: types.EventReject, To: types.StateDraft,
		Guards:  []GuardName{GuardHasApprovalPermission},
		Actions: []ActionName{ActionNotifyAuthor},
	},
	{
		From: types.StateApproved, Event: types.EventPublish, To: types.StatePublished,
		Guards:  []GuardName{GuardHasPublishPermission, GuardContentIsValid},
		Actions: []ActionName{ActionNotifySubscribers},
	},
	{
		From: types.StateApproved, Event: types.EventRequestChanges, To: types.StateDraft,
		Guards:  []GuardName{GuardHasApprovalPermission},
		Actions: []ActionName{ActionNotifyAuthor},
	},
	{
		From: types.StatePublished, Event: types.EventArchive, To: types.StateArchived,
		Guards:  []GuardName{GuardHasArchivePermission},
		Actions: []ActionName{ActionCreateArchiveBackup},
	},
	{
		From: types.StatePublished, Event: types.EventUnpublish, To: types.StateApproved,
		Guards:  []GuardName{GuardHasPublishPermission},
		Actions: []ActionName{ActionNotifySubscribers},
	},
}

var edgeTable = func() map[edgeKey]Edge {
	m := make(map[edgeKey]Edge, len(edges))
	for _, e := range edges {
		m[edgeKey{from: e.From, event: e.Event}] = e
	}
	return m
}()

// Edges returns a copy of the transition graph.
func Edges() []Edge {
	out := make([]Edge, len(edges))
	for i, e := range edges {
		e.Guards = append([]GuardName(nil), e.Guards...)
		e.Actions = append([]ActionName(nil), e.Actions...)
		out[i] = e
	}
	return out
}

func lookupEdge(from types.WorkflowState, event types.Event) (Edge, bool) {
	e, ok := edgeTable[edgeKey{from: from, event: event}]
	return e, ok
}

// availableEvents returns the sorted events with an edge out of state.
func availableEvents(state types.WorkflowState) []types.Event {
	var out []types.Event
	for _, e := range edges {
		if e.From == state {
			out = append(out, e.Event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTerminal reports whether state has no outgoing edges.
func IsTerminal(state types.WorkflowState) bool {
	return len(availableEvents(state)) == 0
}
