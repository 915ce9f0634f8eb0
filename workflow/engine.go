package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"go.uber.org/zap"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/backup"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/events"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/metrics"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/notifications"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/permissions"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/rules"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/storage"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// SystemUser is the actor recorded on a rollback when no earlier actor is known.
const SystemUser = "system"

// Engine runs the content workflow for any number of content items.
// Transitions and rollbacks on the same content id are serialized in-process,
// and every commit is a compare-and-swap against the store.
type Engine struct {
	store       storage.Store
	guards      map[GuardName]Guard
	actions     map[ActionName]Action
	permissions permissions.Resolver
	validator   rules.Validator
	backup      backup.Sink
	outbox      *notifications.Outbox
	eventBus    *events.EventBus
	metrics     *metrics.Collector
	logger      *zap.Logger
	generate    generator.Generator
	locks       *entityLocks
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the store holding state and history. Defaults to a MemoryStore.
func WithStore(store storage.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithPermissions sets the resolver consulted by the permission guards.
func WithPermissions(resolver permissions.Resolver) Option {
	return func(e *Engine) { e.permissions = resolver }
}

// WithValidator sets the validator behind the contentIsValid guard.
func WithValidator(validator rules.Validator) Option {
	return func(e *Engine) { e.validator = validator }
}

// WithBackupSink sets the sink used by the createArchiveBackup action.
func WithBackupSink(sink backup.Sink) Option {
	return func(e *Engine) { e.backup = sink }
}

// WithOutbox sets the notification outbox.
func WithOutbox(outbox *notifications.Outbox) Option {
	return func(e *Engine) { e.outbox = outbox }
}

// WithEventBus sets the bus domain events are published on.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.eventBus = bus }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides time.Now for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithGuard replaces the handler of a guard.
func WithGuard(name GuardName, guard Guard) Option {
	return func(e *Engine) { e.guards[name] = guard }
}

// WithAction replaces the handler of an action.
func WithAction(name ActionName, action Action) Option {
	return func(e *Engine) { e.actions[name] = action }
}

// NewEngine creates an Engine. The generator assigns history record ids.
func NewEngine(generate generator.Generator, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}

	e := &Engine{
		guards:   make(map[GuardName]Guard),
		actions:  make(map[ActionName]Action),
		generate: generate,
		locks:    newEntityLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.store == nil {
		e.store = storage.NewMemoryStore()
	}
	if e.permissions == nil {
		e.permissions = permissions.NewPolicy(permissions.DefaultAdmins, nil, nil)
	}
	if e.validator == nil {
		e.validator = rules.AlwaysValid{}
	}
	if e.backup == nil {
		e.backup = backup.LogSink{Logger: e.logger}
	}
	if e.outbox == nil {
		e.outbox = notifications.NewOutbox()
	}
	if e.eventBus == nil {
		e.eventBus = events.NewEventBus(events.WithLogger(e.logger))
	}
	if e.now == nil {
		e.now = time.Now
	}

	for name, g := range e.builtinGuards() {
		if _, ok := e.guards[name]; !ok {
			e.guards[name] = g
		}
	}
	for name, a := range e.builtinActions() {
		if _, ok := e.actions[name]; !ok {
			e.actions[name] = a
		}
	}

	for _, edge := range edges {
		for _, g := range edge.Guards {
			if e.guards[g] == nil {
				return nil, fmt.Errorf("%w: guard %s on %s/%s", ErrHandlerNotRegistered, g, edge.From, edge.Event)
			}
		}
		for _, a := range edge.Actions {
			if e.actions[a] == nil {
				return nil, fmt.Errorf("%w: action %s on %s/%s", ErrHandlerNotRegistered, a, edge.From, edge.Event)
			}
		}
	}

	return e, nil
}

// SubscribeEvent subscribes an event handler to a specific event type and
// returns the function that removes it.
func (e *Engine) SubscribeEvent(eventType string, handler events.EventHandler) (unsubscribe func()) {
	return e.eventBus.Subscribe(eventType, handler)
}

// GenerateID generates a unique ID using the configured generator.
func (e *Engine) GenerateID() (uint64, error) {
	return e.generate.NextID()
}

// load returns the stored record, or the implicit draft record for unseen content.
func (e *Engine) load(ctx context.Context, contentID string) (types.Entity, error) {
	ent, err := e.store.Load(ctx, contentID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewEntity(contentID), nil
	}
	if err != nil {
		return types.Entity{}, fmt.Errorf("failed to load %s: %w", contentID, err)
	}
	return ent, nil
}

// publishEvent publishes a domain event if anyone is listening.
func (e *Engine) publishEvent(ctx context.Context, eventType, contentID string, data map[string]interface{}) {
	if !e.eventBus.HasSubscribers(eventType) {
		return
	}
	if err := e.eventBus.Publish(ctx, events.Event{
		Type:      eventType,
		ContentID: contentID,
		Data:      data,
	}); err != nil {
		e.logger.Debug("failed to publish workflow event",
			zap.String("event_type", eventType),
			zap.String("content_id", contentID),
			zap.Error(err))
	}
}

// Transition applies event to the content item on behalf of userID and
// returns the resulting state. On failure it returns the unchanged state.
func (e *Engine) Transition(ctx context.Context, contentID, userID string, event types.Event, payload map[string]interface{}) (types.WorkflowState, error) {
	if contentID == "" {
		return "", storage.ErrInvalidID
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	unlock := e.locks.lock(contentID)
	defer unlock()

	ent, err := e.load(ctx, contentID)
	if err != nil {
		return "", err
	}

	edge, ok := lookupEdge(ent.State, event)
	if !ok {
		e.metrics.InvalidTransition(string(ent.State), eventLabel(event))
		return ent.State, fmt.Errorf("%w: event %q not defined for state %q (available: %v)",
			ErrInvalidTransition, event, ent.State, availableEvents(ent.State))
	}

	wc := &WorkflowContext{
		ContentID: contentID,
		UserID:    userID,
		Event:     event,
		From:      ent.State,
		To:        edge.To,
		Metadata:  copyMetadata(payload),
		History:   ent.History,
	}

	for _, name := range edge.Guards {
		passed, cause := e.runGuard(ctx, name, wc)
		if passed {
			continue
		}
		e.metrics.GuardRejected(string(name), string(event))
		e.logger.Debug("transition rejected",
			zap.String("content_id", contentID),
			zap.String("user_id", userID),
			zap.String("event", string(event)),
			zap.String("guard", string(name)),
			zap.Error(cause))
		e.publishEvent(ctx, events.TypeGuardRejected, contentID, map[string]interface{}{
			"state": string(ent.State),
			"event": string(event),
			"guard": string(name),
			"user":  userID,
		})
		return ent.State, &GuardRejectedError{Guard: name, State: ent.State, Event: event, Cause: cause}
	}

	id, err := e.GenerateID()
	if err != nil {
		return ent.State, fmt.Errorf("failed to generate ID: %w", err)
	}
	rec := types.StateTransition{
		ID:        id,
		From:      ent.State,
		To:        edge.To,
		Event:     event,
		UserID:    userID,
		Timestamp: e.now(),
		Metadata:  copyMetadata(payload),
	}
	committed, err := e.store.Append(ctx, contentID, ent.State, rec)
	if err != nil {
		return ent.State, fmt.Errorf("failed to commit %s for %s: %w", event, contentID, err)
	}

	e.metrics.Transition(string(rec.From), string(rec.To), string(event))
	e.logger.Debug("transition committed",
		zap.String("content_id", contentID),
		zap.String("user_id", userID),
		zap.String("from", string(rec.From)),
		zap.String("to", string(rec.To)),
		zap.String("event", string(event)))

	wc.History = committed.History
	e.runActions(ctx, edge.Actions, wc)

	e.publishEvent(ctx, events.TypeStateChanged, contentID, map[string]interface{}{
		"from":  string(rec.From),
		"to":    string(rec.To),
		"event": string(event),
		"user":  userID,
	})

	return committed.State, nil
}

// runGuard evaluates one guard. Errors and panics count as rejections.
func (e *Engine) runGuard(ctx context.Context, name GuardName, wc *WorkflowContext) (passed bool, cause error) {
	defer func() {
		if r := recover(); r != nil {
			passed, cause = false, fmt.Errorf("guard panic: %v", r)
		}
	}()
	ok, err := e.guards[name](ctx, wc)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// eventLabel bounds the metric label for caller-supplied event names.
func eventLabel(event types.Event) string {
	if event == types.EventRollback {
		return string(event)
	}
	if _, err := types.ParseEvent(string(event)); err != nil {
		return "unknown"
	}
	return string(event)
}

// runActions runs names in order. A failing action does not stop the rest.
func (e *Engine) runActions(ctx context.Context, names []ActionName, wc *WorkflowContext) {
	for _, name := range names {
		e.runAction(ctx, name, wc)
	}
}

// runAction runs one action. Failures are logged and swallowed.
func (e *Engine) runAction(ctx context.Context, name ActionName, wc *WorkflowContext) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action panic: %v", r)
			}
		}()
		err = e.actions[name].Execute(ctx, wc)
	}()
	if err == nil {
		return
	}

	e.metrics.ActionFailed(string(name))
	e.logger.Warn("workflow action failed",
		zap.String("content_id", wc.ContentID),
		zap.String("action", string(name)),
		zap.String("event", string(wc.Event)),
		zap.Error(err))
	e.publishEvent(ctx, events.TypeActionFailed, wc.ContentID, map[string]interface{}{
		"action": string(name),
		"event":  string(wc.Event),
		"error":  err.Error(),
	})
}

// Rollback restores contentID to a previously visited state on behalf of the
// last known actor. See RollbackAs.
func (e *Engine) Rollback(ctx context.Context, contentID string, target types.WorkflowState) error {
	return e.RollbackAs(ctx, contentID, "", target)
}

// RollbackAs restores contentID to target without consulting the transition
// graph, guards or actions. target must appear in the item's history. The
// ROLLBACK record is attributed to userID, or when empty to the actor of the
// latest record, or SystemUser.
func (e *Engine) RollbackAs(ctx context.Context, contentID, userID string, target types.WorkflowState) error {
	if contentID == "" {
		return storage.ErrInvalidID
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	unlock := e.locks.lock(contentID)
	defer unlock()

	ent, err := e.load(ctx, contentID)
	if err != nil {
		return err
	}
	if !visited(ent.History, target) {
		return fmt.Errorf("%w: %s never visited %q", ErrRollbackTargetNotFound, contentID, target)
	}

	if userID == "" {
		userID = SystemUser
		if last, ok := ent.LastTransition(); ok && last.UserID != "" {
			userID = last.UserID
		}
	}

	id, err := e.GenerateID()
	if err != nil {
		return fmt.Errorf("failed to generate ID: %w", err)
	}
	rec := types.StateTransition{
		ID:        id,
		From:      ent.State,
		To:        target,
		Event:     types.EventRollback,
		UserID:    userID,
		Timestamp: e.now(),
		Metadata:  map[string]interface{}{"reason": "rollback"},
	}
	if _, err := e.store.Append(ctx, contentID, ent.State, rec); err != nil {
		return fmt.Errorf("failed to commit rollback for %s: %w", contentID, err)
	}

	e.metrics.Rollback(string(target))
	e.logger.Info("content rolled back",
		zap.String("content_id", contentID),
		zap.String("user_id", userID),
		zap.String("from", string(rec.From)),
		zap.String("to", string(target)))
	e.publishEvent(ctx, events.TypeRolledBack, contentID, map[string]interface{}{
		"from": string(rec.From),
		"to":   string(target),
		"user": userID,
	})
	return nil
}

// visited searches history, most recent first, for a record entering or
// leaving target.
func visited(history []types.StateTransition, target types.WorkflowState) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].To == target || history[i].From == target {
			return true
		}
	}
	return false
}

// State returns the current state of contentID; unseen content is in draft.
func (e *Engine) State(ctx context.Context, contentID string) (types.WorkflowState, error) {
	ent, err := e.load(ctx, contentID)
	if err != nil {
		return "", err
	}
	return ent.State, nil
}

// History returns the history of contentID, oldest first.
func (e *Engine) History(ctx context.Context, contentID string) ([]types.StateTransition, error) {
	ent, err := e.load(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if ent.History == nil {
		return []types.StateTransition{}, nil
	}
	return ent.History, nil
}

// CanTransition reports whether event has an edge from the current state of
// contentID. Guards are not evaluated.
func (e *Engine) CanTransition(ctx context.Context, contentID string, event types.Event) (bool, error) {
	state, err := e.State(ctx, contentID)
	if err != nil {
		return false, err
	}
	_, ok := lookupEdge(state, event)
	return ok, nil
}

// AvailableEvents returns the sorted events with an edge from the current
// state of contentID.
func (e *Engine) AvailableEvents(ctx context.Context, contentID string) ([]types.Event, error) {
	state, err := e.State(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return availableEvents(state), nil
}

// Notifications returns the pending outbox entries.
func (e *Engine) Notifications() []types.Notification {
	return e.outbox.List()
}

// ClearNotifications empties the outbox.
func (e *Engine) ClearNotifications() {
	e.outbox.Clear()
}

// Stop gracefully stops the workflow engine.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}

func copyMetadata(payload map[string]interface{}) map[string]interface{} {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
