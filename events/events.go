package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Definition lifecycle event types.
const (
	TypeRegistered       = "definition_registered"
	TypeValidationFailed = "validation_failed"
	TypeActivated        = "definition_activated"
	TypeStatusChanged    = "status_changed"
	TypeDeleted          = "definition_deleted"
)

// Event describes something that happened to a workflow definition.
type Event struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	DefinitionID string                 `json:"definitionId"`
	OccurredAt   time.Time              `json:"occurredAt"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with a random id and the current time.
func NewEvent(eventType, definitionID string, data map[string]interface{}) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		DefinitionID: definitionID,
		OccurredAt:   time.Now().UTC(),
		Data:         data,
	}
}

// EventHandler defines the interface for handling events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements the EventHandler interface.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type subscription struct {
	id      string
	handler EventHandler
}

// EventBus fans lifecycle events out to subscribers on a background goroutine.
type EventBus struct {
	handlers     map[string][]subscription
	mu           sync.RWMutex
	eventCh      chan Event
	errHandler   func(event Event, err error)
	errHandlerMu sync.RWMutex
	logger       *slog.Logger
	wg           sync.WaitGroup
	closed       bool
	closeMu      sync.RWMutex
}

// EventBusOption defines functional options for configuring EventBus.
type EventBusOption func(*EventBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		eb.eventCh = make(chan Event, size)
	}
}

// WithErrorHandler sets a custom error handler function.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) {
		eb.errHandlerMu.Lock()
		defer eb.errHandlerMu.Unlock()
		eb.errHandler = handler
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *slog.Logger) EventBusOption {
	return func(eb *EventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// NewEventBus creates an EventBus with a buffer of 100 events. Handler errors
// are logged unless WithErrorHandler replaces that behaviour.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		handlers: make(map[string][]subscription),
		eventCh:  make(chan Event, 100),
		logger:   slog.Default(),
	}
	eb.errHandler = eb.logError

	for _, option := range options {
		option(eb)
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers handler for eventType and returns a subscription id
// that can be passed to Unsubscribe.
func (eb *EventBus) Subscribe(eventType string, handler EventHandler) string {
	id := uuid.NewString()
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeFunc subscribes a function as a handler to an event type.
func (eb *EventBus) SubscribeFunc(eventType string, handlerFunc func(ctx context.Context, event Event) error) string {
	return eb.Subscribe(eventType, EventHandlerFunc(handlerFunc))
}

// Unsubscribe removes the subscription with the given id.
// It reports whether the subscription existed.
func (eb *EventBus) Unsubscribe(eventType, subscriptionID string) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs, exists := eb.handlers[eventType]
	if !exists {
		return false
	}

	for i, s := range subs {
		if s.id != subscriptionID {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(eb.handlers, eventType)
		} else {
			eb.handlers[eventType] = subs
		}
		return true
	}
	return false
}

// HasSubscribers checks if there are any subscribers for a given event type.
func (eb *EventBus) HasSubscribers(eventType string) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) > 0
}

// Publish queues an event for asynchronous delivery.
// Returns an error if the context is canceled, the bus is closed, or the channel is full.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()
	if eb.closed {
		return ErrBusClosed
	}

	if !eb.HasSubscribers(event.Type) {
		return ErrNoHandler
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case eb.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync delivers an event to every handler and returns their errors.
// Handlers get at most 5 seconds unless ctx expires sooner.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) []error {
	eb.closeMu.RLock()
	if eb.closed {
		eb.closeMu.RUnlock()
		return []error{ErrBusClosed}
	}
	eb.closeMu.RUnlock()

	subs := eb.snapshot(event.Type)
	if len(subs) == 0 {
		return []error{ErrNoHandler}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return eb.executeHandlers(timeoutCtx, subs, event)
}

// Stop closes the bus, discards queued events and waits for the processor to exit.
func (eb *EventBus) Stop() {
	eb.closeMu.Lock()
	if !eb.closed {
		eb.closed = true
		for len(eb.eventCh) > 0 {
			<-eb.eventCh
		}
		close(eb.eventCh)
	}
	eb.closeMu.Unlock()

	eb.wg.Wait()
}

func (eb *EventBus) snapshot(eventType string) []subscription {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return append([]subscription(nil), eb.handlers[eventType]...)
}

func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for event := range eb.eventCh {
		subs := eb.snapshot(event.Type)
		if len(subs) == 0 {
			continue
		}

		errs := eb.executeHandlers(context.Background(), subs, event)

		eb.errHandlerMu.RLock()
		handler := eb.errHandler
		eb.errHandlerMu.RUnlock()

		for _, err := range errs {
			handler(event, err)
		}
	}
}

// executeHandlers runs the handlers concurrently and collects their errors.
func (eb *EventBus) executeHandlers(ctx context.Context, subs []subscription, event Event) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(subs))

	for _, s := range subs {
		wg.Add(1)
		go func(h EventHandler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(s.handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

func (eb *EventBus) logError(event Event, err error) {
	eb.logger.Error("event handler failed",
		"event_id", event.ID,
		"event_type", event.Type,
		"definition_id", event.DefinitionID,
		"error", err,
	)
}
