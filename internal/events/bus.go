package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTickerBatchStored    EventType = "TICKER_BATCH_STORED"
	EventLeaderboardStored    EventType = "LEADERBOARD_STORED"
	EventLeaderboardPruned    EventType = "LEADERBOARD_PRUNED"
	EventOpenPriceRefreshed   EventType = "OPEN_PRICE_REFRESHED"
	EventPositionOpened       EventType = "POSITION_OPENED"
	EventPositionClosed       EventType = "POSITION_CLOSED"
	EventDecisionCompleted    EventType = "DECISION_COMPLETED"
	EventDecisionFailed       EventType = "DECISION_FAILED"
	EventAccountValueSnapshot EventType = "ACCOUNT_VALUE_SNAPSHOT"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their
// own goroutines so a slow handler never blocks the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTickerBatch publishes a market snapshot persistence event
func (eb *EventBus) PublishTickerBatch(symbolCount int) {
	eb.Publish(Event{
		Type: EventTickerBatchStored,
		Data: map[string]interface{}{
			"symbol_count": symbolCount,
		},
	})
}

// PublishLeaderboardStored publishes a leaderboard batch event
func (eb *EventBus) PublishLeaderboardStored(batchID int64, gainers, losers int) {
	eb.Publish(Event{
		Type: EventLeaderboardStored,
		Data: map[string]interface{}{
			"batch_id": batchID,
			"gainers":  gainers,
			"losers":   losers,
		},
	})
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(modelID, symbol, side string, entryPrice, quantity, leverage float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"model_id":    modelID,
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"quantity":    quantity,
			"leverage":    leverage,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (eb *EventBus) PublishPositionClosed(modelID, symbol, side string, exitPrice, quantity, pnl float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"model_id":   modelID,
			"symbol":     symbol,
			"side":       side,
			"exit_price": exitPrice,
			"quantity":   quantity,
			"pnl":        pnl,
		},
	})
}

// PublishDecisionCompleted publishes a decision cycle completion event
func (eb *EventBus) PublishDecisionCompleted(modelID, cycle string, decisionCount, tokens int) {
	eb.Publish(Event{
		Type: EventDecisionCompleted,
		Data: map[string]interface{}{
			"model_id":  modelID,
			"cycle":     cycle,
			"decisions": decisionCount,
			"tokens":    tokens,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
