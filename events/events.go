package events

import (
	"context"
	"sync"

	"solduel/models"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBalanceChange       EventType = "balance_change"
	EventTypeMatchFound          EventType = "match_found"
	EventTypeMatchEnd            EventType = "match_end"
	EventTypeLeaderboardUpdate   EventType = "leaderboard_update"
	EventTypeAchievementUnlocked EventType = "achievement_unlocked"
	EventTypeChallengeExpired    EventType = "challenge_expired"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// BalanceChangeEvent represents a balance change that occurred
type BalanceChangeEvent struct {
	Address         string
	OldBalance      int64
	NewBalance      int64
	TransactionType models.TransactionType
	ChangeAmount    int64
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}

// MatchFoundEvent is emitted when two queued players are paired
type MatchFoundEvent struct {
	MatchID         string
	Player1         string
	Player2         string
	BetAmount       int64
	DurationSeconds int
}

func (e MatchFoundEvent) Type() EventType {
	return EventTypeMatchFound
}

// MatchEndEvent is emitted when a match has been settled
type MatchEndEvent struct {
	Result models.MatchResult
}

func (e MatchEndEvent) Type() EventType {
	return EventTypeMatchEnd
}

// LeaderboardUpdateEvent signals that career stats changed for the given players
type LeaderboardUpdateEvent struct {
	Addresses []string
}

func (e LeaderboardUpdateEvent) Type() EventType {
	return EventTypeLeaderboardUpdate
}

// AchievementUnlockedEvent is emitted when a player unlocks an achievement
type AchievementUnlockedEvent struct {
	Address     string
	Achievement string
}

func (e AchievementUnlockedEvent) Type() EventType {
	return EventTypeAchievementUnlocked
}

// ChallengeExpiredEvent is emitted when a pending challenge times out
type ChallengeExpiredEvent struct {
	ChallengeID string
	Challenger  string
	Opponent    string
	BetAmount   int64
}

func (e ChallengeExpiredEvent) Type() EventType {
	return EventTypeChallengeExpired
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	// Call handlers asynchronously to avoid blocking
	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// TransactionalBus holds pending events coupled to a unit of work and
// flushes them to the underlying bus only after the transaction commits.
type TransactionalBus struct {
	real    *Bus
	pending []Event // stashed until Flush
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Flush is called after successful DB commit
func (b *TransactionalBus) Flush(ctx context.Context) error {
	// Use background context for event emission; events should be processed
	// independently of the transaction lifecycle
	eventCtx := context.Background()

	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
	return nil
}

// Discard is called after db rollback or to clear state
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
