package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"solduel/config"
	"solduel/events"
	"solduel/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// errActiveMatchConflict marks a pairing that found one of the players already
// inside an active match. Unlike a transient DB failure, the pair can never
// succeed, so the entries must not go back into the queue.
var errActiveMatchConflict = errors.New("player already has an active match")

// matchmakingService implements the MatchmakingService interface.
//
// Queue state is held in memory only. A crash loses the queue but not the
// money: the frozen bets left behind are healed by the frozen balance
// reconciler, since a queued bet no longer appears in any ground-truth sum.
type matchmakingService struct {
	uowFactory UnitOfWorkFactory
	ledger     LedgerService
	presence   PresenceChecker
	tick       time.Duration

	mu      sync.Mutex
	buckets map[models.QueueKey][]*models.QueueEntry
	queued  map[string]models.QueueKey // address -> bucket, one entry per player
}

// NewMatchmakingService creates a new matchmaking service
func NewMatchmakingService(uowFactory UnitOfWorkFactory, ledger LedgerService, presence PresenceChecker) MatchmakingService {
	return &matchmakingService{
		uowFactory: uowFactory,
		ledger:     ledger,
		presence:   presence,
		tick:       config.Get().MatchTick,
		buckets:    make(map[models.QueueKey][]*models.QueueEntry),
		queued:     make(map[string]models.QueueKey),
	}
}

// JoinQueue freezes the bet and enters the player into the bucket. The freeze
// happens first; a player whose funds cannot be reserved never becomes
// visible to matching.
func (s *matchmakingService) JoinQueue(ctx context.Context, address string, durationSeconds int, bet int64) error {
	if bet <= 0 {
		return ErrInvalidAmount
	}
	if durationSeconds <= 0 {
		return fmt.Errorf("duration must be positive")
	}

	s.mu.Lock()
	if _, ok := s.queued[address]; ok {
		s.mu.Unlock()
		return fmt.Errorf("player %s is already queued", address)
	}
	s.mu.Unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	active, err := uow.MatchRepository().HasActiveMatch(ctx, address)
	uow.Rollback()
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("player %s is already in an active match", address)
	}

	if err := s.ledger.Freeze(ctx, address, bet); err != nil {
		return err
	}

	key := models.QueueKey{DurationSeconds: durationSeconds, BetAmount: bet}

	s.mu.Lock()
	if _, ok := s.queued[address]; ok {
		// Lost a race against a concurrent join; this freeze is ours to undo.
		s.mu.Unlock()
		if err := s.ledger.Unfreeze(ctx, address, bet); err != nil {
			log.WithError(err).WithField("address", address).Error("Failed to unfreeze after join race")
		}
		return fmt.Errorf("player %s is already queued", address)
	}
	s.buckets[key] = append(s.buckets[key], &models.QueueEntry{
		Address:  address,
		JoinedAt: time.Now(),
	})
	s.queued[address] = key
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"address":  address,
		"duration": durationSeconds,
		"bet":      bet,
	}).Info("Player joined matchmaking queue")

	return nil
}

// LeaveQueue removes the player from the bucket and unfreezes their bet
func (s *matchmakingService) LeaveQueue(ctx context.Context, address string, durationSeconds int, bet int64) error {
	key := models.QueueKey{DurationSeconds: durationSeconds, BetAmount: bet}

	s.mu.Lock()
	current, ok := s.queued[address]
	if !ok || current != key {
		s.mu.Unlock()
		return fmt.Errorf("player %s is not queued at duration=%d bet=%d", address, durationSeconds, bet)
	}
	s.removeLocked(address, key)
	s.mu.Unlock()

	return s.ledger.Unfreeze(ctx, address, bet)
}

// RemoveFromAllQueues removes the player from the queue, unfreezing their
// bet. Used on disconnect.
func (s *matchmakingService) RemoveFromAllQueues(ctx context.Context, address string) error {
	s.mu.Lock()
	key, ok := s.queued[address]
	if ok {
		s.removeLocked(address, key)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	return s.ledger.Unfreeze(ctx, address, key.BetAmount)
}

// QueuedBetTotal totals the bets the address currently has queued
func (s *matchmakingService) QueuedBetTotal(address string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.queued[address]
	if !ok {
		return 0
	}
	return key.BetAmount
}

// removeLocked removes the address from its bucket; caller holds s.mu
func (s *matchmakingService) removeLocked(address string, key models.QueueKey) {
	entries := s.buckets[key]
	for i, e := range entries {
		if e.Address == address {
			s.buckets[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(s.buckets[key]) == 0 {
		delete(s.buckets, key)
	}
	delete(s.queued, address)
}

// Run drives the matching tick until the context is cancelled
func (s *matchmakingService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	log.WithField("tick", s.tick).Info("Matchmaking loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Matchmaking loop stopped")
			return
		case <-ticker.C:
			s.matchAll(ctx)
		}
	}
}

type queuedPair struct {
	key    models.QueueKey
	first  *models.QueueEntry
	second *models.QueueEntry
}

// matchAll drains every bucket pairwise in FIFO order
func (s *matchmakingService) matchAll(ctx context.Context) {
	s.mu.Lock()
	var pairs []queuedPair
	for key, entries := range s.buckets {
		for len(entries) >= 2 {
			pair := queuedPair{key: key, first: entries[0], second: entries[1]}
			entries = entries[2:]
			delete(s.queued, pair.first.Address)
			delete(s.queued, pair.second.Address)
			pairs = append(pairs, pair)
		}
		if len(entries) == 0 {
			delete(s.buckets, key)
		} else {
			s.buckets[key] = entries
		}
	}
	s.mu.Unlock()

	for _, pair := range pairs {
		// Liveness re-check: a player can drop between queueing and pairing.
		// A dead entry is evicted with its bet unfrozen; the live player goes
		// back to the front of the bucket.
		firstAlive := s.isAlive(ctx, pair.first.Address)
		secondAlive := s.isAlive(ctx, pair.second.Address)
		if !firstAlive || !secondAlive {
			s.evictOrRequeue(ctx, pair.key, pair.first, firstAlive)
			s.evictOrRequeue(ctx, pair.key, pair.second, secondAlive)
			continue
		}

		if err := s.createMatch(ctx, pair); err != nil {
			if errors.Is(err, errActiveMatchConflict) {
				// A stale entry slipped in; requeueing it would jam the
				// bucket head forever. Drop both and release their bets.
				log.WithError(err).WithFields(log.Fields{
					"player1": pair.first.Address,
					"player2": pair.second.Address,
				}).Warn("Pairing aborted, unfreezing both players")
				s.unfreezeEntry(ctx, pair.key, pair.first)
				s.unfreezeEntry(ctx, pair.key, pair.second)
				continue
			}
			log.WithError(err).WithFields(log.Fields{
				"player1": pair.first.Address,
				"player2": pair.second.Address,
			}).Error("Failed to create match, requeueing players")
			s.requeue(pair.key, pair.second)
			s.requeue(pair.key, pair.first)
		}
	}
}

func (s *matchmakingService) isAlive(ctx context.Context, address string) bool {
	connected, err := s.presence.IsConnected(ctx, address)
	if err != nil {
		log.WithError(err).WithField("address", address).Warn("Presence check failed, keeping player queued")
		return true
	}
	return connected
}

func (s *matchmakingService) evictOrRequeue(ctx context.Context, key models.QueueKey, entry *models.QueueEntry, alive bool) {
	if alive {
		s.requeue(key, entry)
		return
	}

	log.WithField("address", entry.Address).Info("Evicting disconnected player from queue")
	s.unfreezeEntry(ctx, key, entry)
}

// unfreezeEntry releases the queued bet of an entry that was dropped without
// becoming a match
func (s *matchmakingService) unfreezeEntry(ctx context.Context, key models.QueueKey, entry *models.QueueEntry) {
	if err := s.ledger.Unfreeze(ctx, entry.Address, key.BetAmount); err != nil {
		log.WithError(err).WithField("address", entry.Address).Error("Failed to unfreeze dequeued player's bet")
	}
}

// requeue puts an entry back at the front of its bucket, preserving the FIFO
// position it was popped from
func (s *matchmakingService) requeue(key models.QueueKey, entry *models.QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queued[entry.Address]; ok {
		return
	}
	s.buckets[key] = append([]*models.QueueEntry{entry}, s.buckets[key]...)
	s.queued[entry.Address] = key
}

// createMatch persists the match for a matched pair. The frozen bets carry
// over unchanged: a queued bet becomes an active match bet, so the frozen
// total is untouched.
func (s *matchmakingService) createMatch(ctx context.Context, pair queuedPair) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	for _, address := range []string{pair.first.Address, pair.second.Address} {
		active, err := uow.MatchRepository().HasActiveMatch(ctx, address)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("player %s: %w", address, errActiveMatchConflict)
		}
	}

	now := time.Now()
	match := &models.Match{
		ID:              uuid.NewString(),
		Player1:         pair.first.Address,
		Player2:         pair.second.Address,
		BetAmount:       pair.key.BetAmount,
		DurationSeconds: pair.key.DurationSeconds,
		Status:          models.MatchStatusActive,
		StartTime:       now,
		EndTime:         now.Add(time.Duration(pair.key.DurationSeconds) * time.Second),
	}

	if err := uow.MatchRepository().Create(ctx, match); err != nil {
		return err
	}

	uow.EventBus().Publish(events.MatchFoundEvent{
		MatchID:         match.ID,
		Player1:         match.Player1,
		Player2:         match.Player2,
		BetAmount:       match.BetAmount,
		DurationSeconds: match.DurationSeconds,
	})

	if err := uow.Commit(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"matchId": match.ID,
		"player1": match.Player1,
		"player2": match.Player2,
		"bet":     match.BetAmount,
	}).Info("Match created")

	return nil
}
