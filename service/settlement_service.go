package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"solduel/config"
	"solduel/events"
	"solduel/models"

	log "github.com/sirupsen/logrus"
)

// settlementService implements the SettlementService interface.
//
// Settlement is driven by a periodic sweep rather than per-match timers, so a
// restart needs no timer reconstruction: expired matches and half-settled
// matches are simply found again by the next sweep. Every step is idempotent
// behind a durable marker, which makes re-running after a crash safe.
type settlementService struct {
	uowFactory   UnitOfWorkFactory
	ledger       LedgerService
	challenges   ChallengeService
	snapshots    PriceSnapshots
	presence     PresenceChecker
	achievements AchievementEvaluator

	sweep          time.Duration
	tieTolerance   float64
	virtualBalance float64

	mu       sync.Mutex
	settling map[string]struct{} // matches with a settle in flight
}

// NewSettlementService creates a new settlement service
func NewSettlementService(
	uowFactory UnitOfWorkFactory,
	ledger LedgerService,
	challenges ChallengeService,
	snapshots PriceSnapshots,
	presence PresenceChecker,
	achievements AchievementEvaluator,
) SettlementService {
	cfg := config.Get()
	return &settlementService{
		uowFactory:     uowFactory,
		ledger:         ledger,
		challenges:     challenges,
		snapshots:      snapshots,
		presence:       presence,
		achievements:   achievements,
		sweep:          cfg.SettleSweep,
		tieTolerance:   cfg.TieRoiTolerance,
		virtualBalance: cfg.InitialVirtualBalance,
		settling:       make(map[string]struct{}),
	}
}

// Run drives the settlement sweep until the context is cancelled
func (s *settlementService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	log.WithField("sweep", s.sweep).Info("Settlement sweep started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Settlement sweep stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep performs the three sweep passes: expired active matches, matches
// left half-settled by a crash, and stale pending challenges.
func (s *settlementService) runSweep(ctx context.Context) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		log.WithError(err).Error("Settlement sweep failed to begin transaction")
		return
	}
	expired, expErr := uow.MatchRepository().GetActivePastEnd(ctx, time.Now())
	unsettled, unsErr := uow.MatchRepository().GetUnsettled(ctx)
	uow.Rollback()

	if expErr != nil {
		log.WithError(expErr).Error("Failed to list expired matches")
	}
	for _, match := range expired {
		if err := s.SettleMatch(ctx, match.ID); err != nil {
			log.WithError(err).WithField("matchId", match.ID).Error("Failed to settle expired match")
		}
	}

	if unsErr != nil {
		log.WithError(unsErr).Error("Failed to list unsettled matches")
	}
	for _, match := range unsettled {
		if err := s.resumeBalances(ctx, match); err != nil {
			log.WithError(err).WithField("matchId", match.ID).Error("Failed to resume balance settlement")
		}
	}

	if err := s.challenges.ExpireStale(ctx); err != nil {
		log.WithError(err).Error("Failed to expire stale challenges")
	}
}

// tryAcquire marks a match as settling-in-flight; false when another settle
// of the same match is already running in this process
func (s *settlementService) tryAcquire(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settling[matchID]; ok {
		return false
	}
	s.settling[matchID] = struct{}{}
	return true
}

func (s *settlementService) release(matchID string) {
	s.mu.Lock()
	delete(s.settling, matchID)
	s.mu.Unlock()
}

// SettleMatch ends an active match at its natural end: positions are force
// closed at the last shown prices, the outcome is decided on recomputed ROI
// and balances and stats are settled.
func (s *settlementService) SettleMatch(ctx context.Context, matchID string) error {
	return s.settle(ctx, matchID, nil)
}

// SettleByForfeit settles a match against a disconnected player. The grace
// period has already elapsed when this is called; presence is re-checked here
// because a reconnection can race the disconnect handling.
func (s *settlementService) SettleByForfeit(ctx context.Context, matchID, disconnectedPlayer string) error {
	if !s.tryAcquire(matchID) {
		return nil
	}
	defer s.release(matchID)

	// First liveness check, before the match is even read. A reconnection
	// during the grace period makes the whole forfeit moot.
	connected, err := s.presence.IsConnected(ctx, disconnectedPlayer)
	if err != nil {
		return fmt.Errorf("failed to check presence of %s: %w", disconnectedPlayer, err)
	}
	if connected {
		log.WithFields(log.Fields{
			"matchId": matchID,
			"address": disconnectedPlayer,
		}).Info("Player reconnected before forfeit, match continues")
		return nil
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	match, err := uow.MatchRepository().GetByID(ctx, matchID)
	uow.Rollback()
	if err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("match %s not found", matchID)
	}
	if match.Status.IsTerminal() {
		return nil
	}
	if !match.IsParticipant(disconnectedPlayer) {
		return fmt.Errorf("player %s is not a participant of match %s", disconnectedPlayer, matchID)
	}

	// Second check after the read: the reconnection can race the read itself
	connected, err = s.presence.IsConnected(ctx, disconnectedPlayer)
	if err != nil {
		return fmt.Errorf("failed to check presence of %s: %w", disconnectedPlayer, err)
	}
	if connected {
		log.WithFields(log.Fields{
			"matchId": matchID,
			"address": disconnectedPlayer,
		}).Info("Player reconnected before forfeit, match continues")
		return nil
	}

	opponent := match.Opponent(disconnectedPlayer)
	opponentConnected, err := s.presence.IsConnected(ctx, opponent)
	if err != nil {
		return fmt.Errorf("failed to check presence of %s: %w", opponent, err)
	}

	forced := &forcedOutcome{status: models.MatchStatusForfeited}
	if opponentConnected {
		forced.winner = &opponent
	} else {
		// Both players gone: nobody deserves the pot, cancel and refund
		forced.status = models.MatchStatusCancelled
	}

	return s.settleAcquired(ctx, matchID, forced)
}

// forcedOutcome overrides ROI comparison when a match ends abnormally. A nil
// winner with a terminal status settles both players as a tie refund.
type forcedOutcome struct {
	winner *string
	status models.MatchStatus
}

func (s *settlementService) settle(ctx context.Context, matchID string, forced *forcedOutcome) error {
	if !s.tryAcquire(matchID) {
		return nil
	}
	defer s.release(matchID)

	return s.settleAcquired(ctx, matchID, forced)
}

// settleAcquired runs the settle with the in-flight guard already held
func (s *settlementService) settleAcquired(ctx context.Context, matchID string, forced *forcedOutcome) error {
	var result *models.MatchResult

	err := withVersionRetry(ctx, "settle_match", func(ctx context.Context) error {
		var err error
		result, err = s.settleOutcome(ctx, matchID, forced)
		return err
	})
	if err != nil {
		return err
	}
	if result == nil {
		// Already terminal; resume balances if a crash left them unapplied
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		match, err := uow.MatchRepository().GetByID(ctx, matchID)
		uow.Rollback()
		if err != nil {
			return err
		}
		if match != nil && !match.BalancesSettled {
			return s.resumeBalances(ctx, match)
		}
		return nil
	}

	if err := s.ledger.SettleMatchBalances(ctx, matchID, result.Winner, result.Player1, result.Player2, result.BetAmount, result.IsTie); err != nil {
		return err
	}

	s.snapshots.Discard(matchID)

	log.WithFields(log.Fields{
		"matchId": matchID,
		"winner":  winnerOrTie(result.Winner),
		"p1Roi":   result.Player1Roi,
		"p2Roi":   result.Player2Roi,
	}).Info("Match settled")

	return nil
}

func winnerOrTie(winner *string) string {
	if winner == nil {
		return "tie"
	}
	return *winner
}

// settleOutcome performs the atomic outcome transition: force-close, ROI
// computation, result write and career stats, in one transaction. The
// conditional active->terminal update makes the whole block exactly-once; a
// nil result means the match was already terminal.
func (s *settlementService) settleOutcome(ctx context.Context, matchID string, forced *forcedOutcome) (*models.MatchResult, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	match, err := uow.MatchRepository().GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("match %s not found", matchID)
	}
	if match.Status.IsTerminal() {
		return nil, nil
	}

	pnl1, pnl2, trades1, trades2, err := s.closePositions(ctx, uow, match)
	if err != nil {
		return nil, err
	}

	roi1 := pnl1 / s.virtualBalance
	roi2 := pnl2 / s.virtualBalance

	var winner *string
	var status models.MatchStatus
	isTie := false

	if forced != nil {
		winner = forced.winner
		status = forced.status
		isTie = winner == nil
		// An abnormal end does not score trading performance: the stored
		// ROIs are zeroed and no position pnl reaches career stats.
		roi1, roi2 = 0, 0
		pnl1, pnl2 = 0, 0
		trades1, trades2 = 0, 0
	} else {
		switch {
		case math.Abs(roi1-roi2) <= s.tieTolerance:
			status = models.MatchStatusTied
			isTie = true
		case roi1 > roi2:
			winner = &match.Player1
			status = models.MatchStatusCompleted
		default:
			winner = &match.Player2
			status = models.MatchStatusCompleted
		}
	}

	now := time.Now()
	match.Status = status
	match.Winner = winner
	match.Player1Roi = roi1
	match.Player2Roi = roi2
	match.SettledAt = &now

	if err := uow.MatchRepository().UpdateResult(ctx, match); err != nil {
		return nil, err
	}

	// A cancelled match never activated as a contest; stakes are refunded
	// but nobody's career record moves.
	if status != models.MatchStatusCancelled {
		if err := s.applyStats(ctx, uow, match.Player1, winner, isTie, pnl1, trades1); err != nil {
			return nil, err
		}
		if err := s.applyStats(ctx, uow, match.Player2, winner, isTie, pnl2, trades2); err != nil {
			return nil, err
		}
	}

	result := &models.MatchResult{
		MatchID:    match.ID,
		Winner:     winner,
		IsTie:      isTie,
		IsForfeit:  status == models.MatchStatusForfeited,
		Player1:    match.Player1,
		Player2:    match.Player2,
		Player1Roi: roi1,
		Player2Roi: roi2,
		BetAmount:  match.BetAmount,
	}
	if winner != nil {
		pot := match.BetAmount * 2
		result.Payout = pot - pot*config.Get().RakeBps/10_000
	}

	uow.EventBus().Publish(events.MatchEndEvent{Result: *result})
	if status != models.MatchStatusCancelled {
		uow.EventBus().Publish(events.LeaderboardUpdateEvent{
			Addresses: []string{match.Player1, match.Player2},
		})
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	return result, nil
}

// closePositions force-closes every open position at the last price actually
// shown for its asset and recomputes pnl for every position from its stored
// entry and exit. Stored pnl is never trusted; it may be stale from a partial
// write. Returns per-player pnl totals and trade counts.
func (s *settlementService) closePositions(ctx context.Context, uow UnitOfWork, match *models.Match) (pnl1, pnl2 float64, trades1, trades2 int, err error) {
	positions, err := uow.PositionRepository().GetByMatch(ctx, match.ID)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	prices := s.snapshots.Get(match.ID)
	now := time.Now()

	for _, pos := range positions {
		var exitPrice float64
		if pos.IsOpen() {
			price, ok := prices[pos.Asset]
			if !ok {
				// No price was ever shown for this asset; closing at entry
				// yields zero pnl rather than inventing a price.
				price = pos.EntryPrice
				log.WithFields(log.Fields{
					"matchId": match.ID,
					"asset":   pos.Asset,
				}).Warn("No price snapshot for open position, closing at entry")
			}
			exitPrice = price

			reason := models.CloseReasonMatchEnd
			pos.ExitPrice = &exitPrice
			pos.ClosedAt = &now
			pos.CloseReason = &reason
			pos.Pnl = pos.ComputePnl(exitPrice)

			if err := uow.PositionRepository().Close(ctx, pos); err != nil {
				return 0, 0, 0, 0, err
			}
		} else {
			if pos.ExitPrice == nil {
				return 0, 0, 0, 0, fmt.Errorf("closed position %d has no exit price", pos.ID)
			}
			exitPrice = *pos.ExitPrice

			recomputed := pos.ComputePnl(exitPrice)
			if recomputed != pos.Pnl {
				pos.Pnl = recomputed
				if err := uow.PositionRepository().UpdatePnl(ctx, pos.ID, recomputed); err != nil {
					return 0, 0, 0, 0, err
				}
			}
		}

		switch pos.Player {
		case match.Player1:
			pnl1 += pos.Pnl
			trades1++
		case match.Player2:
			pnl2 += pos.Pnl
			trades2++
		}
	}

	return pnl1, pnl2, trades1, trades2, nil
}

// applyStats updates one player's career record. Runs inside the outcome
// transaction, so it is applied exactly once per match. Streaks count
// consecutive wins; both a loss and a tie reset the streak.
func (s *settlementService) applyStats(ctx context.Context, uow UnitOfWork, address string, winner *string, isTie bool, pnl float64, trades int) error {
	account, err := uow.AccountRepository().Get(ctx, address)
	if err != nil {
		return err
	}
	if account == nil {
		log.WithField("address", address).Warn("Account missing at stats update, skipping")
		return nil
	}

	switch {
	case isTie:
		account.Ties++
		account.CurrentStreak = 0
	case winner != nil && *winner == address:
		account.Wins++
		account.CurrentStreak++
		if account.CurrentStreak > account.BestStreak {
			account.BestStreak = account.CurrentStreak
		}
	default:
		account.Losses++
		account.CurrentStreak = 0
	}

	account.TotalPnl += pnl
	account.TradeCount += trades

	if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
		return err
	}

	for _, achievement := range s.achievements.Evaluate(ctx, account) {
		uow.EventBus().Publish(events.AchievementUnlockedEvent{
			Address:     address,
			Achievement: achievement,
		})
	}

	return nil
}

// resumeBalances finishes balance settlement for a match whose outcome was
// decided but whose balance mutations were interrupted
func (s *settlementService) resumeBalances(ctx context.Context, match *models.Match) error {
	isTie := match.Winner == nil
	if err := s.ledger.SettleMatchBalances(ctx, match.ID, match.Winner, match.Player1, match.Player2, match.BetAmount, isTie); err != nil {
		return err
	}
	s.snapshots.Discard(match.ID)
	return nil
}
