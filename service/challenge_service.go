package service

import (
	"context"
	"fmt"
	"time"

	"solduel/config"
	"solduel/events"
	"solduel/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// challengeService implements the ChallengeService interface.
//
// Challenge state transitions are guarded by conditional status updates, so
// acceptance, decline, cancellation and sweep expiry can race freely: exactly
// one of them wins the pending row, the others observe zero rows affected.
type challengeService struct {
	uowFactory UnitOfWorkFactory
	ledger     LedgerService
	ttl        time.Duration
}

// NewChallengeService creates a new challenge service
func NewChallengeService(uowFactory UnitOfWorkFactory, ledger LedgerService) ChallengeService {
	return &challengeService{
		uowFactory: uowFactory,
		ledger:     ledger,
		ttl:        config.Get().ChallengeTTL,
	}
}

// Propose creates a pending challenge, freezing the challenger's bet
func (s *challengeService) Propose(ctx context.Context, challenger, opponent string, durationSeconds int, bet int64) (*models.Challenge, error) {
	if bet <= 0 {
		return nil, ErrInvalidAmount
	}
	if durationSeconds <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	if challenger == opponent {
		return nil, fmt.Errorf("cannot challenge yourself")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	active, err := uow.MatchRepository().HasActiveMatch(ctx, challenger)
	uow.Rollback()
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("player %s is already in an active match", challenger)
	}

	if err := s.ledger.Freeze(ctx, challenger, bet); err != nil {
		return nil, err
	}

	challenge := &models.Challenge{
		ID:              uuid.NewString(),
		Challenger:      challenger,
		Opponent:        opponent,
		BetAmount:       bet,
		DurationSeconds: durationSeconds,
		Status:          models.ChallengeStatusPending,
		ExpiresAt:       time.Now().Add(s.ttl),
	}

	uow = s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		s.unfreezeBestEffort(ctx, challenger, bet)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.ChallengeRepository().Create(ctx, challenge); err != nil {
		s.unfreezeBestEffort(ctx, challenger, bet)
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		s.unfreezeBestEffort(ctx, challenger, bet)
		return nil, err
	}

	log.WithFields(log.Fields{
		"challengeId": challenge.ID,
		"challenger":  challenger,
		"opponent":    opponent,
		"bet":         bet,
	}).Info("Challenge proposed")

	return challenge, nil
}

func (s *challengeService) unfreezeBestEffort(ctx context.Context, address string, amount int64) {
	if err := s.ledger.Unfreeze(ctx, address, amount); err != nil {
		// The reconciler heals this once the challenge row is absent
		log.WithError(err).WithField("address", address).Error("Failed to unfreeze challenge bet")
	}
}

// Accept freezes the opponent's bet and creates the match. The conditional
// pending->accepted transition decides races against decline, cancel and
// sweep expiry.
func (s *challengeService) Accept(ctx context.Context, challengeID, accepter string) (*models.Match, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	challenge, err := uow.ChallengeRepository().GetByID(ctx, challengeID)
	uow.Rollback()
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, fmt.Errorf("challenge %s not found", challengeID)
	}
	if challenge.Opponent != accepter {
		return nil, fmt.Errorf("player %s is not the challenged opponent", accepter)
	}
	if challenge.Status != models.ChallengeStatusPending {
		return nil, fmt.Errorf("challenge %s is %s", challengeID, challenge.Status)
	}
	if time.Now().After(challenge.ExpiresAt) {
		return nil, fmt.Errorf("challenge %s has expired", challengeID)
	}

	if err := s.ledger.Freeze(ctx, accepter, challenge.BetAmount); err != nil {
		return nil, err
	}

	match, err := s.acceptAndCreateMatch(ctx, challenge)
	if err != nil {
		s.unfreezeBestEffort(ctx, accepter, challenge.BetAmount)
		return nil, err
	}

	log.WithFields(log.Fields{
		"challengeId": challengeID,
		"matchId":     match.ID,
	}).Info("Challenge accepted")

	return match, nil
}

func (s *challengeService) acceptAndCreateMatch(ctx context.Context, challenge *models.Challenge) (*models.Match, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	for _, address := range []string{challenge.Challenger, challenge.Opponent} {
		active, err := uow.MatchRepository().HasActiveMatch(ctx, address)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, fmt.Errorf("player %s is already in an active match", address)
		}
	}

	won, err := uow.ChallengeRepository().TransitionStatus(ctx, challenge.ID,
		models.ChallengeStatusPending, models.ChallengeStatusAccepted)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("challenge %s is no longer pending", challenge.ID)
	}

	now := time.Now()
	match := &models.Match{
		ID:              uuid.NewString(),
		Player1:         challenge.Challenger,
		Player2:         challenge.Opponent,
		BetAmount:       challenge.BetAmount,
		DurationSeconds: challenge.DurationSeconds,
		Status:          models.MatchStatusActive,
		StartTime:       now,
		EndTime:         now.Add(time.Duration(challenge.DurationSeconds) * time.Second),
	}
	if err := uow.MatchRepository().Create(ctx, match); err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.MatchFoundEvent{
		MatchID:         match.ID,
		Player1:         match.Player1,
		Player2:         match.Player2,
		BetAmount:       match.BetAmount,
		DurationSeconds: match.DurationSeconds,
	})

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	return match, nil
}

// Decline rejects a pending challenge and unfreezes the challenger's bet
func (s *challengeService) Decline(ctx context.Context, challengeID, decliner string) error {
	return s.closePending(ctx, challengeID, decliner, false)
}

// Cancel withdraws a pending challenge; only the challenger may cancel
func (s *challengeService) Cancel(ctx context.Context, challengeID, challenger string) error {
	return s.closePending(ctx, challengeID, challenger, true)
}

func (s *challengeService) closePending(ctx context.Context, challengeID, actor string, byChallenger bool) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	challenge, err := uow.ChallengeRepository().GetByID(ctx, challengeID)
	if err != nil {
		return err
	}
	if challenge == nil {
		return fmt.Errorf("challenge %s not found", challengeID)
	}

	to := models.ChallengeStatusDeclined
	if byChallenger {
		to = models.ChallengeStatusCanceled
		if challenge.Challenger != actor {
			return fmt.Errorf("only the challenger may cancel challenge %s", challengeID)
		}
	} else if challenge.Opponent != actor {
		return fmt.Errorf("player %s is not the challenged opponent", actor)
	}

	won, err := uow.ChallengeRepository().TransitionStatus(ctx, challengeID,
		models.ChallengeStatusPending, to)
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("challenge %s is no longer pending", challengeID)
	}

	if err := uow.Commit(); err != nil {
		return err
	}

	// Unfreeze after the transition is durable. A crash in between leaves
	// a frozen remainder that the reconciler releases.
	s.unfreezeBestEffort(ctx, challenge.Challenger, challenge.BetAmount)

	log.WithFields(log.Fields{
		"challengeId": challengeID,
		"status":      to,
	}).Info("Challenge closed")

	return nil
}

// ExpireStale expires pending challenges past their TTL, unfreezing the
// challengers' bets. Called from the settlement sweep.
func (s *challengeService) ExpireStale(ctx context.Context) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stale, err := uow.ChallengeRepository().GetExpiredPending(ctx, time.Now())
	uow.Rollback()
	if err != nil {
		return err
	}

	for _, challenge := range stale {
		if err := s.expireOne(ctx, challenge); err != nil {
			log.WithError(err).WithField("challengeId", challenge.ID).Error("Failed to expire challenge")
		}
	}

	return nil
}

func (s *challengeService) expireOne(ctx context.Context, challenge *models.Challenge) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	won, err := uow.ChallengeRepository().TransitionStatus(ctx, challenge.ID,
		models.ChallengeStatusPending, models.ChallengeStatusExpired)
	if err != nil {
		return err
	}
	if !won {
		// Accepted, declined or cancelled since the listing; nothing to do
		return nil
	}

	uow.EventBus().Publish(events.ChallengeExpiredEvent{
		ChallengeID: challenge.ID,
		Challenger:  challenge.Challenger,
		Opponent:    challenge.Opponent,
		BetAmount:   challenge.BetAmount,
	})

	if err := uow.Commit(); err != nil {
		return err
	}

	s.unfreezeBestEffort(ctx, challenge.Challenger, challenge.BetAmount)

	log.WithFields(log.Fields{
		"challengeId": challenge.ID,
		"challenger":  challenge.Challenger,
	}).Info("Challenge expired")

	return nil
}
