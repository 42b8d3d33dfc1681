package cmd

import (
	"context"
	"fmt"
	"time"

	"solduel/config"
	"solduel/database"
	"solduel/events"
	"solduel/notifier"
	"solduel/repository"
	"solduel/service"
	"solduel/solana"

	log "github.com/sirupsen/logrus"
)

// Run initializes and starts the application
func Run(ctx context.Context) error {
	log.Info("Starting solduel...")

	cfg := config.Get()

	log.Info("Connecting to database...")
	db, err := database.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	eventBus := events.NewBus()
	uowFactory := repository.NewUnitOfWorkFactory(db, eventBus)

	log.Info("Connecting to Solana RPC...")
	chain, err := solana.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize Solana client: %w", err)
	}

	presence := service.NewMemoryPresence()
	snapshots := service.NewMemorySnapshots()

	ledgerService := service.NewLedgerService(uowFactory, chain, chain)
	matchmakingService := service.NewMatchmakingService(uowFactory, ledgerService, presence)
	ledgerService.SetQueuedBetSource(matchmakingService.QueuedBetTotal)
	challengeService := service.NewChallengeService(uowFactory, ledgerService)
	settlementService := service.NewSettlementService(
		uowFactory, ledgerService, challengeService, snapshots, presence,
		service.NewNoopAchievements())

	// Forward domain events to the realtime layer when NATS is configured
	if cfg.NATSURL != "" {
		log.Info("Connecting to NATS...")
		natsClient := notifier.NewNATSClient(cfg.NATSURL)
		if err := natsClient.Connect(); err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()
		notifier.NewNotifier(natsClient).SubscribeAll(eventBus)
	} else {
		log.Warn("NATS_URL not set, domain events stay in-process")
	}

	go matchmakingService.Run(ctx)
	go settlementService.Run(ctx)
	go runReconciler(ctx, ledgerService, cfg.ReconcileInterval)

	log.WithField("environment", cfg.Environment).Info("solduel is running")
	<-ctx.Done()

	log.Info("Shutting down...")
	time.Sleep(1 * time.Second) // let in-flight settles finish their commits
	return nil
}

// runReconciler periodically heals frozen balance drift left behind by
// crashes that lost in-memory queue state
func runReconciler(ctx context.Context, ledger service.LedgerService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval).Info("Frozen balance reconciler started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Frozen balance reconciler stopped")
			return
		case <-ticker.C:
			if err := ledger.ReconcileAllFrozen(ctx); err != nil {
				log.WithError(err).Error("Frozen balance reconciliation failed")
			}
		}
	}
}
