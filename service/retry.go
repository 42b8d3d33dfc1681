package service

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// maxVersionRetries bounds the optimistic concurrency retry loop. Conflicts
// are expected to be rare and short-lived; a persistent conflict indicates a
// hot account and is surfaced rather than spun on.
const maxVersionRetries = 5

// withVersionRetry runs fn, re-running it from scratch whenever it loses an
// optimistic concurrency race. fn must re-read all state it mutates on every
// attempt.
func withVersionRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxVersionRetries; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}

		log.WithFields(log.Fields{
			"operation": op,
			"attempt":   attempt,
		}).Debug("Retrying after account version conflict")

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: gave up after %d version conflicts: %w", op, maxVersionRetries, err)
}
