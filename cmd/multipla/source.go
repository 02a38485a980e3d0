package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mistrzunio/multipla-poc/media"
	"github.com/mistrzunio/multipla-poc/session"
)

// runSource plays the encoder role: it splits an Annex B file into
// encoded units and pushes them to the binder, looping over the file
// until the context is cancelled. Configuration units are sent
// immediately ahead of the frames they describe; frame units pace at the
// configured interval.
func runSource(ctx context.Context, binder *session.Binder, path string, interval time.Duration, log *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	units := media.SplitAnnexB(data)
	if len(units) == 0 {
		return fmt.Errorf("no units found in %s", path)
	}
	log.Info("source loaded", "path", path, "units", len(units))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, unit := range units {
			if !media.Kind(unit).IsConfig() {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
			if err := binder.Send(unit); err != nil {
				// No peer yet, or the peer just went away: skip the
				// unit and keep pacing.
				if errors.Is(err, session.ErrNoPeer) || errors.Is(err, session.ErrPeerGone) {
					continue
				}
				return fmt.Errorf("send unit: %w", err)
			}
		}
	}
}
