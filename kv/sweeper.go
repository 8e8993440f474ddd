package kv

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adhocore/gronx"
)

// StartSweeper removes expired markers from store on the given cron schedule
// until ctx is cancelled
func StartSweeper(ctx context.Context, store Store, cronExpr string) error {
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("invalid marker sweep cron expression: %s", cronExpr)
	}
	log.Printf("Markers: Sweeper scheduled with cron %q", cronExpr)
	go runSweeper(ctx, store, cronExpr)
	return nil
}

func runSweeper(ctx context.Context, store Store, cronExpr string) {
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now(), false)
		if err != nil {
			log.Printf("Markers: Failed to compute next sweep: %v", err)
			next = time.Now().Add(time.Minute)
		}

		select {
		case <-ctx.Done():
			log.Println("Markers: Sweeper stopping")
			return
		case <-time.After(time.Until(next)):
		}

		removed, err := store.Sweep(time.Now())
		if err != nil {
			log.Printf("Markers: Sweep failed: %v", err)
			continue
		}
		if removed > 0 {
			log.Printf("Markers: Swept %d expired markers", removed)
		}
	}
}
