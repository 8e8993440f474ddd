package activitypub

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"golang.org/x/time/rate"
)

// Delay before the nth retry of a failed delivery
var deliveryBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
	1440 * time.Minute,
}

const (
	maxDeliveryAttempts = 10
	deliveryBatchSize   = 50
	perHostRate         = rate.Limit(2)
	perHostBurst        = 5
)

// DeliveryWorker drains the outbound delivery queue
type DeliveryWorker struct {
	db       Database
	client   HTTPClient
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDeliveryWorker creates a worker polling the queue every interval
func NewDeliveryWorker(database Database, client HTTPClient, interval time.Duration) *DeliveryWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &DeliveryWorker{
		db:       database,
		client:   client,
		interval: interval,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run processes the queue until ctx is cancelled
func (w *DeliveryWorker) Run(ctx context.Context) {
	log.Println("Starting ActivityPub delivery worker...")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("DeliveryWorker: Stopped")
			return
		case <-ticker.C:
			w.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue attempts every due delivery once and returns how many succeeded
func (w *DeliveryWorker) ProcessQueue(ctx context.Context) int {
	items, err := w.db.ReadPendingDeliveries(deliveryBatchSize)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}
	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(items))

	delivered := 0
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		item := &items[i]
		if err := w.deliver(ctx, item); err != nil {
			w.retryLater(item, err)
			continue
		}
		deliveriesTotal.WithLabelValues("delivered").Inc()
		delivered++
		if err := w.db.DeleteDelivery(item.Id); err != nil {
			log.Printf("DeliveryWorker: Failed to remove delivered item %s: %v", item.Id, err)
		}
	}
	return delivered
}

func (w *DeliveryWorker) deliver(ctx context.Context, item *domain.DeliveryQueueItem) error {
	signer, err := w.db.ReadAccountById(item.AccountId)
	if err != nil {
		return fmt.Errorf("failed to read signer: %w", err)
	}
	if signer == nil || signer.PrivateKeyPem == "" {
		return fmt.Errorf("no signing key for account %s", item.AccountId)
	}
	if err := w.limiter(util.HostOf(item.InboxURI)).Wait(ctx); err != nil {
		return err
	}
	return SendActivity(ctx, w.client, []byte(item.ActivityJSON), item.InboxURI, signer)
}

// retryLater schedules the next attempt or gives up
func (w *DeliveryWorker) retryLater(item *domain.DeliveryQueueItem, cause error) {
	item.Attempts++
	if item.Attempts >= maxDeliveryAttempts {
		deliveriesTotal.WithLabelValues("abandoned").Inc()
		log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
		if err := w.db.DeleteDelivery(item.Id); err != nil {
			log.Printf("DeliveryWorker: Failed to remove abandoned item %s: %v", item.Id, err)
		}
		return
	}

	deliveriesTotal.WithLabelValues("failed").Inc()
	backoff := deliveryBackoff[min(item.Attempts-1, len(deliveryBackoff)-1)]
	item.NextRetryAt = w.now().Add(backoff)
	log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %s: %v",
		item.InboxURI, item.Attempts, backoff, cause)
	if err := w.db.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt); err != nil {
		log.Printf("DeliveryWorker: Failed to reschedule %s: %v", item.Id, err)
	}
}

// limiter returns the rate limiter of a remote host
func (w *DeliveryWorker) limiter(host string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[host]
	if !ok {
		l = rate.NewLimiter(perHostRate, perHostBurst)
		w.limiters[host] = l
	}
	return l
}
