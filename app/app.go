package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/db"
	"github.com/deemkeen/tusk/kv"
	"github.com/deemkeen/tusk/tasks"
	"github.com/deemkeen/tusk/util"
	"github.com/deemkeen/tusk/web"
)

// How often the delivery worker drains the outbound queue
const deliveryInterval = 10 * time.Second

// App represents the main application with all its servers and dependencies
type App struct {
	config     *util.AppConfig
	database   *db.DB
	markers    kv.Store
	queue      *tasks.Queue
	delivery   *activitypub.DeliveryWorker
	httpServer *http.Server
	cancel     context.CancelFunc
	done       chan os.Signal
}

// New creates a new App instance with the given configuration
func New(conf *util.AppConfig) (*App, error) {
	return &App{
		config: conf,
		done:   make(chan os.Signal, 1),
	}, nil
}

// Initialize opens the stores and wires the inbox engine, its background
// workers and the HTTP server together
func (a *App) Initialize() error {
	log.Println("Opening database...")
	database, err := db.Open(util.ResolveFilePath(a.config.Conf.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.database = database

	inbox := a.config.Inbox
	markerPath := util.ResolveFilePath(inbox.MarkerPath)
	log.Printf("Using %s marker store at %s", inbox.MarkerBackend, markerPath)
	markers, err := kv.Open(inbox.MarkerBackend, markerPath)
	if err != nil {
		database.Close()
		return fmt.Errorf("failed to open marker store: %w", err)
	}
	a.markers = markers

	a.queue = tasks.NewQueue(inbox.QueueDepth, inbox.Workers, inbox.TaskRetries)

	wrapper := activitypub.NewDBWrapper(database)
	fetcher := activitypub.NewRemoteFetcher(wrapper, activitypub.NewDefaultHTTPClient(inbox.FetchTimeout), a.config)
	engine := activitypub.NewEngine(a.config, activitypub.EngineDeps{
		Database: wrapper,
		Fetcher:  fetcher,
		Tasks:    a.queue,
		Markers:  markers,
	})
	engine.RegisterTasks(a.queue)

	a.delivery = activitypub.NewDeliveryWorker(wrapper, activitypub.NewDefaultHTTPClient(inbox.FetchTimeout), deliveryInterval)

	router := web.Router(a.config, database, &activitypub.InboxDeps{
		Database: wrapper,
		Accounts: fetcher,
		Engine:   engine,
	})
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.config.Conf.Host, a.config.Conf.HttpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// Start starts all workers and servers and blocks until a shutdown signal is received
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.queue.Start(ctx)

	if err := kv.StartSweeper(ctx, a.markers, a.config.Inbox.MarkerSweepCron); err != nil {
		cancel()
		return err
	}

	// Start ActivityPub delivery worker if enabled
	if a.config.Conf.WithAp {
		go a.delivery.Run(ctx)
	}

	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Starting HTTP server on %s", a.httpServer.Addr)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-a.done
	log.Println("Shutdown signal received")

	return a.Shutdown()
}

// Shutdown stops accepting requests, drains background tasks and closes the
// stores, giving up after 30 seconds
func (a *App) Shutdown() error {
	log.Println("Initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error

	// Stop accepting new activities first
	log.Println("Stopping HTTP server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		errs = append(errs, err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	// Let queued side effects finish before the stores go away
	log.Println("Draining background tasks...")
	if err := a.queue.Stop(ctx); err != nil {
		log.Printf("Task queue shutdown error: %v", err)
		errs = append(errs, err)
	}
	if a.cancel != nil {
		a.cancel()
	}

	if err := a.markers.Close(); err != nil {
		log.Printf("Marker store close error: %v", err)
		errs = append(errs, err)
	}
	if err := a.database.Close(); err != nil {
		log.Printf("Database close error: %v", err)
		errs = append(errs, err)
	}

	log.Println("All servers stopped")
	return errors.Join(errs...)
}
