package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/extract"
	"github.com/nicktill/tixcondenser/pkg/ingest"
	"github.com/nicktill/tixcondenser/pkg/registry"
	"github.com/nicktill/tixcondenser/pkg/sender"
	"github.com/nicktill/tixcondenser/pkg/server"
	"github.com/nicktill/tixcondenser/pkg/server/monitor"
	"github.com/nicktill/tixcondenser/pkg/telemetry"
	"github.com/spf13/pflag"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Condenser failed: %v", err)
	}
}

// options are the command line overrides applied on top of the environment
type options struct {
	envFile     string
	storage     string
	reportsPath string
	port        string
	changed     func(name string) bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("condenser", pflag.ContinueOnError)
	flagSet.StringVar(&opts.envFile, "env-file", "", "load environment variables from this file before reading settings")
	flagSet.StringVar(&opts.storage, "storage", "", "storage backend: filesystem, badger or memory")
	flagSet.StringVar(&opts.reportsPath, "reports-path", "", "directory holding stored reports")
	flagSet.StringVar(&opts.port, "port", "", "HTTP listen port")
	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	opts.changed = flagSet.Changed
	return opts, nil
}

// settings loads the environment and applies the flags that were set.
func (o options) settings() (config.Settings, error) {
	var settings config.Settings
	if o.envFile != "" {
		settings = config.Load(o.envFile)
	} else {
		settings = config.Load()
	}
	if o.changed("storage") {
		settings.Storage = o.storage
	}
	if o.changed("reports-path") {
		settings.ReportsPath = o.reportsPath
	}
	if o.changed("port") {
		settings.Port = o.port
	}
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	settings, err := opts.settings()
	if err != nil {
		return err
	}

	log.Printf("Starting TIX condenser %s (storage=%s, reports=%s)", config.Version, settings.Storage, settings.ReportsPath)

	backend, err := server.OpenBackend(settings)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics observe the extractor, so the registry gauge is bound through a closure
	var reg *registry.Registry
	metrics := telemetry.New(func() int { return reg.Len() })
	reg = registry.New(backend, extract.NewDefault(metrics))
	if err := reg.Load(ctx); err != nil {
		return err
	}

	hub := server.NewHub()
	submissions := &monitor.SubmissionMonitor{}
	submitter := sender.NewKafkaSubmitter(sender.KafkaConfig{
		Brokers:  settings.KafkaBrokers,
		Topic:    settings.KafkaOutputTopic,
		Observer: &server.Notifier{Metrics: metrics, Monitor: submissions, Hub: hub},
	})
	defer submitter.Close()

	authorizer := ingest.NewAPIAuthorizer(nil, settings.APIHTTPS, settings.APIHost, settings.APIPort)
	log.Printf("Authorizing reports against %s", authorizer.APIPath())
	receiver := ingest.NewReceiver(ingest.SignatureValidator{}, authorizer, reg, submitter, metrics)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go server.RunBadgerGC(ctx, backend, &wg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Ship whatever a previous run left complete before taking new reports
	reconciled := make(chan error, 1)
	go func() {
		_, err := server.Reconcile(ctx, reg, submitter)
		reconciled <- err
	}()
	select {
	case err := <-reconciled:
		if err != nil {
			log.Printf("Reconcile stopped: %v", err)
		}
	case sig := <-quit:
		log.Printf("Shutdown signal received during reconcile (%v)...", sig)
		cancel()
		<-reconciled
		wg.Wait()
		return nil
	}

	consumer := ingest.NewConsumer(ingest.ConsumerConfig{
		Brokers: settings.KafkaBrokers,
		Topic:   settings.KafkaInputTopic,
		GroupID: settings.KafkaGroup,
	}, receiver)
	consumerErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer consumer.Close()
		log.Printf("Consuming %s as group %s", settings.KafkaInputTopic, settings.KafkaGroup)
		consumerErr <- consumer.Run(ctx)
	}()

	var storageMonitor *monitor.StorageMonitor
	if settings.Storage != config.StorageMemory {
		storageMonitor = monitor.NewStorageMonitor(settings.ReportsPath, config.StorageUsageCacheTime)
	}

	srv := &http.Server{
		Addr: ":" + settings.Port,
		Handler: server.NewRouter(server.Deps{
			Registry:    reg,
			Receiver:    receiver,
			Storage:     storageMonitor,
			Submissions: submissions,
			Hub:         hub,
			Metrics:     metrics,
		}),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Server listening on :%s", settings.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case sig := <-quit:
		log.Printf("Shutdown signal received (%v)...", sig)
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	case err := <-consumerErr:
		if err != nil {
			runErr = fmt.Errorf("consumer stopped: %w", err)
		}
	}

	// Cancel first so background loops return before wg.Wait
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("TIX condenser exited")
	return runErr
}
