// Command capture-gateway keeps a Bluetooth link to the capture camera,
// stores the images it sends and serves status and settings over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/capture-gateway/internal/api"
	"github.com/chaz8081/capture-gateway/internal/ble"
	"github.com/chaz8081/capture-gateway/internal/capture"
	"github.com/chaz8081/capture-gateway/internal/config"
	"github.com/chaz8081/capture-gateway/internal/metrics"
	"github.com/chaz8081/capture-gateway/internal/session"
	"github.com/chaz8081/capture-gateway/internal/settings"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/capture-gateway/config.yaml)")
	writeDefault := flag.Bool("write-config", false, "write the default config file and exit")
	flag.Parse()

	if *writeDefault {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
	log.Println("Goodbye!")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Capture storage
	files, err := capture.NewFileStore(cfg.Storage.ImageDir)
	if err != nil {
		return err
	}

	repo, err := capture.NewPostgresRepository(cfg.Storage.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	log.Printf("Storage ready (images: %s)", files.Root())

	var pub capture.Publisher
	if cfg.NATS.URL != "" {
		nc, err := connectNATS(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain()
		pub = capture.NewNATSPublisher(nc, cfg.NATS.Subject)
		log.Printf("Publishing capture events to %s", cfg.NATS.Subject)
	}

	archive := capture.NewArchive(files, repo, pub)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, session.StateNames())

	// Session
	queue := settings.NewQueue(cfg.SettingsPolicy(), cfg.InitialSettings())
	sess := session.New(ble.NewBluetoothAdapter(), archive, queue, m, cfg.SessionOptions())

	// HTTP API
	server := api.NewRESTServer(sess, archive, api.Options{
		ImageDir:    files.Root(),
		ImagePrefix: cfg.Storage.ImagePrefix,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := sess.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := server.ListenAndServe(cfg.API.Listen)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Printf("Ready! API on %s. Ctrl+C to quit.", cfg.API.Listen)
	return g.Wait()
}

func connectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("capture-gateway"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("[STORE] NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("[STORE] NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	events := cfg.NATS.URL
	if events == "" {
		events = "disabled"
	}
	fmt.Println("=== capture-gateway ===")
	fmt.Printf("  Device:   %s\n", strings.Join(cfg.Device.Names, ", "))
	fmt.Printf("  Images:   %s\n", cfg.Storage.ImageDir)
	fmt.Printf("  Schedule: every %ds, batch at %d%%\n", cfg.Settings.InitialFrequency, cfg.Settings.InitialThreshold)
	fmt.Printf("  API:      %s\n", cfg.API.Listen)
	fmt.Printf("  NATS:     %s\n", events)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("=======================")
}
