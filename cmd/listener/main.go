// File: cmd/listener/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/smartdevs17/solana-mint-listener/internal/config"
	"github.com/smartdevs17/solana-mint-listener/internal/connection"
	"github.com/smartdevs17/solana-mint-listener/internal/enrichment"
	"github.com/smartdevs17/solana-mint-listener/internal/hub"
	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/monitor"
	"github.com/smartdevs17/solana-mint-listener/internal/processor"
	"github.com/smartdevs17/solana-mint-listener/internal/relay"
	"github.com/smartdevs17/solana-mint-listener/internal/server"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

const (
	shutdownTimeout     = 30 * time.Second
	healthCheckInterval = 30 * time.Second
)

// Application wires the listener pipeline:
// log subscription -> processor (detect, enrich) -> hub -> streams and relays
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Manager
	connection *connection.ConnectionManager
	client     *connection.SolanaClient
	hub        *hub.Hub
	processor  *processor.EventProcessor
	monitor    *monitor.EventMonitor
	relay      *relay.Relay
	server     *server.HTTPServer
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	if err := app.initializeLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if app.config.App.Debug {
		logCfg.Level = "debug"
	}

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")
	return nil
}

// initializeComponents builds every component leaf first
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")
	cfg := app.config

	app.metrics = metrics.NewManager()

	app.connection = connection.NewConnectionManager(&cfg.Solana)
	app.connection.SetMetricsManager(app.metrics)
	app.client = connection.NewSolanaClient(app.connection)

	detector := monitor.NewDetector(app.client, cfg.Solana.InstructionMarker)
	detector.SetMetricsManager(app.metrics)

	dasClient, err := enrichment.NewClient(cfg.Helius.DASURL, enrichment.ClientConfig{
		Timeout: cfg.Enrichment.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create DAS client: %w", err)
	}
	enricher := enrichment.NewEnricher(dasClient,
		enrichment.WithPlaceholderImage(cfg.Enrichment.PlaceholderImage),
		enrichment.WithLimiter(connection.NewLimiter(cfg.Enrichment.RequestsPerSecond)),
		enrichment.WithMetrics(app.metrics),
	)

	app.hub = hub.New(cfg.Hub.BufferSize)
	app.hub.SetMetricsManager(app.metrics)

	app.processor = processor.NewEventProcessor(detector, enricher, app.hub, &processor.ProcessorConfig{
		MaxConcurrentProcessing: cfg.Processor.MaxConcurrentProcessing,
		QueueSize:               cfg.Processor.QueueSize,
		ProcessingTimeout:       cfg.Processor.ProcessingTimeout,
		DedupSize:               cfg.Processor.DedupSize,
	})
	app.processor.SetMetricsManager(app.metrics)

	app.monitor = monitor.NewEventMonitor(app.client, app.processor.Submit, &monitor.MonitorConfig{
		ProgramID:           cfg.Solana.ProgramID,
		ReconnectBackoffMax: cfg.Solana.ReconnectBackoffMax,
	})
	app.monitor.SetMetricsManager(app.metrics)

	if err := app.initializeRelay(); err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}

	app.server, err = server.NewHTTPServer(&server.ServerConfig{
		Port:            cfg.Server.Port,
		Host:            cfg.Server.Host,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		EnableMetrics:   cfg.Server.EnableMetrics,
		EnableHealth:    cfg.Server.EnableHealth,
		StreamKeepAlive: cfg.Server.StreamKeepAlive,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Version:         AppVersion,
	}, app.hub, app.monitor, app.processor, app.connection, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeRelay builds the optional outbound sinks
func (app *Application) initializeRelay() error {
	var sinks []relay.Sink
	relayCfg := app.config.Relay

	if relayCfg.Kafka.Enabled {
		sink, err := relay.NewKafkaSink(relayCfg.Kafka.Brokers, relayCfg.Kafka.Topic, nil)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}

	if relayCfg.Webhook.Enabled {
		sink, err := relay.NewWebhookSink(&relay.WebhookConfig{
			URL:           relayCfg.Webhook.URL,
			Headers:       relayCfg.Webhook.Headers,
			Timeout:       relayCfg.Webhook.Timeout,
			RetryAttempts: relayCfg.Webhook.RetryAttempts,
			RetryDelay:    relayCfg.Webhook.RetryDelay,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}

	if len(sinks) > 0 {
		app.relay = relay.NewRelay(app.hub, sinks...)
		app.relay.SetMetricsManager(app.metrics)
	}
	return nil
}

// Run starts the pipeline and blocks until ctx is cancelled, then shuts down
func (app *Application) Run(ctx context.Context) error {
	app.logger.WithFields(logrus.Fields{
		"version":    AppVersion,
		"program_id": app.config.Solana.ProgramID,
		"rpc_url":    connection.RedactURL(app.config.Solana.RPCURL),
	}).Info("Starting Solana mint listener")

	checkCtx, cancel := context.WithTimeout(ctx, app.config.Solana.RequestTimeout)
	if err := app.connection.HealthCheckWithContext(checkCtx); err != nil {
		app.logger.WithError(err).Warn("Initial RPC health check failed, continuing")
	}
	cancel()

	// The processor and relay ignore ctx cancellation and drain in Stop
	if err := app.processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}
	if app.relay != nil {
		if err := app.relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
	}
	if err := app.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	if err := app.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	app.logger.Info("Solana mint listener started successfully")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.healthLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.Stop()
	})
	return g.Wait()
}

// healthLoop probes the RPC endpoint periodically so health reflects reality
func (app *Application) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, app.config.Solana.RequestTimeout)
			if err := app.connection.HealthCheckWithContext(checkCtx); err != nil {
				app.logger.WithError(err).Warn("RPC health check failed")
			}
			cancel()
		}
	}
}

// Stop shuts the pipeline down from the edge inwards so queued events still reach the relays
func (app *Application) Stop() error {
	app.logger.Info("Stopping Solana mint listener")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.server.Stop(ctx); err != nil {
		app.logger.WithError(err).Error("Failed to stop HTTP server")
	}
	if err := app.monitor.Stop(); err != nil {
		app.logger.WithError(err).Error("Failed to stop monitor")
	}
	if err := app.processor.Stop(); err != nil {
		app.logger.WithError(err).Error("Failed to stop processor")
	}
	app.hub.Close()
	if app.relay != nil {
		if err := app.relay.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop relay")
		}
	}
	if err := app.connection.Close(); err != nil {
		app.logger.WithError(err).Error("Failed to close connection")
	}

	app.logger.Info("Solana mint listener stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "solana-mint-listener",
	Short:   "Solana pump.fun mint listener",
	Long:    `Streams newly created pump.fun token mints, enriched with DAS metadata, to SSE and websocket subscribers.`,
	Version: AppVersion,
	RunE:    runListener,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runListener is the main command to run the listener
func runListener(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Solana Mint Listener %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Program: %s\n", cfg.Solana.ProgramID)
		fmt.Printf("RPC: %s\n", connection.RedactURL(cfg.Solana.RPCURL))
		fmt.Printf("Websocket: %s\n", connection.RedactURL(cfg.Solana.WSURL))
		fmt.Printf("Kafka relay: %t, webhook relay: %t\n", cfg.Relay.Kafka.Enabled, cfg.Relay.Webhook.Enabled)
		return nil
	},
}

// testCmd checks provider connectivity
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test provider connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Solana.RequestTimeout)
		defer cancel()

		conn := connection.NewConnectionManager(&cfg.Solana)
		defer conn.Close()

		fmt.Printf("Testing RPC endpoint %s...\n", connection.RedactURL(cfg.Solana.RPCURL))
		if err := conn.HealthCheckWithContext(ctx); err != nil {
			return fmt.Errorf("RPC health check failed: %w", err)
		}
		fmt.Println("✓ RPC endpoint healthy")

		fmt.Printf("Testing websocket endpoint %s...\n", connection.RedactURL(cfg.Solana.WSURL))
		stream, err := connection.NewSolanaClient(conn).SubscribeLogs(ctx, cfg.Solana.ProgramID)
		if err != nil {
			return fmt.Errorf("log subscription failed: %w", err)
		}
		stream.Close()
		fmt.Println("✓ Log subscription successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
