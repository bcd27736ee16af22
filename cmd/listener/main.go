package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modwatch/modlog-listener/internal/config"
	"github.com/modwatch/modlog-listener/internal/ingest"
	"github.com/modwatch/modlog-listener/internal/metrics"
	"github.com/modwatch/modlog-listener/internal/notification"
	"github.com/modwatch/modlog-listener/internal/parser"
	"github.com/modwatch/modlog-listener/internal/server"
	"github.com/modwatch/modlog-listener/internal/store"
	"github.com/modwatch/modlog-listener/internal/upstream"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config         *config.Config
	logger         *logrus.Logger
	store          store.Store
	rawStore       *store.RawStore
	engine         *ingest.Engine
	notifier       notification.Notifier
	server         *server.HTTPServer
	metricsManager *metrics.Manager
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metricsManager = metrics.NewManager()

	if err := app.initializeStore(); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := app.initializeNotification(); err != nil {
		return fmt.Errorf("failed to initialize notification: %w", err)
	}

	if err := app.initializeEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStore initializes the record store and optional raw store
func (app *Application) initializeStore() error {
	app.logger.Info("Initializing store")

	storeCfg := &store.StoreConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	}

	st, err := store.NewStore(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := st.Connect(); err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}

	// An unsupported schema version must stop the process here, not
	// loop as a per-cycle error. The engine initializes fresh stores.
	if _, err := st.IsInitialized(app.ctx); err != nil {
		st.Close()
		return fmt.Errorf("store refused: %w", err)
	}

	app.store = st

	if app.config.Storage.SaveRaw {
		raw := store.NewRawStore(app.config.Storage.RawDBFile)
		if err := raw.Connect(); err != nil {
			return fmt.Errorf("failed to connect to raw store: %w", err)
		}
		app.rawStore = raw
	}

	app.logger.Info("Store initialized successfully")
	return nil
}

// initializeNotification initializes the notification manager
func (app *Application) initializeNotification() error {
	app.logger.Info("Initializing notification manager")

	notifyCfg := &notification.ManagerConfig{
		Channel:        app.config.Notifications.Channel,
		MatrixServer:   app.config.Notifications.MatrixServer,
		MatrixRoomID:   app.config.Notifications.MatrixRoomID,
		MatrixToken:    app.config.Notifications.MatrixToken,
		SendTimeout:    app.config.Notifications.SendTimeout,
		RetryAttempts:  app.config.Notifications.RetryAttempts,
		RetryDelay:     app.config.Notifications.RetryDelay,
		MinSendSpacing: app.config.Notifications.MinSendSpacing,
	}

	notifier, err := notification.NewManager(notifyCfg)
	if err != nil {
		return fmt.Errorf("failed to create notification manager: %w", err)
	}
	if err := notifier.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start notification manager: %w", err)
	}

	app.notifier = notifier
	app.logger.Info("Notification manager initialized successfully")
	return nil
}

// initializeEngine initializes the reconciliation engine
func (app *Application) initializeEngine() error {
	app.logger.Info("Initializing reconciliation engine")

	convert, err := parser.ForMode(app.config.Upstream.Mode)
	if err != nil {
		return fmt.Errorf("failed to select converter: %w", err)
	}

	client := upstream.NewClient(&upstream.ClientConfig{
		RequestTimeout: app.config.Upstream.RequestTimeout,
		RetryAttempts:  app.config.Upstream.RetryAttempts,
		RetryDelay:     app.config.Upstream.RetryDelay,
		UserAgent:      app.config.Upstream.UserAgent,
	})

	engineCfg := &ingest.EngineConfig{
		FeedURL:         app.config.Upstream.URL(),
		CursorParam:     app.config.Upstream.CursorParam,
		SupportsCursor:  parser.SupportsCursor(app.config.Upstream.Mode),
		ExcludedActions: app.config.Ingest.ExcludedActions,
	}

	var rawSaver ingest.RawSaver
	if app.rawStore != nil {
		rawSaver = app.rawStore
	}

	app.engine = ingest.NewEngine(engineCfg, client, app.store, convert, rawSaver,
		app.metricsManager.GetPrometheusMetrics())

	app.logger.WithFields(logrus.Fields{
		"mode":     app.config.Upstream.Mode,
		"save_raw": app.config.Storage.SaveRaw,
	}).Info("Reconciliation engine initialized successfully")
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	if !app.config.Server.Enabled {
		return nil
	}
	app.logger.Info("Initializing HTTP server")

	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
	}

	app.server = server.NewHTTPServer(serverCfg, app.store, app.engine, app.notifier)
	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
		"mode":        app.config.Upstream.Mode,
	}).Info("Starting modlog listener")

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	app.wg.Add(1)
	go app.pollLoop()

	app.logger.WithFields(logrus.Fields{
		"poll_interval": app.config.Ingest.PollInterval,
	}).Info("Modlog listener started successfully")
	return nil
}

// pollLoop runs reconciliation cycles separated by the idle interval.
// The loop owns the store exclusively; a shutdown signal interrupts the
// idle sleep promptly.
func (app *Application) pollLoop() {
	defer app.wg.Done()

	for {
		app.runOneCycle()
		app.metricsManager.UpdateSystemMetrics()

		select {
		case <-time.After(app.config.Ingest.PollInterval):
		case <-app.ctx.Done():
			return
		}
	}
}

// runOneCycle runs one reconciliation cycle and forwards new records to
// the notification sink. No single bad cycle terminates the loop.
func (app *Application) runOneCycle() {
	defer func() {
		if r := recover(); r != nil {
			app.logger.WithField("panic", r).Error("Reconciliation cycle panicked")
		}
	}()

	records, err := app.engine.RunCycle(app.ctx)
	if err != nil {
		app.logger.WithField("error", err.Error()).Error("Reconciliation cycle failed")
		return
	}

	if !app.config.Notifications.Enabled {
		return
	}

	prom := app.metricsManager.GetPrometheusMetrics()
	for i := range records {
		line := records[i].FormatLine()
		if err := app.notifier.Send(app.ctx, line); err != nil {
			app.logger.WithFields(logrus.Fields{
				"id":    records[i].ID,
				"error": err.Error(),
			}).Error("Failed to deliver notification")
			prom.NotificationFailuresTotal.Inc()
			continue
		}
		prom.NotificationsSentTotal.Inc()
	}
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping modlog listener")

	app.cancel()
	app.wg.Wait()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop HTTP server")
		}
	}

	if app.notifier != nil {
		if err := app.notifier.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop notification manager")
		}
	}

	if app.rawStore != nil {
		if err := app.rawStore.Close(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to close raw store")
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to close store")
		}
	}

	app.logger.Info("Modlog listener stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "modlog-listener",
	Short:   "Moderation log mirror and notifier",
	Long:    `Polls an upstream moderation log, mirrors it into a local deduplicated store, and forwards newly observed entries to a notification sink.`,
	Version: AppVersion,
	RunE:    runListener,
}

// runListener is the main command to run the listener
func runListener(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("modlog-listener %s\n", AppVersion)
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
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Upstream mode: %s\n", cfg.Upstream.Mode)
		fmt.Printf("Feed URL: %s\n", cfg.Upstream.URL())
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Notification channel: %s\n", cfg.Notifications.Channel)

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		fmt.Println("Testing modlog listener connectivity...")

		fmt.Printf("Testing upstream fetch from %s...\n", cfg.Upstream.URL())
		client := upstream.NewClient(&upstream.ClientConfig{
			RequestTimeout: cfg.Upstream.RequestTimeout,
			RetryAttempts:  0,
			RetryDelay:     cfg.Upstream.RetryDelay,
			UserAgent:      cfg.Upstream.UserAgent,
		})
		if _, err := client.Fetch(cmd.Context(), cfg.Upstream.URL()); err != nil {
			return fmt.Errorf("failed to fetch upstream feed: %w", err)
		}
		fmt.Println("✓ Upstream fetch successful")

		fmt.Printf("Testing store connection (%s)...\n", cfg.Storage.Type)
		st, err := store.NewStore(&store.StoreConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		if err := st.Connect(); err != nil {
			return fmt.Errorf("failed to connect to store: %w", err)
		}
		defer st.Close()
		if _, err := st.IsInitialized(cmd.Context()); err != nil {
			return fmt.Errorf("store refused: %w", err)
		}
		fmt.Println("✓ Store connection successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

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
