package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/FlowRouter/internal/api"
	"github.com/BTreeMap/FlowRouter/internal/events"
	"github.com/BTreeMap/FlowRouter/internal/flow"
	"github.com/BTreeMap/FlowRouter/internal/genai"
	"github.com/BTreeMap/FlowRouter/internal/messaging"
	"github.com/BTreeMap/FlowRouter/internal/router"
	"github.com/BTreeMap/FlowRouter/internal/scheduler"
	"github.com/BTreeMap/FlowRouter/internal/state"
	"github.com/BTreeMap/FlowRouter/internal/store"
	"github.com/BTreeMap/FlowRouter/internal/twiliowa"
	"github.com/BTreeMap/FlowRouter/internal/whatsapp"
)

const (
	// DefaultStateDir is the default directory for FlowRouter state data.
	DefaultStateDir = "/var/lib/flowrouter"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "flowrouter.db"
)

// Config holds environment configuration.
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	Backend     string
	SweepCron   string
}

// Flags holds command line flag values.
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	apiAddr   *string
	backend   *string
	sweepCron *string
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(config, flags); err != nil {
		slog.Error("FlowRouter failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FlowRouter exited")
}

func run(config Config, flags Flags) error {
	durable, err := buildDurableStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer durable.Close()

	bus := events.NewAsyncBus()
	defer bus.Stop()
	bus.Subscribe(events.LogBus{}.Emit)

	states := state.New(durable, bus, state.DefaultConfig())
	defer states.Shutdown()

	engine := flow.NewEngine(states)

	var ai router.TextGenerator
	if client, err := genai.NewClient(genai.WithAPIKey(config.OpenAIKey)); err != nil {
		slog.Warn("AI fallback disabled", "error", err)
	} else {
		ai = client
	}

	rt := router.New(engine, ai, router.DefaultConfig())

	svc, twilioSvc, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	defer svc.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	dispatcher := messaging.NewDispatcher(svc, rt, states, engine)
	dispatcher.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleShadowSweep(*flags.sweepCron, states); err != nil {
		return err
	}

	server := api.NewServer(states, api.Opts{Addr: *flags.apiAddr, Twilio: twilioSvc})
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	cancel()
	dispatcher.Wait()
	return nil
}

func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("FLOWROUTER_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		Backend:     os.Getenv("MESSAGING_BACKEND"),
		SweepCron:   os.Getenv("SWEEP_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Backend == "" {
		config.Backend = "whatsapp"
	}
	if config.SweepCron == "" {
		config.SweepCron = scheduler.DefaultSweepSchedule
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("no DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_BACKEND", config.Backend)

	return config
}

func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for FlowRouter data (overrides $FLOWROUTER_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for conversation state (overrides $DATABASE_URL)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "HTTP server address (overrides $API_ADDR)"),
		backend:   flag.String("backend", config.Backend, "messaging backend: whatsapp or twilio (overrides $MESSAGING_BACKEND)"),
		sweepCron: flag.String("sweep-cron", config.SweepCron, "cron schedule for the shadow sweep (overrides $SWEEP_SCHEDULE)"),
	}
	flag.Parse()

	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	return flags
}

func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func buildDurableStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("using PostgreSQL conversation store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Info("using SQLite conversation store", "path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildMessagingService selects the delivery channel. The Twilio service is
// returned separately so the API server can mount its webhook.
func buildMessagingService(flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	if *flags.backend == "twilio" {
		client, err := twiliowa.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	}

	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if dsn := os.Getenv("WHATSAPP_DB_DSN"); dsn != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(dsn))
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	return messaging.NewWhatsAppService(client), nil, nil
}
