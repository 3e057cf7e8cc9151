package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"MetaChat/internal/backend"
	"MetaChat/internal/chatbot"
	"MetaChat/internal/config"
	"MetaChat/internal/store"
	"MetaChat/internal/telemetry"
	"MetaChat/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to a TOML config file")

	// flag defaults are placeholders; only flags the user sets override the file
	endpoint := flag.String("endpoint", config.DefaultEndpoint, "Chat endpoint URL")
	model := flag.String("model", config.DefaultModel, "Model identifier sent with each request")
	dbPath := flag.String("db", config.DefaultDBPath, "SQLite database holding the API key")
	logDir := flag.String("log-dir", config.DefaultLogDir, "Directory for log, trace and metric files")
	remote := flag.Bool("remote", false, "Start with the remote endpoint instead of the simulated responder")
	delay := flag.Int("delay", int(config.DefaultSimulatedDelay.Milliseconds()), "Simulated responder delay in milliseconds")
	markdown := flag.Bool("markdown", false, "Render replies as markdown")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Endpoint = *endpoint
		case "model":
			cfg.Model = *model
		case "db":
			cfg.DBPath = *dbPath
		case "log-dir":
			cfg.LogDir = *logDir
		case "remote":
			cfg.Responder = config.ResponderSimulated
			if *remote {
				cfg.Responder = config.ResponderRemote
			}
		case "delay":
			cfg.SimulatedDelayMS = *delay
		case "markdown":
			cfg.Markdown = *markdown
		case "debug":
			cfg.Debug = *debug
		}
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx := context.Background()
	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown", "error", err)
		}
	}()

	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var ctrl *chatbot.Controller
	remoteResponder := backend.NewRemote(cfg.Endpoint, cfg.Model,
		backend.CredentialFunc(func() string { return ctrl.Credential() }),
		backend.WithLogger(logger),
		backend.WithTelemetry(tracer, meter),
	)

	ctrl = chatbot.New(chatbot.Options{
		Store:        db,
		Simulated:    backend.NewSimulated(cfg.SimulatedDelay()),
		Remote:       remoteResponder,
		UseSimulated: cfg.UseSimulated(),
		Logger:       logger,
		Tracer:       tracer,
		Meter:        meter,
	})
	ctrl.Start(ctx)

	logger.Info("starting",
		slog.String("session_id", ctrl.SessionID()),
		slog.String("endpoint", cfg.Endpoint),
		slog.String("responder", cfg.Responder),
		slog.Bool("credential_loaded", ctrl.Ready()),
	)

	p := tea.NewProgram(ui.NewApp(ctrl, cfg.Markdown), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}

	logger.Info("exiting", slog.String("session_id", ctrl.SessionID()))
	return nil
}
