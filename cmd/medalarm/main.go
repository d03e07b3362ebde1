package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hray3182/MedAlarm/internal/ai"
	"github.com/hray3182/MedAlarm/internal/alarm"
	"github.com/hray3182/MedAlarm/internal/api"
	"github.com/hray3182/MedAlarm/internal/bot"
	"github.com/hray3182/MedAlarm/internal/bot/handlers"
	"github.com/hray3182/MedAlarm/internal/config"
	"github.com/hray3182/MedAlarm/internal/database"
	"github.com/hray3182/MedAlarm/internal/dispatcher"
	"github.com/hray3182/MedAlarm/internal/intent"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/hray3182/MedAlarm/internal/repository"
	"github.com/hray3182/MedAlarm/internal/tone"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medalarm",
	Short: "MedAlarm - daily medication alarms",
	Long: `MedAlarm rings an alarm at each medication's time of day until it is
marked taken, snoozed or dismissed, and mirrors every alarm as a Telegram
notification with action buttons.

Configuration is read from the environment and an optional .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"MedAlarm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MedAlarm version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the alarm scheduler, Telegram bot and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURI == "" {
			return errors.New("DATABASE_URI is required")
		}

		ctx := cmd.Context()
		db, err := database.New(ctx, cfg.DatabaseURI)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := db.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		fmt.Printf("✓ Applied %d migration(s)\n", applied)
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	return cfg, nil
}

// silentTone stands in for the tone generator when audio is disabled
type silentTone struct{}

func (silentTone) Start() error { return nil }
func (silentTone) Stop()        {}

func serve(parent context.Context, cfg *config.Config) error {
	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURI)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("Connected to database")

	if _, err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	medicationRepo := repository.NewMedicationRepository(db)
	intakeRepo := repository.NewIntakeRepository(db)
	if err := userRepo.Ensure(ctx, cfg.OwnerChatID); err != nil {
		return err
	}
	store := repository.NewStore(medicationRepo, intakeRepo, cfg.OwnerChatID)

	// Alarm tone
	var alarmTone alarm.Tone = silentTone{}
	if cfg.AudioEnabled {
		alarmTone = tone.New(tone.OpenOto, tone.DefaultPattern)
	} else {
		logger.Info().Msg("Audio disabled, alarms will be silent")
	}

	// Foreground and background share one intent bus
	bus := intent.NewBus(16)
	host := alarm.NewHost(store, alarmTone, bus, alarm.Config{
		CheckInterval: cfg.CheckInterval,
		RingTimeout:   cfg.RingTimeout,
		SnoozeMinutes: cfg.SnoozeMinutes,
	})

	// Telegram
	tgAPI, err := bot.NewAPI(cfg.TelegramToken)
	if err != nil {
		return err
	}
	permission := bot.NewPermission(tgAPI, cfg.OwnerChatID)
	notifier := bot.NewNotifier(tgAPI, cfg.OwnerChatID, permission)
	disp := dispatcher.New(bus.AttachBackground(), bus, notifier, permission, host)

	// Initialize AI client (optional)
	var parser handlers.MedicationParser
	if cfg.AIAPIKey != "" {
		parser = ai.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
		logger.Info().Str("model", cfg.AIModel).Msg("AI client initialized")
	} else {
		logger.Info().Msg("AI client not configured, free text entry disabled")
	}

	repos := &handlers.Repositories{
		User:       userRepo,
		Medication: medicationRepo,
		Intake:     intakeRepo,
	}
	h := handlers.New(tgAPI, repos, disp, parser, host, permission, cfg.OwnerChatID)
	b := bot.New(tgAPI, h)

	server := api.NewServer(host, permission, db.Pool, Version)

	// Resolved before the first check so an alarm due at startup reaches the
	// chat. Alarms ring regardless of the outcome.
	if perm, err := permission.RequestPermission(ctx); err != nil {
		logger.Warn().Err(err).Msg("Could not check notification permission")
	} else {
		logger.Info().Str("permission", string(perm)).Msg("Notification permission")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		disp.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		host.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("bot: %w", err)
		}
	}()

	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	logger.Info().Str("version", Version).Msg("MedAlarm started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down...")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Component failed, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown failed")
	}

	wg.Wait()
	return runErr
}
