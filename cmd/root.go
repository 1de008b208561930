package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"adforge/internal/app"
	"adforge/internal/config"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// loadConfig is swapped in tests.
var loadConfig = config.LoadConfig

// activeApp is closed after the command returns, whatever the outcome.
var activeApp *app.App

var rootCmd = &cobra.Command{
	Use:   "adforge",
	Short: "Generate AI ad campaigns from product photos",
	Long: `adforge turns a handful of product reference images into a multi-shot ad
campaign: a scenario from a generative model, then one image per shot rendered
through a bounded generation queue.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand is given, print help.
		cmd.Help()
	},
	// PersistentPreRunE runs before any subcommand's RunE
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "help", "version", "doctor", "completion":
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyLogLevel(cfg.Log.Level)

		appInstance, err := app.NewApp(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		activeApp = appInstance

		// Store the app instance in the command's context
		ctx := context.WithValue(cmd.Context(), appKey, appInstance)
		cmd.SetContext(ctx)
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context; in-flight shots are allowed to settle before exit.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func closeApp() {
	if activeApp != nil {
		activeApp.Close()
		activeApp = nil
	}
}

func applyLogLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// Define a custom type for the context key to avoid collisions.
type contextKey string

const appKey contextKey = "app"

// GetAppFromContext retrieves the app instance stored by PersistentPreRunE.
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		// This should not happen if PersistentPreRunE ran successfully
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}
