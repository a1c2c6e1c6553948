package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/repform/internal/config"
	"github.com/andresmejia3/repform/internal/store"
	"github.com/andresmejia3/repform/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// DB is the global store shared by subcommands
	DB store.Store
	// Cfg is the resolved configuration (file, env, flags)
	Cfg *config.Config
	// Log is the structured logger shared by subcommands and the pipeline
	Log *logrus.Logger

	v          = config.New()
	configPath string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "repform",
	Short:   "Exercise video pose normalization & rep segmentation",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(v, configPath); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		var err error
		if Cfg, err = config.Load(v); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if Log, err = utils.NewLogger(os.Stderr, Cfg.LogLevel, Cfg.LogFormat); err != nil {
			return fmt.Errorf("invalid logging configuration: %w", err)
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.Open(cmd.Context(), Cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to close the connection cleanly.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: ./repform.yaml or ~/.config/repform/repform.yaml)")
	pf.String("db", "", "Database URL: postgres://... or sqlite://path (default: POSTGRES_* env, then "+config.DefaultSQLitePath+")")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text or json")

	v.BindPFlag(config.KeyDB, pf.Lookup("db"))
	v.BindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	v.BindPFlag(config.KeyLogFormat, pf.Lookup("log-format"))
}
