package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pepkit/pephub-sub000/internal/auth"
	"github.com/pepkit/pephub-sub000/internal/auth/ledger"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/logger"
	"github.com/pepkit/pephub-sub000/internal/metrics"
	"github.com/pepkit/pephub-sub000/internal/server"
	"github.com/pepkit/pephub-sub000/internal/storage"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pephub-auth",
	Short: "Authentication and authorization broker for PEPhub",
	Long: `pephub-auth logs users in through GitHub, issues session tokens and
developer keys, and guards project routes with PEPhub's access rules.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	RunE:  runConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")
	rootCmd.AddCommand(serveCmd, configCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := logger.InitLogger(&cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting pephub-auth",
		zap.String("version", config.GetVersionInfo()),
		zap.String("ledger", string(cfg.Ledger.Backend)),
		zap.String("storage", string(cfg.Storage.Driver)),
	)

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.GetLogger().Named("fx")}
		}),
		config.Module(cfg),
		metrics.Module,
		ledger.Module,
		storage.Module,
		auth.Module,
		server.Module,
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	pterm.Println(string(out))
	return nil
}
