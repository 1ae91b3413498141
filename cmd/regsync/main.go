// Package main is the CLI entry point for regsync.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/eliteGoblin/focusd/regsync/internal/config"
	"github.com/eliteGoblin/focusd/regsync/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var printer = message.NewPrinter(language.English)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "regsync",
	Short: "Register a system and keep its software sources in sync",
	Long: `regsync registers this system and its addons with a registration
server, then applies the task list the server sends back to the local
software sources (services and repositories).

Addon dependencies are selected automatically and registered first.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var addonsCmd = &cobra.Command{
	Use:   "addons",
	Short: "List offered addons and what would be selected",
	Long: `Lists the addons offered for this product with their selection state.
Recommended addons are preselected unless something is already selected
or registered. Use --select to toggle addons by key.`,
	RunE: runAddons,
}

var orderCmd = &cobra.Command{
	Use:   "order [addon-key...]",
	Short: "Print the registration order for the given addons",
	Long:  `Selects the given addons (and their dependencies) and prints them in the order they would be registered.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOrder,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <task-list-file>",
	Short: "Apply a task list file to the local sources",
	Long: `Applies a YAML or JSON task list to the local software sources.
Targets already in the requested state are left alone, so applying the
same list twice changes nothing the second time.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the system and selected addons",
	Long: `Runs the registration workflow: selects addons, registers them in
dependency order, handles manual steps and data conflicts, and applies
the returned task list to the local sources.`,
	RunE: runRegister,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show the local software sources",
	Long:  `Lists services and standalone repositories. Use --restore to roll back to the snapshot taken before the last task list was applied.`,
	RunE:  runSources,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,

	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
}

var (
	cfgFile      string
	scenarioFile string
	jsonOutput   bool
	selectKeys   []string
	email        string
	regCode      string
	restore      bool

	cfg config.Config
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default depends on execution mode)")
	pf.StringVar(&scenarioFile, "scenario", "", "Registration server scenario file to replay")
	pf.String("server-url", "", "Registration server URL")
	pf.String("data-dir", "", "Directory holding the source store")
	pf.Bool("verbose", false, "Log debug output to stderr")
	_ = viper.BindPFlag("server_url", pf.Lookup("server-url"))
	_ = viper.BindPFlag("data_dir", pf.Lookup("data-dir"))
	_ = viper.BindPFlag("verbose", pf.Lookup("verbose"))

	addonsCmd.Flags().StringSliceVar(&selectKeys, "select", nil, "Toggle addons by key")
	addonsCmd.Flags().Bool("show-unreleased", false, "Also list development addons")
	_ = viper.BindPFlag("show_unreleased", addonsCmd.Flags().Lookup("show-unreleased"))

	reconcileCmd.Flags().Bool("refresh", true, "Refresh all sources after applying changes")
	_ = viper.BindPFlag("refresh", reconcileCmd.Flags().Lookup("refresh"))

	registerCmd.Flags().StringVar(&email, "email", "", "Contact email")
	registerCmd.Flags().StringVar(&regCode, "regcode", "", "Registration code")
	registerCmd.Flags().StringSliceVar(&selectKeys, "select", nil, "Toggle addons by key")
	registerCmd.Flags().Bool("automated", false, "Leave source setup to the caller")
	_ = viper.BindPFlag("automated", registerCmd.Flags().Lookup("automated"))

	sourcesCmd.Flags().BoolVar(&restore, "restore", false, "Restore the latest snapshot")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(addonsCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	mode := infra.DetectExecMode()
	if err := config.Setup(cfgFile, mode.ConfigPath); err != nil {
		return err
	}
	loaded, err := config.Load(config.Defaults{DataDir: mode.DataDir, LogFile: mode.LogPath})
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func createLogger() *zap.Logger {
	if cfg.Verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{cfg.LogFile}
	config.ErrorOutputPaths = []string{cfg.LogFile}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fall back to stderr if the log file is not writable
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		logger, err = config.Build()
		if err != nil {
			return zap.NewNop()
		}
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		data, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(data))
		return
	}
	fmt.Printf("regsync %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}
