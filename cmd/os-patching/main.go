package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/os-patching/internal/config"
	"github.com/breeze-rmm/os-patching/internal/executor"
	"github.com/breeze-rmm/os-patching/internal/facts"
	"github.com/breeze-rmm/os-patching/internal/history"
	"github.com/breeze-rmm/os-patching/internal/logging"
	"github.com/breeze-rmm/os-patching/internal/patching"
)

var (
	version    = "0.1.0"
	cfgFile    string
	paramsFile string
	exitCode   int
)

var rootCmd = &cobra.Command{
	Use:   "os-patching",
	Short: "Apply OS updates on this host",
	Long: `os-patching applies pending package updates with yum or apt, honouring the
os_patching facts (blockers, reboot override, pending counts). Task parameters
are read as JSON from stdin and the result is printed as JSON on stdout.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatch(cmd)
	},
}

var runCmd = &cobra.Command{
	Use:           "run",
	Short:         "Apply OS updates (same as the root command)",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatch(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("os-patching v%s\n", version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath+")")
	flags.String("history-file", "", "run history file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("log-target", "", "log target (journal, stderr, file)")

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().StringVar(&paramsFile, "params", "", "read task parameters from this file instead of stdin")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func loadConfig(cmd *cobra.Command) (*config.Config, []error, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, nil, fmt.Errorf("invalid config: %w", result.Err())
	}
	return cfg, result.Warnings, nil
}

// runPatch performs one patch run. Every defer here runs before main calls
// os.Exit with the run's exit code.
func runPatch(cmd *cobra.Command) error {
	cfg, warnings, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	commands := executor.New(
		executor.WithProgressInterval(cfg.ProgressInterval()),
		executor.WithKillGrace(cfg.KillGrace()),
	)
	runner := patching.NewRunner(patching.Options{
		Commands: commands,
		Facts:    facts.NewProvider(commands, cfg.FactGenerationScript, cfg.FacterBin),
		History:  history.NewFile(cfg.HistoryFile),
		Tools: patching.Tools{
			Yum:         cfg.YumBin,
			AptGet:      cfg.AptGetBin,
			Shutdown:    cfg.ShutdownBin,
			RebootDelay: cfg.RebootDelay,
		},
		DefaultTimeout: cfg.DefaultTimeout(),
		Out:            cmd.OutOrStdout(),
	})

	// A failure from here on is a task failure: it is printed and recorded
	// like any other run outcome.
	setupErr := logging.Setup(logging.Options{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Target:     cfg.LogTarget,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if setupErr != nil {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	}
	defer logging.Close()

	for _, w := range warnings {
		logging.L("config").Warn("config value adjusted", logging.KeyError, w)
	}
	if setupErr != nil {
		exitCode = runner.Reject(fmt.Errorf("failed to set up logging: %w", setupErr))
		return nil
	}

	payload, err := readParams(cmd.InOrStdin())
	if err != nil {
		exitCode = runner.Reject(err)
		return nil
	}

	exitCode = runner.Run(context.Background(), payload)
	return nil
}

func readParams(stdin io.Reader) ([]byte, error) {
	if paramsFile != "" {
		data, err := os.ReadFile(paramsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read params: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read params from stdin: %w", err)
	}
	return data, nil
}
