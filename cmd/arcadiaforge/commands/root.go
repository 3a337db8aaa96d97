// Package commands provides the CLI commands for ArcadiaForge.
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arcadiaforge/arcadiaforge/internal/checkpoint"
	"github.com/arcadiaforge/arcadiaforge/internal/config"
	"github.com/arcadiaforge/arcadiaforge/internal/feature"
	"github.com/arcadiaforge/arcadiaforge/internal/injection"
	"github.com/arcadiaforge/arcadiaforge/internal/logging"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs  bool
	logLevel   string
	logFile    bool
	projectDir string
)

var rootCmd = &cobra.Command{
	Use:     "arcadiaforge",
	Short:   "ArcadiaForge checkpoint/feature inspection and human-injection response CLI",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.DefaultConfig()
		logCfg.Level = logging.ParseLevel(logLevel)
		logCfg.Pretty = printLogs
		logCfg.LogToFile = logFile
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to a timestamped file")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "Project directory (defaults to the working directory)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("arcadiaforge %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(featureCmd)
	rootCmd.AddCommand(respondCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// workDir resolves the --project flag against the current directory.
func workDir() (string, error) {
	if projectDir != "" {
		return projectDir, nil
	}
	return os.Getwd()
}

// dbPath is the per-project Persistence Store location (spec.md §6
// "Per-project layout").
func dbPath(dir string) string {
	return filepath.Join(dir, ".arcadia", "project.db")
}

// openStore loads config and opens the project's store, failing fast
// (exit code 1, spec.md §6's "not-found" class) when no store exists
// yet for this directory.
func openStore(dir string) (*store.Store, error) {
	path := dbPath(dir)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no ArcadiaForge project found at %s (run the orchestrator first)", dir)
	}
	if _, err := config.Load(dir); err != nil {
		return nil, err
	}
	return store.Open(path)
}

type components struct {
	DB          *store.Store
	Features    *feature.Store
	Checkpoints *checkpoint.Manager
}

func openComponents(dir string) (*components, error) {
	db, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	fs := feature.New(db)
	return &components{DB: db, Features: fs, Checkpoints: checkpoint.New(db, fs, dir)}, nil
}

// openInjection constructs an Interface scoped to session 0: the CLI
// inspects and responds to injection points across all sessions, it
// does not belong to any one of them.
func openInjection(db *store.Store) (*injection.Interface, error) {
	return injection.New(context.Background(), db, 0)
}
