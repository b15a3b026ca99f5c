package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/smartdoor/internal/config"
	"github.com/BrandonDHaskell/smartdoor/internal/db"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store/sqlite"
)

var (
	okFmt   = color.New(color.FgGreen).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

// app holds the services a command runs against.  It is opened before
// every subcommand and closed after it.
type app struct {
	out    io.Writer
	format string

	database  *sql.DB
	writer    *db.Worker
	creds     *service.CredentialService
	settings  *service.SettingsService
	templates *service.TemplateRegistry
	accessLog *service.AccessLogger
}

func (a *app) close() {
	if a.writer != nil {
		a.writer.Close()
	}
	if a.database != nil {
		_ = a.database.Close()
	}
}

type rootOptions struct {
	configPath string
	dbPath     string
	output     string
}

// NewRootCmd builds the smartdoorctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	root := &cobra.Command{
		Use:          "smartdoorctl",
		Short:        "Administer a SmartDoor controller",
		Long:         `smartdoorctl manages passcodes, biometric templates, door settings and the access log directly against the SmartDoor database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == cobra.ShellCompRequestCmd {
				return nil
			}
			for c := cmd; c != nil; c = c.Parent() {
				if c.Name() == "completion" {
					return nil
				}
			}
			switch opts.output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q (want table, json or yaml)", opts.output)
			}
			a.out = cmd.OutOrStdout()
			a.format = opts.output
			return a.open(cmd.Context(), opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("SMARTDOOR_CONFIG"), "YAML config file (SMARTDOOR_CONFIG)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json, yaml")

	root.AddCommand(
		newPasscodeCmd(a),
		newSettingsCmd(a),
		newLogsCmd(a),
		newTemplateCmd(a),
		newVaultCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context, opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if cfg.VaultKey == "" {
		return config.ErrMissingVaultKey
	}
	keyring, err := cfg.Vault()
	if err != nil {
		return err
	}

	database, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	a.database = database
	a.writer = db.NewWorker(database)

	a.creds = service.NewCredentialService(sqlite.NewPasscodeStore(database, a.writer), keyring)
	a.settings = service.NewSettingsService(sqlite.NewSettingsStore(database, a.writer))
	a.templates = service.NewTemplateRegistry(sqlite.NewTemplateStore(database, a.writer))
	a.accessLog = service.NewAccessLogger(sqlite.NewAccessAttemptStore(database, a.writer), service.AccessLoggerConfig{}, nil)
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errFmt("error:"), err)
		os.Exit(1)
	}
}

// emit writes data as JSON or YAML when a structured format was chosen
// and reports whether it did.
func (a *app) emit(data any) (bool, error) {
	switch a.format {
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return true, err
		}
		_, err = a.out.Write(out)
		return true, err
	}
	return false, nil
}
