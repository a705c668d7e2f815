package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigFile string

	v      *viper.Viper
	stderr io.Writer
}

// Run is the CLI entrypoint used by cmd/tally.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand creates the tally command tree. Without a subcommand it serves.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: NewViper(), stderr: os.Stderr}

	cmd := &cobra.Command{
		Use:           "tally",
		Short:         "tally - shared group ledger with realtime sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default ./tally.yaml when present)")
	pf.String("log-level", "info", "log level (debug|info|warn|error)")
	pf.String("log-format", "json", "log format (json|text|pretty)")
	pf.String("backend", "memory", "storage backend (memory|postgres|sqlite)")
	pf.String("database-url", "", "postgres connection string")
	pf.String("sqlite-path", "data/tally.db", "sqlite database file")
	for key, flag := range map[string]string{
		"log.level":            "log-level",
		"log.format":           "log-format",
		"storage.backend":      "backend",
		"storage.database_url": "database-url",
		"storage.sqlite_path":  "sqlite-path",
	} {
		_ = opts.v.BindPFlag(key, pf.Lookup(flag))
	}

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedGroupsCommand(opts))

	return cmd
}

func newServeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().String("addr", "0.0.0.0:8080", "listen address")
	_ = opts.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema for the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			msg, err := Migrate(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			log.Info("db.migrate.done", "backend", cfg.Storage.Backend)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newSeedGroupsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-groups",
		Short: "Create the default groups that do not exist yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			be, err := openBackend(cmd.Context(), cfg.Storage, log)
			if err != nil {
				return err
			}
			defer func() { _ = be.close() }()

			svc, err := identity.NewService(be.users, cfg.Passwords, identity.WithServiceLogger(log))
			if err != nil {
				return err
			}
			created, err := svc.SeedDefaultGroups(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(created) == 0 {
				_, _ = fmt.Fprintln(out, "default groups already present")
				return nil
			}
			for _, g := range created {
				_, _ = fmt.Fprintf(out, "created %s %q\n", g.ID, g.Name)
			}
			return nil
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// load reads the config file, validates the result and builds the logger.
func (o *RootOptions) load() (Config, Logger, error) {
	if err := ReadConfigFile(o.v, o.ConfigFile); err != nil {
		return Config{}, nil, err
	}
	cfg := LoadConfig(o.v)
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, NewLogger(o.stderr, cfg.Log), nil
}
