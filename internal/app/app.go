// Package app is the mailstore operator command line.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felo/mailstore/internal/config"
	"github.com/felo/mailstore/internal/db"
	"github.com/felo/mailstore/internal/store"
)

// Version is set at build time with -ldflags "-X github.com/felo/mailstore/internal/app.Version=..."
var Version = "dev"

// cli carries the state shared by every command of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:           "mailstore",
		Short:         "Mail client storage maintenance",
		Long:          "Inspects, migrates, imports into and maintains the local mail database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default: ./config.yaml or <data dir>/config.yaml)")
	flags.String("data-dir", "", "directory holding the database")
	flags.String("db-file", "", "database file name or path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("user", "", "email of the user to act for")
	c.v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	c.v.BindPFlag("db_file", flags.Lookup("db-file"))
	c.v.BindPFlag("log_level", flags.Lookup("log-level"))
	c.v.BindPFlag("user.email", flags.Lookup("user"))

	root.AddCommand(
		c.versionCmd(),
		c.migrateCmd(),
		c.statsCmd(),
		c.foldersCmd(),
		c.searchCmd(),
		c.importCmd(),
		c.queueCmd(),
		c.cleanupCmd(),
		c.maintenanceCmd(),
	)
	return root
}

// init loads configuration and builds the logger.
func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.Read(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	c.cfg = cfg

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	c.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func (c *cli) openDB() (*db.DB, error) {
	database, err := db.Open(c.cfg.DBPath(), c.cfg.PoolOptions(), c.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

func (c *cli) openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(ctx, store.Options{
		Path:        c.cfg.DBPath(),
		DataDir:     c.cfg.DataDir,
		Pool:        c.cfg.PoolOptions(),
		UserEmail:   c.cfg.User.Email,
		UserName:    c.cfg.User.DisplayName,
		MaxAttempts: c.cfg.Queue.MaxAttempts,
		Log:         c.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

// withStore opens the store for the duration of fn.
func (c *cli) withStore(cmd *cobra.Command, fn func(ctx context.Context, s *store.Store) error) error {
	ctx := cmd.Context()
	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			c.log.Warn("failed to close store", slog.Any("err", err))
		}
	}()
	return fn(ctx, s)
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
