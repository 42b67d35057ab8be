package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felo/mailstore/internal/db"
	"github.com/felo/mailstore/internal/importer"
	"github.com/felo/mailstore/internal/migrate"
	"github.com/felo/mailstore/internal/store"
)

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the program and latest schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mailstore %s (schema %d)\n", Version, migrate.Latest())
			return nil
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		Long:  "Applies pending schema migrations up to --target, or the latest version, and prints the migration history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			database, err := c.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			m := migrate.New(database, migrate.Options{
				DataDir:   c.cfg.DataDir,
				UserEmail: c.cfg.User.Email,
				UserName:  c.cfg.User.DisplayName,
				Log:       c.log,
			})
			applied, err := m.Run(ctx, target)
			if err != nil {
				return err
			}
			version, err := m.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			history, err := m.History(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Applied %d migration(s); schema version %d\n", applied, version)
			tw := table(out)
			fmt.Fprintln(tw, "VERSION\tDESCRIPTION\tAPPLIED")
			for _, h := range history {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", h.Version, h.Description, h.AppliedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&target, "target", 0, "schema version to migrate to (0 = latest)")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	var volume string
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				out := cmd.OutOrStdout()
				if volume != "" {
					since := time.Now().AddDate(0, 0, -days)
					buckets, err := s.GetMessageVolume(ctx, volume, since)
					if err != nil {
						return err
					}
					tw := table(out)
					fmt.Fprintln(tw, "PERIOD\tRECEIVED\tSENT")
					for _, b := range buckets {
						fmt.Fprintf(tw, "%s\t%d\t%d\n", b.Period, b.Received, b.Sent)
					}
					return tw.Flush()
				}

				st, err := s.GetStatistics(ctx)
				if err != nil {
					return err
				}
				tw := table(out)
				fmt.Fprintf(tw, "Messages:\t%d\n", st.TotalMessages)
				fmt.Fprintf(tw, "Unread:\t%d\n", st.UnreadMessages)
				fmt.Fprintf(tw, "Starred:\t%d\n", st.StarredMessages)
				fmt.Fprintf(tw, "Folders:\t%d\n", st.TotalFolders)
				fmt.Fprintf(tw, "Contacts:\t%d\n", st.TotalContacts)
				fmt.Fprintf(tw, "Attachments:\t%d (%d bytes)\n", st.AttachmentCount, st.AttachmentSize)
				fmt.Fprintf(tw, "Queue pending:\t%d\n", st.QueuePending)
				fmt.Fprintf(tw, "Database size:\t%d bytes\n", st.DatabaseSize)
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&volume, "volume", "", "show message volume instead: daily or monthly")
	cmd.Flags().IntVar(&days, "days", 30, "volume window in days")
	return cmd
}

func (c *cli) foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List folders with their message counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				folders, err := s.ListFolders(ctx)
				if err != nil {
					return err
				}
				tw := table(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tNAME\tTYPE\tMESSAGES\tUNREAD")
				for _, f := range folders {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", f.ID, f.Name, f.Type, f.MessageCount, f.UnreadCount)
				}
				return tw.Flush()
			})
		},
	}
}

// folderByName resolves an optional --folder flag; an empty name is 0.
func folderByName(ctx context.Context, s *store.Store, name string) (int64, error) {
	if name == "" {
		return 0, nil
	}
	f, err := s.GetFolderByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, fmt.Errorf("%w: %q", store.ErrFolderNotFound, name)
	}
	return f.ID, nil
}

func (c *cli) searchCmd() *cobra.Command {
	var folder string
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Full-text search messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				folderID, err := folderByName(ctx, s, folder)
				if err != nil {
					return err
				}
				results, err := s.SearchMessages(ctx, args[0], store.SearchOptions{FolderID: folderID, Limit: limit})
				if err != nil {
					return err
				}
				tw := table(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tDATE\tFROM\tSUBJECT")
				for _, r := range results {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.ReceivedAt.Local().Format(time.DateOnly), r.From, r.Subject)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "restrict to the folder with this name")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultSearchLimit, "maximum number of results")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var folder string
	var workers int
	cmd := &cobra.Command{
		Use:   "import DIR",
		Short: "Import .eml files from a directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				folderID, err := folderByName(ctx, s, folder)
				if err != nil {
					return err
				}
				imp := importer.NewImporter(s, args[0], c.log).WithFolder(folderID)
				if workers > 0 {
					imp.WithConcurrency(workers)
				}
				res, err := imp.ImportWithProgress(ctx, func(current, total int, path string) {
					if current%100 == 0 {
						c.log.Info("import progress", slog.Int("done", current), slog.Int("total", total))
					}
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Found %d, imported %d, skipped %d, failed %d\n",
					res.TotalFound, res.Imported, res.Skipped, res.Failed)
				for _, f := range res.FailedFiles {
					fmt.Fprintf(out, "failed: %s\n", f)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "store messages in the folder with this name (default Inbox)")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent workers (default 2 x CPUs)")
	return cmd
}

func (c *cli) queueCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the delivery queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				out := cmd.OutOrStdout()
				stats, err := s.QueueStats(ctx)
				if err != nil {
					return err
				}
				for _, st := range []db.QueueStatus{db.QueuePending, db.QueueProcessing, db.QueueCompleted, db.QueueFailed, db.QueueDeadLetter} {
					fmt.Fprintf(out, "%s=%d ", st, stats[st])
				}
				fmt.Fprintln(out)

				items, err := s.ListQueueItems(ctx, db.QueueStatus(status))
				if err != nil {
					return err
				}
				tw := table(out)
				fmt.Fprintln(tw, "ID\tMESSAGE\tRECIPIENT\tSTATUS\tATTEMPTS\tERROR")
				for _, q := range items {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d/%d\t%s\n",
						q.ID, q.MessageID, q.Recipient, q.Status, q.Attempts, q.MaxAttempts, q.ErrorMessage)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only items in this status")
	return cmd
}

func (c *cli) cleanupCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired tokens and settings and old completed deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				tokens, err := s.CleanupExpiredTokens(ctx)
				if err != nil {
					return err
				}
				settings, err := s.CleanupExpiredConfig(ctx)
				if err != nil {
					return err
				}
				purged, err := s.PurgeCompletedQueueItems(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d token(s), %d setting(s), %d queue item(s)\n", tokens, settings, purged)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "purge completed deliveries older than this")
	return cmd
}

func (c *cli) maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Database maintenance",
	}

	var pages int
	vacuum := &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim free pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				if pages > 0 {
					return s.IncrementalVacuum(ctx, pages)
				}
				return s.Vacuum(ctx)
			})
		},
	}
	vacuum.Flags().IntVar(&pages, "incremental", 0, "reclaim at most this many pages instead of a full vacuum")

	optimize := &cobra.Command{
		Use:   "optimize",
		Short: "Refresh query planner statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				return s.Optimize(ctx)
			})
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Verify database integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				ok, err := s.IntegrityCheck(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("integrity check failed for %s", c.cfg.DBPath())
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}

	cmd.AddCommand(vacuum, optimize, check)
	return cmd
}
