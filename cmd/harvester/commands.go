package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"content_harvester/internal/app"
	"content_harvester/internal/config"
	"content_harvester/internal/service"
	"content_harvester/internal/storage/postgres"
)

// cli carries state shared by every subcommand once the root pre-run has
// loaded the configuration.
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Extract and ingest social content for tracked search terms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = setupLogger(cfg.LogLevel)
			slog.SetDefault(c.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "path to config file")

	root.AddCommand(
		c.serveCommand(),
		c.migrateCommand(),
		c.extractCommand(),
		c.refreshCommand(),
	)

	return root
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.New(c.cfg, c.logger)
			defer a.Close()

			if err := a.Init(cmd.Context()); err != nil {
				return err
			}

			c.logger.Info("starting content harvester",
				"provider", c.cfg.Content.Provider,
				"addr", c.cfg.HTTP.Addr,
				"publisher_enabled", c.cfg.RabbitMQ.Enabled,
			)

			return a.Run(cmd.Context())
		},
	}
}

func (c *cli) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withMigrator(cmd, func(m *postgres.Migrator) error {
				n, err := m.Down(cmd.Context(), steps)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", n)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withMigrator(cmd, func(m *postgres.Migrator) error {
					n, err := m.Up(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show which migrations are applied",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withMigrator(cmd, func(m *postgres.Migrator) error {
					statuses, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					return printMigrations(cmd.OutOrStdout(), statuses)
				})
			},
		},
	)

	return cmd
}

func (c *cli) withMigrator(cmd *cobra.Command, fn func(m *postgres.Migrator) error) error {
	db, err := postgres.Connect(cmd.Context(), c.cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(postgres.NewMigrator(db, postgres.Migrations, c.logger))
}

func printMigrations(w io.Writer, statuses []postgres.MigrationStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tDESCRIPTION\tAPPLIED AT")
	for _, st := range statuses {
		applied := "pending"
		if st.AppliedAt != nil {
			applied = st.AppliedAt.Format("2006-01-02 15:04:05 MST")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", st.Version, st.Description, applied)
	}
	return tw.Flush()
}

func (c *cli) extractCommand() *cobra.Command {
	var req service.CycleRequest

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run one extraction cycle and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.New(c.cfg, c.logger)
			defer a.Close()

			if err := a.Init(cmd.Context()); err != nil {
				return err
			}

			req.Trigger = service.TriggerManual
			req.Force = true
			summary, err := a.Extractor().RunCycle(cmd.Context(), req)
			if summary != nil {
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&req.Terms, "terms", nil, "terms to extract (default: all active terms)")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "records per term (default: per-term or configured limit)")
	cmd.Flags().StringVar(&req.Lang, "lang", "", "language filter (default: configured language)")

	return cmd
}

func (c *cli) refreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh engagement counters of stale important records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.New(c.cfg, c.logger)
			defer a.Close()

			if err := a.Init(cmd.Context()); err != nil {
				return err
			}

			summary, err := a.Extractor().RefreshStaleImportantRecords(cmd.Context())
			if summary != nil {
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
