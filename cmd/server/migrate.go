package main

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Proximyst/ban/internal/platform/config"
	"github.com/Proximyst/ban/internal/platform/database"
	"github.com/Proximyst/ban/internal/platform/logger"
	"github.com/Proximyst/ban/internal/platform/migrate"
	"github.com/Proximyst/ban/internal/punishment/store/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, log, err := openForMigrate(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrateUp(cmd.Context(), db, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: applied %d migration(s)\n", cfg.Database.Driver, len(applied))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and when they were applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, log, err := openForMigrate(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := newMigrator(db, log)
			if err != nil {
				return err
			}
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
			for _, st := range statuses {
				applied := "pending"
				if st.AppliedAt != nil {
					applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%04d\t%s\t%s\n", st.Version, st.Name, applied)
			}
			return w.Flush()
		},
	})
	return cmd
}

func openForMigrate(ctx context.Context) (config.Config, *database.DB, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	log := logger.New(cfg.Log)
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, db, log, nil
}

func newMigrator(db *database.DB, log *slog.Logger) (*migrate.Migrator, error) {
	fsys, err := migrations.For(db.Dialect)
	if err != nil {
		return nil, err
	}
	return migrate.New(db.DB, db.Dialect, fsys, migrate.WithLogger(log))
}

// migrateUp applies pending migrations. The store must not accept traffic
// when this fails.
func migrateUp(ctx context.Context, db *database.DB, log *slog.Logger) ([]int64, error) {
	m, err := newMigrator(db, log)
	if err != nil {
		return nil, err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return applied, nil
}
