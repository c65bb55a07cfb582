package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lode-orm/lode/config"
	"github.com/lode-orm/lode/dialect"
	lsql "github.com/lode-orm/lode/dialect/sql"
	sqlschema "github.com/lode-orm/lode/dialect/sql/schema"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage versioned migrations",
	}
	cmd.AddCommand(
		migrateDevCmd(),
		migrateDeployCmd(),
		migrateResetCmd(),
		migrateStatusCmd(),
	)
	return cmd
}

// migrateEnv bundles what every migrate subcommand needs.
type migrateEnv struct {
	cfg      *config.Config
	drv      *lsql.Driver
	dir      *sqlschema.Dir
	res      sqlschema.Resolutions
	migrator *sqlschema.Migrator
}

func newMigrateEnv() (*migrateEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	drv, err := openDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	dir := sqlschema.NewDir(cfg.MigrationsDir)
	res, err := sqlschema.LoadResolutions(cfg.MigrationsDir)
	if err != nil {
		drv.Close()
		return nil, err
	}
	return &migrateEnv{
		cfg:      cfg,
		drv:      drv,
		dir:      dir,
		res:      res,
		migrator: sqlschema.NewMigrator(drv, dir, sqlschema.WithResolutions(res)),
	}, nil
}

func (e *migrateEnv) Close() error { return e.drv.Close() }

func migrateDevCmd() *cobra.Command {
	var (
		name           string
		createOnly     bool
		acceptDataLoss bool
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Diff the schema against the database, write a migration and apply it",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newMigrateEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, cancel := cliContext()
			defer cancel()

			// Pending migrations are applied first so the diff only
			// covers what the schema file adds on top of them.
			if err := applyPending(ctx, env); err != nil {
				return err
			}
			steps, err := diffSteps(ctx, env, acceptDataLoss)
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				fmt.Println(color.GreenString("✔"), "database already matches the schema")
				return nil
			}
			mig, err := env.dir.Write(name, steps, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(color.GreenString("✔"), "created migration", mig.ID)
			for _, s := range steps {
				if s.Verdict != sqlschema.Safe {
					fmt.Println(color.YellowString("  %s:", s.Verdict), s.Reason)
				}
			}
			if createOnly {
				return nil
			}
			return applyPending(ctx, env)
		},
	}
	cmd.Flags().StringVar(&name, "name", "migration", "migration name")
	cmd.Flags().BoolVar(&createOnly, "create-only", false, "write the migration without applying it")
	cmd.Flags().BoolVar(&acceptDataLoss, "accept-data-loss", false, "allow steps that can discard existing data")

	return cmd
}

func migrateDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newMigrateEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, cancel := cliContext()
			defer cancel()
			return applyPending(ctx, env)
		},
	}
}

func migrateResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Roll back every applied migration and re-apply from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to reset without --force")
			}
			env, err := newMigrateEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, cancel := cliContext()
			defer cancel()

			if err := env.migrator.Initialize(ctx); err != nil {
				return err
			}
			// Rollback steps one migration at a time; drain until the
			// history is empty.
			for {
				reverted, err := env.migrator.Rollback(ctx, "")
				if err != nil {
					return err
				}
				if len(reverted) == 0 {
					break
				}
				fmt.Println(color.YellowString("↩"), "rolled back", reverted[0])
			}
			return applyPending(ctx, env)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm destroying all data")

	return cmd
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the migration plan and schema drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newMigrateEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, cancel := cliContext()
			defer cancel()

			plan, err := env.migrator.Status(ctx)
			if err != nil {
				return err
			}
			if len(plan.Entries) == 0 {
				fmt.Println("no migrations found in", env.cfg.MigrationsDir)
			}
			for _, e := range plan.Entries {
				fmt.Printf("  %-14s %s\n", dispositionBadge(e.Disposition), e.ID)
			}
			return printDrift(ctx, env)
		},
	}
}

func dispositionBadge(d sqlschema.Disposition) string {
	s := d.String()
	switch d {
	case sqlschema.AlreadyApplied:
		return color.GreenString(s)
	case sqlschema.ApplyPending:
		return color.YellowString(s)
	case sqlschema.Skipped:
		return color.CyanString(s)
	default:
		return color.RedString(s)
	}
}

// applyPending validates the plan against resolutions and applies
// whatever is pending.
func applyPending(ctx context.Context, env *migrateEnv) error {
	if err := env.migrator.Initialize(ctx); err != nil {
		return err
	}
	plan, err := env.migrator.Plan(ctx)
	if err != nil {
		return err
	}
	if err := sqlschema.ValidatePlan(plan, env.res); err != nil {
		return err
	}
	if len(plan.Pending()) == 0 {
		fmt.Println(color.GreenString("✔"), "no pending migrations")
		return nil
	}
	applied, err := env.migrator.Apply(ctx)
	for _, id := range applied {
		fmt.Println(color.GreenString("✔"), "applied", id)
	}
	return err
}

// diffSteps compares the live database with the schema file and
// generates the DDL closing the gap.
func diffSteps(ctx context.Context, env *migrateEnv, acceptDataLoss bool) ([]sqlschema.Step, error) {
	desired, err := desiredState(env.cfg)
	if err != nil {
		return nil, err
	}
	current, warnings, err := sqlschema.NewInspector(env.drv).Inspect(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		fmt.Println(color.YellowString("warning:"), w.String())
	}
	diff, err := sqlschema.DiffSchemas(current, desired)
	if err != nil {
		return nil, err
	}
	opts := []sqlschema.GenOption{}
	if !acceptDataLoss {
		opts = append(opts, sqlschema.WithStrict())
	}
	gen := sqlschema.NewGenerator(dialect.CapsFor(env.drv.Dialect()), opts...)
	return gen.Generate(diff)
}

func desiredState(cfg *config.Config) (*sqlschema.Schema, error) {
	s, err := loadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.SchemaPath, err)
	}
	return sqlschema.FromAST(s)
}

// printDrift compares the live database against the schema file, table
// by table.
func printDrift(ctx context.Context, env *migrateEnv) error {
	desired, err := desiredState(env.cfg)
	if err != nil {
		return err
	}
	actual, _, err := sqlschema.NewInspector(env.drv).Inspect(ctx)
	if err != nil {
		return err
	}
	report, err := sqlschema.DetectDrift(desired, actual)
	if err != nil {
		return err
	}
	if report.InSync {
		fmt.Println(color.GreenString("✔"), "database matches the schema")
		return nil
	}
	fmt.Println(color.YellowString("drifted tables:"))
	for _, t := range report.Changed {
		fmt.Println("  -", t)
	}
	return nil
}
