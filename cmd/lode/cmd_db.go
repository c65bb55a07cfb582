package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	sqlschema "github.com/lode-orm/lode/dialect/sql/schema"
	"github.com/lode-orm/lode/schema/format"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Work on the database directly, outside the migration history",
	}
	cmd.AddCommand(dbPushCmd(), dbPullCmd())
	return cmd
}

func dbPushCmd() *cobra.Command {
	var acceptDataLoss bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Apply schema changes to the database without writing a migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newMigrateEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, cancel := cliContext()
			defer cancel()

			steps, err := diffSteps(ctx, env, acceptDataLoss)
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				fmt.Println(color.GreenString("✔"), "database already matches the schema")
				return nil
			}
			for _, s := range steps {
				if err := env.drv.Exec(ctx, s.Up, []any{}, nil); err != nil {
					return fmt.Errorf("%s: %w", firstLine(s.Up), err)
				}
				fmt.Println(color.GreenString("✔"), firstLine(s.Up))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&acceptDataLoss, "accept-data-loss", false, "allow steps that can discard existing data")

	return cmd
}

func dbPullCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Introspect the database and print it in schema form",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newMigrateEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, cancel := cliContext()
			defer cancel()

			actual, warnings, err := sqlschema.NewInspector(env.drv).Inspect(ctx)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintln(os.Stderr, color.YellowString("warning:"), w.String())
			}
			text := format.Schema(sqlschema.ToAST(actual))
			if out == "" {
				fmt.Print(text)
				return nil
			}
			if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
				return err
			}
			fmt.Println(color.GreenString("✔"), "wrote", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the pulled schema to a file instead of stdout")

	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
