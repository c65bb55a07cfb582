// Package main is the lode command line: schema validation and
// formatting, typed client generation, and the migration workflow.
//
// Usage:
//
//	lode init                 # Scaffold lode.yaml, schema.lode and migrations/
//	lode validate             # Parse and validate the schema
//	lode format               # Rewrite the schema in canonical form
//	lode generate             # Generate the typed client package
//	lode migrate dev          # Diff schema against the database, write and apply a migration
//	lode migrate deploy       # Apply pending migrations
//	lode migrate reset        # Roll everything back and re-apply
//	lode migrate status       # Show the migration plan and schema drift
//	lode db push              # Apply schema changes directly, without a migration
//	lode db pull              # Introspect the database into schema form
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lode-orm/lode/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// version is set via ldflags: -ldflags="-X main.version=v1.0.0".
var version = "dev"

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "lode",
		Short:         "Schema-first database toolkit",
		Long:          "Lode manages a declarative database schema: validation, typed client generation, and versioned migrations.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultFile, "path to the project config")
	root.AddCommand(
		initCmd(),
		validateCmd(),
		formatCmd(),
		generateCmd(),
		migrateCmd(),
		dbCmd(),
		versionCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lode version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("lode", version)
		},
	}
}
