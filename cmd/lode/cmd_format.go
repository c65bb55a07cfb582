package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lode-orm/lode/schema/format"
	"github.com/lode-orm/lode/schema/parser"
)

func formatCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "format",
		Short: "Rewrite the schema in canonical form",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			src, err := os.ReadFile(cfg.SchemaPath)
			if err != nil {
				return err
			}
			s, err := parser.Parse(src)
			if err != nil {
				return fmt.Errorf("%s: %w", cfg.SchemaPath, err)
			}
			out := format.Schema(s)
			if out == string(src) {
				fmt.Println(color.GreenString("✔"), cfg.SchemaPath, "already formatted")
				return nil
			}
			if check {
				return fmt.Errorf("%s is not formatted", cfg.SchemaPath)
			}
			if err := os.WriteFile(cfg.SchemaPath, []byte(out), 0o644); err != nil {
				return err
			}
			fmt.Println(color.GreenString("✔"), "formatted", cfg.SchemaPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "exit non-zero if the schema is not formatted, without rewriting it")

	return cmd
}
