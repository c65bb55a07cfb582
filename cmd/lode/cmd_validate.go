package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	sqlschema "github.com/lode-orm/lode/dialect/sql/schema"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := loadSchema(cfg.SchemaPath)
			if err != nil {
				return fmt.Errorf("%s: %w", cfg.SchemaPath, err)
			}
			rel, err := sqlschema.FromAST(s)
			if err != nil {
				return err
			}
			res := sqlschema.ValidateSchema(rel)
			for _, w := range res.Warnings {
				fmt.Println(color.YellowString("warning:"), w.Error())
			}
			if res.HasErrors() {
				for _, e := range res.Errors {
					fmt.Println(color.RedString("error:"), e.Error())
				}
				return fmt.Errorf("%d validation errors", len(res.Errors))
			}
			fmt.Println(color.GreenString("✔"), cfg.SchemaPath, "is valid:",
				len(s.Models), "models,", len(s.Enums), "enums")
			return nil
		},
	}
}
