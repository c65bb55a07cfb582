package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lode-orm/lode/config"
)

const starterConfig = `database_url: ${DATABASE_URL}
schema: schema.lode
migrations_dir: migrations
`

const starterSchema = `model User {
  id        Uuid     @id @auto
  email     String   @unique
  createdAt DateTime @default(now())
}
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeNew(config.DefaultFile, starterConfig); err != nil {
				return err
			}
			if err := writeNew("schema.lode", starterSchema); err != nil {
				return err
			}
			if err := os.MkdirAll("migrations", 0o755); err != nil {
				return err
			}
			fmt.Println(color.GreenString("✔"), "created", config.DefaultFile+", schema.lode and migrations/")
			fmt.Println("  set DATABASE_URL (or edit", config.DefaultFile+") and run: lode migrate dev")
			return nil
		},
	}
}

func writeNew(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
