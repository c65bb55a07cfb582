package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lode-orm/lode/compiler/gen"
	"github.com/lode-orm/lode/config"
	"github.com/lode-orm/lode/schema/ast"
	"github.com/lode-orm/lode/schema/watch"
)

func generateCmd() *cobra.Command {
	var (
		out     string
		pkg     string
		watchFS bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the typed client package",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := cliContext()
			defer cancel()

			genCfg := gen.Config{Package: pkg, Target: out}
			if !watchFS {
				s, err := loadSchema(cfg.SchemaPath)
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.SchemaPath, err)
				}
				return generateOnce(ctx, s, genCfg)
			}

			w, err := watch.New(cfg.SchemaPath)
			if err != nil {
				return err
			}
			defer w.Close()
			fmt.Println("watching", cfg.SchemaPath, "(ctrl-c to stop)")
			return watchLoop(ctx, cfg, w, genCfg)
		},
	}
	cmd.Flags().StringVar(&out, "out", "model", "output directory for generated code")
	cmd.Flags().StringVar(&pkg, "package", "model", "generated package name")
	cmd.Flags().BoolVar(&watchFS, "watch", false, "regenerate whenever the schema file changes")

	return cmd
}

func generateOnce(ctx context.Context, s *ast.Schema, cfg gen.Config) error {
	if err := gen.Generate(ctx, s, cfg); err != nil {
		return err
	}
	fmt.Println(color.GreenString("✔"), "generated client for", len(s.Models), "models into", cfg.Target)
	return nil
}

// watchLoop regenerates on every schema event until the context is
// cancelled. Broken edits are reported and skipped; the previous
// generated code stays in place.
func watchLoop(ctx context.Context, cfg *config.Config, w *watch.Watcher, genCfg gen.Config) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if ev.Err != nil {
				fmt.Println(color.RedString("✘"), cfg.SchemaPath+":", ev.Err)
				continue
			}
			if err := generateOnce(ctx, ev.Schema, genCfg); err != nil {
				fmt.Println(color.RedString("✘"), err)
			}
		}
	}
}
