package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zpdzap/codelive/internal/config"
)

var baseDir string

func main() {
	root := &cobra.Command{
		Use:           "codelive",
		Short:         "Codelive: generate, preview and deploy AI-built apps",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTUI,
	}
	root.PersistentFlags().StringVar(&baseDir, "dir", envOr("CODELIVE_HOME", config.DefaultBaseDir()), "base directory for apps, srcbooks and state")

	root.AddCommand(serveCmd(), initCmd(), tuiCmd(), appsCmd(), deployCmd())

	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config to the base directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Exists(baseDir) {
				color.Yellow("Codelive already initialized in %s", baseDir)
				return nil
			}
			cfg := config.Default(baseDir)
			if err := config.Save(baseDir, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.AppsPath(), cfg.SrcbooksPath(), cfg.Path(config.WorkDir)} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			color.Green("Initialized codelive in %s", baseDir)
			cmd.Printf("  Config: %s\n", cfg.Path(config.ConfigFile))
			cmd.Println("\nRun `codelive serve` to start the API, then `codelive` for the dashboard.")
			return nil
		},
	}
}
