package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zpdzap/codelive/internal/client"
	"github.com/zpdzap/codelive/internal/config"
	"github.com/zpdzap/codelive/internal/tui"
)

var serverURL string

func apiClient(cmd *cobra.Command) (*client.Client, error) {
	url := serverURL
	if url == "" {
		cfg, err := config.Load(baseDir)
		if err != nil {
			return nil, err
		}
		url = "http://" + cfg.Addr()
	}
	c := client.New(url, 0)
	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("codelive API not reachable at %s (run `codelive serve`): %w", url, err)
	}
	return c, nil
}

func addServerFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL (default from config)")
}

func tuiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal dashboard",
		RunE:  runTUI,
	}
	addServerFlag(cmd)
	return cmd
}

func runTUI(cmd *cobra.Command, args []string) error {
	c, err := apiClient(cmd)
	if err != nil {
		return err
	}
	return tui.Run(c)
}

func appsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage apps",
	}
	addServerFlag(cmd)

	list := &cobra.Command{
		Use:   "list",
		Short: "List apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			apps, err := c.ListApps(cmd.Context())
			if err != nil {
				return err
			}
			if len(apps) == 0 {
				color.Yellow("No apps yet.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUPDATED")
			for _, a := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.ExternalID, a.Name, a.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	var prompt string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an app, optionally generating it from a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			app, err := c.CreateApp(cmd.Context(), args[0], prompt)
			if err != nil {
				return err
			}
			color.Green("Created %s (%s)", app.Name, app.ExternalID)
			return nil
		},
	}
	create.Flags().StringVar(&prompt, "prompt", "", "describe the app to generate")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an app and stop its previews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.DeleteApp(cmd.Context(), args[0]); err != nil {
				return err
			}
			color.Green("Deleted %s", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, create, del)
	return cmd
}

func deployCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "deploy <app id>",
		Short: "Deploy an app to Modal or Docker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			color.Cyan("Deploying %s to %s...", args[0], provider)
			d, err := c.Deploy(cmd.Context(), args[0], provider)
			if err != nil {
				return err
			}
			color.Green("Deployed: %s", d.URL)
			return nil
		},
	}
	addServerFlag(cmd)
	cmd.Flags().StringVar(&provider, "provider", "modal", "modal or docker")
	return cmd
}
