package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zpdzap/codelive/internal/ai"
	"github.com/zpdzap/codelive/internal/config"
	"github.com/zpdzap/codelive/internal/deploy"
	"github.com/zpdzap/codelive/internal/docker"
	"github.com/zpdzap/codelive/internal/httpapi"
	"github.com/zpdzap/codelive/internal/logging"
	"github.com/zpdzap/codelive/internal/preview"
	"github.com/zpdzap/codelive/internal/sandbox"
	"github.com/zpdzap/codelive/internal/shell"
	"github.com/zpdzap/codelive/internal/srcbook"
	"github.com/zpdzap/codelive/internal/store"
	"github.com/zpdzap/codelive/internal/vault"
	"github.com/zpdzap/codelive/internal/workspace"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(baseDir)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.IsProduction())

	for _, dir := range []string{cfg.Path(), cfg.AppsPath(), cfg.SrcbooksPath(), cfg.Path(config.WorkDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	box, err := vault.LoadOrCreate(cfg.Path(config.KeyFile))
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Path(config.DatabaseFile), box)
	if err != nil {
		return err
	}
	defer st.Close()

	runner := shell.Exec{}
	ws := workspace.New(cfg.AppsPath(), runner, log)
	dk := docker.New(runner)

	previews := preview.NewManager(ws, runner, preview.Options{
		WorkDir:        cfg.Path(config.WorkDir, "previews"),
		InstallCommand: cfg.Preview.InstallCommand,
		RunCommand:     cfg.Preview.RunCommand,
		ReadyMarker:    cfg.Preview.ReadyMarker,
		TTL:            cfg.Preview.TTL,
		Resources:      preview.Resources{CPU: cfg.Preview.CPU, Memory: cfg.Preview.Memory},
	}, log.WithField("component", "preview"))

	sandboxes := sandbox.NewManager(cfg.Path(config.StateFile), ws, dk, sandbox.Options{
		WorkDir:   cfg.Path(config.WorkDir, "sandboxes"),
		BaseImage: cfg.Sandbox.BaseImage,
		Port:      cfg.Sandbox.Port,
		TTL:       cfg.Sandbox.TTL,
		Resources: sandbox.Resources{CPU: cfg.Sandbox.CPU, Memory: cfg.Sandbox.Memory},
	}, log.WithField("component", "sandbox"))
	if err := sandboxes.Reconcile(ctx); err != nil {
		log.WithError(err).Warn("sandbox reconciliation failed")
	}
	defer sandboxes.Close()

	deployer := deploy.NewService(st, log.WithField("component", "deploy"),
		&deploy.Modal{
			Runner:    runner,
			Source:    ws,
			WorkDir:   cfg.Path(config.WorkDir, "modal"),
			Python:    cfg.Deploy.Python,
			AppPrefix: cfg.Deploy.AppPrefix,
			Token:     cfg.Deploy.ModalToken,
		},
		&deploy.Container{
			Docker:    dk,
			Source:    ws,
			WorkDir:   cfg.Path(config.WorkDir, "deploys"),
			BaseImage: cfg.Sandbox.BaseImage,
			Port:      cfg.Sandbox.Port,
		},
	)

	generator := ai.New(st, ai.Options{
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
		Timeout:           cfg.AI.Timeout,
	}, log.WithField("component", "ai"))

	api := httpapi.New(httpapi.Deps{
		Store:       st,
		Workspace:   ws,
		Srcbooks:    srcbook.NewStore(cfg.SrcbooksPath()),
		Previews:    previews,
		Sandboxes:   sandboxes,
		Deployer:    deployer,
		AI:          generator,
		Log:         log,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("api listening")
		errCh <- srv.ListenAndServe()
	}()
	color.Cyan("codelive API on http://%s", srv.Addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := previews.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("stopping previews")
	}
	return nil
}
