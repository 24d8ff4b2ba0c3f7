package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/yourorg/authshell/internal/account"
	"github.com/yourorg/authshell/internal/backend"
	"github.com/yourorg/authshell/internal/config"
	"github.com/yourorg/authshell/internal/identity"
	"github.com/yourorg/authshell/internal/interceptor"
	"github.com/yourorg/authshell/internal/platform/httpserver"
	"github.com/yourorg/authshell/internal/platform/logger"
	"github.com/yourorg/authshell/internal/shell"
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Serve the login and welcome views",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadShell()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)

			store, err := account.Open(ctx, cfg.CacheLocation, cfg.SQLiteDSN, cfg.RedisURL, cfg.SessionTTL)
			if err != nil {
				return err
			}
			defer store.Close()
			go account.Janitor(ctx, store, cfg.PurgeInterval, cfg.SessionTTL, log)

			gw := identity.New(identity.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				Authority:    cfg.Authority,
				RedirectURI:  cfg.RedirectURI,
				Scopes:       cfg.Scopes,
				PendingTTL:   cfg.PendingTTL,
			}, store, log)

			resources, err := cfg.Resources()
			if err != nil {
				return err
			}
			rmap, err := interceptor.NewResourceMap(resources)
			if err != nil {
				return err
			}
			apiClient := &http.Client{
				Transport: &interceptor.Transport{Resources: rmap, Acquirer: shell.SessionAcquirer},
				Timeout:   cfg.BackendTimeout,
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv := shell.New(gw, backend.NewClient(apiClient, cfg.BackendURL), shell.NewMetrics(reg), log,
				shell.Options{SecureCookies: cfg.SecureCookies})

			log.Info("shell configured", "authority", cfg.Authority, "cache", cfg.CacheLocation, "backend", cfg.BackendURL)
			return httpserver.Run(ctx, httpserver.New(cfg.Addr, srv.Routes(reg)), log)
		},
	}
}
