package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/yourorg/authshell/internal/config"
	"github.com/yourorg/authshell/internal/platform/httpserver"
	"github.com/yourorg/authshell/internal/platform/logger"
	"github.com/yourorg/authshell/internal/protectedapi"
)

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the bearer-protected backend API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadAPI()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)

			client := &http.Client{Timeout: 10 * time.Second}
			verifier, err := protectedapi.NewVerifier(ctx, cfg, client)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv := protectedapi.New(ctx, cfg, verifier, protectedapi.NewMetrics(reg), log)

			log.Info("api configured", "issuer", verifier.Issuer, "audience", cfg.Audience)
			return httpserver.Run(ctx, httpserver.New(cfg.Addr, srv.Routes(reg)), log)
		},
	}
}
