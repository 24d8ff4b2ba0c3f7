package main

import (
	"github.com/spf13/cobra"

	"github.com/yourorg/authshell/internal/config"
	"github.com/yourorg/authshell/internal/mockidp"
	"github.com/yourorg/authshell/internal/platform/httpserver"
	"github.com/yourorg/authshell/internal/platform/logger"
)

func newMockIDPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mockidp",
		Short: "Serve a development OpenID Connect provider that signs in one fixed user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadMockIDP()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)

			signer, err := mockidp.NewSigner(cfg.PrivateKeyPath, cfg.Issuer, cfg.APIAudience, cfg.TokenTTL)
			if err != nil {
				return err
			}
			srv, err := mockidp.NewServer(ctx, mockidp.NewInMemoryRepo(), signer, mockidp.Options{
				Issuer:       cfg.Issuer,
				ClientID:     cfg.ClientID,
				RedirectURIs: cfg.RedirectURIs,
				TenantID:     cfg.TenantID,
				UserName:     cfg.UserName,
				UserEmail:    cfg.UserEmail,
				RefreshTTL:   cfg.RefreshTTL,
			}, log)
			if err != nil {
				return err
			}

			log.Warn("mock identity provider signs every request in without credentials", "user", cfg.UserEmail)
			return httpserver.Run(ctx, httpserver.New(cfg.Addr, srv.Routes()), log)
		},
	}
}
