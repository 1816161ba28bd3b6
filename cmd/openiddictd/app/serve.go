// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/khandakerakash/openiddict-core/pkg/keys"
	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/server"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
	"github.com/khandakerakash/openiddict-core/pkg/server/httpapi"
	"github.com/khandakerakash/openiddict-core/pkg/token"
)

const shutdownGrace = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := cfg.buildStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warnw("store close failed", "error", err)
		}
	}()

	mgrs := buildManagers(st)
	if err := seed(ctx, mgrs, cfg); err != nil {
		return err
	}

	keyProvider, err := cfg.buildKeys()
	if err != nil {
		return err
	}

	srvConfig := server.Config{
		Options:    cfg.serverOptions(),
		Managers:   mgrs,
		Serializer: token.NewSerializer(keyProvider),
		JWKS:       keys.NewJWKS(keyProvider),
	}
	if cfg.DevSubject != "" {
		logger.Warnw("dev_subject is set: every authorization request is auto-approved",
			"subject", cfg.DevSubject,
		)
		srvConfig.AuthorizationHandlers = append(srvConfig.AuthorizationHandlers,
			devAuthorizationHandler(cfg.DevSubject))
	}

	srv, err := server.New(srvConfig)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.NewRouter(srv).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infow("authorization server listening",
			"addr", cfg.Listen,
			"issuer", cfg.Issuer,
			"storage", cfg.Storage.Type,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// devAuthorizationHandler approves every validated authorization request
// for a fixed subject. It stands in for the interactive consent pipeline a
// real host attaches.
func devAuthorizationHandler(subject string) events.Descriptor[*server.HandleAuthorizationRequestContext] {
	return events.Descriptor[*server.HandleAuthorizationRequestContext]{
		Name:  "dev-auto-approve",
		Order: 1000,
		Factory: func() events.Handler[*server.HandleAuthorizationRequestContext] {
			return events.HandlerFunc[*server.HandleAuthorizationRequestContext](
				func(_ context.Context, evt *server.HandleAuthorizationRequestContext) error {
					evt.Principal = &server.Principal{
						Subject: subject,
						Scopes:  evt.Request().GetScopes(),
						Claims: map[string]any{
							"preferred_username": subject,
						},
					}
					return nil
				})
		},
	}
}
