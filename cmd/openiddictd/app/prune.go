// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
)

func newPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired tokens and dead authorizations from the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := cfg.buildStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			mgrs := buildManagers(st)
			ctx := cmd.Context()

			tokens, tokenErr := mgrs.Tokens.Prune(ctx)
			authorizations, authzErr := mgrs.Authorizations.Prune(ctx)

			logger.Infow("prune finished",
				"tokens_removed", tokens,
				"authorizations_removed", authorizations,
			)
			return errors.Join(tokenErr, authzErr)
		},
	}
}
