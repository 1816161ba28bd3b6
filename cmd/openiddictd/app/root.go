// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

// Package app wires the authorization server's CLI commands.
package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
)

// NewRootCommand builds the openiddictd command tree.
func NewRootCommand() *cobra.Command {
	var configFile string
	var debug bool

	rootCmd := &cobra.Command{
		Use:          "openiddictd",
		Short:        "OAuth 2.0 / OpenID Connect authorization server",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger.Initialize(debug || viper.GetBool("debug"))
			return nil
		},
	}

	addRootFlags(rootCmd.PersistentFlags(), &configFile, &debug)

	cobra.OnInitialize(func() {
		viper.SetEnvPrefix("OPENIDDICT")
		viper.AutomaticEnv()
		if configFile != "" {
			viper.SetConfigFile(configFile)
		} else {
			viper.SetConfigName("openiddictd")
			viper.SetConfigType("yaml")
			viper.AddConfigPath(".")
			viper.AddConfigPath("/etc/openiddictd")
		}
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if configFile != "" || !errors.As(err, &notFound) {
				cobra.CheckErr(fmt.Errorf("read config: %w", err))
			}
		}
	})

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newPruneCommand())
	return rootCmd
}

// addRootFlags registers the flags shared by every subcommand.
func addRootFlags(flags *pflag.FlagSet, configFile *string, debug *bool) {
	flags.StringVar(configFile, "config", "", "path to the configuration file")
	flags.BoolVar(debug, "debug", false, "enable debug logging")
}
