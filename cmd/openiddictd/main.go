// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

// Command openiddictd runs the OAuth 2.0 / OpenID Connect authorization
// server.
package main

import (
	"os"

	"github.com/khandakerakash/openiddict-core/cmd/openiddictd/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
