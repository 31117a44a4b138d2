// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/kodiaksec/domainwatch/services/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	return server.Run(server.ConfigFromEnv())
}
