// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package migrations embeds the SQL migration files shipped with the
// binary. Deployments may point MIGRATIONS_DIR at an on-disk directory
// instead; the embedded set is the default.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
