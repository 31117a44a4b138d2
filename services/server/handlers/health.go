// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodiaksec/domainwatch/services/store/health"
)

// HealthCheck runs the full database health probe. Responds 200 while
// the store is at least degraded and 503 when it is unusable. A failed
// startup migration pins the report at degraded.
func HealthCheck(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := deps.Health.Run(c.Request.Context())

		if deps.MigrationErr != nil {
			report.Status = health.Worse(report.Status, health.StatusDegraded)
			report.Checks = append(report.Checks, health.Check{
				Name:    "migrations",
				Status:  health.StatusDegraded,
				Message: deps.MigrationErr.Error(),
			})
		}

		code := http.StatusOK
		if report.Status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}
