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
)

// GetCompositeDashboard returns the per-domain composite view, latest
// config-audit and group-analysis signals merged.
func GetCompositeDashboard(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := deps.Store.GetCompositeDashboard(c.Request.Context(), c.Query("domain"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// GetDashboardKPIs returns the headline counters.
func GetDashboardKPIs(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		kpis, err := deps.Store.GetDashboardKPIs(c.Request.Context(), c.Query("domain"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, kpis)
	}
}
