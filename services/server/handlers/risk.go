// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kodiaksec/domainwatch/services/server/datatypes"
)

// GetRiskBreakdown returns the full per-group and category breakdown
// for one domain.
func GetRiskBreakdown(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		breakdown, err := deps.Risk.GetBreakdown(c.Request.Context(), c.Param("domain"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, breakdown)
	}
}

// GetRiskHistory returns the global score history for one domain,
// newest first. Defaults to 30 days.
func GetRiskHistory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 30
		if raw := c.Query("days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "days must be a positive integer", Kind: "INPUT_INVALID"})
				return
			}
			days = parsed
		}
		history, err := deps.Risk.GetHistory(c.Request.Context(), c.Param("domain"), days)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, history)
	}
}

// CompareDomains lists every domain's latest score side by side.
func CompareDomains(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := deps.Risk.CompareDomains(c.Request.Context())
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// RecomputeRisk forces a fresh recomputation for one domain,
// bypassing the same-day short-circuit.
func RecomputeRisk(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		domain := c.Param("domain")
		if _, _, err := deps.Risk.RecomputeDomain(c.Request.Context(), domain, true); err != nil {
			apiError(c, err)
			return
		}
		global, err := deps.Risk.RecomputeGlobal(c.Request.Context(), domain)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, global)
	}
}
