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
	"github.com/google/uuid"

	"github.com/kodiaksec/domainwatch/services/server/datatypes"
	"github.com/kodiaksec/domainwatch/services/store"
)

// ListReports returns report summaries filtered by query params.
func ListReports(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		filter := store.ReportFilter{
			Domain:   c.Query("domain"),
			ToolType: store.ToolType(c.Query("tool_type")),
			Limit:    limit,
		}
		summaries, err := deps.Store.GetReportsSummary(c.Request.Context(), filter)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, summaries)
	}
}

// GetReport returns one report with its findings.
func GetReport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid report id", Kind: "INPUT_INVALID"})
			return
		}
		report, err := deps.Store.GetReport(c.Request.Context(), id)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// UpdateFindingStatus changes one finding's lifecycle status.
func UpdateFindingStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid finding id", Kind: "INPUT_INVALID"})
			return
		}
		var req datatypes.FindingStatusRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}
		if err := deps.Store.UpdateFindingStatus(c.Request.Context(), id, req.Status); err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
	}
}
