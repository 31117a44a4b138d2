// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kodiaksec/domainwatch/services/server/handlers"
)

func SetupRoutes(router *gin.Engine, deps *handlers.Deps) {

	router.GET("/health", handlers.HealthCheck(deps))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/upload", handlers.HandleFileUpload(deps))
		v1.POST("/upload/report", handlers.HandleProgrammaticUpload(deps))
		v1.POST("/upload/bulk", handlers.HandleBulkUpload(deps))

		v1.GET("/reports", handlers.ListReports(deps))
		v1.GET("/reports/:id", handlers.GetReport(deps))
		v1.PATCH("/findings/:id/status", handlers.UpdateFindingStatus(deps))

		// Accepted-risk administration routes
		accepted := v1.Group("/accepted-risks")
		{
			accepted.GET("", handlers.ListAcceptedRisks(deps))
			accepted.POST("", handlers.AcceptRisk(deps))
			accepted.DELETE("", handlers.RemoveAcceptedRisk(deps))
		}

		// Group governance routes
		groups := v1.Group("/groups")
		{
			groups.GET("", handlers.ListMonitoredGroups(deps))
			groups.GET("/members/accepted", handlers.ListAcceptedMembers(deps))
			groups.POST("/members/accept", handlers.AcceptMember(deps))
			groups.POST("/members/deny", handlers.DenyMember(deps))
			groups.GET("/configs", handlers.ListGroupConfigs(deps))
			groups.POST("/configs", handlers.UpsertGroupConfig(deps))
		}

		// Risk assessment routes
		risk := v1.Group("/risk")
		{
			risk.GET("/breakdown/:domain", handlers.GetRiskBreakdown(deps))
			risk.GET("/history/:domain", handlers.GetRiskHistory(deps))
			risk.GET("/compare", handlers.CompareDomains(deps))
			risk.POST("/recompute/:domain", handlers.RecomputeRisk(deps))
		}

		v1.GET("/dashboard/composite", handlers.GetCompositeDashboard(deps))
		v1.GET("/dashboard/kpis", handlers.GetDashboardKPIs(deps))

		v1.GET("/settings", handlers.GetSettings(deps))
		v1.PUT("/settings", handlers.PutSettings(deps))
		v1.POST("/alerts/test", handlers.TestAlert(deps))

		agents := v1.Group("/agents")
		{
			agents.GET("", handlers.ListAgents(deps))
			agents.POST("/heartbeat", handlers.AgentHeartbeat(deps))
		}
	}
}
