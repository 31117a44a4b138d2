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

	"github.com/kodiaksec/domainwatch/services/server/datatypes"
	"github.com/kodiaksec/domainwatch/services/store"
)

// AcceptRisk upserts an accepted risk kind.
func AcceptRisk(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AcceptRiskRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}
		risk := &store.AcceptedRisk{
			ToolType:   req.ToolType,
			Category:   req.Category,
			Name:       req.Name,
			Reason:     req.Reason,
			AcceptedBy: req.AcceptedBy,
			ExpiresAt:  req.ExpiresAt,
		}
		if err := deps.Store.UpsertAcceptedRisk(c.Request.Context(), risk); err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, risk)
	}
}

// RemoveAcceptedRisk deletes an acceptance by kind triple.
func RemoveAcceptedRisk(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := store.RiskKind{
			ToolType: store.ToolType(c.Query("tool_type")),
			Category: c.Query("category"),
			Name:     c.Query("name"),
		}
		if !kind.ToolType.Valid() || kind.Category == "" || kind.Name == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "tool_type, category and name are required", Kind: "INPUT_INVALID",
			})
			return
		}
		if err := deps.Store.RemoveAcceptedRisk(c.Request.Context(), kind); err != nil {
			apiError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListAcceptedRisks lists all acceptances.
func ListAcceptedRisks(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		risks, err := deps.Store.ListAcceptedRisks(c.Request.Context())
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, risks)
	}
}

// UpsertGroupConfig overrides a group's risk profile for one domain.
func UpsertGroupConfig(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.GroupRiskConfigRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}
		cfg := &store.GroupRiskConfig{
			Domain:               req.Domain,
			GroupName:            req.GroupName,
			BaseRiskScore:        req.BaseRiskScore,
			MaxAcceptableMembers: req.MaxAcceptableMembers,
			AlertThreshold:       req.AlertThreshold,
		}
		if err := deps.Store.UpsertGroupRiskConfig(c.Request.Context(), cfg); err != nil {
			apiError(c, err)
			return
		}

		// Profile changes feed the next recomputation.
		outcome := deps.Risk.OnMemberChange(c.Request.Context(), req.Domain, req.GroupName)
		c.JSON(http.StatusOK, gin.H{"config": cfg, "risk": outcome})
	}
}

// ListGroupConfigs lists profile overrides for a domain.
func ListGroupConfigs(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := deps.Store.ListGroupRiskConfigs(c.Request.Context(), c.Query("domain"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, configs)
	}
}
