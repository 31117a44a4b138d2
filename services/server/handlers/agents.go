// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kodiaksec/domainwatch/services/server/datatypes"
	"github.com/kodiaksec/domainwatch/services/store"
)

// AgentHeartbeat records a collector agent check-in, keyed by
// (name, domain).
func AgentHeartbeat(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.HeartbeatRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}
		agent := &store.Agent{
			Name:     req.Name,
			Domain:   strings.ToLower(strings.TrimSpace(req.Domain)),
			Hostname: req.Hostname,
			LastSeen: time.Now().UTC(),
			Version:  req.Version,
		}
		if err := deps.Store.UpsertAgent(c.Request.Context(), agent); err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, agent)
	}
}

// ListAgents lists known collector agents.
func ListAgents(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		agents, err := deps.Store.ListAgents(c.Request.Context())
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, agents)
	}
}
