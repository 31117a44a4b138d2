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

// AcceptMember marks a group member as authorized, then triggers
// recomputation. The toggle succeeds even when recomputation fails;
// the substatus carries the failure.
func AcceptMember(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.MemberToggleRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}
		member := &store.AcceptedGroupMember{
			Domain:     req.Domain,
			GroupName:  req.Group,
			MemberName: req.Member,
			AcceptedBy: req.AcceptedBy,
		}
		if err := deps.Store.UpsertAcceptedGroupMember(c.Request.Context(), member); err != nil {
			apiError(c, err)
			return
		}

		outcome := deps.Risk.OnMemberChange(c.Request.Context(), req.Domain, req.Group)
		c.JSON(http.StatusOK, datatypes.MemberToggleResult{
			Domain: req.Domain, Group: req.Group, Member: req.Member, Risk: outcome,
		})
	}
}

// DenyMember removes a member's acceptance, then triggers
// recomputation.
func DenyMember(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.MemberToggleRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}
		if err := deps.Store.RemoveAcceptedGroupMember(c.Request.Context(), req.Domain, req.Group, req.Member); err != nil {
			apiError(c, err)
			return
		}

		outcome := deps.Risk.OnMemberChange(c.Request.Context(), req.Domain, req.Group)
		c.JSON(http.StatusOK, datatypes.MemberToggleResult{
			Domain: req.Domain, Group: req.Group, Member: req.Member, Risk: outcome,
		})
	}
}

// ListAcceptedMembers lists member acceptances for a domain.
func ListAcceptedMembers(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		domain := c.Query("domain")
		if domain == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "domain is required", Kind: "INPUT_INVALID"})
			return
		}
		members, err := deps.Store.ListAcceptedGroupMembers(c.Request.Context(), domain)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, members)
	}
}

// ListMonitoredGroups lists tracked groups for a domain.
func ListMonitoredGroups(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		groups, err := deps.Store.ListMonitoredGroups(c.Request.Context(), c.Query("domain"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, groups)
	}
}
