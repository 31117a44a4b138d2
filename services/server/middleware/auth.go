// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kodiaksec/domainwatch/pkg/auth"
)

// authInfoKey is the gin context key holding the caller identity.
const authInfoKey = "domainwatch_auth_info"

// GetAuthInfo returns the identity stored by Auth, or nil.
func GetAuthInfo(c *gin.Context) *auth.Info {
	value, ok := c.Get(authInfoKey)
	if !ok {
		return nil
	}
	info, _ := value.(*auth.Info)
	return info
}

// Auth validates the bearer token from the Authorization header and
// stores the caller identity for downstream handlers. With the
// NopProvider every request passes, header or not. Health and metrics
// probes stay unauthenticated so monitoring keeps working when a
// token is set.
func Auth(provider auth.Provider) gin.HandlerFunc {
	if provider == nil {
		provider = &auth.NopProvider{}
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")

		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid credentials", "kind": "UNAUTHORIZED",
			})
			return
		}
		c.Set(authInfoKey, info)
		c.Next()
	}
}
