// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kodiaksec/domainwatch/services/alert"
	"github.com/kodiaksec/domainwatch/services/server/datatypes"
	"github.com/kodiaksec/domainwatch/services/store"
)

var recognizedSettings = map[string]struct{}{
	store.SettingWebhookURL:            {},
	store.SettingAlertMessage:          {},
	store.SettingRetentionDays:         {},
	store.SettingAutoAcceptLowSeverity: {},
}

// GetSettings returns all stored settings.
func GetSettings(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := deps.Store.GetSettings(c.Request.Context())
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

// PutSettings updates recognized settings keys. Unknown keys are
// rejected wholesale before any write.
func PutSettings(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]string
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}
		for key := range body {
			if _, ok := recognizedSettings[key]; !ok {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
					Error: fmt.Sprintf("unknown setting %q", key), Kind: "INPUT_INVALID",
				})
				return
			}
		}
		for key, value := range body {
			if err := deps.Store.SetSetting(c.Request.Context(), key, value); err != nil {
				apiError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// TestAlert sends a test notification to the configured webhook.
func TestAlert(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		url, err := deps.Store.GetSetting(ctx, store.SettingWebhookURL)
		if err != nil || strings.TrimSpace(url) == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "no webhook_url configured", Kind: "INPUT_INVALID"})
			return
		}
		template, _ := deps.Store.GetSetting(ctx, store.SettingAlertMessage)

		if err := deps.Alert.Send(ctx, url, template, alert.Alert{Domain: "example.test", Test: true}); err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sent": true})
	}
}
