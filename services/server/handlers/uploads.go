// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kodiaksec/domainwatch/services/alert"
	"github.com/kodiaksec/domainwatch/services/ingest"
	"github.com/kodiaksec/domainwatch/services/server/datatypes"
	"github.com/kodiaksec/domainwatch/services/store"
)

// DefaultMaxUploadSize is 10 MiB.
const DefaultMaxUploadSize = 10 << 20

var acceptedExtensions = map[string]struct{}{
	".xml": {}, ".html": {}, ".htm": {}, ".json": {}, ".csv": {},
}

// HandleFileUpload ingests a multipart file upload. HTML files attach
// to the matching XML report instead of creating their own.
func HandleFileUpload(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "missing file field", Kind: "INPUT_INVALID"})
			return
		}

		maxSize := deps.MaxUploadSize
		if maxSize <= 0 {
			maxSize = DefaultMaxUploadSize
		}
		if fileHeader.Size > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{
				Error: fmt.Sprintf("file exceeds %d bytes", maxSize), Kind: "INPUT_INVALID",
			})
			return
		}

		ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
		if _, ok := acceptedExtensions[ext]; !ok {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: fmt.Sprintf("unsupported extension %s", ext), Kind: "UNSUPPORTED_TYPE",
			})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			apiError(c, err)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
		if err != nil {
			apiError(c, err)
			return
		}
		if int64(len(data)) > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{
				Error: fmt.Sprintf("file exceeds %d bytes", maxSize), Kind: "INPUT_INVALID",
			})
			return
		}

		storedPath, err := storeUpload(deps.UploadDir, fileHeader.Filename, data)
		if err != nil {
			apiError(c, err)
			return
		}

		if ext == ".html" || ext == ".htm" {
			attachHTML(c, deps, fileHeader.Filename, storedPath)
			return
		}

		report, err := deps.Registry.Parse(fileHeader.Filename, data)
		if err != nil {
			deps.Metrics.ParseFailuresTotal.WithLabelValues(ext).Inc()
			apiError(c, err)
			return
		}
		report.FilePath = &storedPath

		result, err := commitReport(c.Request.Context(), deps, report, true)
		if err != nil {
			deps.Metrics.UploadsTotal.WithLabelValues(string(report.ToolType), "error").Inc()
			apiError(c, err)
			return
		}
		deps.Metrics.UploadsTotal.WithLabelValues(string(report.ToolType), "success").Inc()
		c.JSON(http.StatusCreated, result)
	}
}

func attachHTML(c *gin.Context, deps *Deps, filename, storedPath string) {
	stem := ingest.FileStem(filename)
	report, err := deps.Store.FindReportByFileStem(c.Request.Context(), stem)
	if errors.Is(err, store.ErrNotFound) {
		// Unmatched HTML is retained as orphaned; a later XML upload
		// may claim it by stem.
		deps.Logger.Info("html upload unmatched, retained", "filename", filename, "stem", stem)
		c.JSON(http.StatusAccepted, datatypes.HTMLAttachResult{Matched: false, Stored: storedPath})
		return
	}
	if err != nil {
		apiError(c, err)
		return
	}
	if err := deps.Store.UpdateReportHTML(c.Request.Context(), report.ID, storedPath); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, datatypes.HTMLAttachResult{Matched: true, ReportID: &report.ID, Stored: storedPath})
}

// HandleProgrammaticUpload ingests a JSON report body.
func HandleProgrammaticUpload(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ProgrammaticUpload
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}

		report, err := reportFromUpload(&req)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}

		result, err := commitReport(c.Request.Context(), deps, report, req.SendAlert)
		if err != nil {
			deps.Metrics.UploadsTotal.WithLabelValues(string(report.ToolType), "error").Inc()
			apiError(c, err)
			return
		}
		deps.Metrics.UploadsTotal.WithLabelValues(string(report.ToolType), "success").Inc()
		c.JSON(http.StatusCreated, result)
	}
}

// HandleBulkUpload ingests a list of JSON reports, reporting per-item
// outcomes.
func HandleBulkUpload(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reqs []datatypes.ProgrammaticUpload
		if err := c.BindJSON(&reqs); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
			return
		}

		items := make([]datatypes.BulkUploadItem, 0, len(reqs))
		for i := range reqs {
			item := datatypes.BulkUploadItem{Index: i}
			report, err := reportFromUpload(&reqs[i])
			if err == nil {
				item.Result, err = commitReport(c.Request.Context(), deps, report, reqs[i].SendAlert)
			}
			if err != nil {
				item.Error = err.Error()
			} else {
				item.OK = true
			}
			items = append(items, item)
		}
		c.JSON(http.StatusMultiStatus, items)
	}
}

// reportFromUpload builds a store.Report from the JSON body. Tool-type
// inappropriate fields are left for the store to drop and log.
func reportFromUpload(req *datatypes.ProgrammaticUpload) (*store.Report, error) {
	if !req.ToolType.Valid() {
		return nil, fmt.Errorf("unknown tool type %q", req.ToolType)
	}

	report := &store.Report{
		ToolType: req.ToolType,
		Domain:   strings.ToLower(strings.TrimSpace(req.Domain)),
		Metadata: req.Metadata,
		Findings: req.Findings,
	}
	if req.ReportDate != nil {
		report.ReportDate = req.ReportDate.UTC()
	}

	if meta := req.DomainMetadata; meta != nil {
		report.DomainSID = meta.DomainSID
		report.DomainFunctionalLevel = meta.DomainFunctionalLevel
		report.ForestFunctionalLevel = meta.ForestFunctionalLevel
		report.MaturityLevel = meta.MaturityLevel
		report.DCCount = meta.DCCount
		report.UserCount = meta.UserCount
		report.ComputerCount = meta.ComputerCount
	}
	if scores := req.PingCastleScores; scores != nil {
		global := scores.StaleObjects + scores.PrivilegedAccounts + scores.Trusts + scores.Anomalies
		report.StaleObjectsScore = &scores.StaleObjects
		report.PrivilegedAccountsScore = &scores.PrivilegedAccounts
		report.TrustsScore = &scores.Trusts
		report.AnomaliesScore = &scores.Anomalies
		report.GlobalScore = &global
	}
	if len(req.Groups) > 0 {
		report.Findings = append(report.Findings, ingest.BuildGroupFindings(req.Groups)...)
	}
	return report, nil
}

// commitReport is the shared post-parse pipeline: save, persist group
// memberships, trigger recomputation, alert. Secondary failures are
// folded into the result, never into the error.
func commitReport(ctx context.Context, deps *Deps, report *store.Report, sendAlert bool) (*datatypes.UploadResult, error) {
	reportID, err := deps.Store.SaveReport(ctx, report)
	if err != nil {
		return nil, err
	}

	if report.ToolType == store.ToolDomainAnalysis {
		memberships := ingest.MembershipsFromReport(report)
		if err := deps.Store.SaveGroupMemberships(ctx, reportID, report.Domain, memberships); err != nil {
			return nil, err
		}
	}

	result := &datatypes.UploadResult{
		ReportID:      reportID,
		ToolType:      report.ToolType,
		Domain:        report.Domain,
		FindingsCount: len(report.Findings),
	}
	result.Risk = deps.Risk.OnUpload(ctx, report.Domain, reportID.String())

	if sendAlert {
		result.AlertSent = maybeAlert(ctx, deps, report, reportID)
	}
	return result, nil
}

// maybeAlert sends a webhook for the report's unaccepted findings when
// a destination is configured. Best effort.
func maybeAlert(ctx context.Context, deps *Deps, report *store.Report, reportID uuid.UUID) bool {
	url, err := deps.Store.GetSetting(ctx, store.SettingWebhookURL)
	if err != nil || strings.TrimSpace(url) == "" {
		return false
	}
	unaccepted, err := deps.Store.FilterUnacceptedFindings(ctx, report.Findings)
	if err != nil || len(unaccepted) == 0 {
		return false
	}
	template, _ := deps.Store.GetSetting(ctx, store.SettingAlertMessage)

	err = deps.Alert.Send(ctx, url, template, alert.Alert{
		ReportID: reportID.String(),
		Domain:   report.Domain,
		ToolType: report.ToolType,
		Findings: unaccepted,
	})
	return err == nil
}

// storeUpload writes the raw artifact under a random hex prefix so
// repeated uploads of the same filename never collide.
func storeUpload(dir, filename string, data []byte) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	prefix := make([]byte, 8)
	if _, err := rand.Read(prefix); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s", hex.EncodeToString(prefix), filepath.Base(filename))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", err
	}
	return path, nil
}
