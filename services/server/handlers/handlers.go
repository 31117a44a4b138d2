// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP endpoints. Handlers are
// factories taking their dependencies and returning gin.HandlerFunc.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodiaksec/domainwatch/pkg/cache"
	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/pkg/metrics"
	"github.com/kodiaksec/domainwatch/services/alert"
	"github.com/kodiaksec/domainwatch/services/ingest"
	"github.com/kodiaksec/domainwatch/services/risk"
	"github.com/kodiaksec/domainwatch/services/server/datatypes"
	"github.com/kodiaksec/domainwatch/services/store"
	"github.com/kodiaksec/domainwatch/services/store/health"
)

// Deps bundles the services handlers depend on. Constructed once in
// the server entrypoint and shared across requests.
type Deps struct {
	Store    store.Store
	Registry *ingest.Registry
	Risk     *risk.Service
	Cache    *cache.Cache
	Alert    *alert.Sender
	Health   *health.Checker
	Metrics  *metrics.Registry
	Logger   *logging.Logger

	// MaxUploadSize bounds file uploads, bytes.
	MaxUploadSize int64
	// UploadDir is where raw uploaded artifacts are kept.
	UploadDir string

	// MigrationErr is non-nil when startup migrations failed and the
	// process is running degraded.
	MigrationErr error
}

// apiError translates the error taxonomy into HTTP responses.
func apiError(c *gin.Context, err error) {
	var parseErr *ingest.ParseError

	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: err.Error(), Kind: "NOT_FOUND"})
	case errors.Is(err, store.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "INPUT_INVALID"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: err.Error(), Kind: "CONFLICT"})
	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: err.Error(), Kind: "STORAGE_UNAVAILABLE"})
	case errors.Is(err, ingest.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "UNSUPPORTED_TYPE"})
	case errors.Is(err, ingest.ErrNoParser):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error(), Kind: "NO_PARSER"})
	case errors.As(err, &parseErr):
		c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{Error: err.Error(), Kind: "PARSE_FAILED"})
	default:
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
	}
}
