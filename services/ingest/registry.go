// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest normalizes uploaded assessment-tool artifacts into
// store.Report values. A registry indexes parsers by file extension;
// dispatch picks the first registered parser whose cheap structural
// probe accepts the payload.
package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/services/store"
)

var (
	// ErrUnsupportedType means the upload's extension has no registered
	// parsers at all.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrNoParser means parsers exist for the extension but none
	// recognized the payload's structure.
	ErrNoParser = errors.New("no parser matched")
)

// ParseError wraps a parser failure with the offending path.
type ParseError struct {
	Path  string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Parser turns one tool's artifact into a normalized Report.
//
// CanParse must be a cheap structural probe (root tag, header row,
// top-level JSON key), never a full parse.
type Parser interface {
	ToolType() store.ToolType
	SupportedExtensions() []string
	CanParse(filename string, data []byte) bool
	Parse(filename string, data []byte) (*store.Report, error)
}

// Registry dispatches uploads to parsers by extension.
type Registry struct {
	byExtension map[string][]Parser
	logger      *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{byExtension: make(map[string][]Parser), logger: logger}
}

// DefaultRegistry returns a registry with all built-in parsers wired:
// config-audit XML, PKI JSON/CSV and domain-group JSON.
func DefaultRegistry(logger *logging.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewConfigAuditParser())
	r.Register(NewGroupMembersParser())
	r.Register(NewPKIParser())
	return r
}

// Register appends the parser under each of its extensions. Order of
// registration is the probe order at dispatch time.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		ext = strings.ToLower(ext)
		r.byExtension[ext] = append(r.byExtension[ext], p)
	}
}

// FindParser returns the first parser registered for the file's
// extension whose probe accepts the payload.
func (r *Registry) FindParser(filename string, data []byte) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	candidates, ok := r.byExtension[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	for _, p := range candidates {
		if p.CanParse(filename, data) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoParser, filename)
}

// Parse dispatches and runs the matching parser.
func (r *Registry) Parse(filename string, data []byte) (*store.Report, error) {
	p, err := r.FindParser(filename, data)
	if err != nil {
		return nil, err
	}
	report, err := p.Parse(filename, data)
	if err != nil {
		r.logger.Warn("parse failed",
			"filename", filename,
			"tool_type", string(p.ToolType()),
			"error", err,
		)
		return nil, &ParseError{Path: filename, Cause: err}
	}
	return report, nil
}

// uploadPrefixPattern matches the hex prefix the upload handler puts
// in front of stored filenames: <hex>_<original-stem>.<ext>.
var uploadPrefixPattern = regexp.MustCompile(`^[0-9a-fA-F]{8,32}_`)

// FileStem strips the upload hex prefix and the extension from a
// filename. HTML companions are matched to their XML report by stem.
func FileStem(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return uploadPrefixPattern.ReplaceAllString(base, "")
}
