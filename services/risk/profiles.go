// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package risk

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/services/store"
)

// Level classifies how dangerous membership in a group is.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
)

// Profile is the risk model for one privileged group.
type Profile struct {
	GroupName      string  `yaml:"name"`
	Level          Level   `yaml:"level"`
	BaseWeight     float64 `yaml:"base_weight"`
	MaxAcceptable  int     `yaml:"max_acceptable"`
	EscalationMult float64 `yaml:"escalation_multiplier"`
}

// defaultProfiles covers the well-known AD privileged groups, keyed by
// lowercased group name.
var defaultProfiles = map[string]Profile{
	"domain admins":      {GroupName: "Domain Admins", Level: LevelCritical, BaseWeight: 3.0, MaxAcceptable: 2, EscalationMult: 2.0},
	"enterprise admins":  {GroupName: "Enterprise Admins", Level: LevelCritical, BaseWeight: 3.0, MaxAcceptable: 1, EscalationMult: 2.5},
	"schema admins":      {GroupName: "Schema Admins", Level: LevelCritical, BaseWeight: 2.5, MaxAcceptable: 1, EscalationMult: 2.0},
	"administrators":     {GroupName: "Administrators", Level: LevelHigh, BaseWeight: 2.0, MaxAcceptable: 5, EscalationMult: 1.5},
	"account operators":  {GroupName: "Account Operators", Level: LevelHigh, BaseWeight: 1.8, MaxAcceptable: 3, EscalationMult: 1.5},
	"backup operators":   {GroupName: "Backup Operators", Level: LevelMedium, BaseWeight: 1.2, MaxAcceptable: 5, EscalationMult: 1.2},
	"server operators":   {GroupName: "Server Operators", Level: LevelMedium, BaseWeight: 1.2, MaxAcceptable: 3, EscalationMult: 1.2},
	"print operators":    {GroupName: "Print Operators", Level: LevelLow, BaseWeight: 1.0, MaxAcceptable: 8, EscalationMult: 1.0},
}

// unknownProfile covers groups outside the well-known set.
var unknownProfile = Profile{Level: LevelLow, BaseWeight: 1.0, MaxAcceptable: 10, EscalationMult: 1.0}

// profilesFile is the YAML override file shape.
type profilesFile struct {
	Groups []Profile `yaml:"groups"`
}

// Profiles resolves group names to risk profiles. Built-in defaults
// can be overridden by an optional YAML file which is hot-reloaded on
// change.
type Profiles struct {
	mu     sync.RWMutex
	custom map[string]Profile

	path   string
	logger *logging.Logger
}

// DefaultProfiles returns the built-in profile set with no file
// overrides.
func DefaultProfiles() *Profiles {
	return &Profiles{custom: map[string]Profile{}, logger: logging.Default()}
}

// LoadProfiles reads the YAML override file at path. An empty path
// yields the defaults.
func LoadProfiles(path string, logger *logging.Logger) (*Profiles, error) {
	if logger == nil {
		logger = logging.Default()
	}
	p := &Profiles{custom: map[string]Profile{}, path: path, logger: logger}
	if path == "" {
		return p, nil
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profiles) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read profiles file: %w", err)
	}
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse profiles file %s: %w", p.path, err)
	}

	custom := make(map[string]Profile, len(file.Groups))
	for _, profile := range file.Groups {
		if profile.GroupName == "" {
			return fmt.Errorf("profiles file %s: group with empty name", p.path)
		}
		if profile.EscalationMult <= 0 {
			profile.EscalationMult = 1.0
		}
		if profile.BaseWeight <= 0 {
			profile.BaseWeight = 1.0
		}
		if profile.Level == "" {
			profile.Level = LevelLow
		}
		custom[strings.ToLower(profile.GroupName)] = profile
	}

	p.mu.Lock()
	p.custom = custom
	p.mu.Unlock()
	p.logger.Info("group risk profiles loaded", "path", p.path, "overrides", len(custom))
	return nil
}

// Watch hot-reloads the override file until ctx is cancelled. No-op
// without a file.
func (p *Profiles) Watch(ctx context.Context) error {
	if p.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create profiles watcher: %w", err)
	}
	if err := watcher.Add(p.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", p.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.reload(); err != nil {
					p.logger.Error("profiles reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("profiles watcher error", "error", err)
			}
		}
	}()
	return nil
}

// For returns the profile for a group name, falling back to the
// unknown-group profile. Lookup is case-insensitive.
func (p *Profiles) For(group string) Profile {
	key := strings.ToLower(strings.TrimSpace(group))

	p.mu.RLock()
	custom, ok := p.custom[key]
	p.mu.RUnlock()
	if ok {
		return custom
	}
	if profile, ok := defaultProfiles[key]; ok {
		return profile
	}
	profile := unknownProfile
	profile.GroupName = group
	return profile
}

// ApplyConfig overlays a stored per-domain override onto a profile.
func ApplyConfig(profile Profile, cfg *store.GroupRiskConfig) Profile {
	if cfg == nil {
		return profile
	}
	if cfg.BaseRiskScore != nil && *cfg.BaseRiskScore > 0 {
		profile.BaseWeight = *cfg.BaseRiskScore
	}
	if cfg.MaxAcceptableMembers != nil && *cfg.MaxAcceptableMembers >= 0 {
		profile.MaxAcceptable = *cfg.MaxAcceptableMembers
	}
	return profile
}
