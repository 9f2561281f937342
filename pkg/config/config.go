// Copyright 2025 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads per-app SBOM source records from a configuration
// directory. One YAML file per app, named <app>.yaml.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"
	"gopkg.in/yaml.v3"

	"chainguard.dev/bomfetch/pkg/sbom"
)

var (
	ErrNotFound     = errors.New("no configuration found for app")
	ErrMissingField = errors.New("required configuration field is missing")
	ErrMalformed    = errors.New("configuration record cannot be parsed")
	ErrValueMissing = errors.New("configuration value is absent or empty")
)

// Source is the tagged variant describing where an app's SBOM comes from.
// Type selects the handler; the remaining fields are interpreted by the
// handler the discriminator selects.
type Source struct {
	Type string `yaml:"type" json:"type"`

	// docker and chainguard sources.
	Image         string `yaml:"image,omitempty" json:"image,omitempty"`
	Registry      string `yaml:"registry,omitempty" json:"registry,omitempty"`
	Platform      string `yaml:"platform,omitempty" json:"platform,omitempty"`
	PredicateType string `yaml:"predicate_type,omitempty" json:"predicate_type,omitempty"`

	// github_release and lockfile sources. Repo is owner/name or a full
	// GitHub URL.
	Repo         string   `yaml:"repo,omitempty" json:"repo,omitempty"`
	Asset        string   `yaml:"asset,omitempty" json:"asset,omitempty"`
	AssetPattern string   `yaml:"asset_pattern,omitempty" json:"asset_pattern,omitempty"`
	TagPrefix    string   `yaml:"tag_prefix,omitempty" json:"tag_prefix,omitempty"`
	TagSuffix    string   `yaml:"tag_suffix,omitempty" json:"tag_suffix,omitempty"`
	Lockfile     string   `yaml:"lockfile,omitempty" json:"lockfile,omitempty"`
	Generator    string   `yaml:"generator,omitempty" json:"generator,omitempty"`
	ExtraFiles   []string `yaml:"extra_files,omitempty" json:"extra_files,omitempty"`
	Clone        bool     `yaml:"clone,omitempty" json:"clone,omitempty"`
	PostClone    []string `yaml:"post_clone,omitempty" json:"post_clone,omitempty"`
}

// Destination identifies where the fetched SBOM is handed off to. The core
// never interprets it beyond logging.
type Destination struct {
	Component string `yaml:"component,omitempty" json:"component,omitempty"`
}

// AppConfig is one app's declarative record. It is immutable for the
// duration of a single fetch and re-read fresh on every load.
type AppConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Version     string      `yaml:"version" json:"version"`
	Format      sbom.Format `yaml:"format,omitempty" json:"format,omitempty"`
	Source      Source      `yaml:"source" json:"source"`
	Destination Destination `yaml:"destination,omitempty" json:"destination,omitempty"`
}

// Required source fields per discriminator. Unknown discriminators are not
// rejected here; dispatch reports those so that the error names the
// resolution step that failed.
var requiredSourceFields = map[string][]string{
	"docker":         {"image"},
	"chainguard":     {"image"},
	"github_release": {"repo"},
	"lockfile":       {"repo", "lockfile"},
}

// Store reads app records from a directory. Loads are never cached so a
// record edited between calls in the same process is always re-read.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(appName string) string {
	return filepath.Join(s.dir, appName+".yaml")
}

// Load reads and validates the record for appName.
func (s *Store) Load(ctx context.Context, appName string) (*AppConfig, error) {
	log := clog.FromContext(ctx)

	data, err := os.ReadFile(s.path(appName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q (looked for %s)", ErrNotFound, appName, s.path(appName))
	} else if err != nil {
		return nil, fmt.Errorf("reading config for %q: %w", appName, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, s.path(appName), err)
	}

	if cfg.Name == "" {
		cfg.Name = appName
	} else if cfg.Name != appName {
		return nil, fmt.Errorf("%w: %s declares name %q, want %q", ErrMalformed, s.path(appName), cfg.Name, appName)
	}
	if cfg.Format == "" {
		cfg.Format = sbom.DefaultFormat
	}

	if cfg.Version == "" {
		return nil, fmt.Errorf("%w: version (app %q)", ErrMissingField, appName)
	}
	if cfg.Source.Type == "" {
		return nil, fmt.Errorf("%w: source.type (app %q)", ErrMissingField, appName)
	}

	for _, field := range requiredSourceFields[cfg.Source.Type] {
		if sourceField(&cfg.Source, field) == "" {
			return nil, fmt.Errorf("%w: source.%s (app %q, source type %q)", ErrMissingField, field, appName, cfg.Source.Type)
		}
	}
	// A release source needs one of the two asset selectors.
	if cfg.Source.Type == "github_release" && cfg.Source.Asset == "" && cfg.Source.AssetPattern == "" {
		return nil, fmt.Errorf("%w: one of source.asset or source.asset_pattern (app %q)", ErrMissingField, appName)
	}

	log.Debugf("loaded config for %q: version=%s format=%s source=%s", appName, cfg.Version, cfg.Format, cfg.Source.Type)
	return &cfg, nil
}

func sourceField(src *Source, field string) string {
	switch field {
	case "image":
		return src.Image
	case "repo":
		return src.Repo
	case "lockfile":
		return src.Lockfile
	default:
		return ""
	}
}

// List returns every app record in the store, sorted by name.
func (s *Store) List(ctx context.Context) ([]AppConfig, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading config dir %s: %w", s.dir, err)
	}

	var apps []AppConfig
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		cfg, err := s.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *cfg)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}

// Get returns the value at a dotted path in the app's raw record, e.g.
// "source.registry". Absent or empty values are an error; use
// GetWithDefault when a fallback exists.
func (s *Store) Get(ctx context.Context, appName, path string) (string, error) {
	val, found, err := s.lookup(appName, path)
	if err != nil {
		return "", err
	}
	if !found || val == "" {
		return "", fmt.Errorf("%w: %s (app %q)", ErrValueMissing, path, appName)
	}
	return val, nil
}

// GetWithDefault returns the value at a dotted path, or def when the path is
// absent from the record. A present-but-empty value is returned as-is.
func (s *Store) GetWithDefault(ctx context.Context, appName, path, def string) (string, error) {
	val, found, err := s.lookup(appName, path)
	if err != nil {
		return "", err
	}
	if !found {
		return def, nil
	}
	return val, nil
}

func (s *Store) lookup(appName, path string) (string, bool, error) {
	data, err := os.ReadFile(s.path(appName))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("%w: %q", ErrNotFound, appName)
	} else if err != nil {
		return "", false, fmt.Errorf("reading config for %q: %w", appName, err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return "", false, fmt.Errorf("%w: %s: %v", ErrMalformed, s.path(appName), err)
	}

	node := any(tree)
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return "", false, nil
		}
		node, ok = m[key]
		if !ok {
			return "", false, nil
		}
	}

	switch v := node.(type) {
	case nil:
		return "", true, nil
	case string:
		return v, true, nil
	default:
		return fmt.Sprintf("%v", v), true, nil
	}
}
