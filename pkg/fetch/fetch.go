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

// Package fetch runs the SBOM acquisition pipeline for one app: load the
// record, validate the version, resolve the source handler, fetch, validate
// the document, emit. Any failure aborts the run with the failing
// component's error kind intact; nothing is emitted on failure.
package fetch

import (
	"context"
	"fmt"
	"io"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"

	"chainguard.dev/bomfetch/pkg/config"
	"chainguard.dev/bomfetch/pkg/sbom"
	"chainguard.dev/bomfetch/pkg/source"
	"chainguard.dev/bomfetch/pkg/versions"
)

// HandlerFactory resolves a source type to a handler. Swapped out in tests
// to inject handlers with fake adapters.
type HandlerFactory func(sourceType string, opts source.Options) (source.Handler, error)

type Fetcher struct {
	store           *config.Store
	dryRun          bool
	validate        bool
	versionOverride string
	sourceType      string
	newHandler      HandlerFactory
}

// Option sets a config option on a Fetcher.
type Option func(*Fetcher)

// WithDryRun makes every handler return its deterministic placeholder
// instead of touching external systems.
func WithDryRun(dryRun bool) Option {
	return func(f *Fetcher) {
		f.dryRun = dryRun
	}
}

// WithValidation toggles post-fetch schema validation.
func WithValidation(validate bool) Option {
	return func(f *Fetcher) {
		f.validate = validate
	}
}

// WithVersionOverride bypasses the configured version. The override is
// subject to the same grammar check.
func WithVersionOverride(version string) Option {
	return func(f *Fetcher) {
		f.versionOverride = version
	}
}

// WithSourceType makes the run refuse apps whose record declares a
// different source type than the caller expects.
func WithSourceType(sourceType string) Option {
	return func(f *Fetcher) {
		f.sourceType = sourceType
	}
}

// WithHandlerFactory replaces how source handlers are constructed.
func WithHandlerFactory(factory HandlerFactory) Option {
	return func(f *Fetcher) {
		f.newHandler = factory
	}
}

func New(store *config.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:      store,
		validate:   true,
		newHandler: source.New,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run fetches, validates and writes the SBOM for appName to out. Nothing is
// written to out until the document has passed every enabled check.
func (f *Fetcher) Run(ctx context.Context, appName string, out io.Writer) error {
	ctx, span := otel.Tracer("bomfetch").Start(ctx, "fetch")
	defer span.End()
	log := clog.FromContext(ctx)

	app, err := f.store.Load(ctx, appName)
	if err != nil {
		return err
	}

	version := app.Version
	if f.versionOverride != "" {
		log.Infof("overriding configured version %s with %s", app.Version, f.versionOverride)
		version = f.versionOverride
	}
	if err := versions.Validate(version); err != nil {
		return err
	}

	if f.sourceType != "" && f.sourceType != app.Source.Type {
		return fmt.Errorf("%w: app %q declares %q, caller wants %q",
			source.ErrSourceTypeMismatch, app.Name, app.Source.Type, f.sourceType)
	}

	handler, err := f.newHandler(app.Source.Type, source.Options{DryRun: f.dryRun})
	if err != nil {
		return err
	}

	result, err := handler.Fetch(ctx, app, version)
	if err != nil {
		return err
	}

	if f.validate {
		if err := sbom.Validate(ctx, result.Document, result.Format); err != nil {
			return err
		}
	}

	if _, err := out.Write(result.Document); err != nil {
		return fmt.Errorf("writing SBOM for %q: %w", appName, err)
	}

	if app.Destination.Component != "" {
		log.Infof("SBOM for %s %s ready for handoff to %q", app.Name, version, app.Destination.Component)
	}
	log.Infof("emitted %s %s SBOM for %s %s", humanize.Bytes(uint64(len(result.Document))), result.Format, app.Name, version)
	return nil
}
