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

// Package source fetches or generates a raw SBOM document for an app from
// one of four source kinds. Each kind is a Handler selected once from the
// config record's type discriminator; the external systems each handler
// talks to sit behind injectable adapters so the handlers can be exercised
// without network access or installed tools.
package source

import (
	"context"
	"errors"
	"fmt"

	"chainguard.dev/bomfetch/pkg/config"
	"chainguard.dev/bomfetch/pkg/sbom"
)

var (
	ErrUnknownSourceType  = errors.New("unknown source type")
	ErrSourceTypeMismatch = errors.New("app source type does not match the requested handler")

	ErrNoAttestation       = errors.New("image has no SBOM attestation")
	ErrAttestationDownload = errors.New("downloading signed attestation failed")
	ErrEmptyAttestation    = errors.New("attestation envelope has no payload")
	ErrNoPredicate         = errors.New("attestation payload has no predicate")

	ErrAssetNotFound  = errors.New("no matching release asset found")
	ErrDownloadFailed = errors.New("download failed")

	ErrNoGenerator      = errors.New("no SBOM generator available")
	ErrGenerationFailed = errors.New("SBOM generation failed")
)

// FetchResult is the raw candidate SBOM a handler produced, in the format it
// was fetched under. It lives only long enough to be validated and emitted.
type FetchResult struct {
	Document []byte
	Format   sbom.Format
}

// Handler fetches or generates an SBOM for one app at one resolved version.
type Handler interface {
	// Type returns the discriminator this handler serves.
	Type() string

	// Fetch produces the raw SBOM document. In dry-run mode it returns a
	// deterministic placeholder without touching any adapter.
	Fetch(ctx context.Context, app *config.AppConfig, version string) (*FetchResult, error)
}

// Options configures handler construction. It is threaded explicitly so
// repeated runs in one process cannot leak state between each other.
type Options struct {
	DryRun bool
}

// New resolves a source type discriminator to its handler with real
// adapters wired in. Unknown discriminators fail before anything else runs.
func New(sourceType string, opts Options) (Handler, error) {
	switch sourceType {
	case TypeDocker:
		return NewAttestationImageSource(opts, nil), nil
	case TypeChainguard:
		return NewSignedAttestationSource(opts, nil), nil
	case TypeGithubRelease:
		return NewReleaseAssetSource(opts, nil), nil
	case TypeLockfile:
		return NewLockfileGenerationSource(opts, nil, nil, DefaultGenerators()), nil
	default:
		return nil, fmt.Errorf("%w: %q (known: %s, %s, %s, %s)", ErrUnknownSourceType,
			sourceType, TypeDocker, TypeChainguard, TypeGithubRelease, TypeLockfile)
	}
}

// Discriminator values accepted in config records.
const (
	TypeDocker        = "docker"
	TypeChainguard    = "chainguard"
	TypeGithubRelease = "github_release"
	TypeLockfile      = "lockfile"
)

// checkType guards against a handler being run with a record declared for a
// different source kind, which can happen when a caller requests a handler
// explicitly instead of resolving it from the record.
func checkType(h Handler, app *config.AppConfig) error {
	if app.Source.Type != h.Type() {
		return fmt.Errorf("%w: app %q declares %q, handler is %q",
			ErrSourceTypeMismatch, app.Name, app.Source.Type, h.Type())
	}
	return nil
}
