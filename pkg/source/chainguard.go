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

package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/in-toto/in-toto-golang/in_toto"
	"github.com/sigstore/cosign/v2/pkg/cosign"
	ociremote "github.com/sigstore/cosign/v2/pkg/oci/remote"

	"chainguard.dev/bomfetch/pkg/config"
	"chainguard.dev/bomfetch/pkg/sbom"
)

// AttestationDownloader fetches signed attestation envelopes for an image
// reference, optionally filtered to one predicate type.
type AttestationDownloader interface {
	Download(ctx context.Context, ref name.Reference, predicateType string) ([]cosign.AttestationPayload, error)
}

type cosignDownloader struct{}

func (cosignDownloader) Download(ctx context.Context, ref name.Reference, predicateType string) ([]cosign.AttestationPayload, error) {
	return cosign.FetchAttestationsForReference(ctx, ref, predicateType,
		ociremote.WithRemoteOptions(
			remote.WithContext(ctx),
			remote.WithAuthFromKeychain(authn.DefaultKeychain),
		))
}

// ResolvedAttestationParams is the chainguard source descriptor with
// defaults applied.
type ResolvedAttestationParams struct {
	Registry      string
	Image         string
	Platform      string
	PredicateType string
}

func resolveAttestationParams(src *config.Source, format sbom.Format) ResolvedAttestationParams {
	p := ResolvedAttestationParams{
		Registry:      src.Registry,
		Image:         src.Image,
		Platform:      src.Platform,
		PredicateType: src.PredicateType,
	}
	if p.Registry == "" {
		p.Registry = "cgr.dev/chainguard"
	}
	if p.Platform == "" {
		p.Platform = "linux/amd64"
	}
	if p.PredicateType == "" {
		switch format {
		case sbom.FormatCycloneDX:
			p.PredicateType = in_toto.PredicateCycloneDX
		default:
			// Chainguard images overwhelmingly publish SPDX, so that is
			// the conservative default for anything else.
			p.PredicateType = in_toto.PredicateSPDX
		}
	}
	return p
}

func (p ResolvedAttestationParams) Reference(version string) string {
	return fmt.Sprintf("%s/%s:%s", p.Registry, p.Image, version)
}

// SignedAttestationSource downloads a cosign-signed SBOM attestation and
// returns its predicate.
type SignedAttestationSource struct {
	opts       Options
	downloader AttestationDownloader
}

func NewSignedAttestationSource(opts Options, downloader AttestationDownloader) *SignedAttestationSource {
	if downloader == nil {
		downloader = cosignDownloader{}
	}
	return &SignedAttestationSource{opts: opts, downloader: downloader}
}

func (s *SignedAttestationSource) Type() string {
	return TypeChainguard
}

func (s *SignedAttestationSource) Fetch(ctx context.Context, app *config.AppConfig, version string) (*FetchResult, error) {
	log := clog.FromContext(ctx)

	if err := checkType(s, app); err != nil {
		return nil, err
	}
	params := resolveAttestationParams(&app.Source, app.Format)

	if s.opts.DryRun {
		log.Infof("dry run: skipping signed attestation download for %s", params.Reference(version))
		doc, err := sbom.Placeholder(app.Name, version, app.Format)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Document: doc, Format: app.Format}, nil
	}

	ref, err := name.ParseReference(params.Reference(version))
	if err != nil {
		return nil, fmt.Errorf("parsing image reference %q: %w", params.Reference(version), err)
	}

	log.Infof("downloading %s attestation for %s", params.PredicateType, ref)
	payloads, err := s.downloader.Download(ctx, ref, params.PredicateType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAttestationDownload, ref, err)
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("%w: no %s attestation published for %s", ErrEmptyAttestation, params.PredicateType, ref)
	}

	doc, err := predicateFromEnvelope(payloads[0])
	if err != nil {
		return nil, err
	}

	log.Infof("extracted SBOM predicate from signed attestation for %s", ref)
	return &FetchResult{Document: doc, Format: app.Format}, nil
}

// predicateFromEnvelope decodes the DSSE envelope's base64 payload, parses
// it as an in-toto statement and returns the predicate sub-document.
func predicateFromEnvelope(envelope cosign.AttestationPayload) ([]byte, error) {
	if envelope.PayLoad == "" {
		return nil, ErrEmptyAttestation
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.PayLoad)
	if err != nil {
		return nil, fmt.Errorf("decoding attestation payload: %w", err)
	}

	var statement in_toto.Statement
	if err := json.Unmarshal(decoded, &statement); err != nil {
		return nil, fmt.Errorf("parsing attestation statement: %w", err)
	}
	if statement.Predicate == nil {
		return nil, fmt.Errorf("%w (predicate type %q)", ErrNoPredicate, statement.PredicateType)
	}

	doc, err := json.Marshal(statement.Predicate)
	if err != nil {
		return nil, fmt.Errorf("re-encoding predicate: %w", err)
	}
	return doc, nil
}
