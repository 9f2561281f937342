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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"chainguard.dev/bomfetch/pkg/config"
	"chainguard.dev/bomfetch/pkg/sbom"
)

// Annotations buildkit places on SBOM attestation manifests and their
// layers.
const (
	annotationReferenceType   = "vnd.docker.reference.type"
	annotationReferenceDigest = "vnd.docker.reference.digest"
	annotationPredicateType   = "in-toto.io/predicate-type"

	attestationManifestType = "attestation-manifest"
)

// RegistryClient is the thin surface of a container registry the docker
// source needs. The real implementation talks to the network; tests build
// indexes and images in memory.
type RegistryClient interface {
	Index(ctx context.Context, ref name.Reference) (v1.ImageIndex, error)
	Image(ctx context.Context, ref name.Reference) (v1.Image, error)
}

type remoteRegistry struct{}

func (remoteRegistry) options(ctx context.Context) []remote.Option {
	return []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	}
}

func (r remoteRegistry) Index(ctx context.Context, ref name.Reference) (v1.ImageIndex, error) {
	return remote.Index(ref, r.options(ctx)...)
}

func (r remoteRegistry) Image(ctx context.Context, ref name.Reference) (v1.Image, error) {
	return remote.Image(ref, r.options(ctx)...)
}

// ResolvedImageParams is the docker source descriptor with defaults applied.
type ResolvedImageParams struct {
	Registry string
	Image    string
	Platform string
}

func resolveImageParams(src *config.Source) ResolvedImageParams {
	p := ResolvedImageParams{
		Registry: src.Registry,
		Image:    src.Image,
		Platform: src.Platform,
	}
	if p.Registry == "" {
		p.Registry = "docker.io"
	}
	if p.Platform == "" {
		p.Platform = "linux/amd64"
	}
	return p
}

// Reference renders the image reference the params describe at a version.
func (p ResolvedImageParams) Reference(version string) string {
	return fmt.Sprintf("%s/%s:%s", p.Registry, p.Image, version)
}

// AttestationImageSource extracts an SBOM embedded as a buildkit attestation
// manifest in a container image index.
type AttestationImageSource struct {
	opts     Options
	registry RegistryClient
}

func NewAttestationImageSource(opts Options, registry RegistryClient) *AttestationImageSource {
	if registry == nil {
		registry = remoteRegistry{}
	}
	return &AttestationImageSource{opts: opts, registry: registry}
}

func (s *AttestationImageSource) Type() string {
	return TypeDocker
}

func (s *AttestationImageSource) Fetch(ctx context.Context, app *config.AppConfig, version string) (*FetchResult, error) {
	log := clog.FromContext(ctx)

	if err := checkType(s, app); err != nil {
		return nil, err
	}
	params := resolveImageParams(&app.Source)

	if s.opts.DryRun {
		log.Infof("dry run: skipping attestation fetch for %s", params.Reference(version))
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
	platform, err := v1.ParsePlatform(params.Platform)
	if err != nil {
		return nil, fmt.Errorf("parsing platform %q: %w", params.Platform, err)
	}

	log.Infof("fetching image index for %s (%s)", ref, platform)
	idx, err := s.registry.Index(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetching index for %s: %w", ref, err)
	}
	manifest, err := idx.IndexManifest()
	if err != nil {
		return nil, fmt.Errorf("reading index manifest for %s: %w", ref, err)
	}

	subject, err := findPlatformManifest(manifest, platform)
	if err != nil {
		return nil, err
	}
	attDesc, err := findAttestationManifest(manifest, subject)
	if err != nil {
		return nil, err
	}

	attRef := ref.Context().Digest(attDesc.Digest.String())
	log.Debugf("fetching attestation manifest %s", attRef)
	attImage, err := s.registry.Image(ctx, attRef)
	if err != nil {
		return nil, fmt.Errorf("fetching attestation manifest %s: %w", attRef, err)
	}

	doc, err := extractSBOMLayer(ctx, attImage, app.Format)
	if err != nil {
		return nil, err
	}

	log.Infof("extracted %s SBOM attestation from %s", humanize.Bytes(uint64(len(doc))), ref)
	return &FetchResult{Document: doc, Format: app.Format}, nil
}

func findPlatformManifest(manifest *v1.IndexManifest, platform *v1.Platform) (*v1.Descriptor, error) {
	for i, desc := range manifest.Manifests {
		if desc.Platform == nil {
			continue
		}
		if desc.Platform.OS == platform.OS && desc.Platform.Architecture == platform.Architecture {
			return &manifest.Manifests[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no manifest for platform %s", ErrNoAttestation, platform)
}

func findAttestationManifest(manifest *v1.IndexManifest, subject *v1.Descriptor) (*v1.Descriptor, error) {
	for i, desc := range manifest.Manifests {
		if desc.Annotations[annotationReferenceType] != attestationManifestType {
			continue
		}
		if desc.Annotations[annotationReferenceDigest] == subject.Digest.String() {
			return &manifest.Manifests[i], nil
		}
	}
	return nil, fmt.Errorf("%w: image was not built with SBOM attestations (no %s entry for %s)",
		ErrNoAttestation, attestationManifestType, subject.Digest)
}

func extractSBOMLayer(ctx context.Context, img v1.Image, format sbom.Format) ([]byte, error) {
	log := clog.FromContext(ctx)

	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("reading attestation manifest: %w", err)
	}

	desc := pickSBOMLayer(manifest.Layers, format)
	if desc == nil {
		return nil, fmt.Errorf("%w: no layer with an SBOM predicate type", ErrNoAttestation)
	}
	log.Debugf("found SBOM layer %s (%s)", desc.Digest, desc.Annotations[annotationPredicateType])

	layer, err := img.LayerByDigest(desc.Digest)
	if err != nil {
		return nil, fmt.Errorf("fetching SBOM layer %s: %w", desc.Digest, err)
	}
	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("reading SBOM layer %s: %w", desc.Digest, err)
	}
	defer rc.Close()

	blob, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading SBOM layer %s: %w", desc.Digest, err)
	}

	return unwrapPredicate(blob), nil
}

// pickSBOMLayer prefers a layer whose predicate type names the declared
// format, falling back to any SBOM-looking predicate.
func pickSBOMLayer(layers []v1.Descriptor, format sbom.Format) *v1.Descriptor {
	var fallback *v1.Descriptor
	for i, desc := range layers {
		pt := strings.ToLower(desc.Annotations[annotationPredicateType])
		if !strings.Contains(pt, "spdx") && !strings.Contains(pt, "cyclonedx") {
			continue
		}
		if strings.Contains(pt, string(format)) {
			return &layers[i]
		}
		if fallback == nil {
			fallback = &layers[i]
		}
	}
	return fallback
}

// unwrapPredicate unwraps an in-toto statement down to its predicate. Blobs
// that are not statements are returned verbatim.
func unwrapPredicate(blob []byte) []byte {
	var envelope struct {
		Predicate json.RawMessage `json:"predicate"`
	}
	if err := json.Unmarshal(blob, &envelope); err != nil {
		return blob
	}
	if len(envelope.Predicate) == 0 || string(envelope.Predicate) == "null" {
		return blob
	}
	return envelope.Predicate
}
