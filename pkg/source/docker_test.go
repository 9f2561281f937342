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
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/stretchr/testify/require"

	"chainguard.dev/bomfetch/pkg/config"
	"chainguard.dev/bomfetch/pkg/sbom"
)

type fakeRegistry struct {
	idx    v1.ImageIndex
	images map[string]v1.Image
	calls  int
}

func (f *fakeRegistry) Index(ctx context.Context, ref name.Reference) (v1.ImageIndex, error) {
	f.calls++
	return f.idx, nil
}

func (f *fakeRegistry) Image(ctx context.Context, ref name.Reference) (v1.Image, error) {
	f.calls++
	img, ok := f.images[ref.Identifier()]
	if !ok {
		return nil, errNotFound{}
	}
	return img, nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

// buildAttestedIndex builds an index in the shape buildkit produces: one
// platform manifest plus one attestation manifest referencing it, whose
// single layer carries the given in-toto statement.
func buildAttestedIndex(t *testing.T, statement []byte, predicateType string) (*fakeRegistry, v1.Hash) {
	t.Helper()

	subject, err := random.Image(256, 1)
	require.NoError(t, err)
	subjectDigest, err := subject.Digest()
	require.NoError(t, err)

	layer := static.NewLayer(statement, types.MediaType("application/vnd.in-toto+json"))
	attImage, err := mutate.Append(empty.Image, mutate.Addendum{
		Layer: layer,
		Annotations: map[string]string{
			annotationPredicateType: predicateType,
		},
	})
	require.NoError(t, err)
	attDigest, err := attImage.Digest()
	require.NoError(t, err)

	idx := mutate.AppendManifests(empty.Index,
		mutate.IndexAddendum{
			Add: subject,
			Descriptor: v1.Descriptor{
				Platform: &v1.Platform{OS: "linux", Architecture: "amd64"},
			},
		},
		mutate.IndexAddendum{
			Add: attImage,
			Descriptor: v1.Descriptor{
				Annotations: map[string]string{
					annotationReferenceType:   attestationManifestType,
					annotationReferenceDigest: subjectDigest.String(),
				},
			},
		},
	)

	return &fakeRegistry{
		idx:    idx,
		images: map[string]v1.Image{attDigest.String(): attImage},
	}, attDigest
}

func dockerApp(format sbom.Format) *config.AppConfig {
	return &config.AppConfig{
		Name:    "nginx",
		Version: "1.25.4",
		Format:  format,
		Source: config.Source{
			Type:  TypeDocker,
			Image: "library/nginx",
		},
	}
}

func TestAttestationImageFetch(t *testing.T) {
	statement := []byte(`{"_type":"https://in-toto.io/Statement/v0.1","predicateType":"https://spdx.dev/Document","predicate":{"spdxVersion":"SPDX-2.3"}}`)
	registry, _ := buildAttestedIndex(t, statement, "https://spdx.dev/Document")

	handler := NewAttestationImageSource(Options{}, registry)
	result, err := handler.Fetch(t.Context(), dockerApp(sbom.FormatSPDX), "1.25.4")
	require.NoError(t, err)
	require.Equal(t, sbom.FormatSPDX, result.Format)
	require.JSONEq(t, `{"spdxVersion":"SPDX-2.3"}`, string(result.Document))
}

func TestAttestationImageFetchVerbatimBlob(t *testing.T) {
	// A blob that is not an in-toto statement is returned as-is.
	blob := []byte(`{"bomFormat":"CycloneDX","specVersion":"1.5"}`)
	registry, _ := buildAttestedIndex(t, blob, "https://cyclonedx.org/bom")

	handler := NewAttestationImageSource(Options{}, registry)
	result, err := handler.Fetch(t.Context(), dockerApp(sbom.FormatCycloneDX), "1.25.4")
	require.NoError(t, err)
	require.JSONEq(t, string(blob), string(result.Document))
}

func TestAttestationImageNoAttestation(t *testing.T) {
	subject, err := random.Image(256, 1)
	require.NoError(t, err)

	idx := mutate.AppendManifests(empty.Index, mutate.IndexAddendum{
		Add: subject,
		Descriptor: v1.Descriptor{
			Platform: &v1.Platform{OS: "linux", Architecture: "amd64"},
		},
	})
	registry := &fakeRegistry{idx: idx, images: map[string]v1.Image{}}

	handler := NewAttestationImageSource(Options{}, registry)
	_, err = handler.Fetch(t.Context(), dockerApp(sbom.FormatSPDX), "1.25.4")
	require.ErrorIs(t, err, ErrNoAttestation)
}

func TestAttestationImageNoSBOMPredicate(t *testing.T) {
	statement := []byte(`{"predicateType":"https://slsa.dev/provenance/v0.2","predicate":{}}`)
	registry, _ := buildAttestedIndex(t, statement, "https://slsa.dev/provenance/v0.2")

	handler := NewAttestationImageSource(Options{}, registry)
	_, err := handler.Fetch(t.Context(), dockerApp(sbom.FormatSPDX), "1.25.4")
	require.ErrorIs(t, err, ErrNoAttestation)
}

func TestAttestationImageNoPlatformManifest(t *testing.T) {
	app := dockerApp(sbom.FormatSPDX)
	app.Source.Platform = "linux/s390x"

	statement := []byte(`{"predicate":{"spdxVersion":"SPDX-2.3"}}`)
	registry, _ := buildAttestedIndex(t, statement, "https://spdx.dev/Document")

	handler := NewAttestationImageSource(Options{}, registry)
	_, err := handler.Fetch(t.Context(), app, "1.25.4")
	require.ErrorIs(t, err, ErrNoAttestation)
}

func TestAttestationImageDryRun(t *testing.T) {
	registry := &fakeRegistry{}

	handler := NewAttestationImageSource(Options{DryRun: true}, registry)
	result, err := handler.Fetch(t.Context(), dockerApp(sbom.FormatCycloneDX), "1.25.4")
	require.NoError(t, err)
	require.NoError(t, sbom.Validate(t.Context(), result.Document, sbom.FormatCycloneDX))
	require.Zero(t, registry.calls, "dry run must not touch the registry")
}

func TestAttestationImageTypeMismatch(t *testing.T) {
	app := dockerApp(sbom.FormatSPDX)
	app.Source.Type = TypeChainguard

	handler := NewAttestationImageSource(Options{}, &fakeRegistry{})
	_, err := handler.Fetch(t.Context(), app, "1.25.4")
	require.ErrorIs(t, err, ErrSourceTypeMismatch)
}

func TestResolveImageParams(t *testing.T) {
	src := &config.Source{Type: TypeDocker, Image: "library/nginx"}
	params := resolveImageParams(src)
	require.Equal(t, "docker.io", params.Registry)
	require.Equal(t, "linux/amd64", params.Platform)
	require.Equal(t, "docker.io/library/nginx:1.25.4", params.Reference("1.25.4"))

	src = &config.Source{Type: TypeDocker, Image: "app", Registry: "ghcr.io/acme", Platform: "linux/arm64"}
	params = resolveImageParams(src)
	require.Equal(t, "ghcr.io/acme/app:2.0.0", params.Reference("2.0.0"))
	require.Equal(t, "linux/arm64", params.Platform)
}
