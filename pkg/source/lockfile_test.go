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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chainguard.dev/bomfetch/pkg/config"
	"chainguard.dev/bomfetch/pkg/sbom"
)

type fakeFiles struct {
	files   map[string][]byte
	fetched []string
	calls   int
}

func (f *fakeFiles) FetchFile(ctx context.Context, owner, repo, tag, path string) ([]byte, error) {
	f.calls++
	f.fetched = append(f.fetched, path)
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("404 for %s", path)
	}
	return data, nil
}

type fakeCloner struct {
	err   error
	calls int
}

func (f *fakeCloner) Clone(ctx context.Context, repoURL, tag, dest string) error {
	f.calls++
	return f.err
}

type fakeGenerator struct {
	name      string
	available bool
	doc       []byte
	err       error
	gotDir    string
}

func (f *fakeGenerator) Name() string {
	return f.name
}

func (f *fakeGenerator) Available() bool {
	return f.available
}

func (f *fakeGenerator) Generate(ctx context.Context, dir string, format sbom.Format) ([]byte, error) {
	f.gotDir = dir
	return f.doc, f.err
}

func lockfileApp(src config.Source) *config.AppConfig {
	src.Type = TypeLockfile
	return &config.AppConfig{
		Name:    "widget",
		Version: "2.0.0",
		Format:  sbom.FormatCycloneDX,
		Source:  src,
	}
}

func TestLockfileGeneration(t *testing.T) {
	doc := []byte(`{"bomFormat":"CycloneDX"}`)
	files := &fakeFiles{files: map[string][]byte{
		"frontend/package-lock.json": []byte(`{"lockfileVersion":3}`),
		"frontend/package.json":      []byte(`{"name":"widget"}`),
	}}
	generator := &fakeGenerator{name: "syft", available: true, doc: doc}

	handler := NewLockfileGenerationSource(Options{}, files, &fakeCloner{}, []Generator{generator})
	result, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "frontend/package-lock.json",
	}), "2.0.0")
	require.NoError(t, err)
	require.Equal(t, doc, result.Document)

	// The companion manifest is fetched alongside the lockfile.
	require.Contains(t, files.fetched, "frontend/package-lock.json")
	require.Contains(t, files.fetched, "frontend/package.json")
}

func TestLockfileWorkdirRemoved(t *testing.T) {
	files := &fakeFiles{files: map[string][]byte{
		"go.sum": []byte("chainguard.dev/bomfetch v1.0.0 h1:abc\n"),
	}}
	generator := &fakeGenerator{name: "syft", available: true, doc: []byte(`{}`)}

	handler := NewLockfileGenerationSource(Options{}, files, &fakeCloner{}, []Generator{generator})
	_, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "go.sum",
	}), "2.0.0")
	require.NoError(t, err)

	require.NotEmpty(t, generator.gotDir)
	_, err = os.Stat(generator.gotDir)
	require.ErrorIs(t, err, os.ErrNotExist, "work directory must be removed after the run")
}

func TestLockfileWorkdirContents(t *testing.T) {
	files := &fakeFiles{files: map[string][]byte{
		"Cargo.lock": []byte("[[package]]\n"),
		"Cargo.toml": []byte("[package]\n"),
	}}

	var sawLockfile, sawManifest bool
	generator := &fakeGenerator{name: "syft", available: true, doc: []byte(`{}`)}
	checking := &checkingGenerator{inner: generator, check: func(dir string) {
		_, err := os.Stat(filepath.Join(dir, "Cargo.lock"))
		sawLockfile = err == nil
		_, err = os.Stat(filepath.Join(dir, "Cargo.toml"))
		sawManifest = err == nil
	}}

	handler := NewLockfileGenerationSource(Options{}, files, &fakeCloner{}, []Generator{checking})
	_, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "Cargo.lock",
	}), "2.0.0")
	require.NoError(t, err)
	require.True(t, sawLockfile, "lockfile should be in the work directory")
	require.True(t, sawManifest, "companion manifest should be in the work directory")
}

type checkingGenerator struct {
	inner *fakeGenerator
	check func(dir string)
}

func (c *checkingGenerator) Name() string    { return c.inner.Name() }
func (c *checkingGenerator) Available() bool { return c.inner.Available() }

func (c *checkingGenerator) Generate(ctx context.Context, dir string, format sbom.Format) ([]byte, error) {
	c.check(dir)
	return c.inner.Generate(ctx, dir, format)
}

func TestLockfileMissingLockfile(t *testing.T) {
	files := &fakeFiles{files: map[string][]byte{}}
	generator := &fakeGenerator{name: "syft", available: true, doc: []byte(`{}`)}

	handler := NewLockfileGenerationSource(Options{}, files, &fakeCloner{}, []Generator{generator})
	_, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "package-lock.json",
	}), "2.0.0")
	require.ErrorIs(t, err, ErrDownloadFailed)
}

func TestLockfileExtraFileFailureNonFatal(t *testing.T) {
	files := &fakeFiles{files: map[string][]byte{
		"package-lock.json": []byte(`{}`),
		"package.json":      []byte(`{}`),
	}}
	generator := &fakeGenerator{name: "syft", available: true, doc: []byte(`{}`)}

	handler := NewLockfileGenerationSource(Options{}, files, &fakeCloner{}, []Generator{generator})
	_, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:       "acme/widget",
		Lockfile:   "package-lock.json",
		ExtraFiles: []string{"nonexistent/.npmrc"},
	}), "2.0.0")
	require.NoError(t, err, "extra file misses are logged, not fatal")
}

func TestLockfileNoGeneratorAvailable(t *testing.T) {
	files := &fakeFiles{files: map[string][]byte{"go.sum": []byte("")}}
	generators := []Generator{
		&fakeGenerator{name: "cdxgen", available: false},
		&fakeGenerator{name: "syft", available: false},
	}

	handler := NewLockfileGenerationSource(Options{}, files, &fakeCloner{}, generators)
	_, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "go.sum",
	}), "2.0.0")
	require.ErrorIs(t, err, ErrNoGenerator)
	require.Zero(t, files.calls, "nothing should be fetched when no generator can run")
}

func TestLockfileGenerationFailure(t *testing.T) {
	files := &fakeFiles{files: map[string][]byte{"go.sum": []byte("")}}
	generator := &fakeGenerator{name: "syft", available: true, err: fmt.Errorf("%w: boom", ErrGenerationFailed)}

	handler := NewLockfileGenerationSource(Options{}, files, &fakeCloner{}, []Generator{generator})
	_, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "go.sum",
	}), "2.0.0")
	require.ErrorIs(t, err, ErrGenerationFailed)
}

func TestLockfileCloneMode(t *testing.T) {
	cloner := &fakeCloner{}
	files := &fakeFiles{}
	generator := &fakeGenerator{name: "syft", available: true, doc: []byte(`{}`)}

	handler := NewLockfileGenerationSource(Options{}, files, cloner, []Generator{generator})
	_, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "go.sum",
		Clone:    true,
	}), "2.0.0")
	require.NoError(t, err)
	require.Equal(t, 1, cloner.calls)
	require.Zero(t, files.calls, "clone mode should not fetch individual files")
}

func TestLockfileCloneFailure(t *testing.T) {
	cloner := &fakeCloner{err: errors.New("tag not found")}
	generator := &fakeGenerator{name: "syft", available: true, doc: []byte(`{}`)}

	handler := NewLockfileGenerationSource(Options{}, &fakeFiles{}, cloner, []Generator{generator})
	_, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "go.sum",
		Clone:    true,
	}), "2.0.0")
	require.ErrorIs(t, err, ErrDownloadFailed)
}

func TestLockfileDryRun(t *testing.T) {
	files := &fakeFiles{}
	cloner := &fakeCloner{err: errors.New("must not be called")}

	handler := NewLockfileGenerationSource(Options{DryRun: true}, files, cloner, nil)
	result, err := handler.Fetch(t.Context(), lockfileApp(config.Source{
		Repo:     "acme/widget",
		Lockfile: "go.sum",
	}), "2.0.0")
	require.NoError(t, err)
	require.NoError(t, sbom.Validate(t.Context(), result.Document, sbom.FormatCycloneDX))
	require.Zero(t, files.calls)
	require.Zero(t, cloner.calls)
}

func TestSelectGenerator(t *testing.T) {
	cdxgen := &fakeGenerator{name: "cdxgen", available: true}
	syft := &fakeGenerator{name: "syft", available: true}

	tests := []struct {
		name       string
		generators []Generator
		requested  string
		format     sbom.Format
		want       string
		wantErr    error
	}{
		{
			name:       "auto_prefers_cdxgen",
			generators: []Generator{cdxgen, syft},
			requested:  "auto",
			format:     sbom.FormatCycloneDX,
			want:       "cdxgen",
		},
		{
			name:       "auto_spdx_skips_cdxgen",
			generators: []Generator{cdxgen, syft},
			requested:  "auto",
			format:     sbom.FormatSPDX,
			want:       "syft",
		},
		{
			name:       "auto_falls_back_when_cdxgen_missing",
			generators: []Generator{&fakeGenerator{name: "cdxgen"}, syft},
			requested:  "auto",
			format:     sbom.FormatCycloneDX,
			want:       "syft",
		},
		{
			name:       "empty_means_auto",
			generators: []Generator{cdxgen, syft},
			format:     sbom.FormatCycloneDX,
			want:       "cdxgen",
		},
		{
			name:       "explicit_choice",
			generators: []Generator{cdxgen, syft},
			requested:  "syft",
			format:     sbom.FormatCycloneDX,
			want:       "syft",
		},
		{
			name:       "explicit_but_unavailable",
			generators: []Generator{&fakeGenerator{name: "cdxgen"}, syft},
			requested:  "cdxgen",
			format:     sbom.FormatCycloneDX,
			wantErr:    ErrNoGenerator,
		},
		{
			name:       "unknown_name",
			generators: []Generator{cdxgen, syft},
			requested:  "trivy",
			format:     sbom.FormatCycloneDX,
			wantErr:    ErrNoGenerator,
		},
		{
			name:       "nothing_available",
			generators: []Generator{&fakeGenerator{name: "cdxgen"}, &fakeGenerator{name: "syft"}},
			requested:  "auto",
			format:     sbom.FormatCycloneDX,
			wantErr:    ErrNoGenerator,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := selectGenerator(test.generators, test.requested, test.format)
			if test.wantErr != nil {
				require.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, got.Name())
		})
	}
}
