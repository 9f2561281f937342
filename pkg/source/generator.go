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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/anchore/syft/syft"
	"github.com/anchore/syft/syft/format/cyclonedxjson"
	"github.com/anchore/syft/syft/format/spdxjson"
	syftsbom "github.com/anchore/syft/syft/sbom"
	"github.com/anchore/syft/syft/source/directorysource"
	"github.com/chainguard-dev/clog"

	"chainguard.dev/bomfetch/internal/logwriter"
	"chainguard.dev/bomfetch/pkg/sbom"
)

// Generator turns a directory of fetched dependency files into an SBOM
// document.
type Generator interface {
	Name() string

	// Available reports whether the generator can run at all on this
	// machine, as opposed to running and failing.
	Available() bool

	Generate(ctx context.Context, dir string, format sbom.Format) ([]byte, error)
}

// DefaultGenerators returns the real generator engines in auto-selection
// preference order.
func DefaultGenerators() []Generator {
	return []Generator{&CdxgenGenerator{}, &SyftGenerator{}}
}

// selectGenerator resolves the configured generator name ("cdxgen", "syft"
// or "auto") against the engines present. Auto prefers the first available
// engine that can emit the declared format.
func selectGenerator(generators []Generator, requested string, format sbom.Format) (Generator, error) {
	if requested == "" {
		requested = "auto"
	}

	if requested != "auto" {
		for _, g := range generators {
			if g.Name() != requested {
				continue
			}
			if !g.Available() {
				return nil, fmt.Errorf("%w: %s is not installed", ErrNoGenerator, requested)
			}
			return g, nil
		}
		return nil, fmt.Errorf("%w: unknown generator %q", ErrNoGenerator, requested)
	}

	for _, g := range generators {
		if !g.Available() {
			continue
		}
		// cdxgen only speaks CycloneDX, so auto skips it for SPDX apps.
		if format == sbom.FormatSPDX && g.Name() == "cdxgen" {
			continue
		}
		return g, nil
	}
	return nil, fmt.Errorf("%w: neither cdxgen nor syft can serve this app", ErrNoGenerator)
}

// CdxgenGenerator shells out to the cdxgen binary.
type CdxgenGenerator struct{}

func (g *CdxgenGenerator) Name() string {
	return "cdxgen"
}

func (g *CdxgenGenerator) Available() bool {
	_, err := exec.LookPath("cdxgen")
	return err == nil
}

func (g *CdxgenGenerator) Generate(ctx context.Context, dir string, format sbom.Format) ([]byte, error) {
	log := clog.FromContext(ctx)

	if format == sbom.FormatSPDX {
		return nil, fmt.Errorf("%w: cdxgen only emits CycloneDX", ErrGenerationFailed)
	}

	stdout := logwriter.New(log.Debugf)
	defer stdout.Close()

	out := filepath.Join(dir, "bom.json")
	cmd := exec.CommandContext(ctx, "cdxgen", "-o", out, ".")
	cmd.Dir = dir
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = io.MultiWriter(&stderr, stdout)

	log.Infof("running cdxgen in %s", dir)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: cdxgen: %v: %s", ErrGenerationFailed, err, stderr.String())
	}

	doc, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: cdxgen wrote no output: %v", ErrGenerationFailed, err)
	}
	return doc, nil
}

// SyftGenerator catalogs the directory in-process with the syft library.
type SyftGenerator struct{}

func (g *SyftGenerator) Name() string {
	return "syft"
}

func (g *SyftGenerator) Available() bool {
	return true
}

func (g *SyftGenerator) Generate(ctx context.Context, dir string, format sbom.Format) ([]byte, error) {
	log := clog.FromContext(ctx)
	log.Infof("cataloging %s with syft", dir)

	src, err := directorysource.NewFromPath(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: creating syft source for %s: %v", ErrGenerationFailed, dir, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warnf("failed to close syft source: %v", err)
		}
	}()

	s, err := syft.CreateSBOM(ctx, src, syft.DefaultCreateSBOMConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: syft cataloging: %v", ErrGenerationFailed, err)
	}

	var encoder syftsbom.FormatEncoder
	if format == sbom.FormatSPDX {
		encoder, err = spdxjson.NewFormatEncoderWithConfig(spdxjson.DefaultEncoderConfig())
	} else {
		encoder, err = cyclonedxjson.NewFormatEncoderWithConfig(cyclonedxjson.DefaultEncoderConfig())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: building %s encoder: %v", ErrGenerationFailed, format, err)
	}

	var buf bytes.Buffer
	if err := encoder.Encode(&buf, *s); err != nil {
		return nil, fmt.Errorf("%w: encoding %s document: %v", ErrGenerationFailed, format, err)
	}
	return buf.Bytes(), nil
}
