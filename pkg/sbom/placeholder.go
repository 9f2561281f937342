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

package sbom

import (
	"bytes"
	"fmt"

	cdx "github.com/CycloneDX/cyclonedx-go"
	purl "github.com/package-url/packageurl-go"
	spdxjson "github.com/spdx/tools-golang/json"
	"github.com/spdx/tools-golang/spdx"
	"github.com/spdx/tools-golang/spdx/v2/common"
)

// Placeholder builds a minimal, deterministic document for the declared
// format describing just the app itself. Dry runs emit these instead of
// touching any external system; the document passes Validate for its format.
func Placeholder(appName, version string, format Format) ([]byte, error) {
	if format == FormatSPDX {
		return placeholderSPDX(appName, version)
	}
	return placeholderCycloneDX(appName, version)
}

func appPurl(appName, version string) string {
	return purl.NewPackageURL(purl.TypeGeneric, "", appName, version, nil, "").ToString()
}

func placeholderCycloneDX(appName, version string) ([]byte, error) {
	p := appPurl(appName, version)
	bom := cdx.NewBOM()
	// Fixed serial number keeps repeated dry runs byte-identical.
	bom.SerialNumber = "urn:uuid:00000000-0000-0000-0000-000000000000"
	bom.Metadata = &cdx.Metadata{
		Component: &cdx.Component{
			BOMRef:     p,
			Type:       cdx.ComponentTypeApplication,
			Name:       appName,
			Version:    version,
			PackageURL: p,
		},
	}

	var buf bytes.Buffer
	enc := cdx.NewBOMEncoder(&buf, cdx.BOMFileFormatJSON)
	enc.SetPretty(true)
	if err := enc.Encode(bom); err != nil {
		return nil, fmt.Errorf("encoding placeholder CycloneDX document: %w", err)
	}
	return buf.Bytes(), nil
}

func placeholderSPDX(appName, version string) ([]byte, error) {
	doc := &spdx.Document{
		SPDXVersion:       spdx.Version,
		DataLicense:       spdx.DataLicense,
		SPDXIdentifier:    common.ElementID("DOCUMENT"),
		DocumentName:      appName,
		DocumentNamespace: fmt.Sprintf("https://chainguard.dev/bomfetch/%s-%s", appName, version),
		CreationInfo: &spdx.CreationInfo{
			Creators: []common.Creator{{CreatorType: "Tool", Creator: "bomfetch"}},
			Created:  "1970-01-01T00:00:00Z",
		},
		Packages: []*spdx.Package{{
			PackageName:             appName,
			PackageSPDXIdentifier:   common.ElementID("Package-" + appName),
			PackageVersion:          version,
			PackageDownloadLocation: "NOASSERTION",
			PackageExternalReferences: []*spdx.PackageExternalReference{{
				Category: common.CategoryPackageManager,
				RefType:  common.TypePackageManagerPURL,
				Locator:  appPurl(appName, version),
			}},
		}},
	}

	var buf bytes.Buffer
	if err := spdxjson.Write(doc, &buf); err != nil {
		return nil, fmt.Errorf("encoding placeholder SPDX document: %w", err)
	}
	return buf.Bytes(), nil
}
