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

// Package sbom defines the SBOM schema families bomfetch understands and the
// shallow validation applied to fetched documents.
package sbom

// Format names an SBOM schema family. Values outside the two known families
// are carried through as-is; validation for them is skipped with a warning.
type Format string

const (
	FormatCycloneDX Format = "cyclonedx"
	FormatSPDX      Format = "spdx"
)

// DefaultFormat is used when an app config does not declare a format.
const DefaultFormat = FormatCycloneDX

func (f Format) String() string {
	return string(f)
}

// Known reports whether f is one of the supported schema families.
func (f Format) Known() bool {
	return f == FormatCycloneDX || f == FormatSPDX
}
