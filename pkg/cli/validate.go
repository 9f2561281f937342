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

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chainguard.dev/bomfetch/pkg/sbom"
)

func validate() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:     "validate <sbom-file>",
		Short:   "Validate an existing SBOM document against a schema family",
		Example: `  bomfetch validate nginx.cdx.json --format cyclonedx`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			if err := sbom.Validate(cmd.Context(), doc, sbom.Format(format)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid %s document\n", args[0], format)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(sbom.DefaultFormat), "SBOM schema family to validate against (cyclonedx or spdx)")
	return cmd
}
