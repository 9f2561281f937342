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
	"bytes"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"chainguard.dev/bomfetch/pkg/config"
	"chainguard.dev/bomfetch/pkg/fetch"
)

func fetchCmd() *cobra.Command {
	var dryRun, validate bool
	var output, versionOverride, configDir, sourceType string

	cmd := &cobra.Command{
		Use:     "fetch <app-name>",
		Short:   "Fetch or generate the SBOM for a configured app",
		Long:    "Fetch or generate the SBOM for a configured app and write the validated document to stdout or --output.",
		Example: `  bomfetch fetch nginx --output nginx.cdx.json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !cmd.Flags().Changed("dry-run") {
				if v, err := strconv.ParseBool(os.Getenv("BOMFETCH_DRY_RUN")); err == nil {
					dryRun = v
				}
			}

			fetcher := fetch.New(config.NewStore(configDir),
				fetch.WithDryRun(dryRun),
				fetch.WithValidation(validate),
				fetch.WithVersionOverride(versionOverride),
				fetch.WithSourceType(sourceType),
			)

			// Buffer the document so a failed run never leaves a partial
			// or empty output file behind.
			var buf bytes.Buffer
			if err := fetcher.Run(ctx, args[0], &buf); err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err := os.Stdout.Write(buf.Bytes())
				return err
			}
			return os.WriteFile(output, buf.Bytes(), 0o644)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "emit a placeholder document without calling any external system (env BOMFETCH_DRY_RUN)")
	cmd.Flags().BoolVar(&validate, "validate", true, "validate the fetched document against the declared format")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the SBOM to this path instead of stdout")
	cmd.Flags().StringVar(&versionOverride, "version", "", "fetch this version instead of the configured one")
	cmd.Flags().StringVar(&configDir, "config-dir", defaultConfigDir(), "directory holding per-app config records (env BOMFETCH_CONFIG_DIR)")
	cmd.Flags().StringVar(&sourceType, "source-type", "", "refuse to run unless the app declares this source type")
	return cmd
}

func defaultConfigDir() string {
	if dir := os.Getenv("BOMFETCH_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "./apps"
}
