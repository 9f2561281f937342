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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chainguard.dev/bomfetch/pkg/config"
)

func list() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the configured apps with their version and source type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apps, err := config.NewStore(configDir).List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tFORMAT\tSOURCE")
			for _, app := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", app.Name, app.Version, app.Format, app.Source.Type)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", defaultConfigDir(), "directory holding per-app config records (env BOMFETCH_CONFIG_DIR)")
	return cmd
}
