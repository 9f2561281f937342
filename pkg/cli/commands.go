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
	"log/slog"
	"net/http"
	"os"

	"github.com/chainguard-dev/clog/slag"
	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"sigs.k8s.io/release-utils/version"
)

func New() *cobra.Command {
	var level slag.Level
	var verbose bool
	var traceFile string
	var tp *sdktrace.TracerProvider

	cmd := &cobra.Command{
		Use:               "bomfetch",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			http.DefaultTransport = userAgentTransport{http.DefaultTransport}

			// A local .env can carry BOMFETCH_* settings; absence is fine.
			_ = godotenv.Load()

			if !cmd.Flags().Changed("log-level") {
				if v := os.Getenv("BOMFETCH_LOG_LEVEL"); v != "" {
					if err := level.Set(v); err != nil {
						return fmt.Errorf("BOMFETCH_LOG_LEVEL: %w", err)
					}
				}
			}
			if verbose {
				level = slag.Level(slog.LevelDebug)
			}
			slog.SetDefault(slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true, Level: charmlog.Level(level)})))

			if traceFile != "" {
				w, err := os.Create(traceFile)
				if err != nil {
					return fmt.Errorf("creating trace file: %w", err)
				}
				exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
				if err != nil {
					return fmt.Errorf("creating trace exporter: %w", err)
				}
				tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
				otel.SetTracerProvider(tp)
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if tp != nil {
				return tp.Shutdown(cmd.Context())
			}
			return nil
		},
	}
	cmd.PersistentFlags().Var(&level, "log-level", "log level (e.g. debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level debug")
	cmd.PersistentFlags().StringVar(&traceFile, "trace", "", "write OpenTelemetry trace output to this file")
	_ = cmd.PersistentFlags().MarkHidden("trace")

	cmd.AddCommand(fetchCmd())
	cmd.AddCommand(list())
	cmd.AddCommand(validate())
	cmd.AddCommand(version.Version())
	return cmd
}

type userAgentTransport struct{ t http.RoundTripper }

func (u userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", fmt.Sprintf("bomfetch/%s", version.GetVersionInfo().GitVersion))
	return u.t.RoundTrip(req)
}
