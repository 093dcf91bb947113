// Copyright 2025 AxonFlow
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

// Package main is the entry point for the SQL gateway service.
//
// The gateway validates machine-generated SQL, executes what is safe
// against pooled user databases and records every outcome.
//
// Usage:
//
//	gateway serve --config /etc/sqlgate/config.yaml
//	gateway validate "SELECT * FROM customers LIMIT 10"
//	gateway example-config > config.yaml
//
// Environment Variables:
//
//	SQLGATE_CONFIG - configuration file (overridden by --config)
//	SQLGATE_ENCRYPTION_KEY - credential cipher key (env key source)
//	SQLGATE_LOG_LEVEL - DEBUG, INFO, WARN or ERROR
//
// Every configuration field also has a SQLGATE_* override; see
// shared/config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"sqlgate/gateway"
	"sqlgate/gateway/safety"
	"sqlgate/shared/config"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "gateway",
		Short:   "SQL query-execution gateway",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SQLGATE_CONFIG"), "path to the YAML configuration file")

	rootCmd.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newExampleConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newServeCmd runs the service until SIGINT or SIGTERM
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and its ops endpoints",
		Long: `Serve the operational endpoints:

  GET /health
  GET /metrics
  GET /api/v1/stats
  GET /api/v1/query-log?limit=N`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return gateway.Run(ctx, configPath)
		},
	}
}

// newValidateCmd classifies SQL with the configured validator policy
// without touching any database.
func newValidateCmd() *cobra.Command {
	var writeMode bool
	cmd := &cobra.Command{
		Use:   "validate <sql>",
		Short: "Classify a statement and print the verdict as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			sc := safety.DefaultConfig().
				WithReadOnly(cfg.Gateway.ReadOnly && !writeMode).
				WithLimits(cfg.Gateway.MaxSelects, cfg.Gateway.MaxJoins)
			sc.AllowMultipleStatements = cfg.Gateway.AllowMultipleStatements

			v := safety.New(sc)
			sql := strings.Join(args, " ")
			out := struct {
				safety.Result
				Suggestions []string `json:"suggestions"`
			}{v.Validate(sql), v.SuggestSafeAlternatives(sql)}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.IsSafe {
				return fmt.Errorf("rejected with risk %s", out.RiskLevel)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&writeMode, "write", false, "validate as if read-only mode were off")
	return cmd
}

func newExampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-config",
		Short: "Print an annotated example configuration",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.GenerateExampleConfigFile())
		},
	}
}
