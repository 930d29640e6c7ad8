// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianChatSync/pkg/config"
	"github.com/AleutianAI/AleutianChatSync/pkg/logging"
	"github.com/AleutianAI/AleutianChatSync/pkg/observability"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configPath   string
	baseURL      string
	logLevel     string
	trace        string
	otlpEndpoint string
}

// app is the state resolved in PersistentPreRunE.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	a := &app{}

	root := &cobra.Command{
		Use:           "chatsync",
		Short:         "Terminal client for streaming conversation backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context(), flags)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.chatsync/config.yaml)")
	pf.StringVar(&flags.baseURL, "base-url", "", "backend URL, overrides the config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.trace, "trace", "", "trace exporter: stdout (bare --trace) or otlp")
	pf.Lookup("trace").NoOptDefVal = observability.ExporterStdout
	pf.StringVar(&flags.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector host:port, overrides the config file")

	root.AddCommand(
		newChatCmd(a),
		newSendCmd(a),
		newMockServerCmd(a),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(ctx context.Context, flags *rootFlags) error {
	path := flags.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if flags.baseURL != "" {
		cfg.Server.BaseURL = flags.baseURL
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.trace != "" {
		cfg.Tracing.Exporter = flags.trace
	}
	if flags.otlpEndpoint != "" {
		cfg.Tracing.OTLPEndpoint = flags.otlpEndpoint
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		Service: "chatsync",
		JSON:    cfg.Logging.JSON,
		LogDir:  cfg.Logging.Dir,
	})
	if err != nil {
		return err
	}

	shutdown, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    "chatsync",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
	})
	if err != nil {
		_ = logger.Close()
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.shutdown = shutdown
	return nil
}

func (a *app) close(ctx context.Context) error {
	var err error
	if a.shutdown != nil {
		err = a.shutdown(context.WithoutCancel(ctx))
	}
	if a.logger != nil {
		if cerr := a.logger.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the chatsync version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "chatsync", version)
		},
	}
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.configPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	})
	return cmd
}

